// Package middleware wraps fixture stores with cross-cutting behavior.
package middleware

import "github.com/aretw0/canopy/pkg/ports"

// Middleware allows wrapping a FixtureStore to add behavior.
type Middleware func(ports.FixtureStore) ports.FixtureStore

// Chain applies middlewares so that the first one is the outermost.
func Chain(store ports.FixtureStore, mws ...Middleware) ports.FixtureStore {
	for i := len(mws) - 1; i >= 0; i-- {
		store = mws[i](store)
	}
	return store
}
