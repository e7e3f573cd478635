/*
Package stage declares the Stage Graph: which groups of suites must complete
and succeed before others may start.

The graph is built with a small DSL:

	g, err := stage.New().
		Setup("setup").
		Authenticated("chromium", "setup").
		Standalone("smoke").
		Build()

Every node selects its suites with a predicate (by category by default) and
declares its dependency edges explicitly, so the happens-before relation
between the setup stage and authenticated suites is a checked property of the
graph rather than an ordering convention.
*/
package stage
