package suites

import "time"

// SetLoginTimeout shortens the broker login wait and returns a restore func.
func SetLoginTimeout(d time.Duration) func() {
	old := loginTimeout
	loginTimeout = d
	return func() { loginTimeout = old }
}
