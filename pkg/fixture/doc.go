/*
Package fixture implements the Session Fixture lifecycle.

The Manager drives the state machine

	Unauthenticated -> Authenticating -> Authenticated -> Persisted
	                                  \-> AuthenticationFailed

for each run, writes the fixture through a ports.FixtureStore and hands out
deep copies to consumers. Writes for one run are serialized with ref-counted
in-process locks and, when configured, a ports.DistributedLocker so that
several harness replicas can share one backend.

Once Persisted a fixture is read-only: the only later write is the timestamp
recorded by MarkVerified.
*/
package fixture
