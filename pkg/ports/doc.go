/*
Package ports defines the driven ports (interfaces) of the Canopy harness.

These interfaces decouple the engine and the suites from the concrete browser
driver, fixture storage backends and artifact destinations.

# Key Interfaces

  - FixtureStore: persists and loads the Session Fixture of a run.
  - DistributedLocker: serializes fixture writes across harness replicas.
  - Browser / Page: drives an isolated browser context per suite attempt.
  - ArtifactSink: stores trace, screenshot and video captured on final failures.
*/
package ports
