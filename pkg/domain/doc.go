/*
Package domain contains the core models of the Canopy verification harness.

It describes the services under test, the credentials used against them, the
Session Fixture produced by the setup stage, the Stage Graph nodes that
order the suites, the results of HTTP probes and the terminal outcome of each
suite. The package is kept free of I/O so that every other layer (engine,
adapters, presentation) can share one vocabulary.

# Key Entities

  - ServiceEndpoint: the resolved base address of one service under test.
  - Credentials: a principal/secret pair supplied from the environment.
  - SessionFixture: serialized proof of authentication reused by suites.
  - StageNode: a vertex of the Stage Graph (setup, authenticated, standalone).
  - ProbeResult: the classified answer of a health endpoint.
  - ScenarioOutcome: the immutable terminal status of one suite.
  - Target: a vendor-neutral description of a UI element.
*/
package domain
