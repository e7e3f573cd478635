package canopy

import _ "embed"

// Version is the release of the harness, shared by the CLI and the HTTP API.
//
//go:embed VERSION
var Version string
