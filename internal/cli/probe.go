package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/muesli/termenv"

	"github.com/aretw0/canopy/internal/config"
	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/probe"
)

// ProbeOptions configures the probe command.
type ProbeOptions struct {
	Config config.Config
	// Realm is the identity broker realm whose discovery document is checked.
	// Empty skips the check.
	Realm  string
	JSON   bool
	Stdout io.Writer
}

// ProbeOutput is the JSON shape of the probe command.
type ProbeOutput struct {
	Results   []domain.ProbeResult `json:"results"`
	Discovery *probe.Discovery     `json:"discovery,omitempty"`
	// DiscoveryError is set when the discovery check ran and failed.
	DiscoveryError string `json:"discovery_error,omitempty"`
}

// Probe checks every service without a browser and returns the exit code:
// 0 when all probes are healthy, 1 otherwise.
func Probe(ctx context.Context, opts ProbeOptions) (int, error) {
	stdout, _ := writers(opts.Stdout, nil)
	logger, err := NewLogger(opts.Config.Log)
	if err != nil {
		return 2, err
	}
	stack, err := NewStack(ctx, opts.Config, logger, StackOptions{})
	if err != nil {
		return 2, err
	}
	defer stack.Close()

	var out ProbeOutput
	out.Results, err = stack.Harness.Probe(ctx)
	if err != nil {
		return 2, err
	}
	if opts.Realm != "" {
		out.Discovery, err = stack.Harness.CheckDiscovery(ctx, opts.Realm)
		if err != nil {
			out.DiscoveryError = err.Error()
		}
	}

	code := 0
	for _, r := range out.Results {
		if !r.OK() {
			code = 1
		}
	}
	if out.DiscoveryError != "" {
		code = 1
	}

	if opts.JSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return code, enc.Encode(out)
	}
	printProbes(stdout, out, opts.Realm)
	return code, nil
}

func printProbes(w io.Writer, out ProbeOutput, realm string) {
	p := termenv.NewOutput(w).Profile
	ok := p.String("✓").Foreground(p.Color("#22c55e"))
	bad := p.String("✗").Foreground(p.Color("#ef4444"))

	for _, r := range out.Results {
		mark := ok
		if !r.OK() {
			mark = bad
		}
		fmt.Fprintf(w, "  %s %s (%s)\n", mark, r, r.Duration.Round(time.Millisecond))
	}
	switch {
	case out.Discovery != nil:
		fmt.Fprintf(w, "  %s oidc discovery %s: issuer %s\n", ok, realm, out.Discovery.Issuer)
	case out.DiscoveryError != "":
		fmt.Fprintf(w, "  %s oidc discovery %s: %s\n", bad, realm, out.DiscoveryError)
	}
}
