/*
Package canopy is an end-to-end verification harness for a self-hosted
infrastructure stack: a secrets vault, an identity broker, a dashboard, a
directory service and a code host.

It drives a headless browser through scripted suites, probes the health APIs
of every service and reports one verdict per suite.

# Concept

Suites are grouped into a Stage Graph. A setup stage authenticates once
against the identity broker and persists the browser state as a Session
Fixture. Authenticated stages depend on it and receive the fixture in every
fresh browser context; standalone stages manage their own login. When a stage
fails, its dependents are reported as blocked rather than executed.

Transient failures are retried. Only the final attempt records a trace, a
screenshot and a video, and they are kept only when that attempt fails.

# Usage

	package main

	import (
		"context"
		"log"
		"os"

		"github.com/aretw0/canopy"
		"github.com/aretw0/canopy/pkg/adapters/chromedp"
		"github.com/aretw0/canopy/pkg/report"
	)

	func main() {
		ctx := context.Background()

		browser, err := chromedp.New(ctx)
		if err != nil {
			log.Fatal(err)
		}
		defer browser.Close()

		h, err := canopy.New(
			canopy.WithBrowser(browser),
			canopy.WithWorkers(2),
			canopy.WithRetries(1),
		)
		if err != nil {
			log.Fatal(err)
		}

		r, err := h.Run(ctx, "")
		if err != nil {
			log.Fatal(err)
		}
		report.WriteJSON(os.Stdout, r)
		os.Exit(r.ExitCode())
	}

# Probes

Probe checks service health without a browser. Each result is classified as
healthy, failed, critical, unreachable or mismatching its expected body,
according to its policy:

	results, err := h.Probe(ctx)

# Command Line

The canopy binary wraps the harness with layered configuration (defaults,
canopy.yaml, environment and flags), fixture and artifact backends, and an
HTTP server exposing the latest report, the stage graph, live events and
Prometheus metrics.
*/
package canopy
