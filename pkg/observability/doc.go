/*
Package observability provides tools for monitoring Canopy runs.

It binds Prometheus collectors to the engine's lifecycle hooks and to the
probe client, and offers a logging hook set that mirrors the same events as
structured log lines.
*/
package observability
