package config

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/aretw0/canopy/internal/logging"
	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/locator"
	"github.com/aretw0/canopy/pkg/persistence/middleware"
)

// Reporters understood by `canopy run`.
var Reporters = []string{"list", "json", "markdown", "github"}

// Validate checks the configuration for semantic errors. Every problem is a
// *domain.ConfigurationError; they are joined so all of them surface at once.
func (c Config) Validate() error {
	var errs []error
	bad := func(key, reason string, err error) {
		errs = append(errs, &domain.ConfigurationError{Key: key, Reason: reason, Err: err})
	}

	if c.Run.Workers < 1 {
		bad("run.workers", "must be >= 1", nil)
	}
	if c.Run.Retries < 0 {
		bad("run.retries", "cannot be negative", nil)
	}
	for _, t := range []struct {
		key string
		d   time.Duration
	}{
		{"run.suite_timeout", c.Run.SuiteTimeout},
		{"run.action_timeout", c.Run.ActionTimeout},
		{"run.expect_timeout", c.Run.ExpectTimeout},
		{"probe.timeout", c.Probe.Timeout},
	} {
		if t.d <= 0 {
			bad(t.key, "must be > 0", nil)
		}
	}
	if c.Run.GlobalTimeout < 0 {
		bad("run.global_timeout", "cannot be negative (0 disables it)", nil)
	}
	for _, r := range c.Run.Reporters {
		if !slices.Contains(Reporters, r) {
			bad("run.reporters", fmt.Sprintf("unknown reporter %q", r), nil)
		}
	}

	if _, err := locator.New(c.Services); err != nil {
		bad("services", "invalid service override", err)
	}

	switch c.Fixture.Backend {
	case "file":
		if c.Fixture.Dir == "" {
			bad("fixture.dir", "is required for the file backend", nil)
		}
	case "redis":
		if c.Fixture.Redis.Addr == "" {
			bad("fixture.redis.addr", "is required for the redis backend", nil)
		}
	case "memory":
	default:
		bad("fixture.backend", fmt.Sprintf("must be one of file|redis|memory, got %q", c.Fixture.Backend), nil)
	}
	if c.Fixture.EncryptionKey != "" {
		if _, err := middleware.ParseKeys(c.Fixture.EncryptionKey, c.Fixture.FallbackKeys...); err != nil {
			bad("fixture.encryption_key", "invalid key", err)
		}
	}

	switch c.Artifacts.Backend {
	case "file":
		if c.Artifacts.Dir == "" {
			bad("artifacts.dir", "is required for the file backend", nil)
		}
	case "minio":
		if err := c.Artifacts.MinIO.Validate(); err != nil {
			bad("artifacts.minio", "incomplete bucket settings", err)
		}
	default:
		bad("artifacts.backend", fmt.Sprintf("must be one of file|minio, got %q", c.Artifacts.Backend), nil)
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		bad("log.level", "must be one of debug|info|warn|error", err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		bad("log.format", fmt.Sprintf("must be text or json, got %q", c.Log.Format), nil)
	}

	return errors.Join(errs...)
}
