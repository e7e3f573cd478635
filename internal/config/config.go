// Package config resolves the harness configuration from defaults, an
// optional canopy.yaml, the environment (.env included) and CLI flags.
package config

import (
	"runtime"
	"time"

	"github.com/aretw0/canopy/pkg/adapters/minio"
	"github.com/aretw0/canopy/pkg/domain"
)

// Config is the effective configuration of one invocation.
type Config struct {
	// CI selects unattended defaults. Read from the CI variable.
	CI bool `mapstructure:"ci"`

	Run         RunConfig                   `mapstructure:"run"`
	Services    map[string]string           `mapstructure:"services"`
	Credentials map[string]CredentialConfig `mapstructure:"credentials"`
	Fixture     FixtureConfig               `mapstructure:"fixture"`
	Artifacts   ArtifactConfig              `mapstructure:"artifacts"`
	Browser     BrowserConfig               `mapstructure:"browser"`
	Probe       ProbeConfig                 `mapstructure:"probe"`
	Log         LogConfig                   `mapstructure:"log"`
	Serve       ServeConfig                 `mapstructure:"serve"`
}

// RunConfig holds scheduling limits and reporting.
type RunConfig struct {
	Workers       int           `mapstructure:"workers"`
	Retries       int           `mapstructure:"retries"`
	SuiteTimeout  time.Duration `mapstructure:"suite_timeout"`
	GlobalTimeout time.Duration `mapstructure:"global_timeout"`
	ActionTimeout time.Duration `mapstructure:"action_timeout"`
	ExpectTimeout time.Duration `mapstructure:"expect_timeout"`
	// Reporters is any of list, json, markdown, github.
	Reporters  []string `mapstructure:"reporters"`
	ReportPath string   `mapstructure:"report_path"`
	// Grep keeps only suites whose ID has one of these prefixes.
	Grep []string `mapstructure:"grep"`
	// DiscardFixture deletes the persisted fixture after the run. By default
	// it stays on disk until an operator removes it.
	DiscardFixture bool `mapstructure:"discard_fixture"`
}

// CredentialConfig is one named credential set.
type CredentialConfig struct {
	Principal string `mapstructure:"principal"`
	Secret    string `mapstructure:"secret"`
}

// FixtureConfig selects and configures the fixture backend.
type FixtureConfig struct {
	// Backend is file, redis or memory.
	Backend string        `mapstructure:"backend"`
	Dir     string        `mapstructure:"dir"`
	TTL     time.Duration `mapstructure:"ttl"`
	// EncryptionKey is a hex AES-256 key. Empty disables encryption.
	EncryptionKey string      `mapstructure:"encryption_key"`
	FallbackKeys  []string    `mapstructure:"fallback_keys"`
	Redis         RedisConfig `mapstructure:"redis"`
}

// RedisConfig addresses the shared fixture backend.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// ArtifactConfig selects where failure diagnostics go.
type ArtifactConfig struct {
	// Backend is file or minio.
	Backend string       `mapstructure:"backend"`
	Dir     string       `mapstructure:"dir"`
	MinIO   minio.Config `mapstructure:"minio"`
}

// BrowserConfig configures the Chromium driver.
type BrowserConfig struct {
	Headless          bool   `mapstructure:"headless"`
	ExecPath          string `mapstructure:"exec_path"`
	RemoteURL         string `mapstructure:"remote_url"`
	IgnoreHTTPSErrors bool   `mapstructure:"ignore_https_errors"`
	Width             int    `mapstructure:"width"`
	Height            int    `mapstructure:"height"`
}

// ProbeConfig configures the HTTP probe client.
type ProbeConfig struct {
	Timeout     time.Duration `mapstructure:"timeout"`
	InsecureTLS bool          `mapstructure:"insecure_tls"`
	// PoliciesFile overrides or extends the built-in health policies.
	PoliciesFile string `mapstructure:"policies_file"`
}

// LogConfig configures the slog logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ServeConfig configures `canopy serve`.
type ServeConfig struct {
	Addr string `mapstructure:"addr"`
}

// Default returns the interactive defaults.
func Default() Config {
	workers := runtime.NumCPU() / 2
	if workers < 1 {
		workers = 1
	}
	return Config{
		Run: RunConfig{
			Workers:       workers,
			Retries:       0,
			SuiteTimeout:  60 * time.Second,
			GlobalTimeout: 30 * time.Minute,
			ActionTimeout: 15 * time.Second,
			ExpectTimeout: 10 * time.Second,
			Reporters:     []string{"list", "markdown"},
			ReportPath:    "test-results/report.json",
		},
		Credentials: map[string]CredentialConfig{
			string(domain.CredentialBroker):    {Principal: "admin"},
			string(domain.CredentialDirectory): {Principal: "admin"},
			string(domain.CredentialCodeHost):  {Principal: "jimi"},
		},
		Fixture: FixtureConfig{
			Backend: "file",
			Dir:     ".canopy/fixtures",
			TTL:     24 * time.Hour,
			Redis:   RedisConfig{Addr: "localhost:6379", Prefix: "canopy:fixture:"},
		},
		Artifacts: ArtifactConfig{
			Backend: "file",
			Dir:     "test-results",
			MinIO:   minio.Config{Bucket: "canopy-artifacts", UseSSL: true},
		},
		Browser: BrowserConfig{
			Headless:          true,
			IgnoreHTTPSErrors: true,
			Width:             1280,
			Height:            720,
		},
		Probe: ProbeConfig{Timeout: 15 * time.Second},
		Log:   LogConfig{Level: "info", Format: "text"},
		Serve: ServeConfig{Addr: ":9464"},
	}
}

// CIDefaults are the unattended overrides applied when CI is set.
func CIDefaults() RunConfig {
	run := Default().Run
	run.Workers = 1
	run.Retries = 2
	run.Reporters = []string{"list", "json", "github"}
	return run
}

// secretEnv names the variables a credential secret is read from, in order.
var secretEnv = map[domain.CredentialKey][]string{
	domain.CredentialBroker:    {"TEST_PASSWORD"},
	domain.CredentialDirectory: {"LLDAP_ADMIN_PASSWORD", "TEST_PASSWORD"},
	domain.CredentialCodeHost:  {"FORGEJO_PASSWORD"},
}

var principalEnv = map[domain.CredentialKey][]string{
	domain.CredentialBroker:    {"TEST_USERNAME"},
	domain.CredentialDirectory: {"LLDAP_ADMIN_USER"},
	domain.CredentialCodeHost:  {"FORGEJO_USERNAME", "FORGEJO_USER"},
}

// CredentialSet converts the configured credentials for the engine.
func (c Config) CredentialSet() map[domain.CredentialKey]domain.Credentials {
	out := make(map[domain.CredentialKey]domain.Credentials, len(c.Credentials))
	for name, cc := range c.Credentials {
		key := domain.CredentialKey(name)
		env := ""
		if names := secretEnv[key]; len(names) > 0 {
			env = names[0]
		}
		out[key] = domain.Credentials{Principal: cc.Principal, Secret: cc.Secret, Env: env}
	}
	return out
}
