package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/locator"
)

// EnvPrefix namespaces every config key in the environment
// (run.workers -> CANOPY_RUN_WORKERS).
const EnvPrefix = "CANOPY"

// DefaultConfigName is looked up in the project directory.
const DefaultConfigName = "canopy.yaml"

// LoadOptions controls configuration loading.
type LoadOptions struct {
	// ProjectDir is used to locate canopy.yaml and .env. Defaults to CWD when empty.
	ProjectDir string
	// ConfigPath overrides the project config path if provided.
	ConfigPath string
	// EnvFile overrides the .env path. "-" disables .env loading.
	EnvFile string
	// FlagOverrides are highest-priority overrides from CLI flags (dot-notated keys).
	FlagOverrides map[string]any
}

// Load returns the effective configuration after applying precedence:
// defaults < canopy.yaml < env (CANOPY_* and the well-known service
// variables, .env included) < flags. CI defaults replace the interactive
// ones when CI is set, without beating explicit values.
func Load(opts LoadOptions) (Config, error) {
	projectDir := opts.ProjectDir
	if projectDir == "" {
		if cwd, err := os.Getwd(); err == nil {
			projectDir = cwd
		}
	}

	if err := loadDotEnv(projectDir, opts.EnvFile); err != nil {
		return Config{}, err
	}

	v := viper.New()
	setDefaults(v, Default())

	// 1) Project config
	configPath := opts.ConfigPath
	if configPath == "" {
		configPath = filepath.Join(projectDir, DefaultConfigName)
	}
	if err := mergeConfigFile(v, configPath, opts.ConfigPath != ""); err != nil {
		return Config{}, err
	}
	// 2) Environment variables
	if err := bindEnv(v); err != nil {
		return Config{}, err
	}
	// 3) CLI flags (highest)
	for key, val := range opts.FlagOverrides {
		v.Set(key, val)
	}

	if v.GetBool("ci") {
		applyCIDefaults(v)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, &domain.ConfigurationError{Key: "config", Reason: "cannot decode", Err: err}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadDotEnv(projectDir, envFile string) error {
	if envFile == "-" {
		return nil
	}
	explicit := envFile != ""
	if !explicit {
		envFile = filepath.Join(projectDir, ".env")
	}
	// Variables already in the environment win over the file.
	if err := godotenv.Load(envFile); err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return &domain.ConfigurationError{Key: "env_file", Reason: envFile, Err: err}
	}
	return nil
}

// setDefaults seeds viper with built-in defaults.
func setDefaults(v *viper.Viper, def Config) {
	v.SetDefault("ci", def.CI)

	v.SetDefault("run.workers", def.Run.Workers)
	v.SetDefault("run.retries", def.Run.Retries)
	v.SetDefault("run.suite_timeout", def.Run.SuiteTimeout)
	v.SetDefault("run.global_timeout", def.Run.GlobalTimeout)
	v.SetDefault("run.action_timeout", def.Run.ActionTimeout)
	v.SetDefault("run.expect_timeout", def.Run.ExpectTimeout)
	v.SetDefault("run.reporters", def.Run.Reporters)
	v.SetDefault("run.report_path", def.Run.ReportPath)
	v.SetDefault("run.grep", def.Run.Grep)
	v.SetDefault("run.discard_fixture", def.Run.DiscardFixture)

	for name, c := range def.Credentials {
		v.SetDefault("credentials."+name+".principal", c.Principal)
		v.SetDefault("credentials."+name+".secret", c.Secret)
	}

	v.SetDefault("fixture.backend", def.Fixture.Backend)
	v.SetDefault("fixture.dir", def.Fixture.Dir)
	v.SetDefault("fixture.ttl", def.Fixture.TTL)
	v.SetDefault("fixture.encryption_key", def.Fixture.EncryptionKey)
	v.SetDefault("fixture.fallback_keys", def.Fixture.FallbackKeys)
	v.SetDefault("fixture.redis.addr", def.Fixture.Redis.Addr)
	v.SetDefault("fixture.redis.password", def.Fixture.Redis.Password)
	v.SetDefault("fixture.redis.db", def.Fixture.Redis.DB)
	v.SetDefault("fixture.redis.prefix", def.Fixture.Redis.Prefix)

	v.SetDefault("artifacts.backend", def.Artifacts.Backend)
	v.SetDefault("artifacts.dir", def.Artifacts.Dir)
	v.SetDefault("artifacts.minio.endpoint", def.Artifacts.MinIO.Endpoint)
	v.SetDefault("artifacts.minio.access_key", def.Artifacts.MinIO.AccessKey)
	v.SetDefault("artifacts.minio.secret_key", def.Artifacts.MinIO.SecretKey)
	v.SetDefault("artifacts.minio.bucket", def.Artifacts.MinIO.Bucket)
	v.SetDefault("artifacts.minio.region", def.Artifacts.MinIO.Region)
	v.SetDefault("artifacts.minio.prefix", def.Artifacts.MinIO.Prefix)
	v.SetDefault("artifacts.minio.use_ssl", def.Artifacts.MinIO.UseSSL)

	v.SetDefault("browser.headless", def.Browser.Headless)
	v.SetDefault("browser.exec_path", def.Browser.ExecPath)
	v.SetDefault("browser.remote_url", def.Browser.RemoteURL)
	v.SetDefault("browser.ignore_https_errors", def.Browser.IgnoreHTTPSErrors)
	v.SetDefault("browser.width", def.Browser.Width)
	v.SetDefault("browser.height", def.Browser.Height)

	v.SetDefault("probe.timeout", def.Probe.Timeout)
	v.SetDefault("probe.insecure_tls", def.Probe.InsecureTLS)
	v.SetDefault("probe.policies_file", def.Probe.PoliciesFile)

	v.SetDefault("log.level", def.Log.Level)
	v.SetDefault("log.format", def.Log.Format)

	v.SetDefault("serve.addr", def.Serve.Addr)
}

func applyCIDefaults(v *viper.Viper) {
	ci := CIDefaults()
	v.SetDefault("run.workers", ci.Workers)
	v.SetDefault("run.retries", ci.Retries)
	v.SetDefault("run.reporters", ci.Reporters)
}

// mergeConfigFile merges the YAML config file if it exists. A missing file
// is only an error when it was asked for explicitly.
func mergeConfigFile(v *viper.Viper, path string, required bool) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !required {
			return nil
		}
		return &domain.ConfigurationError{Key: "config", Reason: path, Err: err}
	}
	if info.IsDir() {
		return &domain.ConfigurationError{Key: "config", Reason: fmt.Sprintf("%s is a directory", path)}
	}
	v.SetConfigFile(path)
	if err := v.MergeInConfig(); err != nil {
		return &domain.ConfigurationError{Key: "config", Reason: path, Err: err}
	}
	return nil
}

// wellKnownEnv maps config keys to the variables the lab already exports.
// CANOPY_* always wins over them.
func wellKnownEnv() map[string][]string {
	m := map[string][]string{
		"ci": {"CI"},
	}
	for service, env := range locator.EnvVars {
		m["services."+service] = []string{env}
	}
	for key, envs := range principalEnv {
		m["credentials."+string(key)+".principal"] = envs
	}
	for key, envs := range secretEnv {
		m["credentials."+string(key)+".secret"] = envs
	}
	return m
}

// bindEnv binds CANOPY_* for every known key plus the well-known variables.
func bindEnv(v *viper.Viper) error {
	replacer := strings.NewReplacer(".", "_")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(replacer)
	v.AutomaticEnv()

	for key, envs := range wellKnownEnv() {
		names := append([]string{EnvPrefix + "_" + strings.ToUpper(replacer.Replace(key))}, envs...)
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return nil
}
