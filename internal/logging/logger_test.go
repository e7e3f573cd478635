package logging_test

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/canopy/internal/logging"
)

func TestNewWithFormat_RenamesErrorKey(t *testing.T) {
	var buf bytes.Buffer
	log := logging.NewWithFormat(&buf, slog.LevelInfo, "json")
	log.Error("suite failed", "error", errors.New("boom"), "suite_id", "vault/policies")

	assert.Contains(t, buf.String(), `"err":"boom"`)
	assert.Contains(t, buf.String(), `"suite_id":"vault/policies"`)
}

func TestNewWithFormat_Text(t *testing.T) {
	var buf bytes.Buffer
	log := logging.NewWithFormat(&buf, slog.LevelWarn, "text")
	log.Info("hidden")
	log.Warn("shown", "run_id", "r1")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "run_id=r1")
}

func TestParseLevel(t *testing.T) {
	l, err := logging.ParseLevel("debug")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, l)

	l, err = logging.ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelInfo, l)

	_, err = logging.ParseLevel("loud")
	assert.Error(t, err)
}
