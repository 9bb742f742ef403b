package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	assert.Equal(t, "flotilla.yaml", cfg.File)
	assert.Equal(t, 10*time.Second, cfg.DefaultGracePeriod)
	assert.Equal(t, 2*time.Minute, cfg.StartTimeout)
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("FLOTILLA_FILE", "stack.yaml")
	t.Setenv("FLOTILLA_PROJECT", "streaming")
	t.Setenv("FLOTILLA_START_TIMEOUT", "5m")
	t.Setenv("FLOTILLA_GRACE_PERIOD", "30s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "stack.yaml", cfg.File)
	assert.Equal(t, "streaming", cfg.Project)
	assert.Equal(t, 5*time.Minute, cfg.StartTimeout)
	assert.Equal(t, 30*time.Second, cfg.DefaultGracePeriod)
}

func TestLoadRejectsBadDuration(t *testing.T) {
	t.Setenv("FLOTILLA_START_TIMEOUT", "soon")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FLOTILLA_START_TIMEOUT")
}

func TestNormalizeProject(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Streaming Stack", "streaming-stack"},
		{"kafka_cluster", "kafka_cluster"},
		{"  Weird//Name  ", "weird--name"},
		{"-edge-", "edge"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeProject(tt.in), tt.in)
	}
}

func TestLabels(t *testing.T) {
	cfg := Defaults()
	cfg.Project = "streaming"

	assert.Equal(t, "streaming_default", cfg.NetworkName())
	assert.Equal(t, map[string]string{"run.flotilla.project": "streaming"}, cfg.ProjectLabels())
	assert.Equal(t, map[string]string{
		"run.flotilla.project": "streaming",
		"run.flotilla.service": "kafka-1",
	}, cfg.ServiceLabels("kafka-1"))
}
