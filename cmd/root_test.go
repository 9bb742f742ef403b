package cmd

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/flotilla-run/flotilla/internal/sequencer"
	"github.com/flotilla-run/flotilla/internal/supervisor"
	"github.com/flotilla-run/flotilla/internal/testutils"
	"github.com/flotilla-run/flotilla/internal/topology"
)

func TestExitCodeClassification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{
			name: "parse error",
			err:  &topology.ParseError{Source: "flotilla.yaml", Err: errors.New("bad yaml")},
			want: exitTopology,
		},
		{
			name: "validation error",
			err:  &topology.ValidationError{Source: "flotilla.yaml", Problems: []string{"dangling edge"}},
			want: exitTopology,
		},
		{
			name: "cycle error",
			err:  &sequencer.CycleError{Services: []string{"a", "b"}},
			want: exitTopology,
		},
		{
			name: "run error",
			err:  &supervisor.RunError{Services: []string{"kafka-1"}},
			want: exitRuntime,
		},
		{
			name: "plain error",
			err:  errors.New("daemon unreachable"),
			want: exitRuntime,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}

func TestCheckRuntime(t *testing.T) {
	rt := testutils.NewFakeRuntime()
	assert.NoError(t, checkRuntime(rt))

	rt.PingErr = errors.New("connection refused")
	err := checkRuntime(rt)
	assert.ErrorContains(t, err, "container runtime is not reachable")
	assert.ErrorIs(t, err, rt.PingErr)
}

func TestCommandsRegistered(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"up", "down", "ps", "logs", "validate", "version"} {
		assert.True(t, names[want], want)
	}
}
