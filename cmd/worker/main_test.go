package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMode(t *testing.T) {
	tests := []struct {
		args []string
		want mode
	}{
		{nil, modeLoop},
		{[]string{"-once"}, modeOnce},
		{[]string{"-recover"}, modeRecover},
	}
	for _, tt := range tests {
		var stderr bytes.Buffer
		got, err := parseMode(tt.args, &stderr)
		require.NoError(t, err, tt.args)
		assert.Equal(t, tt.want, got, tt.args)
	}
}

func TestParseMode_Rejects(t *testing.T) {
	for _, args := range [][]string{{"-once", "-recover"}, {"-bogus"}} {
		var stderr bytes.Buffer
		_, err := parseMode(args, &stderr)
		assert.Error(t, err, args)
		assert.NotEmpty(t, stderr.String())
	}
}

func TestRun_OnceWithMemoryDriver(t *testing.T) {
	t.Setenv("REELQUEUE_CONFIG", "")
	t.Setenv("DATABASE_DRIVER", "memory")
	t.Setenv("REDIS_URL", "")
	t.Setenv("INFERENCE_ROUTES", "script-breakdown=mock:m,roto=mock:m,color-grade=mock:m,mesh-generate=mock:m,audio-clean=mock:m")

	require.NoError(t, run(modeOnce))
	require.NoError(t, run(modeRecover))
}

func TestRun_FailsOnInvalidConfig(t *testing.T) {
	t.Setenv("REELQUEUE_CONFIG", "")
	t.Setenv("DATABASE_DRIVER", "sqlite")

	err := run(modeOnce)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
}
