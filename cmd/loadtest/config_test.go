package main

import (
	"flag"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfig_CountMode(t *testing.T) {
	cfg, err := parseConfig([]string{
		"-base-url=http://127.0.0.1:8080/",
		"-mode= place-read ",
		"-total=12",
		"-concurrency=3",
		"-timeout=2s",
		"-user-id=7",
		"-product-id=9",
		"-quantity=2",
		"-idempotent",
	}, io.Discard)
	require.NoError(t, err)

	assert.Equal(t, "http://127.0.0.1:8080", cfg.baseURL)
	assert.Equal(t, modePlaceRead, cfg.mode)
	assert.True(t, cfg.idempotent)
	assert.True(t, cfg.totalSet)
	assert.Equal(t, 12, cfg.maxScenarios())
	assert.Equal(t, 3, cfg.concurrency)
	assert.Equal(t, 2*time.Second, cfg.timeout)
	assert.Equal(t, int64(7), cfg.userID)
	assert.Equal(t, int64(9), cfg.productID)
	assert.Equal(t, 2, cfg.quantity)
	assert.Equal(t, "count:12", cfg.target())
}

func TestParseConfig_DurationMode(t *testing.T) {
	cfg, err := parseConfig([]string{"-duration=3s"}, io.Discard)
	require.NoError(t, err)

	assert.Equal(t, 3*time.Second, cfg.duration)
	assert.False(t, cfg.totalSet)
	assert.Zero(t, cfg.maxScenarios(), "default total must not cap a timed run")
	assert.Equal(t, "duration:3s", cfg.target())

	cfg, err = parseConfig([]string{"-duration=2s", "-total=10"}, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.maxScenarios())
	assert.Equal(t, "duration:2s,max-total:10", cfg.target())
}

func TestParseConfig_Defaults(t *testing.T) {
	cfg, err := parseConfig(nil, io.Discard)
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8080", cfg.baseURL)
	assert.Equal(t, modePlace, cfg.mode)
	assert.Equal(t, 100, cfg.maxScenarios())
	assert.Equal(t, 20, cfg.concurrency)
	assert.Equal(t, 5*time.Second, cfg.timeout)
}

func TestParseConfig_Validation(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{name: "unsupported mode", args: []string{"-mode=bad"}, wantErr: "unsupported mode"},
		{name: "invalid duration", args: []string{"-duration=bad"}, wantErr: "invalid value"},
		{name: "negative duration", args: []string{"-duration=-1s"}, wantErr: "duration must be >= 0"},
		{name: "empty total", args: []string{"-total=0"}, wantErr: "total must be > 0"},
		{name: "explicit zero total with duration", args: []string{"-duration=1s", "-total=0"}, wantErr: "total must be > 0"},
		{name: "zero quantity", args: []string{"-quantity=0"}, wantErr: "quantity must be > 0"},
		{name: "bad product", args: []string{"-product-id=0"}, wantErr: "user-id and product-id must be > 0"},
		{name: "blank base url", args: []string{"-base-url= / "}, wantErr: "base-url is required"},
		{name: "zero timeout", args: []string{"-timeout=0s"}, wantErr: "timeout must be > 0"},
		{name: "positional args", args: []string{"extra"}, wantErr: "unexpected arguments: extra"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseConfig(tt.args, io.Discard)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseConfig_ReportsAllProblems(t *testing.T) {
	_, err := parseConfig([]string{"-concurrency=0", "-quantity=0"}, io.Discard)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "concurrency must be > 0")
	assert.Contains(t, err.Error(), "quantity must be > 0")
}

func TestParseConfig_Help(t *testing.T) {
	_, err := parseConfig([]string{"-help"}, io.Discard)
	require.ErrorIs(t, err, flag.ErrHelp)
}
