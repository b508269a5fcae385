package main

import (
	"flag"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/mall/internal/messaging/kafka"
)

func env(values map[string]string) func(string) string {
	return func(key string) string { return values[key] }
}

func TestParseConfig_Flags(t *testing.T) {
	cfg, err := parseConfig([]string{
		"-brokers=broker-1:9092, broker-2:9092",
		"-source-topic=custom.dlq",
		"-target-topic=custom.events",
		"-limit=10",
		"-execute",
		"-from-newest",
		"-idle-timeout=3s",
		"-event-type= order.created ",
	}, env(nil), io.Discard)
	require.NoError(t, err)

	assert.Equal(t, []string{"broker-1:9092", "broker-2:9092"}, cfg.brokers)
	assert.Equal(t, "custom.dlq", cfg.sourceTopic)
	assert.Equal(t, "custom.events", cfg.targetTopic)
	assert.Equal(t, 10, cfg.limit)
	assert.True(t, cfg.execute)
	assert.True(t, cfg.fromNewest)
	assert.Equal(t, 3*time.Second, cfg.idleTimeout)
	assert.Equal(t, "order.created", cfg.eventType)
	assert.Equal(t, "execute", cfg.mode())
}

func TestParseConfig_DefaultsAndEnvBrokers(t *testing.T) {
	cfg, err := parseConfig(nil, env(map[string]string{brokersEnv: "env-broker:9092"}), io.Discard)
	require.NoError(t, err)

	assert.Equal(t, []string{"env-broker:9092"}, cfg.brokers)
	assert.Equal(t, kafka.TopicDeadLetterQueue, cfg.sourceTopic)
	assert.Equal(t, kafka.TopicOrderEvents, cfg.targetTopic)
	assert.Equal(t, defaultReplayLimit, cfg.limit)
	assert.Equal(t, defaultIdleTimeout, cfg.idleTimeout)
	assert.Equal(t, "dry-run", cfg.mode())
}

func TestParseConfig_FlagBrokersWinOverEnv(t *testing.T) {
	cfg, err := parseConfig([]string{"-brokers=flag:9092"}, env(map[string]string{brokersEnv: "env:9092"}), io.Discard)
	require.NoError(t, err)
	assert.Equal(t, []string{"flag:9092"}, cfg.brokers)
}

func TestParseConfig_Validation(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{name: "no brokers", args: []string{"-brokers= , "}, wantErr: "kafka brokers are required"},
		{name: "blank source", args: []string{"-brokers=b:9092", "-source-topic= "}, wantErr: "source-topic is required"},
		{name: "blank target", args: []string{"-brokers=b:9092", "-target-topic="}, wantErr: "target-topic is required"},
		{name: "loop", args: []string{"-brokers=b:9092", "-target-topic=" + kafka.TopicDeadLetterQueue}, wantErr: "must differ"},
		{name: "zero limit", args: []string{"-brokers=b:9092", "-limit=0"}, wantErr: "limit must be > 0"},
		{name: "zero idle timeout", args: []string{"-brokers=b:9092", "-idle-timeout=0s"}, wantErr: "idle-timeout must be > 0"},
		{name: "positional args", args: []string{"-brokers=b:9092", "extra"}, wantErr: "unexpected arguments: extra"},
		{name: "unknown flag", args: []string{"-nope"}, wantErr: "flag provided but not defined"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseConfig(tt.args, env(nil), io.Discard)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseConfig_ReportsAllProblems(t *testing.T) {
	_, err := parseConfig([]string{"-limit=-1", "-idle-timeout=0s"}, env(nil), io.Discard)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kafka brokers are required")
	assert.Contains(t, err.Error(), "limit must be > 0")
	assert.Contains(t, err.Error(), "idle-timeout must be > 0")
}

func TestParseConfig_Help(t *testing.T) {
	_, err := parseConfig([]string{"-h"}, env(nil), io.Discard)
	require.ErrorIs(t, err, flag.ErrHelp)
}
