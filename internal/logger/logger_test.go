package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestWith_AddsFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := New(zap.New(core)).With("component", "restore")

	log.Info("restore started", "tenant", "t1")

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "restore started", entry.Message)
	assert.Equal(t, "restore", entry.ContextMap()["component"])
	assert.Equal(t, "t1", entry.ContextMap()["tenant"])
}

func TestInit_RejectsUnknownLevel(t *testing.T) {
	_, err := Init("loud", false)
	assert.Error(t, err)
}

func TestGlobal_BeforeInitIsSafe(t *testing.T) {
	assert.NotPanics(t, func() { Nop().Error("ignored", "k", "v") })
}
