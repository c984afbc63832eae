package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skufu/GoTriage/internal/config"
)

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(config.LogConfig{Level: "loud", Format: "json"})
	require.Error(t, err)
}

func TestNewBuildsConsoleLogger(t *testing.T) {
	log, err := New(config.LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, log)
}

func TestRedactMasksSensitiveKeys(t *testing.T) {
	in := map[string]any{"symptom": "咳嗽", "phone": "13800000000", "api_key": "sk-1"}
	out := Redact(in)

	assert.Equal(t, "咳嗽", out["symptom"])
	assert.Equal(t, "[REDACTED]", out["phone"])
	assert.Equal(t, "[REDACTED]", out["api_key"])
	assert.Equal(t, "13800000000", in["phone"], "input must not be mutated")
}

func TestPreviewCountsRunes(t *testing.T) {
	assert.Equal(t, "头痛", Preview("头痛", 5))
	assert.Equal(t, "头痛发...", Preview("头痛发烧咳嗽", 3))
}
