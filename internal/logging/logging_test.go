package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_JSONDefault(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithOutput(&buf, "debug", "")
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())

	logger.WithField("record_id", 3).Info("record fetched")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "record fetched", line["msg"])
	assert.Equal(t, float64(3), line["record_id"])
}

func TestNew_UnknownLevel(t *testing.T) {
	logger := NewWithOutput(&bytes.Buffer{}, "loud", "text")
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
	_, ok := logger.Formatter.(*logrus.TextFormatter)
	assert.True(t, ok)
}

func TestCronLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithOutput(&buf, "info", "json")
	CronLogger{Log: logger}.Error(errors.New("boom"), "panic", "entry", 1, 42)

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "panic", line["msg"])
	assert.Equal(t, "boom", line["error"])
	assert.Equal(t, float64(1), line["entry"])
}
