package logging

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_WritesFields(t *testing.T) {
	var buf bytes.Buffer

	logger, err := New(Options{Level: "debug", Output: &buf})
	require.NoError(t, err)

	logger.WithField("state", "loading").Debug("pipeline started")

	out := buf.String()
	assert.Contains(t, out, "pipeline started")
	assert.Contains(t, out, "loading")
}

func TestNew_DefaultLevelIsInfo(t *testing.T) {
	logger, err := New(Options{Output: &bytes.Buffer{}})
	require.NoError(t, err)
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
}

func TestNew_InvalidLevel(t *testing.T) {
	_, err := New(Options{Level: "chatty"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse log level")
}

func TestOrDiscard(t *testing.T) {
	assert.NotNil(t, OrDiscard(nil))

	l := logrus.New()
	assert.Same(t, l, OrDiscard(l))
}
