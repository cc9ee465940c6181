package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_Defaults(t *testing.T) {
	logger, err := NewLogger(nil)
	require.NoError(t, err)
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
	assert.IsType(t, &logrus.TextFormatter{}, logger.Formatter)
}

func TestNewLogger_JSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "campaignstat.log")
	logger, err := NewLogger(&LogConfig{Level: "debug", Format: "json", Output: path})
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())

	NewFetchLogger(logger, "0xabc", "during").Info("拉取完成")

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(data), &line))
	assert.Equal(t, "fetcher", line["component"])
	assert.Equal(t, "0xabc", line["contract"])
	assert.Equal(t, "during", line["window"])
	assert.Equal(t, "拉取完成", line["msg"])
}

func TestNewLogger_Invalid(t *testing.T) {
	_, err := NewLogger(&LogConfig{Level: "verbose", Format: "json", Output: "stdout"})
	assert.Error(t, err)

	_, err = NewLogger(&LogConfig{Level: "info", Format: "xml", Output: "stdout"})
	assert.Error(t, err)
}

func TestComponentLoggers(t *testing.T) {
	logger := logrus.New()

	up := NewUpstreamLogger(logger, "tokentx", "https://api.etherscan.io/api")
	assert.Equal(t, "explorer", up.Data["component"])
	assert.Equal(t, "tokentx", up.Data["action"])

	rep := NewReportLogger(logger, "0xabc")
	assert.Equal(t, "engine", rep.Data["component"])
	assert.Equal(t, "0xabc", rep.Data["contract"])
}
