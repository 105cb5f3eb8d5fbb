// internal/observability/logger_test.go
package observability

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/liveauth/internal/config"
)

// initWithBuffer resets the global logger and routes console output into a buffer.
func initWithBuffer(t *testing.T, cfg config.LoggerConfig) *bytes.Buffer {
	t.Helper()
	ResetForTest()
	t.Cleanup(ResetForTest)

	var buf bytes.Buffer
	Initialize(cfg, zapcore.AddSync(&buf))
	return &buf
}

func TestInitialize(t *testing.T) {
	t.Run("should initialize console logger with colors", func(t *testing.T) {
		buf := initWithBuffer(t, config.LoggerConfig{
			Level:       "debug",
			Format:      "console",
			ServiceName: "TestService",
			Colors:      config.ColorConfig{Info: "green"},
		})

		GetLogger().Info("This is a test message.")
		Sync()

		output := buf.String()
		assert.Contains(t, output, "INFO")
		assert.Contains(t, output, "TestService.")
		assert.Contains(t, output, "This is a test message.")
		assert.Contains(t, output, colorGreen)
		assert.Contains(t, output, colorReset)
	})

	t.Run("should initialize json logger", func(t *testing.T) {
		buf := initWithBuffer(t, config.LoggerConfig{
			Level:       "info",
			Format:      "json",
			ServiceName: "JSONTest",
		})

		GetLogger().Warn("This is a JSON message.", zap.String("key", "value"))
		Sync()

		var logEntry map[string]interface{}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &logEntry), "Log output should be valid JSON")

		assert.Equal(t, "WARN", logEntry["level"])
		assert.Equal(t, "JSONTest", logEntry["logger"])
		assert.Equal(t, "This is a JSON message.", logEntry["msg"])
		assert.Equal(t, "value", logEntry["key"])
	})

	t.Run("should respect the configured level", func(t *testing.T) {
		buf := initWithBuffer(t, config.LoggerConfig{Level: "warn", Format: "json", ServiceName: "lvl"})

		GetLogger().Info("dropped")
		Sync()
		assert.Empty(t, buf.String())
	})

	t.Run("should write to a log file if configured", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "liveauth.log")
		initWithBuffer(t, config.LoggerConfig{
			Level:   "debug",
			Format:  "json",
			LogFile: logFile,
			MaxSize: 1,
		})

		GetLogger().Error("This should go to the file.")
		Sync()

		content, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.Contains(t, string(content), "This should go to the file.")
	})

	t.Run("should only initialize once", func(t *testing.T) {
		buf := initWithBuffer(t, config.LoggerConfig{Level: "info", Format: "console", ServiceName: "First"})
		logger1 := GetLogger()

		// The second call is ignored, including its writer.
		var other bytes.Buffer
		Initialize(config.LoggerConfig{Level: "debug", ServiceName: "Second"}, zapcore.AddSync(&other))
		logger2 := GetLogger()

		assert.Same(t, logger1, logger2)
		logger2.Info("test")
		Sync()

		assert.Contains(t, buf.String(), "First")
		assert.NotContains(t, buf.String(), "Second")
		assert.Empty(t, other.String())
	})
}

func TestGetLogger(t *testing.T) {
	t.Run("should return a fallback logger if not initialized", func(t *testing.T) {
		ResetForTest()
		require.NotNil(t, GetLogger())
	})

	t.Run("should return the global logger after initialization", func(t *testing.T) {
		initWithBuffer(t, config.LoggerConfig{Level: "info", ServiceName: "GlobalTest"})
		assert.Same(t, globalLogger.Load(), GetLogger())
	})
}

func TestMaskedLogin(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"", ""},
		{"alice@example.test", "a***@example.test"},
		{"a@example.test", "***@example.test"},
		{"@example.test", "***@example.test"},
		{"+15550100", "+***"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, MaskLogin(tc.in), "input %q", tc.in)
	}

	field := MaskedLogin("alice@example.test")
	assert.Equal(t, "login", field.Key)
	assert.Equal(t, "a***@example.test", field.String)
}
