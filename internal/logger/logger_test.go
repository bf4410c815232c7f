package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/pipewright/pipewright/internal/constants"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitialize(t *testing.T) {
	tests := []struct {
		name  string
		env   constants.Environment
		level slog.Level
	}{
		{
			name:  "production environment with info level",
			env:   constants.Production,
			level: slog.LevelInfo,
		},
		{
			name:  "development environment with debug level",
			env:   constants.Development,
			level: slog.LevelDebug,
		},
		{
			name:  "CLI environment with warn level",
			env:   constants.CLI,
			level: slog.LevelWarn,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := Initialize(tt.env, tt.level)

			assert.NotNil(t, logger, "Logger should not be nil")
			assert.Equal(t, logger, slog.Default(), "Logger should be set as default")
		})
	}
}

func TestGetRequestID(t *testing.T) {
	tests := []struct {
		name     string
		ctx      context.Context
		expected string
	}{
		{
			name:     "empty context",
			ctx:      context.Background(),
			expected: "",
		},
		{
			name:     "context with request ID",
			ctx:      WithRequestID(context.Background(), "test-request-123"),
			expected: "test-request-123",
		},
		{
			name:     "context with wrong type",
			ctx:      context.WithValue(context.Background(), requestIDContextKey, 12345),
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := GetRequestID(tt.ctx)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestDeriveRequestLogger(t *testing.T) {
	t.Run("nil base logger returns default", func(t *testing.T) {
		logger := DeriveRequestLogger(context.Background(), nil)
		assert.NotNil(t, logger)
	})

	t.Run("context with request ID", func(t *testing.T) {
		buf := &bytes.Buffer{}
		baseLogger := slog.New(slog.NewJSONHandler(buf, nil))
		ctx := WithRequestID(context.Background(), "req-123")

		logger := DeriveRequestLogger(ctx, baseLogger)
		logger.Info("test message")

		var logEntry map[string]any
		err := json.Unmarshal(buf.Bytes(), &logEntry)
		require.NoError(t, err)
		assert.Equal(t, "req-123", logEntry[RequestIDLogField], "request_id should be at root level")
	})

	t.Run("context without request ID", func(t *testing.T) {
		buf := &bytes.Buffer{}
		baseLogger := slog.New(slog.NewJSONHandler(buf, nil))

		logger := DeriveRequestLogger(context.Background(), baseLogger)
		require.NotNil(t, logger)

		logger.Info("no request id")
		assert.Contains(t, buf.String(), "no request id")
		assert.NotContains(t, buf.String(), RequestIDLogField)
	})
}

func TestGetDeadlineInfo(t *testing.T) {
	t.Run("context without deadline", func(t *testing.T) {
		attrs := GetDeadlineInfo(context.Background())

		require.Len(t, attrs, 4)
		assert.Equal(t, "deadline", attrs[0])
		assert.Equal(t, "none", attrs[1])
		assert.Equal(t, "deadline_remaining", attrs[2])
		assert.Equal(t, "none", attrs[3])
	})

	t.Run("context with deadline", func(t *testing.T) {
		deadline := time.Now().Add(5 * time.Minute)
		ctx, cancel := context.WithDeadline(context.Background(), deadline)
		defer cancel()

		attrs := GetDeadlineInfo(ctx)

		require.Len(t, attrs, 4)
		assert.Equal(t, "deadline", attrs[0])
		assert.Contains(t, attrs[1].(string), "T", "Should contain RFC3339 formatted time")
		assert.Equal(t, "deadline_remaining", attrs[2])
		assert.NotEqual(t, "none", attrs[3])
	})
}
