package es_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/getpup/recordstore/es"
)

// TestNoOpLogger verifies the NoOpLogger doesn't panic.
func TestNoOpLogger(t *testing.T) {
	ctx := context.Background()
	logger := es.NoOpLogger{}

	// These should not panic
	logger.Debug(ctx, "debug message", "key", "value")
	logger.Info(ctx, "info message", "key", "value")
	logger.Error(ctx, "error message", "key", "value")
}

// TestLoggerInterface verifies the provided loggers implement Logger.
func TestLoggerInterface(_ *testing.T) {
	var _ es.Logger = es.NoOpLogger{}
	var _ es.Logger = (*es.SlogLogger)(nil)
}

func TestSlogLogger(t *testing.T) {
	ctx := context.Background()
	handler := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := es.NewSlogLogger(slog.New(handler))

	logger.Debug(ctx, "debug message", "key", "value")
	logger.Info(ctx, "info message", "key", "value")
	logger.Error(ctx, "error message", "key", "value")
}

func TestSlogLogger_NilUsesDefault(t *testing.T) {
	logger := es.NewSlogLogger(nil)
	if logger == nil {
		t.Fatal("Expected a logger, got nil")
	}
	logger.Info(context.Background(), "message with default logger")
}
