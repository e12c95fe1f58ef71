package logging

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name   string
		config *Config
		want   string
	}{
		{
			name:   "default config",
			config: nil,
			want:   "text",
		},
		{
			name: "json format",
			config: &Config{
				Level:  LevelInfo,
				Format: "json",
				Output: &bytes.Buffer{},
			},
			want: "json",
		},
		{
			name: "text format",
			config: &Config{
				Level:  LevelDebug,
				Format: "text",
				Output: &bytes.Buffer{},
			},
			want: "text",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := NewLogger(tt.config)
			if logger == nil {
				t.Error("NewLogger() returned nil")
			}
			if logger.format != tt.want {
				t.Errorf("format = %s, want %s", logger.format, tt.want)
			}
		})
	}
}

func TestLoggerWithProcessorAndThread(t *testing.T) {
	var buf bytes.Buffer
	config := &Config{
		Level:   LevelDebug,
		Format:  "text",
		Output:  &buf,
		Sync:    true,
		NoColor: true,
	}

	logger := NewLogger(config)

	procLogger := logger.WithProcessor(2)
	procLogger.Info("scheduling thread")

	output := buf.String()
	if !strings.Contains(output, "processor=2") {
		t.Errorf("expected processor=2 in output, got: %s", output)
	}

	buf.Reset()
	threadLogger := procLogger.WithThread(7)
	threadLogger.Info("context switch")

	output = buf.String()
	if !strings.Contains(output, "processor=2") {
		t.Errorf("expected processor=2 in output, got: %s", output)
	}
	if !strings.Contains(output, "thread=7") {
		t.Errorf("expected thread=7 in output, got: %s", output)
	}
}

func TestLoggerWithTag(t *testing.T) {
	var buf bytes.Buffer
	config := &Config{
		Level:   LevelDebug,
		Format:  "text",
		Output:  &buf,
		Sync:    true,
		NoColor: true,
	}

	logger := NewLogger(config)
	tagLogger := logger.WithTag("Thrd")
	tagLogger.Debug("allocated thread block")

	output := buf.String()
	if !strings.Contains(output, "tag=Thrd") {
		t.Errorf("expected tag=Thrd in output, got: %s", output)
	}
}

func TestLoggerWithError(t *testing.T) {
	var buf bytes.Buffer
	config := &Config{
		Level:   LevelDebug,
		Format:  "text",
		Output:  &buf,
		Sync:    true,
		NoColor: true,
	}

	logger := NewLogger(config)
	testErr := errors.New("pool exhausted")
	errorLogger := logger.WithError(testErr)
	errorLogger.Error("tag tracker allocation failed")

	output := buf.String()
	if !strings.Contains(output, "pool exhausted") {
		t.Errorf("expected 'pool exhausted' in output, got: %s", output)
	}
}

func TestGlobalLoggerFunctions(t *testing.T) {
	var buf bytes.Buffer
	config := &Config{
		Level:   LevelDebug,
		Format:  "text",
		Output:  &buf,
		Sync:    true,
		NoColor: true,
	}

	SetDefault(NewLogger(config))

	Debug("debug message", "key", "value")
	output := buf.String()
	if !strings.Contains(output, "debug message") {
		t.Errorf("expected debug message, got: %s", output)
	}
	if !strings.Contains(output, "key=value") {
		t.Errorf("expected key=value, got: %s", output)
	}

	buf.Reset()
	Info("info message")
	output = buf.String()
	if !strings.Contains(output, "info message") {
		t.Errorf("expected info message, got: %s", output)
	}

	buf.Reset()
	Warn("warning message")
	output = buf.String()
	if !strings.Contains(output, "warning message") {
		t.Errorf("expected warning message, got: %s", output)
	}

	buf.Reset()
	Error("error message")
	output = buf.String()
	if !strings.Contains(output, "error message") {
		t.Errorf("expected error message, got: %s", output)
	}
}
