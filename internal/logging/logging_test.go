package logging

import (
	"context"
	"log/slog"
	"testing"
)

func TestContextValues(t *testing.T) {
	ctx := context.Background()
	ctx = WithRequestID(ctx, "req-123")
	ctx = WithScraper(ctx, "google")
	ctx = WithSubject(ctx, "key:abc")

	if got := GetRequestID(ctx); got != "req-123" {
		t.Errorf("GetRequestID() = %q, want %q", got, "req-123")
	}
	if got := GetScraper(ctx); got != "google" {
		t.Errorf("GetScraper() = %q, want %q", got, "google")
	}
	if got := GetSubject(ctx); got != "key:abc" {
		t.Errorf("GetSubject() = %q, want %q", got, "key:abc")
	}
}

func TestContextValues_Empty(t *testing.T) {
	var nilCtx context.Context
	if got := GetRequestID(nilCtx); got != "" {
		t.Errorf("GetRequestID(nil) = %q, want empty", got)
	}
	if got := GetScraper(context.Background()); got != "" {
		t.Errorf("GetScraper() on empty context = %q, want empty", got)
	}
}

func TestFromContext(t *testing.T) {
	logger := slog.Default()

	t.Run("nil context returns original logger", func(t *testing.T) {
		if FromContext(nil, logger) != logger {
			t.Error("FromContext(nil, logger) should return original logger")
		}
	})

	t.Run("request id adds attribute", func(t *testing.T) {
		ctx := WithRequestID(context.Background(), "req-abc")
		if FromContext(ctx, logger) == logger {
			t.Error("FromContext with requestID should return a new logger")
		}
	})

	t.Run("scraper adds attribute", func(t *testing.T) {
		ctx := WithScraper(context.Background(), "page")
		if FromContext(ctx, logger) == logger {
			t.Error("FromContext with scraper should return a new logger")
		}
	})

	t.Run("subject alone is not logged", func(t *testing.T) {
		ctx := WithSubject(context.Background(), "someone")
		if FromContext(ctx, logger) != logger {
			t.Error("FromContext with only a subject should return original logger")
		}
	})
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
		{"  debug  ", slog.LevelDebug},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseLogLevel(tt.input); got != tt.want {
				t.Errorf("parseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestSetDefault(t *testing.T) {
	logger := SetDefault()
	if logger == nil {
		t.Fatal("SetDefault() returned nil")
	}
	if slog.Default() != logger {
		t.Error("SetDefault() did not set the logger as default")
	}
}
