package env

import (
	"log/slog"
	"testing"
	"time"
)

func TestGet(t *testing.T) {
	t.Setenv("LOGFEED_TEST_VALUE", "set")

	if got := Get("LOGFEED_TEST_VALUE", "default"); got != "set" {
		t.Errorf("expected set, got %s", got)
	}
	if got := Get("LOGFEED_TEST_MISSING", "default"); got != "default" {
		t.Errorf("expected default, got %s", got)
	}
}

func TestGetInt(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  int
	}{
		{"valid", "250", 250},
		{"empty", "", 100},
		{"garbage", "lots", 100},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("LOGFEED_TEST_INT", tc.value)
			if got := GetInt("LOGFEED_TEST_INT", 100); got != tc.want {
				t.Errorf("expected %d, got %d", tc.want, got)
			}
		})
	}
}

func TestGetDuration(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  time.Duration
	}{
		{"valid", "45s", 45 * time.Second},
		{"empty", "", 5 * time.Second},
		{"garbage", "soon", 5 * time.Second},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("LOGFEED_TEST_DURATION", tc.value)
			if got := GetDuration("LOGFEED_TEST_DURATION", 5*time.Second); got != tc.want {
				t.Errorf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		value string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info+2", slog.LevelInfo + 2},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}

	for _, tc := range tests {
		t.Run(tc.value, func(t *testing.T) {
			t.Setenv("LOGFEED_LOG_LEVEL", "")
			t.Setenv("LOG_LEVEL", tc.value)
			if got := ParseLogLevel(slog.LevelInfo); got != tc.want {
				t.Errorf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestParseLogLevel_PrefersServiceVariable(t *testing.T) {
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("LOGFEED_LOG_LEVEL", "debug")

	if got := ParseLogLevel(slog.LevelInfo); got != slog.LevelDebug {
		t.Errorf("expected LOGFEED_LOG_LEVEL to win, got %v", got)
	}
}
