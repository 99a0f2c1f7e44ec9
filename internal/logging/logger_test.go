// Package logging includes tests for the zap logger helpers.
package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

// TestNewDevelopmentLogger confirms the development logger builds and logs.
func TestNewDevelopmentLogger(t *testing.T) {
	t.Parallel()

	logger, err := New(true, "debug")
	if err != nil {
		t.Fatalf("New(true) error = %v", err)
	}
	if logger == nil {
		t.Fatal("expected logger to be non-nil")
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush
	if !logger.Core().Enabled(zapcore.DebugLevel) {
		t.Fatal("expected debug to be enabled")
	}
	logger.Info("development logger ready")
}

// TestNewProductionLogger ensures the production logger configuration succeeds.
func TestNewProductionLogger(t *testing.T) {
	t.Parallel()

	logger, err := New(false, "warn")
	if err != nil {
		t.Fatalf("New(false) error = %v", err)
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush
	if logger.Core().Enabled(zapcore.InfoLevel) {
		t.Fatal("expected info to be disabled at warn")
	}
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	t.Parallel()

	if _, err := New(true, "loud"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	cases := map[string]zapcore.Level{
		"":      zapcore.InfoLevel,
		"TRACE": zapcore.DebugLevel,
		"debug": zapcore.DebugLevel,
		" Warn": zapcore.WarnLevel,
		"error": zapcore.ErrorLevel,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil {
			t.Fatalf("ParseLevel(%q) error = %v", in, err)
		}
		if got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestResolveLevelPrefersEnv(t *testing.T) {
	t.Setenv(LevelEnv, "debug")
	if got := ResolveLevel("info"); got != "debug" {
		t.Fatalf("expected env level, got %q", got)
	}
	t.Setenv(LevelEnv, "")
	if got := ResolveLevel("info"); got != "info" {
		t.Fatalf("expected configured level, got %q", got)
	}
}

func TestResolveLevelReadsFilterSyntax(t *testing.T) {
	cases := map[string]string{
		"info,sqlx=warn":  "info",
		"sqlx=warn,debug": "debug",
		"sqlx=warn":       "error",
		"verbose":         "error",
		" debug ":         "debug",
	}
	for env, want := range cases {
		t.Setenv(LevelEnv, env)
		if got := ResolveLevel("error"); got != want {
			t.Fatalf("LOG_LEVEL=%q: expected %q, got %q", env, want, got)
		}
		if _, err := ParseLevel(ResolveLevel("error")); err != nil {
			t.Fatalf("LOG_LEVEL=%q resolved to unparsable level: %v", env, err)
		}
	}
}
