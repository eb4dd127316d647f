package logger

import (
	"testing"

	"go.uber.org/zap/zapcore"

	"tripledash/internal/config"
)

func TestNewDefaultsToInfoOnBadLevel(t *testing.T) {
	log, err := New(config.LogConfig{Level: "nope", Encoding: "console"})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !log.Core().Enabled(zapcore.InfoLevel) {
		t.Fatal("info should be enabled at the default level")
	}
	if log.Core().Enabled(zapcore.DebugLevel) {
		t.Fatal("debug must stay off when the level string is invalid")
	}
}

func TestNewJSONEncoding(t *testing.T) {
	log, err := New(config.LogConfig{Level: "debug", Encoding: "json"})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !log.Core().Enabled(zapcore.DebugLevel) {
		t.Fatal("debug level should be honored")
	}
}
