package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNewLoggerLevels(t *testing.T) {
	cases := []struct {
		name         string
		level        string
		debugEnabled bool
		infoEnabled  bool
	}{
		{name: "debug", level: "debug", debugEnabled: true, infoEnabled: true},
		{name: "info", level: "info", debugEnabled: false, infoEnabled: true},
		{name: "warn alias", level: "warning", debugEnabled: false, infoEnabled: false},
		{name: "error", level: "error", debugEnabled: false, infoEnabled: false},
		{name: "empty defaults to info", level: "", debugEnabled: false, infoEnabled: true},
		{name: "unknown defaults to info", level: "chatty", debugEnabled: false, infoEnabled: true},
		{name: "mixed case", level: " Debug ", debugEnabled: true, infoEnabled: true},
	}
	for _, testCase := range cases {
		t.Run(testCase.name, func(t *testing.T) {
			logger, err := NewLogger(testCase.level)
			if err != nil {
				t.Fatalf("unexpected logger error: %v", err)
			}
			defer func() { _ = logger.Sync() }()

			if got := logger.Core().Enabled(zapcore.DebugLevel); got != testCase.debugEnabled {
				t.Fatalf("debug enabled = %v, want %v", got, testCase.debugEnabled)
			}
			if got := logger.Core().Enabled(zapcore.InfoLevel); got != testCase.infoEnabled {
				t.Fatalf("info enabled = %v, want %v", got, testCase.infoEnabled)
			}
		})
	}
}

func TestNewConfigStampsServiceField(t *testing.T) {
	cfg := newConfig("info")
	if got := cfg.InitialFields["service"]; got != serviceName {
		t.Fatalf("service field = %v, want %q", got, serviceName)
	}
	if cfg.EncoderConfig.EncodeTime == nil {
		t.Fatal("expected a time encoder to be set")
	}
}
