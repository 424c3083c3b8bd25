package logger_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"medialoader/pkg/logger"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{in: "debug", want: slog.LevelDebug},
		{in: "INFO", want: slog.LevelInfo},
		{in: "warning", want: slog.LevelWarn},
		{in: "error", want: slog.LevelError},
		{in: "verbose", want: slog.LevelInfo, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := logger.ParseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}

			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestNewWritesRotatedFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "medialoader.log")

	log, err := logger.New(&logger.Options{Level: "debug", File: file, MaxSizeMB: 1})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	log.Info("hello", slog.String("who", "file"))

	data, err := os.ReadFile(file)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}

	if len(data) == 0 {
		t.Errorf("expected log file to contain the record")
	}
}

func TestNewRequiresOptions(t *testing.T) {
	if _, err := logger.New(nil); err == nil {
		t.Errorf("expected error for nil options")
	}
}
