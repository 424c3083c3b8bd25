package urls_test

import (
	"testing"

	"medialoader/pkg/urls"
)

func TestIsURLValid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw  string
		want bool
	}{
		{"https://1fichier.com/?abc", true},
		{"http://example.com/file.zip", true},
		{"ftp://example.com/file.zip", false},
		{"1fichier.com/?abc", false},
		{"", false},
		{"https://", false},
	}

	for _, tt := range tests {
		if got := urls.IsURLValid(tt.raw); got != tt.want {
			t.Errorf("IsURLValid(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}

func TestHostMatches(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw, host string
		want      bool
	}{
		{"https://1fichier.com/?abc", "1fichier.com", true},
		{"https://www.1FICHIER.com/?abc", "1fichier.com", true},
		{"https://not1fichier.com/?abc", "1fichier.com", false},
		{"https://example.com/?abc", "1fichier.com", false},
		{"https://1fichier.com/?abc", "", false},
		{"::bad", "1fichier.com", false},
	}

	for _, tt := range tests {
		if got := urls.HostMatches(tt.raw, tt.host); got != tt.want {
			t.Errorf("HostMatches(%q, %q) = %v, want %v", tt.raw, tt.host, got, tt.want)
		}
	}
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	if got := urls.Normalize("  https://1fichier.com/?abc \n"); got != "https://1fichier.com/?abc" {
		t.Errorf("Normalize() = %q", got)
	}
}
