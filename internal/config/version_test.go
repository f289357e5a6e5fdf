package config

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateVersion(t *testing.T) {
	tests := []struct {
		name        string
		version     int
		wantErr     bool
		wantMention string
	}{
		{"current version accepted", CurrentVersion, false, ""},
		{"zero rejected as missing", 0, true, "missing a version field"},
		{"negative rejected as missing", -1, true, "missing a version field"},
		{"newer rejected with upgrade hint", CurrentVersion + 1, true, "upgrade agent-hub"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateVersion(tt.version)
			if !tt.wantErr {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var ve *VersionError
			if !errors.As(err, &ve) {
				t.Fatalf("expected *VersionError, got %T", err)
			}
			if !strings.Contains(ve.Error(), tt.wantMention) {
				t.Fatalf("message %q missing %q", ve.Error(), tt.wantMention)
			}
		})
	}
}

func TestVersionErrorNilReceiver(t *testing.T) {
	var ve *VersionError
	if got := ve.Error(); got != "" {
		t.Fatalf("nil VersionError must render empty, got %q", got)
	}
}
