package util

import (
	"testing"
	"time"
)

func TestParseBoolEnv(t *testing.T) {
	tests := []struct {
		name         string
		value        string
		defaultValue bool
		want         bool
	}{
		{"unset uses default", "", true, true},
		{"true", "true", false, true},
		{"numeric true", "1", false, true},
		{"yes", "yes", false, true},
		{"on with whitespace", " on ", false, true},
		{"false", "false", true, false},
		{"numeric false", "0", true, false},
		{"off", "OFF", true, false},
		{"garbage uses default", "maybe", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.value != "" {
				t.Setenv("TEST_BOOL_ENV", tt.value)
			}
			if got := ParseBoolEnv("TEST_BOOL_ENV", tt.defaultValue); got != tt.want {
				t.Errorf("ParseBoolEnv(%q) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func TestParseDurationEnv(t *testing.T) {
	const fallback = 24 * time.Hour

	tests := []struct {
		name  string
		value string
		want  time.Duration
	}{
		{"unset uses default", "", fallback},
		{"seconds", "30s", 30 * time.Second},
		{"hours", "48h", 48 * time.Hour},
		{"with whitespace", " 5m ", 5 * time.Minute},
		{"invalid uses default", "soon", fallback},
		{"negative uses default", "-1h", fallback},
		{"zero uses default", "0s", fallback},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.value != "" {
				t.Setenv("TEST_DURATION_ENV", tt.value)
			}
			if got := ParseDurationEnv("TEST_DURATION_ENV", fallback); got != tt.want {
				t.Errorf("ParseDurationEnv(%q) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}
