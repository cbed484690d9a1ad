package util_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/downfa11-org/bigqueue/util"
)

func TestValidateName(t *testing.T) {
	tests := []struct {
		name  string
		valid bool
	}{
		{"orders", true},
		{"fanout_1", true},
		{"a-b.c", true},
		{"_internal", true},
		{"", false},
		{".", false},
		{"..", false},
		{"-leading", false},
		{"a/b", false},
		{`a\b`, false},
		{"white space", false},
		{"tab\t", false},
		{strings.Repeat("x", 256), false},
	}

	for _, tt := range tests {
		err := util.ValidateName(tt.name)
		if tt.valid && err != nil {
			t.Errorf("ValidateName(%q) unexpected error: %v", tt.name, err)
		}
		if !tt.valid {
			if err == nil {
				t.Errorf("ValidateName(%q) expected error", tt.name)
			} else if !errors.Is(err, util.ErrInvalidName) {
				t.Errorf("ValidateName(%q) error %v is not ErrInvalidName", tt.name, err)
			}
		}
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]util.LogLevel{
		"debug":   util.LogLevelDebug,
		"INFO":    util.LogLevelInfo,
		"warning": util.LogLevelWarn,
		" error ": util.LogLevelError,
		"bogus":   util.LogLevelInfo,
	}
	for in, want := range tests {
		if got := util.ParseLogLevel(in); got != want {
			t.Errorf("ParseLogLevel(%q) = %v; want %v", in, got, want)
		}
	}
}
