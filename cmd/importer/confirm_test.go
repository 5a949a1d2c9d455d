package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfirmClear(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"yes\n", true},
		{"YES\n", true},
		{"  yes  \n", true},
		{"yes", true},
		{"y\n", false},
		{"no\n", false},
		{"\n", false},
		{"", false},
	}

	for _, tt := range tests {
		var out bytes.Buffer
		confirm := confirmClear(strings.NewReader(tt.input), &out, "nawy_properties")
		assert.Equal(t, tt.want, confirm(1234), "input %q", tt.input)
		assert.Contains(t, out.String(), "delete 1234 rows from nawy_properties")
	}
}

func TestRunVersion(t *testing.T) {
	assert.Equal(t, 0, run([]string{"-version"}))
}

func TestRunRejectsBadFlags(t *testing.T) {
	assert.Equal(t, 2, run([]string{"-no-such-flag"}))
}

func TestRunInvalidConfig(t *testing.T) {
	t.Setenv("SUPABASE_URL", "")
	t.Setenv("SUPABASE_KEY", "")
	t.Setenv("SUPABASE_SERVICE_ROLE_KEY", "")
	t.Setenv("IMPORT_SOURCE", "")
	t.Setenv("LOGLEVEL", "disabled")
	assert.Equal(t, 1, run([]string{"-source", "units.csv"}))
}
