package buildinfo

import (
	"strings"
	"testing"
)

func TestUserAgent(t *testing.T) {
	old := Version
	t.Cleanup(func() { Version = old })

	Version = "v1.2.3"
	if got, want := UserAgent(), "stacklock/v1.2.3 (+"+Homepage+")"; got != want {
		t.Errorf("UserAgent() = %q, want %q", got, want)
	}
	if !strings.Contains(String(), "version: v1.2.3") {
		t.Errorf("String() = %q", String())
	}
}
