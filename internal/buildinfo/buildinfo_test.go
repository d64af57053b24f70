package buildinfo

import (
	"strings"
	"testing"
)

func TestString(t *testing.T) {
	got := String()
	if !strings.HasPrefix(got, Name+" "+Version+" ") {
		t.Errorf("String() = %q, want prefix %q", got, Name+" "+Version)
	}
}

func TestInfo(t *testing.T) {
	info := Info()
	for _, key := range []string{"name", "version", "git_commit", "go_version", "uptime"} {
		if info[key] == "" {
			t.Errorf("Info()[%q] is empty", key)
		}
	}
	if info["name"] != Name {
		t.Errorf("Info()[name] = %q, want %q", info["name"], Name)
	}
}
