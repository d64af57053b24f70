package paths

import (
	"path/filepath"
	"testing"
)

func TestExpandHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	tests := []struct {
		path string
		want string
	}{
		{path: "~", want: home},
		{path: "~/data", want: filepath.Join(home, "data")},
		{path: "~other/data", want: "~other/data"},
		{path: "/var/lib/envnode", want: "/var/lib/envnode"},
		{path: "data", want: "data"},
		{path: "", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := ExpandHome(tt.path); got != tt.want {
				t.Errorf("ExpandHome(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestUnder(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	tests := []struct {
		name string
		base string
		path string
		want string
	}{
		{name: "relative", base: "./data", path: "telemetry.db", want: filepath.Join("data", "telemetry.db")},
		{name: "absolute", base: "./data", path: "/srv/telemetry.db", want: "/srv/telemetry.db"},
		{name: "home path", base: "./data", path: "~/telemetry.db", want: filepath.Join(home, "telemetry.db")},
		{name: "home base", base: "~/envnode", path: "telemetry.db", want: filepath.Join(home, "envnode", "telemetry.db")},
		{name: "empty", base: "./data", path: "", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Under(tt.base, tt.path); got != tt.want {
				t.Errorf("Under(%q, %q) = %q, want %q", tt.base, tt.path, got, tt.want)
			}
		})
	}
}
