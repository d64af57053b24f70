package mqtt

import (
	"strings"

	"github.com/google/uuid"
)

// DefaultClientID returns "envnode-<node>-<suffix>" where suffix is the
// random tail of a fresh UUIDv7. Identity is per process; nothing is
// persisted across restarts.
func DefaultClientID(nodeName string) string {
	suffix := "00000000"
	if id, err := uuid.NewV7(); err == nil {
		s := strings.ReplaceAll(id.String(), "-", "")
		suffix = s[len(s)-8:]
	}
	return "envnode-" + nodeName + "-" + suffix
}
