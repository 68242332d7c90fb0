package version

import (
	_ "embed"
	"strings"
)

//go:embed VERSION
var raw string

// String reports the hub release version as embedded at build time.
func String() string {
	return strings.TrimSpace(raw)
}

