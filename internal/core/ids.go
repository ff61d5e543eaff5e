package core

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns a prefixed opaque identifier, e.g. "run-3f1c…".
func NewID(prefix string) string {
	return prefix + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:20]
}
