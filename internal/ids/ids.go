// Package ids generates the counter-plus-random identifiers used by every
// store: task_{n}_{rand8}, msg_{n}_{rand8}, exec_{n}_{rand8}, file_{n}.
package ids

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// RandSuffix returns an 8-character random hex suffix.
func RandSuffix() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
}

// New builds an identifier of the form {prefix}_{counter}_{rand8}.
func New(prefix string, counter uint64) string {
	return fmt.Sprintf("%s_%d_%s", prefix, counter, RandSuffix())
}
