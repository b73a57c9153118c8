package dicomweb

import (
	"math/big"
	"strings"

	"github.com/google/uuid"
)

const maxUIDLength = 64

// IsValidUID validates a DICOM unique identifier per PS3.5 §9.
// It checks that the UID:
//   - is not empty and is at most 64 characters
//   - consists of dot-separated numeric components
//   - has no leading or trailing dot and no empty component
//   - has no multi-digit component with a leading zero
//
// Returns true if the UID is valid, false otherwise.
func IsValidUID(uid string) bool {
	if uid == "" || len(uid) > maxUIDLength {
		return false
	}

	if strings.HasPrefix(uid, ".") || strings.HasSuffix(uid, ".") {
		return false
	}

	for _, component := range strings.Split(uid, ".") {
		if component == "" {
			return false
		}

		if len(component) > 1 && component[0] == '0' {
			return false
		}

		for _, r := range component {
			if r < '0' || r > '9' {
				return false
			}
		}
	}

	return true
}

// NewUID generates a UID under the 2.25 UUID-derived root.
func NewUID() string {
	id := uuid.New()
	var n big.Int
	n.SetBytes(id[:])
	return "2.25." + n.String()
}
