package util

import (
	"strings"

	"github.com/google/uuid"
)

// IDPrefix marks generated local identities.
const IDPrefix = "P2P-"

// NewLocalID returns a fresh identity of the form P2P-XXXXXXX.
// Identities are self-asserted and only need to be unlikely to collide
// among the peers sharing one relay.
func NewLocalID() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return IDPrefix + strings.ToUpper(raw[:7])
}
