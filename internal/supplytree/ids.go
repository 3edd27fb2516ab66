package supplytree

import (
	"strings"

	"github.com/google/uuid"
)

// namespace scopes every derived identifier.
var namespace = uuid.MustParse("6f1c1b0e-3d4f-5a8e-9b7c-2e4d6a8f0c13")

type (
	WorkflowID string
	NodeID     string
	PortID     string
)

// DeriveID returns a name-based UUID for parts. Equal parts always give equal IDs, so
// trees built from identical inputs are identical.
func DeriveID(parts ...string) string {
	return uuid.NewSHA1(namespace, []byte(strings.Join(parts, "\x1f"))).String()
}
