// Package ids generates identifiers for entities and requests.
package ids

import "github.com/oklog/ulid/v2"

// New returns a lexicographically sortable ULID, used for entity primary
// keys, request IDs and audit entries.
func New() string {
	return ulid.Make().String()
}
