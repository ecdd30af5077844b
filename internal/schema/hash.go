package schema

import "github.com/roach88/docstore/internal/canonical"

// Hash returns the structural hash of s: the domain-separated SHA-256 of the
// canonical JSON of Normalize(s). Peers compare it to detect incompatible
// schemas for the same collection.
func Hash(s *Schema) (string, error) {
	return canonical.Hash(canonical.DomainSchema, Normalize(s).ToMap())
}
