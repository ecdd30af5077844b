package document

import (
	"fmt"
	"strconv"
	"strings"
)

// CreateRevision returns the revision token for a new write on top of
// previous: "<height>-<token>", where height is one more than the previous
// revision's height (1 for a first write).
func CreateRevision(token string, previous Data) string {
	height := 0
	if previous != nil {
		if h, err := RevisionHeight(previous.Rev()); err == nil {
			height = h
		}
	}
	return strconv.Itoa(height+1) + "-" + token
}

// RevisionHeight parses the height prefix of a "<height>-<token>" revision.
func RevisionHeight(rev string) (int, error) {
	head, _, ok := strings.Cut(rev, "-")
	if !ok {
		return 0, fmt.Errorf("revision %q has no height prefix", rev)
	}
	h, err := strconv.Atoi(head)
	if err != nil || h < 1 {
		return 0, fmt.Errorf("revision %q has invalid height", rev)
	}
	return h, nil
}
