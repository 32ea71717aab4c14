package memory

import "regexp"

// Entity type strings originate from LLM output, which is influenced by user
// chat text. Anything used as a node label lands in a structural query
// position, so it has to pass a strict identifier check; everything that
// doesn't falls back to the generic label.

const defaultEntityLabel = "Entity"

const maxLabelLength = 64

var labelPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// sanitizeLabel returns typ if it is safe to use as a node label, otherwise
// the generic Entity label.
func sanitizeLabel(typ string) string {
	if typ == "" || len(typ) > maxLabelLength {
		return defaultEntityLabel
	}
	if !labelPattern.MatchString(typ) {
		return defaultEntityLabel
	}
	return typ
}
