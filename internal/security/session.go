package security

import (
	"regexp"

	"github.com/example/md-checkout/internal/ids"
)

var sessionIDPattern = regexp.MustCompile(`^cart_\d+_[a-z0-9]{9}$`)

// SessionIDs hands out cart session ids of the form cart_<ms>_<base36>.
type SessionIDs struct {
	gen *ids.Generator
}

func NewSessionIDs(gen *ids.Generator) *SessionIDs {
	return &SessionIDs{gen: gen}
}

func (s *SessionIDs) New() string {
	return s.gen.Lower("cart", 9)
}

// Resolve returns raw when it is a well-formed session id and a fresh id
// otherwise. The second result reports whether raw was accepted.
func (s *SessionIDs) Resolve(raw string) (string, bool) {
	if IsValidSessionID(raw) {
		return raw, true
	}
	return s.New(), false
}

func IsValidSessionID(id string) bool {
	return sessionIDPattern.MatchString(id)
}
