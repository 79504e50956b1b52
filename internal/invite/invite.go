// Package invite validates the daily rotating invite codes that gate
// registration and play.
package invite

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base32"
	"strings"
	"time"
)

const codeLength = 10

// Validator checks caller-supplied invite codes against the secret-derived
// daily code. It is stateless and has no side effects.
type Validator struct {
	secret    string
	evergreen string
}

// NewValidator creates a validator. evergreen is an optional static code
// that is always accepted; pass "" to disable it.
func NewValidator(secret, evergreen string) *Validator {
	return &Validator{
		secret:    secret,
		evergreen: strings.ToLower(strings.TrimSpace(evergreen)),
	}
}

// CodeFor derives the code for the UTC day containing t:
// lowercase(base32(HMAC-SHA256(secret, "YYYY-MM-DD"))[0:10]).
func (v *Validator) CodeFor(t time.Time) string {
	day := t.UTC().Format("2006-01-02")
	mac := hmac.New(sha256.New, []byte(v.secret))
	mac.Write([]byte(day))
	encoded := base32.StdEncoding.EncodeToString(mac.Sum(nil))
	return strings.ToLower(encoded[:codeLength])
}

// IsValid accepts code if it matches today's or yesterday's derived code
// (tolerating clock skew around the rotation boundary) or the evergreen
// code. Comparison is case- and whitespace-insensitive. An empty code is
// always rejected.
func (v *Validator) IsValid(code string, now time.Time) bool {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" {
		return false
	}
	if v.evergreen != "" && code == v.evergreen {
		return true
	}
	if code == v.CodeFor(now) {
		return true
	}
	return code == v.CodeFor(now.Add(-24*time.Hour))
}
