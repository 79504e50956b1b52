package invite

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base32"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCodeDerivation(t *testing.T) {
	v := NewValidator("test-secret", "")

	// Derive the expected value independently of CodeFor.
	mac := hmac.New(sha256.New, []byte("test-secret"))
	mac.Write([]byte("2026-03-15"))
	want := strings.ToLower(base32.StdEncoding.EncodeToString(mac.Sum(nil))[:10])

	at := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	require.Equal(t, want, v.CodeFor(at))
	require.Len(t, v.CodeFor(at), 10)
}

func TestRolloverTolerance(t *testing.T) {
	v := NewValidator("test-secret", "")

	dayD := time.Date(2026, 3, 15, 0, 0, 1, 0, time.UTC)
	code := v.CodeFor(dayD)

	// Valid at any instant on day D.
	require.True(t, v.IsValid(code, dayD))
	require.True(t, v.IsValid(code, time.Date(2026, 3, 15, 23, 59, 59, 0, time.UTC)))

	// Valid in the first moments of D+1 via the yesterday tolerance.
	require.True(t, v.IsValid(code, time.Date(2026, 3, 16, 0, 0, 5, 0, time.UTC)))

	// Rejected two full days later.
	require.False(t, v.IsValid(code, time.Date(2026, 3, 17, 0, 0, 5, 0, time.UTC)))
}

func TestCaseAndTrimInsensitive(t *testing.T) {
	v := NewValidator("test-secret", "")
	now := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)
	code := v.CodeFor(now)

	require.True(t, v.IsValid("  "+strings.ToUpper(code)+" ", now))
}

func TestEvergreenCode(t *testing.T) {
	v := NewValidator("test-secret", "LetMeIn")
	now := time.Now()

	require.True(t, v.IsValid("letmein", now))
	require.True(t, v.IsValid(" LETMEIN ", now))
	require.False(t, v.IsValid("letmeout", now))
}

func TestEmptyCodeFailsClosed(t *testing.T) {
	v := NewValidator("test-secret", "evergreen")
	require.False(t, v.IsValid("", time.Now()))
	require.False(t, v.IsValid("   ", time.Now()))
}

func TestLocalTimeUsesUTCDay(t *testing.T) {
	v := NewValidator("test-secret", "")

	// 23:30 in UTC-5 is already the next UTC day.
	loc := time.FixedZone("UTC-5", -5*3600)
	local := time.Date(2026, 3, 15, 23, 30, 0, 0, loc)
	utc := time.Date(2026, 3, 16, 4, 30, 0, 0, time.UTC)

	require.Equal(t, v.CodeFor(utc), v.CodeFor(local))
}
