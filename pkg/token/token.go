// Package token implements the fixed-size identity tokens that tag
// persisted storage regions. A token serves two roles: as a format magic
// identifying a storage layout, and as a caller-chosen discriminator
// distinguishing one logical dataset from another. Tokens support equality
// only; they are never ordered and never hashed for lookup.
package token

import (
	"fmt"

	"github.com/google/uuid"
)

// Size is the token length in bytes.
const Size = 16

// Token is an opaque 16-byte identity value.
type Token [Size]byte

// Zero is the all-zero token. It is never a valid format or data identity.
var Zero Token

// New returns a freshly generated random token.
func New() Token {
	return Token(uuid.New())
}

// FromUUID converts a UUID into a token.
func FromUUID(u uuid.UUID) Token {
	return Token(u)
}

// FromBytes builds a token from exactly Size bytes.
func FromBytes(b []byte) (Token, error) {
	if len(b) != Size {
		return Zero, fmt.Errorf("token must be %d bytes, got %d", Size, len(b))
	}
	var t Token
	copy(t[:], b)
	return t, nil
}

// Parse reads a token from its canonical UUID string form.
func Parse(s string) (Token, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return Zero, fmt.Errorf("invalid token %q: %w", s, err)
	}
	return Token(u), nil
}

// MustParse is Parse for compile-time constants; it panics on malformed input.
func MustParse(s string) Token {
	t, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return t
}

// Equal reports whether two tokens match byte for byte.
func (t Token) Equal(other Token) bool {
	return t == other
}

// IsZero reports whether the token is all zero bytes.
func (t Token) IsZero() bool {
	return t == Zero
}

// Bytes returns a copy of the token's bytes.
func (t Token) Bytes() []byte {
	b := make([]byte, Size)
	copy(b, t[:])
	return b
}

// String renders the token in canonical UUID form.
func (t Token) String() string {
	return uuid.UUID(t).String()
}
