package docgate

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// TokenArity is the number of fields in a token. Tokens with any other
	// field count, including the older three-field form, fail to decode.
	TokenArity = 4

	tokenDelimiter = ":"
)

// Claims are the fields carried by a token.
// IssuedAt is carried with millisecond precision.
type Claims struct {
	Principal string
	Secret    string
	IssuedAt  time.Time
	Nonce     string
}

// Codec encodes and checks session tokens.
//
// A token is base64 of "principal:secret:issuedAtMillis:nonce". It is an
// encoding, not encryption: anyone holding a token can read the secret back
// out of it. It deters casual browsing and nothing more.
type Codec struct {
	// NonceScoped makes Verify also require the token's nonce to match.
	NonceScoped bool
}

// Encode serializes c into a token.
func (c Codec) Encode(cl Claims) (string, error) {
	fields := []struct{ name, value string }{
		{"principal", cl.Principal},
		{"secret", cl.Secret},
		{"nonce", cl.Nonce},
	}
	for _, f := range fields {
		if strings.Contains(f.value, tokenDelimiter) {
			return "", fmt.Errorf("%w: %s", ErrDelimiterInField, f.name)
		}
	}

	data := strings.Join([]string{
		cl.Principal,
		cl.Secret,
		strconv.FormatInt(cl.IssuedAt.UnixMilli(), 10),
		cl.Nonce,
	}, tokenDelimiter)
	return base64.StdEncoding.EncodeToString([]byte(data)), nil
}

// Decode reverses Encode.
func (c Codec) Decode(token string) (Claims, error) {
	if token == "" {
		return Claims{}, fmt.Errorf("%w: empty token", ErrDecode)
	}

	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	parts := strings.Split(string(raw), tokenDelimiter)
	if len(parts) != TokenArity {
		return Claims{}, fmt.Errorf("%w: got %d fields, want %d", ErrDecode, len(parts), TokenArity)
	}

	ms, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: bad timestamp: %v", ErrDecode, err)
	}

	return Claims{
		Principal: parts[0],
		Secret:    parts[1],
		IssuedAt:  time.UnixMilli(ms),
		Nonce:     parts[3],
	}, nil
}

// Verify reports whether token is a well-formed token for principal.
// It fails closed: any decode error yields false. The token must re-encode
// to exactly itself, which rejects hand-made strings that merely decode.
// secret is compared only when non-empty; nonce is compared when the codec is nonce scoped.
func (c Codec) Verify(token, principal, secret, nonce string) bool {
	cl, err := c.Decode(token)
	if err != nil {
		return false
	}

	again, err := c.Encode(cl)
	if err != nil || again != token {
		return false
	}

	if cl.Principal != principal {
		return false
	}
	if secret != "" && cl.Secret != secret {
		return false
	}
	if c.NonceScoped && cl.Nonce != nonce {
		return false
	}
	return true
}
