package service

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"net/url"
	"strings"
)

const (
	ShortIDLength   = 6
	shortIDAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// apiPrefix is mounted as a subrouter, so GET /api never reaches the redirect route.
const apiPrefix = "api"

var alphabetSize = big.NewInt(int64(len(shortIDAlphabet)))

// GenerateShortID draws ShortIDLength characters uniformly from [a-zA-Z0-9].
func GenerateShortID() (string, error) {
	var b strings.Builder
	b.Grow(ShortIDLength)
	for i := 0; i < ShortIDLength; i++ {
		n, err := rand.Int(rand.Reader, alphabetSize)
		if err != nil {
			return "", fmt.Errorf("failed to read random source: %w", err)
		}
		b.WriteByte(shortIDAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// ValidateAlias accepts any alias that can be requested as a single path
// segment of GET /{short_id}; everything else is stored verbatim.
func ValidateAlias(alias string) bool {
	return alias != apiPrefix && !strings.Contains(alias, "/")
}

// ValidateTargetURL requires a scheme and a host, and the scheme must be one of allowedSchemes.
// The URL is never rewritten, so surrounding whitespace is rejected rather than trimmed.
func ValidateTargetURL(raw string, allowedSchemes []string) (*url.URL, error) {
	if raw != strings.TrimSpace(raw) {
		return nil, ErrInvalidURL
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, ErrInvalidURL
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return parsed, ErrInvalidURL
	}
	for _, scheme := range allowedSchemes {
		if parsed.Scheme == scheme {
			return parsed, nil
		}
	}
	return parsed, fmt.Errorf("%w: scheme %q not allowed", ErrInvalidURL, parsed.Scheme)
}
