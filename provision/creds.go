package provision

import (
	"fmt"
	"strings"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Alphabets avoid ambiguous characters (0/O, 1/l/I) so operators can
// read generated credentials off a results export.
const (
	passwordAlphabet = "abcdefghijkmnpqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	usernameAlphabet = "abcdefghijkmnpqrstuvwxyz23456789"
)

// GeneratePassword returns a 16-character random password.
func GeneratePassword() (string, error) {
	p, err := gonanoid.Generate(passwordAlphabet, 16)
	if err != nil {
		return "", fmt.Errorf("provision: generate password: %w", err)
	}
	return p, nil
}

// UsernameFor derives a panel username from the domain: up to eight
// leading alphanumerics of the first label, plus a random suffix to
// dodge collisions between similar domains. Panel usernames must start
// with a letter, so an all-digit label gets an "a" prefix.
func UsernameFor(domain string) (string, error) {
	label, _, _ := strings.Cut(domain, ".")

	var b strings.Builder
	for _, r := range strings.ToLower(label) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
		if b.Len() == 8 {
			break
		}
	}
	base := b.String()
	if base == "" || (base[0] >= '0' && base[0] <= '9') {
		base = "a" + base
	}

	suffix, err := gonanoid.Generate(usernameAlphabet, 4)
	if err != nil {
		return "", fmt.Errorf("provision: generate username: %w", err)
	}
	return base + suffix, nil
}
