package domain

import (
	"fmt"
	"strings"
)

// ValidateAPIKey checks a caller-supplied provider key against the expected prefix.
func ValidateAPIKey(key, prefix string) error {
	key = strings.TrimSpace(key)
	if key == "" || !strings.HasPrefix(key, prefix) || len(key) == len(prefix) {
		return fmt.Errorf("key must start with %q: %w", prefix, ErrInvalidAPIKey)
	}
	return nil
}
