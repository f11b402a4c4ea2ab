package config

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"slices"
	"strings"
)

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// ValidationError lists config fields that are missing or out of range.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return "config: invalid fields " + strings.Join(e.fields, ", ")
}

// Fields returns the offending field paths, e.g. "Database.Driver".
func (e *ValidationError) Fields() []string { return slices.Clone(e.fields) }

// SecretError wraps a failed secret lookup. Ref is the normalised secret:// reference.
type SecretError struct {
	Ref string
	Err error
}

func (e *SecretError) Error() string { return "config: resolve " + e.Ref + ": " + e.Err.Error() }

func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError reports required secrets that ended up empty. Its message only carries hashed
// names so it can be logged.
type MissingSecretsError struct {
	names []string
}

func (e *MissingSecretsError) Error() string {
	return "config: required secrets missing: " + strings.Join(e.RedactedNames(), ", ")
}

// Names returns the config field paths of the missing secrets, sorted.
func (e *MissingSecretsError) Names() []string {
	if e == nil {
		return nil
	}
	return slices.Sorted(slices.Values(e.names))
}

// RedactedNames returns a short hash per missing secret, sorted.
func (e *MissingSecretsError) RedactedNames() []string {
	if e == nil {
		return nil
	}
	out := make([]string, len(e.names))
	for i, name := range e.names {
		sum := sha256.Sum256([]byte(name))
		out[i] = hex.EncodeToString(sum[:8])
	}
	slices.Sort(out)
	return out
}

// missingSecrets checks required field paths against the resolved values, ignoring blanks and repeats.
func missingSecrets(required []string, resolved map[string]string) error {
	var names []string
	for _, name := range required {
		name = strings.TrimSpace(name)
		if name == "" || slices.Contains(names, name) || resolved[name] != "" {
			continue
		}
		names = append(names, name)
	}
	if len(names) == 0 {
		return nil
	}
	return &MissingSecretsError{names: names}
}
