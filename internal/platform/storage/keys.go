package storage

import (
	"errors"
	"fmt"
	"strings"
)

var (
	errInvalidBucket = errors.New("storage: bucket name is required")
	errInvalidObject = errors.New("storage: object name is required")
)

// CleanObjectKey validates a slash separated object key and returns it without surrounding slashes.
func CleanObjectKey(key string) (string, error) {
	key = strings.Trim(strings.TrimSpace(key), "/")
	if key == "" {
		return "", errInvalidObject
	}
	segments := strings.Split(key, "/")
	for _, segment := range segments {
		if err := validateSegment(segment); err != nil {
			return "", fmt.Errorf("storage: object %q: %w", key, err)
		}
	}
	return key, nil
}

// JoinKey prefixes key with prefix when one is configured.
func JoinKey(prefix, key string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return key
	}
	return prefix + "/" + key
}

func validateSegment(value string) error {
	if strings.TrimSpace(value) == "" {
		return errors.New("empty path segment")
	}
	if value == "." || value == ".." {
		return errors.New("contains invalid traversal sequence")
	}
	if strings.ContainsAny(value, "\\\x00") {
		return errors.New("contains invalid path characters")
	}
	return nil
}
