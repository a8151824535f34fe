// Package secretname validates the category, secret and key names used to
// address entries in the resolution cache.
package secretname

import (
	"github.com/vaultmesh/seccache/internal/errors"
)

const extraChrs = ".-"

func isValidChr(c byte, firstOrLast, isKey bool) bool {
	if c == 0 {
		return false
	}
	if isAlnum(c) {
		return true
	}
	if firstOrLast {
		return false
	}
	for i := 0; i < len(extraChrs); i++ {
		if extraChrs[i] == c {
			return true
		}
	}
	return isKey && c == '_'
}

func isAlnum(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isValidName(name string, isKey bool) bool {
	if len(name) == 0 {
		return false
	}
	if !isValidChr(name[0], true, isKey) {
		return false
	}
	for i := 1; i < len(name); i++ {
		last := i == len(name)-1
		if !isValidChr(name[i], last, isKey) {
			return false
		}
	}
	return true
}

// ValidateCategory reports whether category is a valid secret category
// name. Categories use the same character rules as keys (alphanumeric,
// '.', '-', '_', not at the start or end).
func ValidateCategory(category string) error {
	if !isValidName(category, true) {
		return errors.InvalidNameError{Kind: "category", Name: category}
	}
	return nil
}

// ValidateSecret reports whether name is a valid secret name.
// Secret names allow alphanumeric, '.', '-' but not '_'.
func ValidateSecret(name string) error {
	if !isValidName(name, false) {
		return errors.InvalidNameError{Kind: "secret", Name: name}
	}
	return nil
}

// ValidateKey reports whether key is a valid secret key name.
func ValidateKey(key string) error {
	if !isValidName(key, true) {
		return errors.InvalidNameError{Kind: "key", Name: key}
	}
	return nil
}
