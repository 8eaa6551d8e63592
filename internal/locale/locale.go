// Package locale parses and matches the BCP-47 identifiers used to select a recognizer.
package locale

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/language"
)

var ErrMalformed = errors.New("malformed locale identifier")

// Canonical parses id and returns its canonical BCP-47 form ("en_gb" -> "en-GB").
func Canonical(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", ErrMalformed
	}
	tag, err := language.Parse(strings.ReplaceAll(id, "_", "-"))
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrMalformed, id)
	}
	return tag.String(), nil
}

// Base returns the ISO 639 language of id ("en-GB" -> "en"), for engines that
// only accept a language.
func Base(id string) (string, error) {
	canonical, err := Canonical(id)
	if err != nil {
		return "", err
	}
	base, _ := language.Make(canonical).Base()
	return base.String(), nil
}

// Supported reports whether id is in the supported list. An empty list accepts
// any well-formed identifier. Matching is exact on the canonical form; a region
// is never substituted for another.
func Supported(id string, supported []string) bool {
	canonical, err := Canonical(id)
	if err != nil {
		return false
	}
	if len(supported) == 0 {
		return true
	}
	for _, s := range supported {
		c, err := Canonical(s)
		if err != nil {
			continue
		}
		if c == canonical {
			return true
		}
	}
	return false
}
