// Package binder binds {{Identifier}} placeholders in a template body to a
// key/value dictionary.
package binder

import (
	"html"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/sublease-marketplace/backend/internal/models"
)

var (
	tokenRE      = regexp.MustCompile(`\{\{([^{}]*)\}\}`)
	identifierRE = regexp.MustCompile(`^[A-Za-z0-9_]+$`)
)

// MissingMarker is rendered in place of an absent or empty value.
func MissingMarker(identifier string) string {
	return "[MISSING: " + identifier + "]"
}

// ValidateIdentifier checks the placeholder grammar: letters, digits, underscore.
func ValidateIdentifier(id string) error {
	if !identifierRE.MatchString(id) {
		return models.NewValidationError("placeholder", "invalid identifier "+strconv.Quote(id))
	}
	return nil
}

// Extract returns the sorted, de-duplicated identifiers referenced by body.
// A token whose inner text is not a valid identifier is a ValidationError.
func Extract(body string) ([]string, error) {
	seen := map[string]struct{}{}
	for _, m := range tokenRE.FindAllStringSubmatch(body, -1) {
		id := strings.TrimSpace(m[1])
		if err := ValidateIdentifier(id); err != nil {
			return nil, err
		}
		seen[id] = struct{}{}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Reconcile returns a copy of vars in which every identifier of body has a key.
// Missing identifiers get an empty value. Keys no longer referenced are kept.
func Reconcile(body string, vars map[string]string) (map[string]string, error) {
	ids, err := Extract(body)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(vars)+len(ids))
	for k, v := range vars {
		out[k] = v
	}
	for _, id := range ids {
		if _, ok := out[id]; !ok {
			out[id] = ""
		}
	}
	return out, nil
}

// Render substitutes every valid token with its HTML-escaped value. Absent
// or empty values become MissingMarker. Malformed tokens are left as written.
// Render never fails.
func Render(body string, vars map[string]string) string {
	return tokenRE.ReplaceAllStringFunc(body, func(tok string) string {
		id := strings.TrimSpace(tok[2 : len(tok)-2])
		if !identifierRE.MatchString(id) {
			return tok
		}
		v, ok := vars[id]
		if !ok || strings.TrimSpace(v) == "" {
			return html.EscapeString(MissingMarker(id))
		}
		return html.EscapeString(v)
	})
}

// Missing lists the referenced identifiers whose value is absent or blank.
func Missing(body string, vars map[string]string) []string {
	ids, err := Extract(body)
	if err != nil {
		return nil
	}
	var out []string
	for _, id := range ids {
		if strings.TrimSpace(vars[id]) == "" {
			out = append(out, id)
		}
	}
	return out
}
