package onboarding

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
)

// The external registration API returns arbitrary JSON shapes. These helpers
// hunt through response bodies for machine-readable error details and for
// auto-fillable credentials without assuming any particular schema.

// FieldError is one per-field error detail extracted from a response body.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// extractFieldErrors looks for `errors` or `data.errors` arrays whose entries
// carry a field/message shape.
func extractFieldErrors(body []byte) []FieldError {
	if len(body) == 0 {
		return nil
	}
	var out []FieldError
	for _, path := range []string{"errors", "data.errors"} {
		arr := gjson.GetBytes(body, path)
		if !arr.IsArray() {
			continue
		}
		arr.ForEach(func(_, item gjson.Result) bool {
			fe := FieldError{
				Field:   item.Get("field").String(),
				Message: item.Get("message").String(),
			}
			if fe.Message == "" {
				fe.Message = item.Get("error").String()
			}
			if fe.Field != "" || fe.Message != "" {
				out = append(out, fe)
			}
			return true
		})
		if len(out) > 0 {
			break
		}
	}
	return out
}

var duplicateEmailTokens = []string{"duplicate", "already exists", "already registered", "already in use", "taken"}

// isDuplicateEmailFailure classifies the 409/422-style failures where
// resubmitting the same registration is doomed and only changing the email
// can help.
func isDuplicateEmailFailure(status int, body []byte) bool {
	if status == 409 {
		return true
	}
	if status != 422 && status != 400 {
		return false
	}
	lower := strings.ToLower(string(body))
	if !strings.Contains(lower, "email") {
		return false
	}
	for _, tok := range duplicateEmailTokens {
		if strings.Contains(lower, tok) {
			return true
		}
	}
	for _, fe := range extractFieldErrors(body) {
		if strings.Contains(strings.ToLower(fe.Field), "email") {
			return true
		}
	}
	return false
}

// tokenKeyAliases are the key names, compared case-insensitively with
// separators stripped, under which an API key or auth token may appear
// anywhere in a success response body.
var tokenKeyAliases = map[string]bool{
	"apikey":      true,
	"token":       true,
	"accesstoken": true,
	"authtoken":   true,
	"apitoken":    true,
	"secretkey":   true,
}

// findAuthTokens recursively scans a response body for string values stored
// under known API key/token aliases. gjson cannot enumerate unknown keys by
// alias, so the walk is over the decoded document.
func findAuthTokens(body []byte) map[string]string {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil
	}
	found := make(map[string]string)
	walkForTokens(doc, found)
	if len(found) == 0 {
		return nil
	}
	return found
}

func walkForTokens(node any, found map[string]string) {
	switch v := node.(type) {
	case map[string]any:
		for key, val := range v {
			if s, ok := val.(string); ok && s != "" {
				if tokenKeyAliases[canonicalKey(key)] {
					if _, exists := found[canonicalKey(key)]; !exists {
						found[canonicalKey(key)] = s
					}
				}
				continue
			}
			walkForTokens(val, found)
		}
	case []any:
		for _, item := range v {
			walkForTokens(item, found)
		}
	}
}

// canonicalKey lowercases a key and strips separators, so apiKey, api_key and
// API-Key all compare equal.
func canonicalKey(key string) string {
	key = strings.ToLower(key)
	key = strings.ReplaceAll(key, "-", "")
	return strings.ReplaceAll(key, "_", "")
}

// matchesTokenAlias reports whether a field key refers to an API credential,
// used to pre-fill setup-phase fields from a registration response.
func matchesTokenAlias(fieldKey string) bool {
	return tokenKeyAliases[canonicalKey(fieldKey)]
}
