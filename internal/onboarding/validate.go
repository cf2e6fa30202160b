// Package onboarding implements the multi-step field-collection state machine
// for account registration and initial setup: validation, retries, edit and
// confirm transitions, and external submission.
package onboarding

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/convoflow/leadqual/internal/models"
)

var (
	// emailRE finds an RFC-shaped address anywhere in a reply; replies are not
	// required to be exactly an address.
	emailRE = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	phoneRE = regexp.MustCompile(`\+?[0-9][0-9\s().\-]{5,}[0-9]`)
	yesRE   = regexp.MustCompile(`(?i)^\s*(?:yes|y|yep|yeah|sure|ok|okay|true|agree|confirm)\s*[.!]?\s*$`)
	noRE    = regexp.MustCompile(`(?i)^\s*(?:no|n|nope|false|disagree|decline)\s*[.!]?\s*$`)
)

// validateField checks a reply against one field definition and returns the
// value to store. The error message is user-presentable and the same field is
// re-prompted; the stage index never advances on failure.
func validateField(field models.FieldDef, reply string) (string, error) {
	trimmed := strings.TrimSpace(reply)
	if trimmed == "" && field.Required {
		return "", fmt.Errorf("%s is required", field.Label)
	}

	switch field.Type {
	case models.FieldEmail:
		addr := emailRE.FindString(trimmed)
		if addr == "" {
			return "", fmt.Errorf("that doesn't look like a valid email address, please try again")
		}
		return addr, nil

	case models.FieldPhone:
		num := phoneRE.FindString(trimmed)
		if num == "" {
			return "", fmt.Errorf("that doesn't look like a valid phone number, please try again")
		}
		return strings.TrimSpace(num), nil

	case models.FieldCheckbox:
		if yesRE.MatchString(trimmed) {
			return "yes", nil
		}
		if noRE.MatchString(trimmed) {
			return "no", nil
		}
		return "", fmt.Errorf("please answer yes or no for %s", field.Label)

	case models.FieldSelect:
		for _, opt := range field.Options {
			if strings.EqualFold(strings.TrimSpace(trimmed), strings.TrimSpace(opt)) {
				return opt, nil
			}
		}
		return "", fmt.Errorf("please choose one of: %s", strings.Join(field.Options, ", "))

	default: // text
		if v := field.Validations; v != nil {
			if v.MinLength > 0 && len(trimmed) < v.MinLength {
				return "", fmt.Errorf("%s must be at least %d characters", field.Label, v.MinLength)
			}
			if v.MaxLength > 0 && len(trimmed) > v.MaxLength {
				return "", fmt.Errorf("%s must be at most %d characters", field.Label, v.MaxLength)
			}
			if v.Regex != "" {
				re, err := regexp.Compile(v.Regex)
				if err == nil && !re.MatchString(trimmed) {
					return "", fmt.Errorf("%s has an invalid format", field.Label)
				}
			}
		}
		if trimmed == "" {
			return "", fmt.Errorf("%s cannot be empty", field.Label)
		}
		return trimmed, nil
	}
}

// sensitiveKeyRE matches field keys whose values must be redacted in the
// pre-submission summary.
var sensitiveKeyRE = regexp.MustCompile(`(?i)secret|token|api[_-]?key|password`)

// redactValue masks sensitive values in the confirmation summary.
func redactValue(key, value string) string {
	if sensitiveKeyRE.MatchString(key) {
		return "***"
	}
	return value
}
