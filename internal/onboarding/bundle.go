package onboarding

import (
	"regexp"
	"strings"

	"github.com/convoflow/leadqual/internal/models"
)

// Bundle mode: on the very first collection turn a single reply may carry
// several fields at once ("Jane Doe, jane@co.com, Sup3rSecret!"). Labeled
// values are extracted first; a positional pass over comma/newline-separated
// parts fills the rest. The stage index advances by the number of fields
// consumed in order; a partial bundle falls through to single-field mode for
// the remainder.

var labeledFieldRE = regexp.MustCompile(`(?i)\b(name|full\s*name|email|e-mail|password|pass|phone|company)\s*[:=\-]\s*(\S[^,\n]*)`)

// labelAliases maps extracted labels onto canonical field keys.
var labelAliases = map[string]string{
	"name":      "name",
	"full name": "name",
	"fullname":  "name",
	"email":     "email",
	"e-mail":    "email",
	"password":  "password",
	"pass":      "password",
	"phone":     "phone",
	"company":   "company",
}

// extractBundle parses a combined reply against the field list and returns the
// values for the in-order prefix of fields it could satisfy. Out-of-order
// finds beyond the first gap are discarded; the machine will prompt for them
// one at a time.
func extractBundle(reply string, fields []models.FieldDef) (map[string]string, int) {
	found := make(map[string]string)

	for _, m := range labeledFieldRE.FindAllStringSubmatch(reply, -1) {
		label := strings.Join(strings.Fields(strings.ToLower(m[1])), " ")
		if key, ok := labelAliases[label]; ok {
			found[key] = strings.TrimSpace(m[2])
		}
	}

	// The email address is recognizable anywhere regardless of labeling.
	if _, ok := found["email"]; !ok {
		if addr := emailRE.FindString(reply); addr != "" {
			found["email"] = addr
		}
	}

	// Positional fallback: walk fields and parts together in order. Fields
	// already found act as anchors so a reply that starts mid-list ("email,
	// password") does not shift its parts onto earlier fields.
	parts := splitBundleParts(reply)
	partIdx := 0
	for _, field := range fields {
		if v, ok := found[field.Key]; ok {
			for j := partIdx; j < len(parts); j++ {
				if strings.Contains(parts[j], v) {
					partIdx = j + 1
					break
				}
			}
			continue
		}
		if partIdx >= len(parts) {
			continue
		}
		part := parts[partIdx]
		if isClaimedPart(part, found) {
			continue
		}
		if matchesFieldShape(field, part) {
			found[field.Key] = part
			partIdx++
		}
	}

	// Validate and count the consumed in-order prefix.
	values := make(map[string]string, len(fields))
	consumed := 0
	for _, field := range fields {
		rawVal, ok := found[field.Key]
		if !ok {
			break
		}
		val, err := validateField(field, rawVal)
		if err != nil {
			break
		}
		values[field.Key] = val
		consumed++
	}
	return values, consumed
}

func splitBundleParts(reply string) []string {
	rough := strings.FieldsFunc(reply, func(r rune) bool {
		return r == ',' || r == '\n' || r == ';'
	})
	parts := make([]string, 0, len(rough))
	for _, p := range rough {
		if t := strings.TrimSpace(p); t != "" {
			parts = append(parts, t)
		}
	}
	return parts
}

// isClaimedPart reports whether a positional part was already captured by the
// labeled or email pass.
func isClaimedPart(part string, found map[string]string) bool {
	for _, v := range found {
		if v != "" && strings.Contains(part, v) {
			return true
		}
	}
	return labeledFieldRE.MatchString(part)
}

// matchesFieldShape is a loose positional sanity check so an email-shaped part
// is not consumed as a name.
func matchesFieldShape(field models.FieldDef, part string) bool {
	switch field.Type {
	case models.FieldEmail:
		return emailRE.MatchString(part)
	case models.FieldPhone:
		return phoneRE.MatchString(part)
	default:
		return !emailRE.MatchString(part)
	}
}
