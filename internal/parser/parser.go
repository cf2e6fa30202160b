// Package parser recovers structured widget responses from raw language-model
// output. The model is an untrusted text source: its output may be valid JSON,
// almost-JSON, several JSON objects glued together, or plain prose. The parser
// is a total function over strings; every input yields a usable response.
package parser

import (
	"encoding/json"
	"log/slog"
	"regexp"
	"strings"

	"github.com/convoflow/leadqual/internal/models"
)

// FallbackMainText is the absolute last-resort response body.
const FallbackMainText = "I'd be happy to help you with that!"

// ParseModelOutput normalizes raw model output into a fully populated
// ParsedResponse. It never fails: each recovery stage is attempted only if the
// prior one yields no usable mainText, ending in a fixed generic fallback.
func ParseModelOutput(raw string) models.ParsedResponse {
	trimmed := strings.TrimSpace(stripCodeFences(raw))

	type stage struct {
		name string
		fn   func(string) (models.ParsedResponse, bool)
	}
	stages := []stage{
		{"direct", parseDirect},
		{"repair", parseRepaired},
		{"regex", parseByFieldRegex},
		{"merge", parseMergedObjects},
		{"strip", parseStrippedText},
	}

	for _, st := range stages {
		if resp, ok := st.fn(trimmed); ok {
			if st.name != "direct" {
				slog.Debug("Recovered model output", "stage", st.name, "rawLength", len(raw))
			}
			resp.MainText = RenderMarkup(resp.MainText)
			if resp.Buttons == nil {
				resp.Buttons = []string{}
			}
			return resp
		}
	}

	slog.Debug("All parse stages failed, using fixed fallback", "rawLength", len(raw))
	return models.ParsedResponse{
		MainText: RenderMarkup(FallbackMainText),
		Buttons:  []string{},
	}
}

// rawResponse tolerates mixed types in model JSON before coercion.
type rawResponse struct {
	MainText            any `json:"mainText"`
	Buttons             any `json:"buttons"`
	EmailPrompt         any `json:"emailPrompt"`
	ShowBookingCalendar any `json:"showBookingCalendar"`
	BookingType         any `json:"bookingType"`
	FollowupQuestion    any `json:"followupQuestion"`
}

// parseDirect attempts a plain JSON parse of the whole string.
func parseDirect(s string) (models.ParsedResponse, bool) {
	if s == "" || !strings.HasPrefix(s, "{") {
		return models.ParsedResponse{}, false
	}
	var raw rawResponse
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		return models.ParsedResponse{}, false
	}
	return coerce(raw)
}

// Repair substitutions for common malformed-JSON patterns, applied in order.
var repairSubstitutions = []struct {
	pattern *regexp.Regexp
	replace string
}{
	// Missing comma between a closing bracket/brace/quote and the next key.
	{regexp.MustCompile(`\]\s*\n\s*"`), "],\n\""},
	{regexp.MustCompile(`\}\s*\n\s*"`), "},\n\""},
	{regexp.MustCompile(`"\s*\n\s*"`), "\",\n\""},
	// Missing comma on the same line: `"a": "x" "b":` style.
	{regexp.MustCompile(`"\s+("(?:mainText|buttons|emailPrompt|showBookingCalendar|bookingType|followupQuestion)"\s*:)`), "\", $1"},
	// Trailing commas.
	{regexp.MustCompile(`,\s*\}`), "}"},
	{regexp.MustCompile(`,\s*\]`), "]"},
}

// parseRepaired applies the fixed substitution sequence, balances dangling
// braces/brackets, and retries the JSON parse.
func parseRepaired(s string) (models.ParsedResponse, bool) {
	if s == "" || !strings.Contains(s, "{") {
		return models.ParsedResponse{}, false
	}
	repaired := s
	for _, sub := range repairSubstitutions {
		repaired = sub.pattern.ReplaceAllString(repaired, sub.replace)
	}
	repaired = balanceDelimiters(repaired)

	var raw rawResponse
	if err := json.Unmarshal([]byte(repaired), &raw); err != nil {
		return models.ParsedResponse{}, false
	}
	return coerce(raw)
}

// balanceDelimiters trims doubled closing braces and closes dangling array
// brackets and braces left open at the end of the string.
func balanceDelimiters(s string) string {
	var braces, brackets int
	inString := false
	escaped := false
	end := len(s)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			escaped = inString
		case '"':
			inString = !inString
		case '{':
			if !inString {
				braces++
			}
		case '}':
			if !inString {
				braces--
				if braces < 0 {
					// Doubled closing brace: cut here and stop.
					end = i
					braces = 0
					i = len(s)
				}
			}
		case '[':
			if !inString {
				brackets++
			}
		case ']':
			if !inString {
				brackets--
			}
		}
	}
	out := strings.TrimSpace(s[:end])
	for ; brackets > 0; brackets-- {
		out += "]"
	}
	for ; braces > 0; braces-- {
		out += "}"
	}
	return out
}

// Targeted field-extraction patterns for stage 3.
var (
	mainTextRE         = regexp.MustCompile(`"mainText"\s*:\s*"((?:[^"\\]|\\.)*)"`)
	emailPromptRE      = regexp.MustCompile(`"emailPrompt"\s*:\s*"((?:[^"\\]|\\.)*)"`)
	followupQuestionRE = regexp.MustCompile(`"followupQuestion"\s*:\s*"((?:[^"\\]|\\.)*)"`)
	bookingTypeRE      = regexp.MustCompile(`"bookingType"\s*:\s*"((?:[^"\\]|\\.)*)"`)
	showCalendarRE     = regexp.MustCompile(`"showBookingCalendar"\s*:\s*(true|false)`)
	buttonsArrayRE     = regexp.MustCompile(`"buttons"\s*:\s*(\[[^\]]*\])`)
	quotedStringRE     = regexp.MustCompile(`"((?:[^"\\]|\\.)*)"`)
)

// parseByFieldRegex extracts each field independently with targeted patterns.
func parseByFieldRegex(s string) (models.ParsedResponse, bool) {
	m := mainTextRE.FindStringSubmatch(s)
	if m == nil {
		return models.ParsedResponse{}, false
	}
	resp := models.ParsedResponse{MainText: unescapeJSON(m[1])}
	if strings.TrimSpace(resp.MainText) == "" {
		return models.ParsedResponse{}, false
	}

	if bm := buttonsArrayRE.FindStringSubmatch(s); bm != nil {
		var buttons []string
		if err := json.Unmarshal([]byte(bm[1]), &buttons); err == nil {
			resp.Buttons = buttons
		} else {
			// Array literal too broken to parse: pull out the quoted substrings.
			for _, qm := range quotedStringRE.FindAllStringSubmatch(bm[1], -1) {
				resp.Buttons = append(resp.Buttons, unescapeJSON(qm[1]))
			}
		}
	}
	if em := emailPromptRE.FindStringSubmatch(s); em != nil {
		resp.EmailPrompt = unescapeJSON(em[1])
	}
	if fm := followupQuestionRE.FindStringSubmatch(s); fm != nil {
		resp.FollowupQuestion = unescapeJSON(fm[1])
	}
	if bt := bookingTypeRE.FindStringSubmatch(s); bt != nil {
		resp.BookingType = unescapeJSON(bt[1])
	}
	if sc := showCalendarRE.FindStringSubmatch(s); sc != nil {
		resp.ShowBookingCalendar = sc[1] == "true"
	}
	return resp, true
}

// parseMergedObjects finds every balanced {...} substring, parses each
// independently, and shallow-merges left to right (later keys win).
func parseMergedObjects(s string) (models.ParsedResponse, bool) {
	objects := findObjects(s)
	if len(objects) == 0 {
		return models.ParsedResponse{}, false
	}
	merged := make(map[string]any)
	for _, obj := range objects {
		var m map[string]any
		if err := json.Unmarshal([]byte(obj), &m); err != nil {
			continue
		}
		for k, v := range m {
			merged[k] = v
		}
	}
	if len(merged) == 0 || !hasRecognizableKey(merged) {
		return models.ParsedResponse{}, false
	}
	data, err := json.Marshal(merged)
	if err != nil {
		return models.ParsedResponse{}, false
	}
	var raw rawResponse
	if err := json.Unmarshal(data, &raw); err != nil {
		return models.ParsedResponse{}, false
	}
	return coerce(raw)
}

var recognizableKeys = []string{"mainText", "buttons", "emailPrompt", "followupQuestion", "showBookingCalendar", "bookingType"}

func hasRecognizableKey(m map[string]any) bool {
	for _, k := range recognizableKeys {
		if _, ok := m[k]; ok {
			return true
		}
	}
	return false
}

// findObjects returns all top-level balanced {...} substrings.
func findObjects(s string) []string {
	var objects []string
	depth := 0
	start := -1
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			escaped = inString
		case '"':
			inString = !inString
		case '{':
			if !inString {
				if depth == 0 {
					start = i
				}
				depth++
			}
		case '}':
			if !inString && depth > 0 {
				depth--
				if depth == 0 && start >= 0 {
					objects = append(objects, s[start:i+1])
					start = -1
				}
			}
		}
	}
	return objects
}

var (
	jsonKeyNoiseRE   = regexp.MustCompile(`"\w+"\s*:`)
	jsonSyntaxRE     = regexp.MustCompile(`[{}\[\]"]`)
	collapseSpacesRE = regexp.MustCompile(`[ \t]+`)
)

// parseStrippedText removes JSON syntax and key noise and uses whatever prose
// remains as the main text.
func parseStrippedText(s string) (models.ParsedResponse, bool) {
	text := jsonKeyNoiseRE.ReplaceAllString(s, " ")
	text = jsonSyntaxRE.ReplaceAllString(text, " ")
	text = strings.ReplaceAll(text, "\\n", "\n")
	text = collapseSpacesRE.ReplaceAllString(text, " ")
	text = strings.TrimSpace(strings.Trim(strings.TrimSpace(text), ",:"))
	if text == "" {
		return models.ParsedResponse{}, false
	}
	return models.ParsedResponse{MainText: text}, true
}

// coerce converts a tolerant rawResponse into the final shape, requiring a
// non-empty mainText.
func coerce(raw rawResponse) (models.ParsedResponse, bool) {
	resp := models.ParsedResponse{
		MainText:         toString(raw.MainText),
		EmailPrompt:      toString(raw.EmailPrompt),
		BookingType:      toString(raw.BookingType),
		FollowupQuestion: toString(raw.FollowupQuestion),
	}
	if strings.TrimSpace(resp.MainText) == "" {
		return models.ParsedResponse{}, false
	}
	if arr, ok := raw.Buttons.([]any); ok {
		for _, v := range arr {
			if s := toString(v); s != "" {
				resp.Buttons = append(resp.Buttons, s)
			}
		}
	}
	switch v := raw.ShowBookingCalendar.(type) {
	case bool:
		resp.ShowBookingCalendar = v
	case string:
		resp.ShowBookingCalendar = strings.EqualFold(v, "true")
	}
	return resp, true
}

func toString(v any) string {
	s, _ := v.(string)
	return s
}

var codeFenceRE = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

// stripCodeFences unwraps a markdown code fence when the whole payload is
// fenced, a common model habit.
func stripCodeFences(s string) string {
	trimmed := strings.TrimSpace(s)
	if m := codeFenceRE.FindStringSubmatch(trimmed); m != nil && strings.HasPrefix(trimmed, "```") {
		return m[1]
	}
	return s
}

var unescaper = strings.NewReplacer(`\n`, "\n", `\"`, `"`, `\\`, `\`)

func unescapeJSON(s string) string {
	return unescaper.Replace(s)
}
