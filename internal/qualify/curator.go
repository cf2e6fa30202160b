package qualify

import (
	"regexp"
	"strings"
	"time"

	"github.com/convoflow/leadqual/internal/models"
)

// BookingState is the curator's view of the session's calendar state, supplied
// by the external booking collaborator.
type BookingState struct {
	Active    bool
	Status    string // "confirmed" or "pending"
	StartTime time.Time
}

// stillRelevant reports whether the booking should suppress booking-intent
// buttons: it must be active, still in the future, and confirmed or pending.
func (b *BookingState) stillRelevant(now time.Time) bool {
	if b == nil || !b.Active {
		return false
	}
	if !b.StartTime.After(now) {
		return false
	}
	return b.Status == "confirmed" || b.Status == "pending"
}

// CurateInput carries everything the three filters inspect.
type CurateInput struct {
	UserQuestion    string
	MainText        string
	Booking         *BookingState
	ClickedOptions  []string
	DiscussedTopics []string
	History         []models.Message
	Now             time.Time
}

// redundancyOverlapThreshold is the normalized token-set overlap ratio at or
// above which a button is considered a restatement of the message text.
const redundancyOverlapThreshold = 0.6

// bookingManagementActions backfill the option list when booking suppression
// leaves too few buttons. They are exempt from the suppression filter so
// curation stays idempotent.
var bookingManagementActions = []string{"View Full Details", "Reschedule", "Cancel Booking"}

const (
	minButtonsAfterBookingFilter = 2
	maxBackfilledButtons         = 3
)

var bookingIntentRE = regexp.MustCompile(`(?i)\b(?:book|schedule|demo|call|meeting|appointment|consultation|sales\s*rep|talk\s+to\s+sales|speak\s+(?:to|with))\b`)

// topicRule maps button/message vocabulary to a discussion category.
type topicRule struct {
	pattern  *regexp.Regexp
	category string
}

var topicRules = []topicRule{
	{regexp.MustCompile(`(?i)\b(?:price|pricing|cost|how\s+much|quote|plans?|tiers?)\b`), "pricing"},
	{regexp.MustCompile(`(?i)\b(?:features?|capabilit\w+|what\s+can|how\s+does\s+it\s+work)\b`), "features"},
	{regexp.MustCompile(`(?i)\b(?:demo|demonstration|trial|try\s+it)\b`), "demo"},
	{regexp.MustCompile(`(?i)\b(?:sales|buy|purchase|upgrade)\b`), "sales"},
	{regexp.MustCompile(`(?i)\b(?:support|help|issue|problem|troubleshoot\w*|bug)\b`), "support"},
	{regexp.MustCompile(`(?i)\b(?:docs?|documentation|guide|reference|tutorial)\b`), "docs"},
	{regexp.MustCompile(`(?i)\b(?:onboard\w*|set\s*up|getting\s+started|get\s+started|sign\s*up)\b`), "onboarding"},
	{regexp.MustCompile(`(?i)\b(?:integrat\w*|connect\w*|webhook|api|zapier|plugin)\b`), "integration"},
	{regexp.MustCompile(`(?i)\b(?:book\w*|schedule|calendar|meeting|appointment|call)\b`), "calendar"},
}

// CategorizeTopic returns the discussion category for a piece of text, or
// "general" when no rule matches.
func CategorizeTopic(text string) string {
	if cat := categorizeTopic(text); cat != "" {
		return cat
	}
	return "general"
}

// CurateButtons runs the three filters in order: redundancy (message-specific)
// first, booking suppression (state-specific) second, history/topic filtering
// (session-lifetime) last. The filters operate on each other's output rather
// than being intersected. Booking management actions are exempt from all three
// filters and backfilled only after them, so re-running curation on its own
// output is a no-op.
func CurateButtons(buttons []string, in CurateInput) []string {
	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}

	out := filterRedundant(buttons, in.UserQuestion, in.MainText)
	out = filterBookingIntent(out, in.Booking, now)
	out = filterDiscussed(out, in)

	if in.Booking.stillRelevant(now) && len(out) < minButtonsAfterBookingFilter {
		for _, action := range bookingManagementActions {
			if len(out) >= maxBackfilledButtons {
				break
			}
			if !containsFold(out, action) {
				out = append(out, action)
			}
		}
	}
	return out
}

// filterRedundant drops buttons that restate the user question or main text:
// either a ≥60% normalized token overlap, or a substring relationship (in
// either direction) with the normalized user question.
func filterRedundant(buttons []string, userQuestion, mainText string) []string {
	messageTokens := tokenSet(userQuestion + " " + mainText)
	normQuestion := normalizeText(userQuestion)

	out := make([]string, 0, len(buttons))
	for _, b := range buttons {
		if isBookingManagementAction(b) {
			out = append(out, b)
			continue
		}
		norm := normalizeText(b)
		if norm == "" {
			continue
		}
		if normQuestion != "" && (strings.Contains(normQuestion, norm) || strings.Contains(norm, normQuestion)) {
			continue
		}
		if overlapRatio(tokenSet(b), messageTokens) >= redundancyOverlapThreshold {
			continue
		}
		out = append(out, b)
	}
	return out
}

// filterBookingIntent suppresses booking-intent buttons while a relevant
// booking exists. Management actions pass through untouched.
func filterBookingIntent(buttons []string, booking *BookingState, now time.Time) []string {
	if now.IsZero() {
		now = time.Now()
	}
	if !booking.stillRelevant(now) {
		return buttons
	}

	out := make([]string, 0, len(buttons))
	for _, b := range buttons {
		if isBookingManagementAction(b) {
			out = append(out, b)
			continue
		}
		if bookingIntentRE.MatchString(b) {
			continue
		}
		out = append(out, b)
	}
	return out
}

// filterDiscussed drops buttons already clicked, buttons whose topic category
// has already come up, and buttons fuzzily contained in a discussed topic
// string (with a minimum-length guard against short-token false positives).
func filterDiscussed(buttons []string, in CurateInput) []string {
	clicked := make(map[string]bool, len(in.ClickedOptions))
	for _, c := range in.ClickedOptions {
		clicked[normalizeText(c)] = true
	}

	discussedCategories := make(map[string]bool)
	for i := range in.History {
		if in.History[i].Role != models.RoleUser {
			continue
		}
		if cat := categorizeTopic(in.History[i].Content); cat != "" {
			discussedCategories[cat] = true
		}
	}
	var discussedStrings []string
	for _, topic := range in.DiscussedTopics {
		if cat := categorizeTopic(topic); cat != "" {
			discussedCategories[cat] = true
		}
		if norm := normalizeText(topic); norm != "" {
			discussedStrings = append(discussedStrings, norm)
		}
	}

	out := make([]string, 0, len(buttons))
	for _, b := range buttons {
		if isBookingManagementAction(b) {
			out = append(out, b)
			continue
		}
		norm := normalizeText(b)
		if clicked[norm] {
			continue
		}
		if cat := categorizeTopic(b); cat != "" && discussedCategories[cat] {
			continue
		}
		if fuzzyDiscussedMatch(norm, discussedStrings) {
			continue
		}
		out = append(out, b)
	}
	return out
}

// categorizeTopic returns the first matching topic category for the text.
func categorizeTopic(text string) string {
	for _, rule := range topicRules {
		if rule.pattern.MatchString(text) {
			return rule.category
		}
	}
	return ""
}

// fuzzyDiscussedMatch checks for substring containment between a normalized
// button and any discussed-topic string, guarded to length >= 3.
func fuzzyDiscussedMatch(normButton string, discussed []string) bool {
	if len(normButton) < 3 {
		return false
	}
	for _, d := range discussed {
		if len(d) < 3 {
			continue
		}
		if strings.Contains(d, normButton) || strings.Contains(normButton, d) {
			return true
		}
	}
	return false
}

func isBookingManagementAction(b string) bool {
	return containsFold(bookingManagementActions, b)
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(strings.TrimSpace(v), strings.TrimSpace(s)) {
			return true
		}
	}
	return false
}

var nonWordRE = regexp.MustCompile(`[^a-z0-9\s]+`)

// normalizeText lowercases, strips punctuation, and collapses whitespace.
func normalizeText(s string) string {
	s = strings.ToLower(s)
	s = nonWordRE.ReplaceAllString(s, " ")
	return strings.Join(strings.Fields(s), " ")
}

func tokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range strings.Fields(normalizeText(s)) {
		set[tok] = true
	}
	return set
}

// overlapRatio is the share of the button's tokens already present in the
// message token set.
func overlapRatio(a, b map[string]bool) float64 {
	if len(a) == 0 {
		return 0
	}
	matched := 0
	for tok := range a {
		if b[tok] {
			matched++
		}
	}
	return float64(matched) / float64(len(a))
}
