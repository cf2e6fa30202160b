package qualify

import (
	"strings"

	"github.com/convoflow/leadqual/internal/models"
)

// ComputeMissingDimensions walks the ordered history once and returns the
// dimensions still unanswered, in canonical order. It is a pure function of
// the history and optional long-lived profile: re-running on the same inputs
// always yields the same result.
//
// A dimension counts as answered when either the user volunteered a statement
// matching its classifier, or the immediately preceding assistant turn asked
// it explicitly and the next user message satisfies the dimension's answer
// classifier or literally matches one of the offered button labels.
func ComputeMissingDimensions(history []models.Message, profile *models.LeadProfile) []models.Dimension {
	answered := make(map[models.Dimension]bool, len(models.DimensionOrder))
	if profile != nil {
		for d := range profile.Dimensions {
			if models.IsValidDimension(d) {
				answered[d] = true
			}
		}
	}

	var pendingDim models.Dimension
	var pendingButtons []string
	pending := false

	for i := range history {
		msg := &history[i]
		switch msg.Role {
		case models.RoleAssistant:
			if msg.FollowupType == models.FollowupBant && models.IsValidDimension(msg.BantDimension) {
				pending = true
				pendingDim = msg.BantDimension
				pendingButtons = msg.Buttons
			} else {
				// Any other assistant turn breaks the ask/answer adjacency.
				pending = false
				pendingButtons = nil
			}
		case models.RoleUser:
			if pending {
				if IsAnswerToDimension(msg.Content, pendingDim) || matchesButtonLabel(msg.Content, pendingButtons) {
					answered[pendingDim] = true
				}
				pending = false
				pendingButtons = nil
			}
			// Volunteered statements count even for dimensions never asked.
			for _, d := range DetectDimensions(msg.Content) {
				answered[d] = true
			}
		}
	}

	missing := make([]models.Dimension, 0, len(models.DimensionOrder))
	for _, d := range models.DimensionOrder {
		if !answered[d] {
			missing = append(missing, d)
		}
	}
	return missing
}

// KnownSegmentBucket scans user history for a business-size statement and
// returns "individual", "smb", "enterprise", or "". The bucket selects the
// budget bracket variant once segment is known.
func KnownSegmentBucket(history []models.Message, profile *models.LeadProfile) string {
	if profile != nil {
		if v, ok := profile.Dimensions[models.DimensionSegment]; ok {
			if b := detectSegmentBucket(v); b != "" {
				return string(b)
			}
		}
	}
	// Prefer the reply to an explicit segment probe over incidental mentions.
	pendingSegment := false
	bucket := segmentBucket("")
	for i := range history {
		msg := &history[i]
		switch msg.Role {
		case models.RoleAssistant:
			pendingSegment = msg.FollowupType == models.FollowupBant && msg.BantDimension == models.DimensionSegment
		case models.RoleUser:
			if b := detectSegmentBucket(msg.Content); b != "" {
				if pendingSegment || bucket == "" {
					bucket = b
				}
			}
			pendingSegment = false
		}
	}
	return string(bucket)
}

// matchesButtonLabel reports whether the reply is a literal (case-insensitive,
// trimmed) match of one of the offered button labels.
func matchesButtonLabel(reply string, buttons []string) bool {
	r := strings.ToLower(strings.TrimSpace(reply))
	if r == "" {
		return false
	}
	for _, b := range buttons {
		if r == strings.ToLower(strings.TrimSpace(b)) {
			return true
		}
	}
	return false
}
