// Package qualify implements the BANT qualification core: dimension
// classification, missing-dimension resolution, probe selection, and button
// curation. All functions are pure over the supplied history and config.
package qualify

import (
	"regexp"
	"strings"

	"github.com/convoflow/leadqual/internal/models"
)

// ---- package-level compiled rule tables ----

// statementRule recognizes a volunteered statement of a dimension, independent
// of prompting. Ordered by specificity: budget and timeline carry distinctive
// tokens, need vocabulary is broad and checked last.
type statementRule struct {
	pattern   *regexp.Regexp
	dimension models.Dimension
}

var statementRules = []statementRule{
	{regexp.MustCompile(`(?i)(?:[$€£]|\busd\b|\beur\b)\s*\d`), models.DimensionBudget},
	{regexp.MustCompile(`(?i)\b\d+\s*k?\s*(?:/\s*mo|per\s+month|a\s+month|monthly|per\s+year|a\s+year|annually|/\s*yr)\b`), models.DimensionBudget},
	{regexp.MustCompile(`(?i)\bbudget\b|\bprice\s+range\b|\bwilling\s+to\s+(?:pay|spend)\b|\bcan(?:'t| ?not)?\s+afford\b`), models.DimensionBudget},
	{regexp.MustCompile(`(?i)\b(?:asap|right\s+away|immediately)\b`), models.DimensionTimeline},
	{regexp.MustCompile(`(?i)\b(?:this|next)\s+(?:week|month|quarter|year)\b`), models.DimensionTimeline},
	{regexp.MustCompile(`(?i)\bq[1-4]\b|\bwithin\s+\d+\s*(?:days?|weeks?|months?)\b|\bin\s+\d+\s*(?:days?|weeks?|months?)\b`), models.DimensionTimeline},
	{regexp.MustCompile(`(?i)\bno\s+rush\b|\bjust\s+(?:exploring|browsing|looking\s+around)\b`), models.DimensionTimeline},
	{regexp.MustCompile(`(?i)\b(?:solo|freelanc\w*|just\s+me|one[- ]person)\b`), models.DimensionSegment},
	{regexp.MustCompile(`(?i)\b(?:startup|small\s+business|smb|mid[- ]?size\w*|enterprise|agency)\b`), models.DimensionSegment},
	{regexp.MustCompile(`(?i)\b\d+\s*(?:-|to\s+)?\s*\d*\s*(?:employees|people|seats)\b|\bteam\s+of\s+\d+\b`), models.DimensionSegment},
	{regexp.MustCompile(`(?i)\bi(?:'m| am)\s+the\s+(?:ceo|cto|cfo|coo|founder|owner|director)\b`), models.DimensionAuthority},
	{regexp.MustCompile(`(?i)\bi\s+(?:make|making)\s+the\s+(?:final\s+)?(?:decision|call)\b|\bi\s+decide\b|\bdecision[- ]maker\b`), models.DimensionAuthority},
	{regexp.MustCompile(`(?i)\b(?:we|i)\s+(?:need|want|are\s+looking\s+for|are\s+trying\s+to)\b`), models.DimensionNeed},
	{regexp.MustCompile(`(?i)\blooking\s+to\s+(?:automate|improve|reduce|increase|capture|solve|replace)\b`), models.DimensionNeed},
	{regexp.MustCompile(`(?i)\b(?:our|my)\s+(?:problem|challenge|pain\s+point|goal)\b`), models.DimensionNeed},
}

// answerRules recognize a reply as answering an explicitly asked dimension.
// These are looser than statement rules: a prompted reply gets more benefit of
// the doubt. Authority is handled separately (see IsAnswerToDimension).
var answerRules = map[models.Dimension][]*regexp.Regexp{
	models.DimensionBudget: {
		regexp.MustCompile(`(?i)(?:[$€£]|\busd\b|\beur\b)\s*\d`),
		regexp.MustCompile(`(?i)\b\d+\s*k?\b`),
		regexp.MustCompile(`(?i)\b(?:under|over|less\s+than|more\s+than|around|about|up\s+to)\b`),
		regexp.MustCompile(`(?i)\b(?:cheap|affordable|expensive|free|no\s+budget|flexible)\b`),
	},
	models.DimensionTimeline: {
		regexp.MustCompile(`(?i)\b(?:asap|immediately|right\s+away|today|tomorrow|soon|later|eventually|someday)\b`),
		regexp.MustCompile(`(?i)\b(?:this|next)\s+(?:week|month|quarter|year)\b`),
		regexp.MustCompile(`(?i)\bq[1-4]\b|\b\d+\s*(?:days?|weeks?|months?|years?)\b`),
		regexp.MustCompile(`(?i)\bno\s+rush\b|\bjust\s+exploring\b|\bnot\s+sure\s+yet\b`),
	},
	models.DimensionNeed: {
		regexp.MustCompile(`(?i)\b(?:need|want|looking|trying|hoping|improve|automate|reduce|increase|capture|solve|support|integrat\w*|leads?|chatbot|analytics|bookings?|demos?)\b`),
	},
	models.DimensionSegment: {
		regexp.MustCompile(`(?i)\b(?:solo|freelanc\w*|individual|just\s+me|myself|startup|small|smb|mid[- ]?size\w*|medium|large|enterprise|agency|team)\b`),
		regexp.MustCompile(`(?i)\b\d+\s*(?:-|to\s+)?\s*\d*\s*(?:employees|people|seats)?\b`),
	},
}

// Authority-specific guards. Once authority was asked, almost any non-trivial
// reply is accepted because role titles are unbounded free text. The two
// exceptions: explicit denial/unsure tokens, and replies that look like a
// question about something else entirely (price being the classic case), which
// would capture the wrong dimension and lock up qualification.
var (
	authorityDenialRE   = regexp.MustCompile(`(?i)\b(?:i\s+don['’]?t\s+know|not\s+sure|unsure|no\s+idea|n/?a|none|nobody|no\s+one)\b`)
	otherQuestionRE     = regexp.MustCompile(`(?i)\b(?:price|pricing|cost|how\s+much|discount|quote)\b`)
	minMeaningfulLength = 2
)

// segmentBucketRules map a segment statement to a coarse business-size bucket,
// used to pick budget brackets once segment is known.
type segmentBucket string

const (
	segmentIndividual segmentBucket = "individual"
	segmentSMB        segmentBucket = "smb"
	segmentEnterprise segmentBucket = "enterprise"
)

var segmentBucketRules = []struct {
	pattern *regexp.Regexp
	bucket  segmentBucket
}{
	{regexp.MustCompile(`(?i)\b(?:solo|freelanc\w*|individual|just\s+me|myself|one[- ]person|personal)\b`), segmentIndividual},
	{regexp.MustCompile(`(?i)\b(?:enterprise|large|corporation|\d{3,}\s*(?:\+)?\s*(?:employees|people|seats))\b`), segmentEnterprise},
	{regexp.MustCompile(`(?i)\b(?:startup|small|smb|mid[- ]?size\w*|medium|agency|team)\b`), segmentSMB},
}

// IsAnswerToDimension reports whether free text answers the given dimension,
// assuming that dimension was just asked.
func IsAnswerToDimension(text string, dim models.Dimension) bool {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) < minMeaningfulLength {
		return false
	}

	if dim == models.DimensionAuthority {
		if authorityDenialRE.MatchString(trimmed) {
			return false
		}
		// A reply that is itself a different question must not be captured.
		if otherQuestionRE.MatchString(trimmed) {
			return false
		}
		return true
	}

	for _, re := range answerRules[dim] {
		if re.MatchString(trimmed) {
			return true
		}
	}
	return false
}

// DetectDimension returns the first dimension the text states unprompted, or
// "" if none match. Table order favors the more distinctive vocabularies.
func DetectDimension(text string) models.Dimension {
	for _, rule := range statementRules {
		if rule.pattern.MatchString(text) {
			return rule.dimension
		}
	}
	return ""
}

// DetectDimensions returns every dimension the text states unprompted, in
// rule-table order without duplicates.
func DetectDimensions(text string) []models.Dimension {
	seen := make(map[models.Dimension]bool, len(models.DimensionOrder))
	var dims []models.Dimension
	for _, rule := range statementRules {
		if seen[rule.dimension] {
			continue
		}
		if rule.pattern.MatchString(text) {
			seen[rule.dimension] = true
			dims = append(dims, rule.dimension)
		}
	}
	return dims
}

// detectSegmentBucket maps text to a coarse business-size bucket, or "".
func detectSegmentBucket(text string) segmentBucket {
	for _, rule := range segmentBucketRules {
		if rule.pattern.MatchString(text) {
			return rule.bucket
		}
	}
	return ""
}
