package qualify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/convoflow/leadqual/internal/models"
	"github.com/convoflow/leadqual/internal/parser"
)

// Probe is the next qualification question to ask, with its button set and
// optional email prompt.
type Probe struct {
	Question    string
	Buttons     []string
	EmailPrompt string
	Dimension   models.Dimension
}

// DefaultEmailPromptAfter is the number of prior probes required before an
// email prompt is attached, when not configured.
const DefaultEmailPromptAfter = 3

// emailPromptText is the fixed prompt attached once the threshold is reached.
const emailPromptText = "By the way, what's the best email to reach you at?"

// Generator produces raw text from a system/user prompt pair. The flow engine
// supplies the genai client; tests supply stubs.
type Generator interface {
	GeneratePrompt(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// SelectorConfig carries the per-session inputs of probe selection.
type SelectorConfig struct {
	Mode             models.ConversationMode
	QuestionBank     []models.QuestionBankEntry
	EmailKnown       bool
	PriorProbes      int
	EmailPromptAfter int    // zero means the mode-dependent default
	SegmentBucket    string // "", "individual", "smb", "enterprise"
}

// Selector picks the next probe through a prioritized list of strategies:
// operator question bank, then a generative proposal (if a generator is
// configured), then the fixed per-dimension defaults. First match wins.
type Selector struct {
	generator Generator
}

// NewSelector creates a probe selector. The generator may be nil, in which
// case only the deterministic strategies apply.
func NewSelector(generator Generator) *Selector {
	return &Selector{generator: generator}
}

type probeStrategy func(ctx context.Context, dim models.Dimension, cfg SelectorConfig, missing []models.Dimension) (*Probe, bool)

// SelectNextProbe returns the next question for the first missing dimension,
// or nil when the dimensions are exhausted and there is nothing to ask.
func (s *Selector) SelectNextProbe(ctx context.Context, cfg SelectorConfig, missing []models.Dimension) *Probe {
	if len(missing) == 0 {
		return nil
	}
	dim := missing[0]

	strategies := []probeStrategy{
		s.questionBankStrategy,
		s.generativeStrategy,
		s.defaultStrategy,
	}

	var probe *Probe
	for _, strategy := range strategies {
		if p, ok := strategy(ctx, dim, cfg, missing); ok {
			probe = p
			break
		}
	}
	if probe == nil {
		return nil
	}

	threshold := cfg.EmailPromptAfter
	if threshold <= 0 {
		threshold = DefaultEmailPromptAfter
		if cfg.Mode == models.ModeLeadGeneration {
			// Lead-generation sessions push for contact details one probe earlier.
			threshold = DefaultEmailPromptAfter - 1
		}
	}
	if !cfg.EmailKnown && cfg.PriorProbes+1 >= threshold {
		probe.EmailPrompt = emailPromptText
	}
	return probe
}

// questionBankStrategy uses operator-authored content verbatim when an entry
// exists for the chosen dimension.
func (s *Selector) questionBankStrategy(_ context.Context, dim models.Dimension, cfg SelectorConfig, _ []models.Dimension) (*Probe, bool) {
	for _, entry := range cfg.QuestionBank {
		if entry.Dimension == dim && entry.Question != "" {
			return &Probe{
				Question:  entry.Question,
				Buttons:   append([]string(nil), entry.Buttons...),
				Dimension: dim,
			}, true
		}
	}
	return nil, false
}

// generativeStrategy asks the generator to propose a question. The proposal's
// dimension must still be missing; a proposal for an already-answered
// dimension is discarded so the deterministic fallback runs instead. This
// guards against qualification loops.
func (s *Selector) generativeStrategy(ctx context.Context, dim models.Dimension, cfg SelectorConfig, missing []models.Dimension) (*Probe, bool) {
	if s.generator == nil {
		return nil, false
	}

	raw, err := s.generator.GeneratePrompt(ctx, probeSystemPrompt, buildProbeUserPrompt(dim, cfg, missing))
	if err != nil {
		slog.Warn("Probe generator failed, falling back to defaults", "error", err, "dimension", dim)
		return nil, false
	}

	proposedDim := models.Dimension(strings.ToLower(strings.TrimSpace(gjson.Get(raw, "dimension").String())))
	if !dimensionInList(proposedDim, missing) {
		slog.Debug("Discarding generated probe for non-missing dimension", "proposed", proposedDim, "missing", missing)
		return nil, false
	}
	// Segment-first is a hard business rule: never let a proposal jump to
	// budget while segment is still unknown.
	if proposedDim == models.DimensionBudget && dimensionInList(models.DimensionSegment, missing) {
		slog.Debug("Discarding generated budget probe while segment is missing")
		return nil, false
	}

	parsed := parser.ParseModelOutput(raw)
	question := parsed.FollowupQuestion
	if question == "" {
		question = parsed.MainText
	}
	if strings.TrimSpace(question) == "" {
		return nil, false
	}
	return &Probe{
		Question:  question,
		Buttons:   parsed.Buttons,
		Dimension: proposedDim,
	}, true
}

// defaultStrategy falls back to the fixed per-dimension question/button table.
func (s *Selector) defaultStrategy(_ context.Context, dim models.Dimension, cfg SelectorConfig, _ []models.Dimension) (*Probe, bool) {
	q, ok := defaultQuestions[dim]
	if !ok {
		return nil, false
	}
	buttons := q.buttons
	if dim == models.DimensionBudget {
		if variant, ok := budgetBucketVariants[cfg.SegmentBucket]; ok {
			buttons = variant
		}
	}
	return &Probe{
		Question:  q.question,
		Buttons:   append([]string(nil), buttons...),
		Dimension: dim,
	}, true
}

// defaultQuestions is the fixed question/button mapping per dimension.
var defaultQuestions = map[models.Dimension]struct {
	question string
	buttons  []string
}{
	models.DimensionSegment: {
		question: "To point you in the right direction, which best describes your business?",
		buttons:  []string{"Just me", "Small team (2-20)", "Mid-size (21-200)", "Enterprise (200+)"},
	},
	models.DimensionBudget: {
		question: "What monthly budget do you have in mind?",
		buttons:  []string{"Under $500/mo", "$500–$1.5k/mo", "$1.5k+/mo"},
	},
	models.DimensionAuthority: {
		question: "Who will be making the final decision on this?",
		buttons:  []string{"Just me", "Me and my team", "Leadership / procurement"},
	},
	models.DimensionNeed: {
		question: "What's the main problem you're hoping to solve?",
		buttons:  []string{"Capture more leads", "Automate support", "Book more demos"},
	},
	models.DimensionTimeline: {
		question: "When are you looking to get started?",
		buttons:  []string{"ASAP", "Within 1-3 months", "Just exploring"},
	},
}

// budgetBucketVariants override the budget buttons once segment is known.
// Individual, SMB, and enterprise leads see different currency brackets.
var budgetBucketVariants = map[string][]string{
	"individual": {"Under $50/mo", "$50–$200/mo", "$200+/mo"},
	"smb":        {"Under $500/mo", "$500–$1.5k/mo", "$1.5k+/mo"},
	"enterprise": {"Under $2k/mo", "$2k–$10k/mo", "$10k+/mo"},
}

const probeSystemPrompt = `You are a lead-qualification assistant embedded in a website chat widget. ` +
	`Propose the single next qualification question to ask. Respond with strict JSON only: ` +
	`{"dimension": "<segment|budget|authority|need|timeline>", "followupQuestion": "<question>", "buttons": ["<option>", ...], "mainText": "", "emailPrompt": ""}`

func buildProbeUserPrompt(dim models.Dimension, cfg SelectorConfig, missing []models.Dimension) string {
	missingJSON, _ := json.Marshal(missing)
	return fmt.Sprintf("Conversation mode: %s\nStill-missing dimensions (ask the first): %s\nTarget dimension: %s", cfg.Mode, missingJSON, dim)
}

func dimensionInList(d models.Dimension, list []models.Dimension) bool {
	for _, m := range list {
		if m == d {
			return true
		}
	}
	return false
}
