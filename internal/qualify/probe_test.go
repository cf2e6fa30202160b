package qualify

import (
	"context"
	"errors"
	"testing"

	"github.com/convoflow/leadqual/internal/models"
)

// stubGenerator returns a canned response or error.
type stubGenerator struct {
	response string
	err      error
	calls    int
}

func (g *stubGenerator) GeneratePrompt(_ context.Context, _, _ string) (string, error) {
	g.calls++
	return g.response, g.err
}

var allMissing = []models.Dimension{
	models.DimensionSegment,
	models.DimensionBudget,
	models.DimensionAuthority,
	models.DimensionNeed,
	models.DimensionTimeline,
}

func TestSelectNextProbeExhausted(t *testing.T) {
	s := NewSelector(nil)
	if p := s.SelectNextProbe(context.Background(), SelectorConfig{}, nil); p != nil {
		t.Errorf("expected nil probe when nothing is missing, got %+v", p)
	}
}

func TestSelectNextProbeSegmentFirst(t *testing.T) {
	s := NewSelector(nil)
	p := s.SelectNextProbe(context.Background(), SelectorConfig{}, allMissing)
	if p == nil {
		t.Fatal("expected a probe")
	}
	if p.Dimension != models.DimensionSegment {
		t.Errorf("first probe dimension = %q, want segment", p.Dimension)
	}
	if len(p.Buttons) == 0 {
		t.Error("expected default segment buttons")
	}
}

func TestSelectNextProbeQuestionBankOverride(t *testing.T) {
	s := NewSelector(&stubGenerator{response: "should not be called"})
	cfg := SelectorConfig{
		QuestionBank: []models.QuestionBankEntry{
			{Dimension: models.DimensionSegment, Question: "How big is the crew?", Buttons: []string{"Tiny", "Big"}},
		},
	}
	p := s.SelectNextProbe(context.Background(), cfg, allMissing)
	if p == nil {
		t.Fatal("expected a probe")
	}
	if p.Question != "How big is the crew?" {
		t.Errorf("question = %q, want bank entry", p.Question)
	}
	if len(p.Buttons) != 2 || p.Buttons[0] != "Tiny" {
		t.Errorf("buttons = %v, want bank buttons", p.Buttons)
	}
}

func TestSelectNextProbeGenerative(t *testing.T) {
	gen := &stubGenerator{response: `{"dimension": "timeline", "followupQuestion": "When do you want to go live?", "buttons": ["ASAP", "Later"], "mainText": "", "emailPrompt": ""}`}
	s := NewSelector(gen)
	missing := []models.Dimension{models.DimensionTimeline}
	p := s.SelectNextProbe(context.Background(), SelectorConfig{}, missing)
	if p == nil {
		t.Fatal("expected a probe")
	}
	if p.Dimension != models.DimensionTimeline {
		t.Errorf("dimension = %q, want timeline", p.Dimension)
	}
	if p.Question != "When do you want to go live?" {
		t.Errorf("question = %q", p.Question)
	}
	if gen.calls != 1 {
		t.Errorf("generator calls = %d, want 1", gen.calls)
	}
}

func TestSelectNextProbeDiscardsNonMissingProposal(t *testing.T) {
	// A proposal for an already-answered dimension falls through to defaults.
	gen := &stubGenerator{response: `{"dimension": "budget", "followupQuestion": "What's the budget?", "buttons": []}`}
	s := NewSelector(gen)
	missing := []models.Dimension{models.DimensionTimeline}
	p := s.SelectNextProbe(context.Background(), SelectorConfig{}, missing)
	if p == nil {
		t.Fatal("expected fallback probe")
	}
	if p.Dimension != models.DimensionTimeline {
		t.Errorf("dimension = %q, want timeline fallback", p.Dimension)
	}
}

func TestSelectNextProbeDiscardsBudgetWhileSegmentMissing(t *testing.T) {
	gen := &stubGenerator{response: `{"dimension": "budget", "followupQuestion": "What's the budget?", "buttons": []}`}
	s := NewSelector(gen)
	missing := []models.Dimension{models.DimensionSegment, models.DimensionBudget}
	p := s.SelectNextProbe(context.Background(), SelectorConfig{}, missing)
	if p == nil {
		t.Fatal("expected fallback probe")
	}
	if p.Dimension != models.DimensionSegment {
		t.Errorf("dimension = %q, want segment (segment-first rule)", p.Dimension)
	}
}

func TestSelectNextProbeGeneratorError(t *testing.T) {
	gen := &stubGenerator{err: errors.New("api down")}
	s := NewSelector(gen)
	p := s.SelectNextProbe(context.Background(), SelectorConfig{}, allMissing)
	if p == nil {
		t.Fatal("expected fallback probe despite generator error")
	}
	if p.Dimension != models.DimensionSegment {
		t.Errorf("dimension = %q, want segment", p.Dimension)
	}
}

func TestSelectNextProbeEmailThreshold(t *testing.T) {
	s := NewSelector(nil)

	p := s.SelectNextProbe(context.Background(), SelectorConfig{PriorProbes: 0}, allMissing)
	if p.EmailPrompt != "" {
		t.Errorf("email prompt attached too early: %q", p.EmailPrompt)
	}

	p = s.SelectNextProbe(context.Background(), SelectorConfig{PriorProbes: 2}, allMissing)
	if p.EmailPrompt == "" {
		t.Error("email prompt missing at default threshold")
	}

	p = s.SelectNextProbe(context.Background(), SelectorConfig{PriorProbes: 2, EmailKnown: true}, allMissing)
	if p.EmailPrompt != "" {
		t.Errorf("email prompt attached although email is known: %q", p.EmailPrompt)
	}
}

func TestSelectNextProbeEmailThresholdLeadGeneration(t *testing.T) {
	// Lead-generation mode asks one probe earlier.
	s := NewSelector(nil)
	p := s.SelectNextProbe(context.Background(), SelectorConfig{Mode: models.ModeLeadGeneration, PriorProbes: 1}, allMissing)
	if p.EmailPrompt == "" {
		t.Error("email prompt missing at lead_generation threshold")
	}
}

func TestSelectNextProbeBudgetBucketVariants(t *testing.T) {
	s := NewSelector(nil)
	missing := []models.Dimension{models.DimensionBudget}

	p := s.SelectNextProbe(context.Background(), SelectorConfig{SegmentBucket: "individual"}, missing)
	if len(p.Buttons) == 0 || p.Buttons[0] != "Under $50/mo" {
		t.Errorf("individual bracket buttons = %v", p.Buttons)
	}

	p = s.SelectNextProbe(context.Background(), SelectorConfig{SegmentBucket: "enterprise"}, missing)
	if len(p.Buttons) == 0 || p.Buttons[0] != "Under $2k/mo" {
		t.Errorf("enterprise bracket buttons = %v", p.Buttons)
	}

	p = s.SelectNextProbe(context.Background(), SelectorConfig{}, missing)
	if len(p.Buttons) == 0 || p.Buttons[0] != "Under $500/mo" {
		t.Errorf("default bracket buttons = %v", p.Buttons)
	}
}
