package flow

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/convoflow/leadqual/internal/models"
	"github.com/convoflow/leadqual/internal/onboarding"
	"github.com/convoflow/leadqual/internal/qualify"
	"github.com/convoflow/leadqual/internal/store"
)

type stubGenerator struct {
	response string
	err      error
}

func (g *stubGenerator) GeneratePrompt(_ context.Context, _, _ string) (string, error) {
	return g.response, g.err
}

type stubBooking struct {
	state *qualify.BookingState
	err   error
}

func (b *stubBooking) ActiveBooking(_ context.Context, _ string) (*qualify.BookingState, error) {
	return b.state, b.err
}

type stubSubmitter struct {
	result *onboarding.SubmitResult
}

func (s *stubSubmitter) Submit(_ context.Context, _ string, _ map[string]string) (*onboarding.SubmitResult, error) {
	return s.result, nil
}

func newTestEngine(t *testing.T, gen qualify.Generator, opts ...EngineOption) (*Engine, *store.InMemoryStore) {
	t.Helper()
	st := store.NewInMemoryStore()
	machine := onboarding.NewMachine(&stubSubmitter{result: &onboarding.SubmitResult{Success: true, Status: 201}})
	engine := NewEngine(st, gen, machine, Config{}, opts...)
	return engine, st
}

func TestHandleTurnFirstMessage(t *testing.T) {
	engine, st := newTestEngine(t, nil)
	ctx := context.Background()

	result, err := engine.HandleTurn(ctx, "sess-1", "hi, tell me about your product")
	if err != nil {
		t.Fatalf("HandleTurn error: %v", err)
	}
	if result.FollowupType != models.FollowupBant {
		t.Errorf("followupType = %q", result.FollowupType)
	}
	if result.BantDimension != models.DimensionSegment {
		t.Errorf("first probe dimension = %q, want segment", result.BantDimension)
	}
	if len(result.MissingDims) != len(models.DimensionOrder) {
		t.Errorf("missingDims = %v", result.MissingDims)
	}
	if result.MainText == "" {
		t.Error("empty mainText")
	}

	msgs, _ := st.Messages(ctx, "sess-1")
	if len(msgs) != 2 {
		t.Fatalf("stored %d messages, want user + assistant", len(msgs))
	}
	if msgs[1].FollowupType != models.FollowupBant || msgs[1].BantDimension != models.DimensionSegment {
		t.Errorf("assistant message metadata = %+v", msgs[1])
	}
}

func TestHandleTurnEmptyMessage(t *testing.T) {
	engine, _ := newTestEngine(t, nil)
	if _, err := engine.HandleTurn(context.Background(), "sess-1", "   "); err == nil {
		t.Error("expected error for empty message")
	}
}

func TestHandleTurnRecentFollowupSuppressesProbe(t *testing.T) {
	base := time.Now()
	clock := base
	engine, st := newTestEngine(t, nil, WithClock(func() time.Time { return clock }))
	ctx := context.Background()

	if _, err := engine.HandleTurn(ctx, "sess-1", "hello there"); err != nil {
		t.Fatalf("turn 1: %v", err)
	}

	// A duplicate request 5s later sees the unanswered probe and stays quiet.
	clock = base.Add(5 * time.Second)
	result, err := engine.HandleTurn(ctx, "sess-1", "hello there")
	if err != nil {
		t.Fatalf("turn 2: %v", err)
	}
	if result.FollowupType != "" {
		t.Errorf("probe not suppressed inside guard window: %q", result.FollowupType)
	}

	// Past the window the next probe goes out again.
	clock = base.Add(2 * time.Minute)
	result, err = engine.HandleTurn(ctx, "sess-1", "still here")
	if err != nil {
		t.Fatalf("turn 3: %v", err)
	}
	if result.FollowupType != models.FollowupBant {
		t.Errorf("probe still suppressed after window: %q", result.FollowupType)
	}

	msgs, _ := st.Messages(ctx, "sess-1")
	if len(msgs) != 6 {
		t.Errorf("stored %d messages", len(msgs))
	}
}

func TestHandleTurnFastAnswerStillProbes(t *testing.T) {
	base := time.Now()
	clock := base
	engine, _ := newTestEngine(t, nil, WithClock(func() time.Time { return clock }))
	ctx := context.Background()

	result, err := engine.HandleTurn(ctx, "sess-1", "hi there")
	if err != nil {
		t.Fatalf("turn 1: %v", err)
	}
	if result.BantDimension != models.DimensionSegment {
		t.Fatalf("turn 1 dimension = %q, want segment", result.BantDimension)
	}

	// Answering the segment probe 10s later is a new turn, not a duplicate:
	// the budget probe goes out immediately.
	clock = base.Add(10 * time.Second)
	result, err = engine.HandleTurn(ctx, "sess-1", "Small team (2-20)")
	if err != nil {
		t.Fatalf("turn 2: %v", err)
	}
	if result.FollowupType != models.FollowupBant {
		t.Errorf("fast answer suppressed the next probe: followupType = %q", result.FollowupType)
	}
	if result.BantDimension != models.DimensionBudget {
		t.Errorf("turn 2 dimension = %q, want budget", result.BantDimension)
	}
	for _, d := range result.MissingDims {
		if d == models.DimensionSegment {
			t.Error("segment still listed missing after button answer")
		}
	}
}

func TestHandleTurnGenerativeAnswer(t *testing.T) {
	gen := &stubGenerator{response: `{"mainText": "We integrate with Slack and Teams.", "buttons": ["See integrations"]}`}
	base := time.Now()
	clock := base
	engine, _ := newTestEngine(t, gen, WithClock(func() time.Time { return clock }))

	result, err := engine.HandleTurn(context.Background(), "sess-1", "what integrations do you support?")
	if err != nil {
		t.Fatalf("HandleTurn error: %v", err)
	}
	if !strings.Contains(result.MainText, "We integrate with Slack and Teams.") {
		t.Errorf("mainText = %q", result.MainText)
	}
	// Generative answer and probe are combined into one message.
	if result.FollowupType != models.FollowupBant {
		t.Errorf("followupType = %q", result.FollowupType)
	}
}

func TestHandleTurnGeneratorFailureFallsBack(t *testing.T) {
	gen := &stubGenerator{err: errors.New("api down")}
	engine, _ := newTestEngine(t, gen)

	result, err := engine.HandleTurn(context.Background(), "sess-1", "hello")
	if err != nil {
		t.Fatalf("HandleTurn error: %v", err)
	}
	if result.MainText == "" {
		t.Error("no deterministic fallback text")
	}
}

func TestHandleTurnBookingCuration(t *testing.T) {
	gen := &stubGenerator{response: `{"mainText": "Happy to help.", "buttons": ["Book a demo", "See integrations"]}`}
	booking := &stubBooking{state: &qualify.BookingState{Active: true, Status: "confirmed", StartTime: time.Now().Add(24 * time.Hour)}}
	engine, _ := newTestEngine(t, gen, WithBookingLookup(booking))

	result, err := engine.HandleTurn(context.Background(), "sess-1", "what integrations do you support?")
	if err != nil {
		t.Fatalf("HandleTurn error: %v", err)
	}
	for _, b := range result.Buttons {
		if b == "Book a demo" {
			t.Errorf("booking-intent button survived with active booking: %v", result.Buttons)
		}
	}
}

func TestHandleTurnDomainAndConfidence(t *testing.T) {
	engine, _ := newTestEngine(t, nil)

	result, err := engine.HandleTurn(context.Background(), "sess-1", "how much does it cost?")
	if err != nil {
		t.Fatalf("HandleTurn error: %v", err)
	}
	if result.Domain != "pricing" {
		t.Errorf("domain = %q, want pricing", result.Domain)
	}
	if result.Confidence <= 0 || result.Confidence > 1 {
		t.Errorf("confidence = %v", result.Confidence)
	}
}

func TestOnboardingDispatch(t *testing.T) {
	engine, _ := newTestEngine(t, nil)
	ctx := context.Background()

	in, err := engine.InOnboarding(ctx, "sess-1")
	if err != nil || in {
		t.Fatalf("fresh session InOnboarding = %v, %v", in, err)
	}

	prompt, err := engine.HandleOnboardingTurn(ctx, "sess-1", "admin-1", "")
	if err != nil {
		t.Fatalf("HandleOnboardingTurn error: %v", err)
	}
	if prompt.Action != models.ActionStart {
		t.Errorf("action = %q", prompt.Action)
	}

	in, err = engine.InOnboarding(ctx, "sess-1")
	if err != nil || !in {
		t.Fatalf("after start InOnboarding = %v, %v", in, err)
	}

	prompt, err = engine.HandleOnboardingTurn(ctx, "sess-1", "admin-1", "Jane Doe")
	if err != nil {
		t.Fatalf("HandleOnboardingTurn error: %v", err)
	}
	if prompt.Action != models.ActionAskNext {
		t.Errorf("action = %q", prompt.Action)
	}

	// Session state survives the round trip through the store.
	prompt, err = engine.HandleOnboardingTurn(ctx, "sess-1", "admin-1", "jane@example.com")
	if err != nil {
		t.Fatalf("HandleOnboardingTurn error: %v", err)
	}
	if prompt.Action != models.ActionAskNext {
		t.Errorf("action = %q", prompt.Action)
	}
}

func TestHandleOnboardingTurnCancelPatchesStatus(t *testing.T) {
	engine, st := newTestEngine(t, nil)
	ctx := context.Background()

	if _, err := engine.HandleOnboardingTurn(ctx, "sess-1", "admin-1", ""); err != nil {
		t.Fatalf("start error: %v", err)
	}
	if _, err := engine.HandleOnboardingTurn(ctx, "sess-1", "admin-1", "Jane Doe"); err != nil {
		t.Fatalf("collect error: %v", err)
	}

	prompt, err := engine.HandleOnboardingTurn(ctx, "sess-1", "admin-1", "never mind, cancel")
	if err != nil {
		t.Fatalf("cancel error: %v", err)
	}
	if prompt.Action != models.ActionCancelled {
		t.Fatalf("action = %q, want cancelled", prompt.Action)
	}

	sess, err := st.OnboardingSession(ctx, "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if sess.Status != models.OnboardingCancelled {
		t.Errorf("stored status = %q, want cancelled", sess.Status)
	}
	if sess.CollectedData["name"] != "Jane Doe" {
		t.Errorf("collected data lost on cancel: %+v", sess.CollectedData)
	}

	in, err := engine.InOnboarding(ctx, "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if in {
		t.Error("cancelled session still routed to onboarding")
	}
}

func TestInOnboardingTerminalStates(t *testing.T) {
	engine, st := newTestEngine(t, nil)
	ctx := context.Background()

	if err := st.SaveOnboardingSession(ctx, &models.OnboardingSession{
		SessionID: "sess-1",
		Status:    models.OnboardingCompleted,
	}); err != nil {
		t.Fatal(err)
	}
	in, err := engine.InOnboarding(ctx, "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if in {
		t.Error("completed session still routed to onboarding")
	}
}
