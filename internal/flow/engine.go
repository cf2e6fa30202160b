// Package flow orchestrates one conversation turn: history normalization,
// missing-dimension resolution, probe selection, model-output parsing, and
// button curation, plus dispatch into the onboarding machine when a session
// is in field-collection mode.
package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/convoflow/leadqual/internal/models"
	"github.com/convoflow/leadqual/internal/onboarding"
	"github.com/convoflow/leadqual/internal/parser"
	"github.com/convoflow/leadqual/internal/qualify"
	"github.com/convoflow/leadqual/internal/store"
)

// DefaultFollowupGuardWindow is how recently the trailing assistant followup
// must have been stored for a repeated user message to count as a duplicate
// request rather than a new turn. This is a soft, time-based mitigation, not
// a correctness guarantee: two racing first-time turns can still both read a
// history snapshot missing the other's in-flight write and probe twice. The
// original design accepts that race rather than adding locks.
const DefaultFollowupGuardWindow = 30 * time.Second

// BookingLookup is the external booking/calendar collaborator.
type BookingLookup interface {
	ActiveBooking(ctx context.Context, sessionID string) (*qualify.BookingState, error)
}

// ProfileLookup is the external profile-enrichment collaborator.
type ProfileLookup interface {
	Profile(ctx context.Context, sessionID string) (*models.LeadProfile, error)
}

// Config carries the engine's tunables.
type Config struct {
	Mode                models.ConversationMode
	QuestionBank        []models.QuestionBankEntry
	EmailPromptAfter    int
	FollowupGuardWindow time.Duration
}

// Engine is the qualification core. It is safe for concurrent use across
// different sessions; it holds no mutable state of its own.
type Engine struct {
	store     store.Store
	generator qualify.Generator
	selector  *qualify.Selector
	machine   *onboarding.Machine
	booking   BookingLookup
	profiles  ProfileLookup
	cfg       Config
	now       func() time.Time
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithBookingLookup wires the booking collaborator.
func WithBookingLookup(b BookingLookup) EngineOption {
	return func(e *Engine) { e.booking = b }
}

// WithProfileLookup wires the profile-enrichment collaborator.
func WithProfileLookup(p ProfileLookup) EngineOption {
	return func(e *Engine) { e.profiles = p }
}

// WithClock overrides the time source, mainly for tests.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates the qualification engine. The generator may be nil, in
// which case all generative paths fall back to deterministic behavior.
func NewEngine(st store.Store, generator qualify.Generator, machine *onboarding.Machine, cfg Config, opts ...EngineOption) *Engine {
	if cfg.FollowupGuardWindow <= 0 {
		cfg.FollowupGuardWindow = DefaultFollowupGuardWindow
	}
	if cfg.Mode == "" {
		cfg.Mode = models.ModeSales
	}
	e := &Engine{
		store:     st,
		generator: generator,
		selector:  qualify.NewSelector(generator),
		machine:   machine,
		cfg:       cfg,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// HandleTurn processes one inbound user message on the qualification path and
// returns the client-facing result.
func (e *Engine) HandleTurn(ctx context.Context, sessionID, userText string) (*models.QualificationResult, error) {
	if strings.TrimSpace(userText) == "" {
		return nil, fmt.Errorf("empty user message for session %s", sessionID)
	}

	history, err := e.store.Messages(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load history for %s: %w", sessionID, err)
	}

	now := e.now()
	if _, err := e.store.AppendMessage(ctx, models.Message{
		SessionID: sessionID,
		Role:      models.RoleUser,
		Content:   userText,
		CreatedAt: now,
	}); err != nil {
		return nil, fmt.Errorf("failed to store user message for %s: %w", sessionID, err)
	}

	userMsg := models.Message{SessionID: sessionID, Role: models.RoleUser, Content: userText, CreatedAt: now}
	fullHistory := append(append([]models.Message(nil), history...), userMsg)

	profile := e.lookupProfile(ctx, sessionID)
	missing := qualify.ComputeMissingDimensions(fullHistory, profile)

	parsed := e.generateAnswer(ctx, history, userText)

	probeSuppressed := e.duplicateTurnPending(history, userText, now)
	var probe *qualify.Probe
	var followupType models.FollowupType
	var dimension models.Dimension

	if !probeSuppressed {
		probe = e.selector.SelectNextProbe(ctx, qualify.SelectorConfig{
			Mode:             e.cfg.Mode,
			QuestionBank:     e.cfg.QuestionBank,
			EmailKnown:       e.emailKnown(fullHistory, profile),
			PriorProbes:      countProbes(history),
			EmailPromptAfter: e.cfg.EmailPromptAfter,
			SegmentBucket:    qualify.KnownSegmentBucket(fullHistory, profile),
		}, missing)
	} else {
		slog.Debug("Suppressing probe: repeated message inside followup guard window", "sessionID", sessionID, "window", e.cfg.FollowupGuardWindow)
	}

	mainText := parsed.MainText
	buttons := parsed.Buttons
	emailPrompt := ""

	if probe != nil {
		followupType = models.FollowupBant
		dimension = probe.Dimension
		if strings.TrimSpace(mainText) == "" {
			mainText = probe.Question
		} else {
			mainText = mainText + "<br><br>" + probe.Question
		}
		buttons = probe.Buttons
		emailPrompt = probe.EmailPrompt
	} else if !probeSuppressed && len(missing) == 0 && !completionSent(history) {
		followupType = models.FollowupCompletion
		if strings.TrimSpace(mainText) == "" {
			mainText = "Thanks! I have everything I need. Would you like to pick a time with our team?"
		}
	}
	if strings.TrimSpace(mainText) == "" {
		mainText = parser.FallbackMainText
	}

	buttons = e.curateButtons(ctx, sessionID, buttons, userText, mainText, fullHistory, now)

	assistantMsg := models.Message{
		SessionID:     sessionID,
		Role:          models.RoleAssistant,
		Content:       mainText,
		CreatedAt:     e.now(),
		FollowupType:  followupType,
		BantDimension: dimension,
		Buttons:       buttons,
	}
	if _, err := e.store.AppendMessage(ctx, assistantMsg); err != nil {
		return nil, fmt.Errorf("failed to store assistant message for %s: %w", sessionID, err)
	}

	result := &models.QualificationResult{
		MainText:         mainText,
		Buttons:          buttons,
		EmailPrompt:      emailPrompt,
		FollowupType:     followupType,
		BantDimension:    dimension,
		MissingDims:      missing,
		Domain:           qualify.CategorizeTopic(userText),
		Confidence:       answerConfidence(userText, missing),
		SuggestedActions: buttons,
	}
	return result, nil
}

// HandleOnboardingTurn routes a message into the field-collection machine,
// persisting the session around the transition.
func (e *Engine) HandleOnboardingTurn(ctx context.Context, sessionID, adminID, userText string) (*models.OnboardingPrompt, error) {
	session, err := e.store.OnboardingSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load onboarding session %s: %w", sessionID, err)
	}

	var prompt models.OnboardingPrompt
	if session == nil {
		session = &models.OnboardingSession{SessionID: sessionID, AdminID: adminID}
		prompt = e.machine.Start(session)
	} else {
		prompt, err = e.machine.HandleReply(ctx, session, userText)
		if err != nil {
			return nil, fmt.Errorf("onboarding turn failed for %s: %w", sessionID, err)
		}
		// Cancellation touches only the status fields, so it goes through the
		// narrower patch write instead of rewriting the whole row.
		if prompt.Action == models.ActionCancelled {
			if err := e.store.PatchOnboardingStatus(ctx, sessionID, models.OnboardingStatusPatch{
				Status:              session.Status,
				LastError:           session.LastError,
				LastErrorHTTPStatus: session.LastErrorHTTPStatus,
			}); err != nil {
				return nil, fmt.Errorf("failed to patch onboarding session %s: %w", sessionID, err)
			}
			return &prompt, nil
		}
	}

	if err := e.store.SaveOnboardingSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to persist onboarding session %s: %w", sessionID, err)
	}
	return &prompt, nil
}

// InOnboarding reports whether the session is currently in field-collection
// mode. The BANT path and onboarding are mutually exclusive, gated here.
func (e *Engine) InOnboarding(ctx context.Context, sessionID string) (bool, error) {
	session, err := e.store.OnboardingSession(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if session == nil {
		return false, nil
	}
	switch session.Status {
	case models.OnboardingInProgress, models.OnboardingReadyToSubmit, models.OnboardingError:
		return true, nil
	default:
		return false, nil
	}
}

// generateAnswer runs the generative path for the user's message and
// normalizes whatever comes back. A nil generator or a failed call yields an
// empty parse so the deterministic paths fill in the response.
func (e *Engine) generateAnswer(ctx context.Context, history []models.Message, userText string) models.ParsedResponse {
	if e.generator == nil {
		return models.ParsedResponse{Buttons: []string{}}
	}
	raw, err := e.generator.GeneratePrompt(ctx, answerSystemPrompt, buildAnswerPrompt(history, userText))
	if err != nil {
		slog.Warn("Generative answer failed, using deterministic response", "error", err)
		return models.ParsedResponse{Buttons: []string{}}
	}
	return parser.ParseModelOutput(raw)
}

// duplicateTurnPending reports whether this turn looks like a retry of the
// request that produced the trailing followup: the last stored assistant
// message is a followup younger than the guard window, and the inbound text
// repeats the user message that triggered it. A genuine answer arriving
// inside the window is a different text and proceeds to the next probe.
func (e *Engine) duplicateTurnPending(history []models.Message, userText string, now time.Time) bool {
	last := -1
	for i := len(history) - 1; i >= 0; i-- {
		msg := &history[i]
		if msg.Role == models.RoleUser {
			return false
		}
		if msg.Role == models.RoleAssistant {
			if msg.FollowupType == "" || now.Sub(msg.CreatedAt) >= e.cfg.FollowupGuardWindow {
				return false
			}
			last = i
			break
		}
	}
	if last < 0 {
		return false
	}
	for j := last - 1; j >= 0; j-- {
		if history[j].Role == models.RoleUser {
			return strings.EqualFold(strings.TrimSpace(history[j].Content), strings.TrimSpace(userText))
		}
	}
	return false
}

func (e *Engine) lookupProfile(ctx context.Context, sessionID string) *models.LeadProfile {
	if e.profiles == nil {
		return nil
	}
	profile, err := e.profiles.Profile(ctx, sessionID)
	if err != nil {
		slog.Warn("Profile lookup failed, continuing without enrichment", "error", err, "sessionID", sessionID)
		return nil
	}
	return profile
}

// emailKnown reports whether the visitor's email is already on record, from
// the enrichment profile or anywhere in their messages.
func (e *Engine) emailKnown(history []models.Message, profile *models.LeadProfile) bool {
	if profile != nil && profile.Email != "" {
		return true
	}
	for i := range history {
		if history[i].Role == models.RoleUser && emailInTextRE.MatchString(history[i].Content) {
			return true
		}
	}
	return false
}

func (e *Engine) curateButtons(ctx context.Context, sessionID string, buttons []string, userText, mainText string, history []models.Message, now time.Time) []string {
	var booking *qualify.BookingState
	if e.booking != nil {
		b, err := e.booking.ActiveBooking(ctx, sessionID)
		if err != nil {
			slog.Warn("Booking lookup failed, curating without booking state", "error", err, "sessionID", sessionID)
		} else {
			booking = b
		}
	}
	curated := qualify.CurateButtons(buttons, qualify.CurateInput{
		UserQuestion:   userText,
		MainText:       mainText,
		Booking:        booking,
		ClickedOptions: clickedOptions(history),
		History:        history,
		Now:            now,
	})
	if curated == nil {
		curated = []string{}
	}
	return curated
}

// clickedOptions collects user messages that literally repeated an offered
// button label, i.e. button clicks.
func clickedOptions(history []models.Message) []string {
	var offered []string
	var clicked []string
	for i := range history {
		msg := &history[i]
		switch msg.Role {
		case models.RoleAssistant:
			offered = append(offered, msg.Buttons...)
		case models.RoleUser:
			for _, b := range offered {
				if strings.EqualFold(strings.TrimSpace(msg.Content), strings.TrimSpace(b)) {
					clicked = append(clicked, b)
					break
				}
			}
		}
	}
	return clicked
}

// countProbes counts assistant followup questions already asked.
func countProbes(history []models.Message) int {
	n := 0
	for i := range history {
		if history[i].Role == models.RoleAssistant && (history[i].FollowupType == models.FollowupBant || history[i].FollowupType == models.FollowupProbe) {
			n++
		}
	}
	return n
}

func completionSent(history []models.Message) bool {
	for i := range history {
		if history[i].FollowupType == models.FollowupCompletion {
			return true
		}
	}
	return false
}

// answerConfidence is a coarse signal-strength score: how much of the user's
// message the classifiers recognize.
func answerConfidence(userText string, missing []models.Dimension) float64 {
	matched := len(qualify.DetectDimensions(userText))
	if matched == 0 {
		if len(missing) == len(models.DimensionOrder) {
			return 0.2
		}
		return 0.4
	}
	score := 0.5 + 0.15*float64(matched)
	if score > 0.95 {
		score = 0.95
	}
	return score
}
