package onboarding

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/convoflow/leadqual/internal/models"
)

// Machine drives stage-indexed field collection: registration, optional
// initial setup, confirmation, and submission. It mutates the supplied
// session in place; the caller persists it.
type Machine struct {
	submitter          Submitter
	registrationFields []models.FieldDef
	setupFields        []models.FieldDef
	now                func() time.Time
}

// MachineOption configures a Machine.
type MachineOption func(*Machine)

// WithRegistrationFields overrides the default registration field list.
func WithRegistrationFields(fields []models.FieldDef) MachineOption {
	return func(m *Machine) { m.registrationFields = fields }
}

// WithSetupFields configures the second collection phase. When empty, the
// machine completes after registration.
func WithSetupFields(fields []models.FieldDef) MachineOption {
	return func(m *Machine) { m.setupFields = fields }
}

// WithClock overrides the time source, mainly for tests.
func WithClock(now func() time.Time) MachineOption {
	return func(m *Machine) { m.now = now }
}

// DefaultRegistrationFields collect the minimum needed to register an account.
var DefaultRegistrationFields = []models.FieldDef{
	{Key: "name", Label: "Full name", Required: true, Type: models.FieldText, Validations: &models.FieldValidations{MinLength: 2, MaxLength: 100}},
	{Key: "email", Label: "Work email", Required: true, Type: models.FieldEmail},
	{Key: "password", Label: "Password", Required: true, Type: models.FieldText, Validations: &models.FieldValidations{MinLength: 8, MaxLength: 128}},
}

// DefaultSetupFields configure the workspace after a successful registration.
var DefaultSetupFields = []models.FieldDef{
	{Key: "workspace", Label: "Workspace name", Required: true, Type: models.FieldText, Validations: &models.FieldValidations{MinLength: 2, MaxLength: 100}},
	{Key: "api_key", Label: "API key", Required: true, Type: models.FieldText},
	{Key: "notifications", Label: "Email notifications", Required: true, Type: models.FieldCheckbox},
}

// NewMachine creates the field-collection machine.
func NewMachine(submitter Submitter, opts ...MachineOption) *Machine {
	m := &Machine{
		submitter:          submitter,
		registrationFields: DefaultRegistrationFields,
		setupFields:        DefaultSetupFields,
		now:                time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Intent patterns for the confirmation and error transitions.
var (
	cancelRE      = regexp.MustCompile(`(?i)\b(?:cancel|stop|quit|abort|never\s*mind|forget\s+it)\b`)
	confirmRE     = regexp.MustCompile(`(?i)\b(?:confirm|submit|yes|yep|looks\s+good|go\s+ahead|correct)\b`)
	tryAgainRE    = regexp.MustCompile(`(?i)\b(?:try\s+again|retry|resubmit)\b`)
	editRE        = regexp.MustCompile(`(?i)\bedit\b`)
	changeEmailRE = regexp.MustCompile(`(?i)\bchange\s+(?:my\s+)?email\b`)
)

// Start initializes a new collection run on the session and returns the
// opening prompt.
func (m *Machine) Start(s *models.OnboardingSession) models.OnboardingPrompt {
	now := m.now()
	s.Status = models.OnboardingInProgress
	s.Phase = models.PhaseRegistration
	s.StageIndex = 0
	s.Fields = append([]models.FieldDef(nil), m.registrationFields...)
	s.CollectedData = make(map[string]string)
	s.LastError = ""
	s.LastErrorHTTPStatus = 0
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now

	slog.Info("Onboarding started", "sessionID", s.SessionID, "fields", len(s.Fields))
	first := s.Fields[0]
	return models.OnboardingPrompt{
		MainText: fmt.Sprintf("Let's get your account set up! You can send everything at once (name, email, password) or we'll go step by step.\n\nWhat's your %s?", strings.ToLower(first.Label)),
		Buttons:  fieldButtons(first),
		Action:   models.ActionStart,
	}
}

// HandleReply advances the machine by one user turn.
func (m *Machine) HandleReply(ctx context.Context, s *models.OnboardingSession, reply string) (models.OnboardingPrompt, error) {
	s.UpdatedAt = m.now()

	switch s.Status {
	case models.OnboardingCompleted:
		return models.OnboardingPrompt{MainText: "You're all set! Let me know if there's anything else I can help with.", Buttons: []string{}, Action: models.ActionNoop}, nil
	case models.OnboardingCancelled:
		return models.OnboardingPrompt{MainText: "Onboarding was cancelled. Say \"sign up\" whenever you'd like to start again.", Buttons: []string{}, Action: models.ActionNoop}, nil
	}

	if cancelRE.MatchString(reply) {
		s.Status = models.OnboardingCancelled
		slog.Info("Onboarding cancelled by user", "sessionID", s.SessionID, "phase", s.Phase)
		return models.OnboardingPrompt{MainText: "No problem, I've cancelled the signup. You can restart anytime.", Buttons: []string{}, Action: models.ActionCancelled}, nil
	}

	switch s.Status {
	case models.OnboardingInProgress:
		return m.collect(ctx, s, reply)
	case models.OnboardingReadyToSubmit:
		return m.handleConfirmation(ctx, s, reply)
	case models.OnboardingError:
		return m.handleErrorReply(ctx, s, reply)
	default:
		return models.OnboardingPrompt{}, fmt.Errorf("onboarding session %s in unknown status %q", s.SessionID, s.Status)
	}
}

// collect processes one field answer (or an initial bundle) while in_progress.
func (m *Machine) collect(ctx context.Context, s *models.OnboardingSession, reply string) (models.OnboardingPrompt, error) {
	if s.StageIndex >= len(s.Fields) {
		// Stage already past the last field, resync to the confirm state.
		return m.transitionToConfirm(s), nil
	}

	if m.bundleEligible(s) {
		values, consumed := extractBundle(reply, s.Fields)
		if consumed > 1 {
			for k, v := range values {
				s.CollectedData[k] = v
			}
			s.StageIndex += consumed
			slog.Debug("Bundle reply consumed", "sessionID", s.SessionID, "consumed", consumed)
			return m.afterAdvance(s), nil
		}
		// Zero or one field recovered: single-field handling gives a precise
		// validation message instead.
	}

	field := s.Fields[s.StageIndex]
	value, err := validateField(field, reply)
	if err != nil {
		slog.Debug("Field validation failed", "sessionID", s.SessionID, "field", field.Key, "error", err)
		return models.OnboardingPrompt{
			MainText: fmt.Sprintf("Hmm, %s.", err.Error()),
			Buttons:  fieldButtons(field),
			Action:   models.ActionAskAgain,
		}, nil
	}

	s.CollectedData[field.Key] = value
	s.StageIndex++
	return m.afterAdvance(s), nil
}

// afterAdvance skips fields already collected (edits, setup-phase prefill) and
// either prompts the next field or transitions to confirmation.
func (m *Machine) afterAdvance(s *models.OnboardingSession) models.OnboardingPrompt {
	for s.StageIndex < len(s.Fields) {
		if _, ok := s.CollectedData[s.Fields[s.StageIndex].Key]; !ok {
			break
		}
		s.StageIndex++
	}
	if s.StageIndex >= len(s.Fields) {
		return m.transitionToConfirm(s)
	}
	next := s.Fields[s.StageIndex]
	return models.OnboardingPrompt{
		MainText: fmt.Sprintf("Got it! What's your %s?", strings.ToLower(next.Label)),
		Buttons:  fieldButtons(next),
		Action:   models.ActionAskNext,
	}
}

// transitionToConfirm moves to ready_to_submit and presents the redacted
// summary.
func (m *Machine) transitionToConfirm(s *models.OnboardingSession) models.OnboardingPrompt {
	s.Status = models.OnboardingReadyToSubmit
	if s.StageIndex > len(s.Fields) {
		s.StageIndex = len(s.Fields)
	}

	var sb strings.Builder
	sb.WriteString("Here's what I have:\n")
	for _, f := range s.Fields {
		sb.WriteString(fmt.Sprintf("- %s: %s\n", f.Label, redactValue(f.Key, s.CollectedData[f.Key])))
	}
	sb.WriteString("\nShall I submit this?")
	return models.OnboardingPrompt{
		MainText: sb.String(),
		Buttons:  []string{"Submit", "Edit"},
		Action:   models.ActionConfirm,
	}
}

// handleConfirmation processes the reply to the pre-submission summary.
func (m *Machine) handleConfirmation(ctx context.Context, s *models.OnboardingSession, reply string) (models.OnboardingPrompt, error) {
	if idx, ok := m.matchField(s, reply); ok {
		return m.reopenField(s, idx), nil
	}
	if confirmRE.MatchString(reply) {
		return m.submit(ctx, s)
	}
	if editRE.MatchString(reply) {
		return models.OnboardingPrompt{
			MainText: "Sure, which field would you like to change?",
			Buttons:  fieldLabels(s.Fields),
			Action:   models.ActionConfirm,
		}, nil
	}
	return m.transitionToConfirm(s), nil
}

// handleErrorReply processes the reply after a failed submission. For
// duplicate-email failures the only allowed action is changing the email;
// resubmitting a doomed registration is pointless.
func (m *Machine) handleErrorReply(ctx context.Context, s *models.OnboardingSession, reply string) (models.OnboardingPrompt, error) {
	if s.Phase == models.PhaseChangeEmailOnly {
		if addr := emailRE.FindString(reply); addr != "" {
			s.CollectedData["email"] = addr
			s.Status = models.OnboardingReadyToSubmit
			s.LastError = ""
			s.LastErrorHTTPStatus = 0
			return m.transitionToConfirm(s), nil
		}
		if changeEmailRE.MatchString(reply) {
			s.Status = models.OnboardingInProgress
			if idx, ok := fieldIndexByKey(s.Fields, "email"); ok {
				s.StageIndex = idx
			}
			return models.OnboardingPrompt{
				MainText: "What email should I use instead?",
				Buttons:  []string{},
				Action:   models.ActionAskAgain,
			}, nil
		}
		return models.OnboardingPrompt{
			MainText: "That email is already registered, so the only fix is a different address. What email should I use?",
			Buttons:  []string{"Change Email"},
			Action:   models.ActionErrorChangeEmail,
		}, nil
	}

	if tryAgainRE.MatchString(reply) {
		s.Status = models.OnboardingReadyToSubmit
		return m.submit(ctx, s)
	}
	if idx, ok := m.matchField(s, reply); ok {
		return m.reopenField(s, idx), nil
	}
	if editRE.MatchString(reply) {
		return models.OnboardingPrompt{
			MainText: "Which field would you like to change?",
			Buttons:  fieldLabels(s.Fields),
			Action:   models.ActionError,
		}, nil
	}
	return models.OnboardingPrompt{
		MainText: fmt.Sprintf("The submission didn't go through: %s", s.LastError),
		Buttons:  []string{"Try Again", "Edit"},
		Action:   models.ActionError,
	}, nil
}

// reopenField resets collection to one specific field.
func (m *Machine) reopenField(s *models.OnboardingSession, idx int) models.OnboardingPrompt {
	field := s.Fields[idx]
	delete(s.CollectedData, field.Key)
	s.StageIndex = idx
	s.Status = models.OnboardingInProgress
	return models.OnboardingPrompt{
		MainText: fmt.Sprintf("What should I use for %s?", strings.ToLower(field.Label)),
		Buttons:  fieldButtons(field),
		Action:   models.ActionAskAgain,
	}
}

// submit performs the external call and routes the outcome.
func (m *Machine) submit(ctx context.Context, s *models.OnboardingSession) (models.OnboardingPrompt, error) {
	payload := make(map[string]string, len(s.Fields)+1)
	for _, f := range s.Fields {
		if v, ok := s.CollectedData[f.Key]; ok {
			payload[f.Key] = v
		}
	}
	if s.Phase == models.PhaseInitialSetup && s.RegisteredUserID != "" {
		payload["userId"] = s.RegisteredUserID
	}

	phase := s.Phase
	if phase == models.PhaseChangeEmailOnly {
		phase = models.PhaseRegistration
	}
	result, err := m.submitter.Submit(ctx, string(phase), payload)
	if err != nil {
		s.Status = models.OnboardingError
		s.LastError = err.Error()
		s.LastErrorHTTPStatus = 0
		slog.Error("Onboarding submission failed", "error", err, "sessionID", s.SessionID, "phase", phase)
		return models.OnboardingPrompt{
			MainText: "I couldn't reach the registration service. Want me to try again?",
			Buttons:  []string{"Try Again", "Edit"},
			Action:   models.ActionError,
		}, nil
	}

	if !result.Success {
		return m.handleSubmissionFailure(s, result), nil
	}
	return m.handleSubmissionSuccess(s, result), nil
}

// handleSubmissionFailure records the error and narrows the allowed next
// action based on the failure class.
func (m *Machine) handleSubmissionFailure(s *models.OnboardingSession, result *SubmitResult) models.OnboardingPrompt {
	s.Status = models.OnboardingError
	s.LastError = result.Err
	s.LastErrorHTTPStatus = result.Status

	details := extractFieldErrors(result.Body)
	if len(details) > 0 {
		var parts []string
		for _, d := range details {
			if d.Field != "" {
				parts = append(parts, fmt.Sprintf("%s: %s", d.Field, d.Message))
			} else {
				parts = append(parts, d.Message)
			}
		}
		s.LastError = strings.Join(parts, "; ")
	}
	slog.Warn("Onboarding submission rejected", "sessionID", s.SessionID, "status", result.Status, "error", s.LastError)

	if result.Status == 401 || result.Status == 403 {
		return models.OnboardingPrompt{
			MainText: "The registration service rejected my credentials. Please sign in and try again.",
			Buttons:  []string{},
			Action:   models.ActionAuthRequired,
		}
	}

	if isDuplicateEmailFailure(result.Status, result.Body) {
		s.Phase = models.PhaseChangeEmailOnly
		return models.OnboardingPrompt{
			MainText: fmt.Sprintf("It looks like %s is already registered. Would you like to use a different email?", s.CollectedData["email"]),
			Buttons:  []string{"Change Email"},
			Action:   models.ActionErrorChangeEmail,
		}
	}

	return models.OnboardingPrompt{
		MainText: fmt.Sprintf("Something went wrong submitting your details: %s", s.LastError),
		Buttons:  []string{"Try Again", "Edit"},
		Action:   models.ActionError,
	}
}

// handleSubmissionSuccess completes the phase, re-arming the machine for
// initial setup after a successful registration when configured.
func (m *Machine) handleSubmissionSuccess(s *models.OnboardingSession, result *SubmitResult) models.OnboardingPrompt {
	s.LastError = ""
	s.LastErrorHTTPStatus = 0

	if s.Phase == models.PhaseInitialSetup {
		s.Status = models.OnboardingCompleted
		slog.Info("Onboarding completed", "sessionID", s.SessionID, "userID", s.RegisteredUserID)
		return models.OnboardingPrompt{
			MainText: "Your workspace is configured, you're all set!",
			Buttons:  []string{},
			Action:   models.ActionCompleted,
		}
	}

	// Registration (or email change) succeeded.
	if result.UserID != "" {
		s.RegisteredUserID = result.UserID
	}
	if result.Token != "" {
		s.ExternalAuthToken = result.Token
	}

	if len(m.setupFields) == 0 {
		s.Status = models.OnboardingCompleted
		slog.Info("Onboarding completed (no setup phase)", "sessionID", s.SessionID, "userID", s.RegisteredUserID)
		return models.OnboardingPrompt{
			MainText: "Your account is registered. Welcome aboard!",
			Buttons:  []string{},
			Action:   models.ActionCompleted,
		}
	}

	// Re-arm for the setup phase: skip fields collected during registration
	// and pre-fill credential fields from the success response body.
	prior := s.CollectedData
	s.Phase = models.PhaseInitialSetup
	s.Status = models.OnboardingInProgress
	s.StageIndex = 0
	s.Fields = nil
	s.CollectedData = make(map[string]string)
	tokens := findAuthTokens(result.Body)
	for _, f := range m.setupFields {
		if v, ok := prior[f.Key]; ok {
			s.CollectedData[f.Key] = v
			continue
		}
		if matchesTokenAlias(f.Key) {
			if v, ok := tokens[canonicalKey(f.Key)]; ok {
				s.CollectedData[f.Key] = v
			} else if s.ExternalAuthToken != "" {
				s.CollectedData[f.Key] = s.ExternalAuthToken
			}
		}
	}
	s.Fields = append([]models.FieldDef(nil), m.setupFields...)
	slog.Info("Onboarding re-armed for setup phase", "sessionID", s.SessionID, "prefilled", len(s.CollectedData))

	prompt := m.afterAdvance(s)
	if prompt.Action == models.ActionAskNext {
		prompt.MainText = "You're registered! A few more details to finish your workspace setup.\n\n" + prompt.MainText
	}
	return prompt
}

func (m *Machine) bundleEligible(s *models.OnboardingSession) bool {
	return s.Phase == models.PhaseRegistration && s.StageIndex == 0 && len(s.CollectedData) == 0 && len(s.Fields) > 1
}

// matchField finds the field whose label or key the reply names.
func (m *Machine) matchField(s *models.OnboardingSession, reply string) (int, bool) {
	norm := strings.ToLower(strings.TrimSpace(reply))
	for i, f := range s.Fields {
		if norm == strings.ToLower(f.Label) || norm == strings.ToLower(f.Key) {
			return i, true
		}
	}
	return 0, false
}

func fieldIndexByKey(fields []models.FieldDef, key string) (int, bool) {
	for i, f := range fields {
		if f.Key == key {
			return i, true
		}
	}
	return 0, false
}

func fieldButtons(f models.FieldDef) []string {
	switch f.Type {
	case models.FieldSelect:
		return append([]string(nil), f.Options...)
	case models.FieldCheckbox:
		return []string{"Yes", "No"}
	default:
		return []string{}
	}
}

func fieldLabels(fields []models.FieldDef) []string {
	labels := make([]string, 0, len(fields))
	for _, f := range fields {
		labels = append(labels, f.Label)
	}
	return labels
}
