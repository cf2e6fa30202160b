package onboarding

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/convoflow/leadqual/internal/models"
)

// mockSubmitter records calls and returns canned results.
type mockSubmitter struct {
	result *SubmitResult
	err    error
	calls  []submitCall
}

type submitCall struct {
	phase   string
	payload map[string]string
}

func (m *mockSubmitter) Submit(_ context.Context, phase string, payload map[string]string) (*SubmitResult, error) {
	copied := make(map[string]string, len(payload))
	for k, v := range payload {
		copied[k] = v
	}
	m.calls = append(m.calls, submitCall{phase: phase, payload: copied})
	return m.result, m.err
}

func newTestMachine(sub Submitter, opts ...MachineOption) *Machine {
	return NewMachine(sub, opts...)
}

func newSession() *models.OnboardingSession {
	return &models.OnboardingSession{SessionID: "sess-1", AdminID: "admin-1"}
}

func reply(t *testing.T, m *Machine, s *models.OnboardingSession, text string) models.OnboardingPrompt {
	t.Helper()
	prompt, err := m.HandleReply(context.Background(), s, text)
	if err != nil {
		t.Fatalf("HandleReply(%q) error: %v", text, err)
	}
	return prompt
}

func TestStartInitializesSession(t *testing.T) {
	m := newTestMachine(&mockSubmitter{})
	s := newSession()
	prompt := m.Start(s)

	if s.Status != models.OnboardingInProgress {
		t.Errorf("status = %q", s.Status)
	}
	if s.Phase != models.PhaseRegistration {
		t.Errorf("phase = %q", s.Phase)
	}
	if s.StageIndex != 0 {
		t.Errorf("stage = %d", s.StageIndex)
	}
	if prompt.Action != models.ActionStart {
		t.Errorf("action = %q", prompt.Action)
	}
	if !strings.Contains(strings.ToLower(prompt.MainText), "name") {
		t.Errorf("opening prompt does not ask for the first field: %q", prompt.MainText)
	}
}

func TestCollectStepByStep(t *testing.T) {
	m := newTestMachine(&mockSubmitter{})
	s := newSession()
	m.Start(s)

	p := reply(t, m, s, "Jane Doe")
	if p.Action != models.ActionAskNext {
		t.Fatalf("after name: action = %q", p.Action)
	}
	if s.CollectedData["name"] != "Jane Doe" {
		t.Errorf("name = %q", s.CollectedData["name"])
	}

	p = reply(t, m, s, "jane@example.com")
	if p.Action != models.ActionAskNext {
		t.Fatalf("after email: action = %q", p.Action)
	}

	p = reply(t, m, s, "Sup3rSecret!")
	if p.Action != models.ActionConfirm {
		t.Fatalf("after password: action = %q", p.Action)
	}
	if s.Status != models.OnboardingReadyToSubmit {
		t.Errorf("status = %q", s.Status)
	}
	if strings.Contains(p.MainText, "Sup3rSecret!") {
		t.Error("confirmation summary leaked the password")
	}
	if !strings.Contains(p.MainText, "***") {
		t.Error("confirmation summary missing redaction marker")
	}
}

func TestCollectValidationFailureDoesNotAdvance(t *testing.T) {
	m := newTestMachine(&mockSubmitter{})
	s := newSession()
	m.Start(s)
	reply(t, m, s, "Jane Doe")

	p := reply(t, m, s, "not an email")
	if p.Action != models.ActionAskAgain {
		t.Errorf("action = %q, want ask_again", p.Action)
	}
	if s.StageIndex != 1 {
		t.Errorf("stage advanced on invalid input: %d", s.StageIndex)
	}

	p = reply(t, m, s, "jane@example.com")
	if p.Action != models.ActionAskNext {
		t.Errorf("valid retry not accepted: %q", p.Action)
	}
	if s.StageIndex != 2 {
		t.Errorf("stage = %d, want 2", s.StageIndex)
	}
}

func TestBundleReplyConsumesPrefix(t *testing.T) {
	m := newTestMachine(&mockSubmitter{})
	s := newSession()
	m.Start(s)

	p := reply(t, m, s, "Jane Doe, jane@co.com, Sup3rSecret!")
	if s.StageIndex != 3 {
		t.Errorf("stage = %d, want 3 after full bundle", s.StageIndex)
	}
	if p.Action != models.ActionConfirm {
		t.Errorf("action = %q, want confirm", p.Action)
	}
	if s.CollectedData["email"] != "jane@co.com" {
		t.Errorf("email = %q", s.CollectedData["email"])
	}
	if s.CollectedData["password"] != "Sup3rSecret!" {
		t.Errorf("password = %q", s.CollectedData["password"])
	}
}

func TestBundlePartialFallsThroughToSingleField(t *testing.T) {
	m := newTestMachine(&mockSubmitter{})
	s := newSession()
	m.Start(s)

	// Name and email only; the password prompt follows.
	p := reply(t, m, s, "Jane Doe, jane@co.com")
	if s.StageIndex != 2 {
		t.Errorf("stage = %d, want 2", s.StageIndex)
	}
	if p.Action != models.ActionAskNext {
		t.Errorf("action = %q", p.Action)
	}
	if !strings.Contains(strings.ToLower(p.MainText), "password") {
		t.Errorf("next prompt should ask for the password: %q", p.MainText)
	}
}

func TestEditFromConfirmation(t *testing.T) {
	m := newTestMachine(&mockSubmitter{})
	s := newSession()
	m.Start(s)
	reply(t, m, s, "Jane Doe")
	reply(t, m, s, "jane@example.com")
	reply(t, m, s, "Sup3rSecret!")

	p := reply(t, m, s, "edit")
	if p.Action != models.ActionConfirm {
		t.Fatalf("edit action = %q", p.Action)
	}

	p = reply(t, m, s, "Work email")
	if p.Action != models.ActionAskAgain {
		t.Fatalf("field pick action = %q", p.Action)
	}
	if s.Status != models.OnboardingInProgress {
		t.Errorf("status = %q", s.Status)
	}

	p = reply(t, m, s, "jane@newco.com")
	if s.CollectedData["email"] != "jane@newco.com" {
		t.Errorf("email after edit = %q", s.CollectedData["email"])
	}
	// Already-collected later fields are skipped on the way back.
	if p.Action != models.ActionConfirm {
		t.Errorf("action after re-collect = %q, want confirm", p.Action)
	}
}

func TestCancelAtAnyPoint(t *testing.T) {
	m := newTestMachine(&mockSubmitter{})
	s := newSession()
	m.Start(s)
	reply(t, m, s, "Jane Doe")

	p := reply(t, m, s, "actually, cancel this")
	if p.Action != models.ActionCancelled {
		t.Errorf("action = %q", p.Action)
	}
	if s.Status != models.OnboardingCancelled {
		t.Errorf("status = %q", s.Status)
	}

	// Terminal status: subsequent replies are no-ops.
	p = reply(t, m, s, "hello?")
	if p.Action != models.ActionNoop {
		t.Errorf("post-cancel action = %q", p.Action)
	}
}

func completeRegistration(t *testing.T, m *Machine, s *models.OnboardingSession) {
	t.Helper()
	m.Start(s)
	reply(t, m, s, "Jane Doe")
	reply(t, m, s, "jane@example.com")
	reply(t, m, s, "Sup3rSecret!")
}

func TestSubmitSuccessReArmsSetupPhase(t *testing.T) {
	sub := &mockSubmitter{result: &SubmitResult{
		Success: true,
		Status:  201,
		UserID:  "u-42",
		Token:   "tok-abc",
		Body:    []byte(`{"data": {"userId": "u-42", "api_key": "key-xyz"}}`),
	}}
	m := newTestMachine(sub)
	s := newSession()
	completeRegistration(t, m, s)

	p := reply(t, m, s, "Submit")
	if len(sub.calls) != 1 || sub.calls[0].phase != "registration" {
		t.Fatalf("submit calls = %+v", sub.calls)
	}
	if s.RegisteredUserID != "u-42" {
		t.Errorf("userID = %q", s.RegisteredUserID)
	}
	if s.Phase != models.PhaseInitialSetup {
		t.Errorf("phase = %q, want initial_setup", s.Phase)
	}
	if s.Status != models.OnboardingInProgress {
		t.Errorf("status = %q", s.Status)
	}
	// The api_key setup field is pre-filled from the response body.
	if s.CollectedData["api_key"] != "key-xyz" {
		t.Errorf("api_key prefill = %q", s.CollectedData["api_key"])
	}
	if p.Action != models.ActionAskNext {
		t.Errorf("action = %q", p.Action)
	}
	if !strings.Contains(strings.ToLower(p.MainText), "workspace") {
		t.Errorf("setup prompt should ask for the workspace: %q", p.MainText)
	}
}

func TestSetupPhaseCompletes(t *testing.T) {
	sub := &mockSubmitter{result: &SubmitResult{Success: true, Status: 201, UserID: "u-42"}}
	m := newTestMachine(sub)
	s := newSession()
	completeRegistration(t, m, s)
	reply(t, m, s, "Submit")

	reply(t, m, s, "Acme HQ")      // workspace
	reply(t, m, s, "sk-live-abc")  // api_key (no prefill in this response)
	p := reply(t, m, s, "yes")     // notifications
	if p.Action != models.ActionConfirm {
		t.Fatalf("action = %q", p.Action)
	}

	p = reply(t, m, s, "Submit")
	if p.Action != models.ActionCompleted {
		t.Errorf("action = %q", p.Action)
	}
	if s.Status != models.OnboardingCompleted {
		t.Errorf("status = %q", s.Status)
	}
	if len(sub.calls) != 2 || sub.calls[1].phase != "initial_setup" {
		t.Fatalf("submit calls = %+v", sub.calls)
	}
	if sub.calls[1].payload["userId"] != "u-42" {
		t.Errorf("setup payload userId = %q", sub.calls[1].payload["userId"])
	}
}

func TestSubmitTransportErrorAllowsRetry(t *testing.T) {
	sub := &mockSubmitter{err: errors.New("connection refused")}
	m := newTestMachine(sub)
	s := newSession()
	completeRegistration(t, m, s)

	p := reply(t, m, s, "Submit")
	if p.Action != models.ActionError {
		t.Fatalf("action = %q", p.Action)
	}
	if s.Status != models.OnboardingError {
		t.Errorf("status = %q", s.Status)
	}

	sub.err = nil
	sub.result = &SubmitResult{Success: true, Status: 201}
	p = reply(t, m, s, "try again")
	if s.Phase != models.PhaseInitialSetup {
		t.Errorf("retry did not reach success path: phase = %q, status = %q", s.Phase, s.Status)
	}
	if len(sub.calls) != 2 {
		t.Errorf("submit calls = %d, want 2", len(sub.calls))
	}
	_ = p
}

func TestSubmitAuthFailure(t *testing.T) {
	sub := &mockSubmitter{result: &SubmitResult{Success: false, Status: 401, Err: "unauthorized"}}
	m := newTestMachine(sub)
	s := newSession()
	completeRegistration(t, m, s)

	p := reply(t, m, s, "Submit")
	if p.Action != models.ActionAuthRequired {
		t.Errorf("action = %q, want auth_required", p.Action)
	}
}

func TestSubmitDuplicateEmailNarrowsToChangeEmail(t *testing.T) {
	sub := &mockSubmitter{result: &SubmitResult{
		Success: false,
		Status:  409,
		Err:     "email already registered",
		Body:    []byte(`{"error": "email already registered"}`),
	}}
	m := newTestMachine(sub)
	s := newSession()
	completeRegistration(t, m, s)

	p := reply(t, m, s, "Submit")
	if p.Action != models.ActionErrorChangeEmail {
		t.Fatalf("action = %q", p.Action)
	}
	if s.Phase != models.PhaseChangeEmailOnly {
		t.Fatalf("phase = %q", s.Phase)
	}

	// Retry is refused; only an email change is offered.
	p = reply(t, m, s, "just try again")
	if p.Action != models.ActionErrorChangeEmail {
		t.Errorf("retry on duplicate email: action = %q", p.Action)
	}

	// A new address in the reply jumps straight back to confirmation.
	sub.result = &SubmitResult{Success: true, Status: 201, UserID: "u-9"}
	p = reply(t, m, s, "use jane@other.com instead")
	if p.Action != models.ActionConfirm {
		t.Fatalf("action = %q", p.Action)
	}
	if s.CollectedData["email"] != "jane@other.com" {
		t.Errorf("email = %q", s.CollectedData["email"])
	}

	p = reply(t, m, s, "Submit")
	if len(sub.calls) != 2 {
		t.Fatalf("submit calls = %d", len(sub.calls))
	}
	// change_email_only submits against the registration endpoint.
	if sub.calls[1].phase != "registration" {
		t.Errorf("resubmit phase = %q", sub.calls[1].phase)
	}
	_ = p
}

func TestSubmissionFailureUsesFieldErrorDetails(t *testing.T) {
	sub := &mockSubmitter{result: &SubmitResult{
		Success: false,
		Status:  422,
		Err:     "validation failed",
		Body:    []byte(`{"errors": [{"field": "password", "message": "too weak"}]}`),
	}}
	m := newTestMachine(sub)
	s := newSession()
	completeRegistration(t, m, s)

	reply(t, m, s, "Submit")
	if !strings.Contains(s.LastError, "password") || !strings.Contains(s.LastError, "too weak") {
		t.Errorf("LastError = %q, want field detail", s.LastError)
	}
	if s.LastErrorHTTPStatus != 422 {
		t.Errorf("status = %d", s.LastErrorHTTPStatus)
	}
}

func TestNoSetupFieldsCompletesAfterRegistration(t *testing.T) {
	sub := &mockSubmitter{result: &SubmitResult{Success: true, Status: 201}}
	m := newTestMachine(sub, WithSetupFields(nil))
	s := newSession()
	completeRegistration(t, m, s)

	p := reply(t, m, s, "Submit")
	if p.Action != models.ActionCompleted {
		t.Errorf("action = %q", p.Action)
	}
	if s.Status != models.OnboardingCompleted {
		t.Errorf("status = %q", s.Status)
	}
}
