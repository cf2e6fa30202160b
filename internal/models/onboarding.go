// Package models defines onboarding state structures for leadqual.
package models

import (
	"encoding/json"
	"errors"
	"time"
)

// OnboardingStatus represents the lifecycle state of an onboarding session.
type OnboardingStatus string

const (
	OnboardingInProgress    OnboardingStatus = "in_progress"
	OnboardingReadyToSubmit OnboardingStatus = "ready_to_submit"
	OnboardingCompleted     OnboardingStatus = "completed"
	OnboardingError         OnboardingStatus = "error"
	OnboardingCancelled     OnboardingStatus = "cancelled"
)

// OnboardingPhase identifies which field list the session is collecting.
type OnboardingPhase string

const (
	PhaseRegistration    OnboardingPhase = "registration"
	PhaseInitialSetup    OnboardingPhase = "initial_setup"
	PhaseChangeEmailOnly OnboardingPhase = "change_email_only"
)

// OnboardingAction is the closed set of actions the field-collection machine
// reports to its caller alongside each prompt.
type OnboardingAction string

const (
	ActionStart            OnboardingAction = "start"
	ActionAskNext          OnboardingAction = "ask_next"
	ActionAskAgain         OnboardingAction = "ask_again"
	ActionConfirm          OnboardingAction = "confirm"
	ActionCompleted        OnboardingAction = "completed"
	ActionError            OnboardingAction = "error"
	ActionErrorChangeEmail OnboardingAction = "error_change_email"
	ActionAuthRequired     OnboardingAction = "auth_required"
	ActionCancelled        OnboardingAction = "cancelled"
	ActionNoop             OnboardingAction = "noop"
)

// FieldType determines how a collected field is validated.
type FieldType string

const (
	FieldText     FieldType = "text"
	FieldEmail    FieldType = "email"
	FieldPhone    FieldType = "phone"
	FieldSelect   FieldType = "select"
	FieldCheckbox FieldType = "checkbox"
)

// FieldValidations holds optional per-field constraints.
type FieldValidations struct {
	MinLength int    `json:"min_length,omitempty"`
	MaxLength int    `json:"max_length,omitempty"`
	Regex     string `json:"regex,omitempty"`
}

// FieldDef describes one field the onboarding machine collects.
type FieldDef struct {
	Key         string            `json:"key"`
	Label       string            `json:"label"`
	Required    bool              `json:"required"`
	Type        FieldType         `json:"type"`
	Validations *FieldValidations `json:"validations,omitempty"`
	Options     []string          `json:"options,omitempty"`
}

var (
	ErrEmptyFieldKey    = errors.New("field key cannot be empty")
	ErrInvalidFieldType = errors.New("invalid field type")
	ErrMissingOptions   = errors.New("select field requires options")
)

// Validate checks the field definition.
func (f *FieldDef) Validate() error {
	if f.Key == "" {
		return ErrEmptyFieldKey
	}
	switch f.Type {
	case FieldText, FieldEmail, FieldPhone, FieldSelect, FieldCheckbox:
	default:
		return ErrInvalidFieldType
	}
	if f.Type == FieldSelect && len(f.Options) == 0 {
		return ErrMissingOptions
	}
	return nil
}

// OnboardingSession is the persisted state of one field-collection run.
// Cancelled and completed are terminal, but the row remains for audit/restart.
type OnboardingSession struct {
	SessionID           string            `json:"session_id"`
	AdminID             string            `json:"admin_id"`
	Status              OnboardingStatus  `json:"status"`
	Phase               OnboardingPhase   `json:"phase"`
	StageIndex          int               `json:"stage_index"`
	Fields              []FieldDef        `json:"fields"`
	CollectedData       map[string]string `json:"collected_data"`
	RegisteredUserID    string            `json:"registered_user_id,omitempty"`
	ExternalAuthToken   string            `json:"external_auth_token,omitempty"`
	LastError           string            `json:"last_error,omitempty"`
	LastErrorHTTPStatus int               `json:"last_error_http_status,omitempty"`
	CreatedAt           time.Time         `json:"created_at"`
	UpdatedAt           time.Time         `json:"updated_at"`
}

// ToJSON serializes the session for storage.
func (s *OnboardingSession) ToJSON() (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// FromJSON deserializes a stored session.
func (s *OnboardingSession) FromJSON(data string) error {
	return json.Unmarshal([]byte(data), s)
}

// OnboardingStatusPatch is a partial status update applied to a stored
// session without rewriting its collected data.
type OnboardingStatusPatch struct {
	Status              OnboardingStatus
	LastError           string
	LastErrorHTTPStatus int
}

// OnboardingPrompt is what the field-collection machine exposes to its caller.
type OnboardingPrompt struct {
	MainText string           `json:"mainText"`
	Buttons  []string         `json:"buttons"`
	Action   OnboardingAction `json:"onboardingAction"`
}
