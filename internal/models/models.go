// Package models defines the core data structures for leadqual.
//
// It includes the conversation message shape, the BANT dimension enum, parsed
// model output, and the qualification result contract shared across modules.
package models

import (
	"errors"
	"time"
)

// Role identifies the author of a conversation message.
type Role string

const (
	// RoleUser marks a message authored by the website visitor.
	RoleUser Role = "user"
	// RoleAssistant marks a message authored by the widget assistant.
	RoleAssistant Role = "assistant"
	// RoleSystem marks an internal instruction message.
	RoleSystem Role = "system"
)

// Dimension is one of the five qualification axes tracked per session.
type Dimension string

const (
	DimensionSegment   Dimension = "segment"
	DimensionBudget    Dimension = "budget"
	DimensionAuthority Dimension = "authority"
	DimensionNeed      Dimension = "need"
	DimensionTimeline  Dimension = "timeline"
)

// DimensionOrder is the canonical evaluation order. Segment is asked first;
// this is a business rule, not incidental.
var DimensionOrder = []Dimension{
	DimensionSegment,
	DimensionBudget,
	DimensionAuthority,
	DimensionNeed,
	DimensionTimeline,
}

// IsValidDimension checks if the given dimension is one of the five axes.
func IsValidDimension(d Dimension) bool {
	switch d {
	case DimensionSegment, DimensionBudget, DimensionAuthority, DimensionNeed, DimensionTimeline:
		return true
	default:
		return false
	}
}

// FollowupType classifies an assistant-initiated followup message.
type FollowupType string

const (
	// FollowupBant marks a question targeting a specific qualification dimension.
	FollowupBant FollowupType = "bant"
	// FollowupProbe marks a generic engagement question with no dimension attached.
	FollowupProbe FollowupType = "probe"
	// FollowupCompletion marks the message sent once all dimensions are answered.
	FollowupCompletion FollowupType = "completion"
)

// ConversationMode selects the probing posture of a session.
type ConversationMode string

const (
	ModeSales          ConversationMode = "sales"
	ModeLeadGeneration ConversationMode = "lead_generation"
)

// Validation constants for message content.
const (
	// MaxMessageContentLength defines the maximum allowed length for stored message content.
	MaxMessageContentLength = 8192
	// MaxButtonLabelLength defines the maximum allowed length for a button label.
	MaxButtonLabelLength = 100
	// MaxButtonCount defines the maximum number of buttons attached to one message.
	MaxButtonCount = 10
)

// Error variables for better error handling and testability
var (
	ErrEmptySessionID     = errors.New("session id cannot be empty")
	ErrInvalidRole        = errors.New("invalid message role")
	ErrEmptyContent       = errors.New("message content cannot be empty")
	ErrContentTooLong     = errors.New("message content exceeds maximum length")
	ErrInvalidFollowup    = errors.New("invalid followup type")
	ErrInvalidDimension   = errors.New("invalid bant dimension")
	ErrTooManyButtons     = errors.New("too many buttons")
	ErrButtonLabelTooLong = errors.New("button label exceeds maximum length")
)

// Message is a single stored conversation turn. Messages are append-only and
// ordered by CreatedAt ascending; that order is the sole source of truth for
// what was asked versus what was answered.
type Message struct {
	ID            string       `json:"id,omitempty"`
	SessionID     string       `json:"session_id"`
	Role          Role         `json:"role"`
	Content       string       `json:"content"`
	CreatedAt     time.Time    `json:"created_at"`
	FollowupType  FollowupType `json:"followup_type,omitempty"`
	BantDimension Dimension    `json:"bant_dimension,omitempty"`
	Buttons       []string     `json:"buttons,omitempty"`
}

// Validate checks the message before storage.
func (m *Message) Validate() error {
	if m.SessionID == "" {
		return ErrEmptySessionID
	}
	switch m.Role {
	case RoleUser, RoleAssistant, RoleSystem:
	default:
		return ErrInvalidRole
	}
	if m.Content == "" {
		return ErrEmptyContent
	}
	if len(m.Content) > MaxMessageContentLength {
		return ErrContentTooLong
	}
	if m.FollowupType != "" {
		switch m.FollowupType {
		case FollowupBant, FollowupProbe, FollowupCompletion:
		default:
			return ErrInvalidFollowup
		}
	}
	if m.BantDimension != "" && !IsValidDimension(m.BantDimension) {
		return ErrInvalidDimension
	}
	if len(m.Buttons) > MaxButtonCount {
		return ErrTooManyButtons
	}
	for _, b := range m.Buttons {
		if len(b) > MaxButtonLabelLength {
			return ErrButtonLabelTooLong
		}
	}
	return nil
}

// ParsedResponse is the normalized shape recovered from raw model output.
// The parser's contract is total: every input yields a fully populated value.
type ParsedResponse struct {
	MainText            string   `json:"mainText"`
	Buttons             []string `json:"buttons"`
	EmailPrompt         string   `json:"emailPrompt"`
	ShowBookingCalendar bool     `json:"showBookingCalendar"`
	BookingType         string   `json:"bookingType,omitempty"`
	FollowupQuestion    string   `json:"followupQuestion,omitempty"`
}

// QualificationResult is the payload the HTTP layer serializes to the client.
// Field names and presence rules are part of the client contract: EmailPrompt
// must be the empty string once the visitor's email is known.
type QualificationResult struct {
	MainText         string       `json:"mainText"`
	Buttons          []string     `json:"buttons"`
	EmailPrompt      string       `json:"emailPrompt"`
	FollowupType     FollowupType `json:"followupType,omitempty"`
	BantDimension    Dimension    `json:"bantDimension,omitempty"`
	MissingDims      []Dimension  `json:"missingDims"`
	Domain           string       `json:"domain,omitempty"`
	Confidence       float64      `json:"confidence"`
	SuggestedActions []string     `json:"suggestedActions"`
}

// QuestionBankEntry is an operator-authored probe for one dimension.
// Operator content always overrides generated content, verbatim.
type QuestionBankEntry struct {
	Dimension Dimension `json:"dimension"`
	Question  string    `json:"question"`
	Buttons   []string  `json:"buttons,omitempty"`
}

// LeadProfile is optional long-lived enrichment data for a visitor. Dimensions
// present in the profile count as answered without any conversation evidence.
type LeadProfile struct {
	Email      string               `json:"email,omitempty"`
	Dimensions map[Dimension]string `json:"dimensions,omitempty"`
}

// API Response types for consistent JSON responses

// APIStatus represents the status field of an API response.
type APIStatus string

const (
	APIStatusOK    APIStatus = "ok"
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}
