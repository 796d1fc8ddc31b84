package domain

import (
	"strings"
	"time"

	apperrors "github.com/safehaven-connect/safehaven/internal/platform/errors"
)

// AlertType classifies what a shelter needs help with.
type AlertType string

const (
	AlertCapacityFull          AlertType = "capacity_full"
	AlertResourceCritical      AlertType = "resource_critical"
	AlertMedicalEmergency      AlertType = "medical_emergency"
	AlertSecurityIssue         AlertType = "security_issue"
	AlertInfrastructureProblem AlertType = "infrastructure_problem"
	AlertGeneralAssistance     AlertType = "general_assistance"
)

// Valid reports whether t is a known alert type.
func (t AlertType) Valid() bool {
	switch t {
	case AlertCapacityFull, AlertResourceCritical, AlertMedicalEmergency,
		AlertSecurityIssue, AlertInfrastructureProblem, AlertGeneralAssistance:
		return true
	default:
		return false
	}
}

// AlertPriority orders alerts for responders.
type AlertPriority string

const (
	PriorityLow      AlertPriority = "low"
	PriorityMedium   AlertPriority = "medium"
	PriorityHigh     AlertPriority = "high"
	PriorityCritical AlertPriority = "critical"
)

// Valid reports whether p is a known priority.
func (p AlertPriority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	default:
		return false
	}
}

// AlertStatus is the alert lifecycle. It only moves forward.
type AlertStatus string

const (
	AlertOpen         AlertStatus = "open"
	AlertAcknowledged AlertStatus = "acknowledged"
	AlertInProgress   AlertStatus = "in_progress"
	AlertResolved     AlertStatus = "resolved"
)

func (s AlertStatus) rank() int {
	switch s {
	case AlertOpen:
		return 0
	case AlertAcknowledged:
		return 1
	case AlertInProgress:
		return 2
	case AlertResolved:
		return 3
	default:
		return -1
	}
}

// Valid reports whether s is a known alert status.
func (s AlertStatus) Valid() bool {
	return s.rank() >= 0
}

// Alert is a request for help raised against one shelter.
//
// Timestamp (unix milliseconds) is authoritative; CreatedAt is always derived
// from it so the two can never disagree.
type Alert struct {
	ID             string        `json:"id"`
	ShelterID      string        `json:"shelterId"`
	Type           AlertType     `json:"type"`
	Priority       AlertPriority `json:"priority"`
	Title          string        `json:"title"`
	Description    string        `json:"description"`
	Status         AlertStatus   `json:"status"`
	CreatedBy      string        `json:"createdBy"`
	AcknowledgedBy string        `json:"acknowledgedBy,omitempty"`
	AcknowledgedAt *time.Time    `json:"acknowledgedAt,omitempty"`
	ResolvedAt     *time.Time    `json:"resolvedAt,omitempty"`
	Timestamp      int64         `json:"timestamp"`
	CreatedAt      time.Time     `json:"createdAt"`
}

// NewAlertInput carries the client-supplied fields of a new alert.
type NewAlertInput struct {
	ShelterID   string        `json:"shelterId"`
	Type        AlertType     `json:"type"`
	Priority    AlertPriority `json:"priority"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
}

// NewAlert builds an open alert created by createdBy at now.
func NewAlert(alertID string, input NewAlertInput, createdBy string, now time.Time) (Alert, error) {
	input.ShelterID = strings.TrimSpace(input.ShelterID)
	input.Title = strings.TrimSpace(input.Title)
	input.Description = strings.TrimSpace(input.Description)
	if input.ShelterID == "" {
		return Alert{}, apperrors.New(apperrors.CodeInvalidArgument, "alert shelterId is required")
	}
	if !input.Type.Valid() {
		return Alert{}, apperrors.New(apperrors.CodeInvalidArgument, "alert type is invalid")
	}
	if input.Priority == "" {
		input.Priority = PriorityMedium
	}
	if !input.Priority.Valid() {
		return Alert{}, apperrors.New(apperrors.CodeInvalidArgument, "alert priority is invalid")
	}
	if input.Title == "" {
		return Alert{}, apperrors.New(apperrors.CodeInvalidArgument, "alert title is required")
	}
	alert := Alert{
		ID:          alertID,
		ShelterID:   input.ShelterID,
		Type:        input.Type,
		Priority:    input.Priority,
		Title:       input.Title,
		Description: input.Description,
		Status:      AlertOpen,
		CreatedBy:   createdBy,
		Timestamp:   now.UTC().UnixMilli(),
	}
	return alert.Normalize(), nil
}

// Normalize derives CreatedAt from Timestamp.
func (a Alert) Normalize() Alert {
	a.CreatedAt = time.UnixMilli(a.Timestamp).UTC()
	return a
}

// Transition moves the alert to next on behalf of actorID at now. Moving
// backwards or to the current status fails with INVALID_TRANSITION; skipping
// intermediate states is allowed.
func (a Alert) Transition(next AlertStatus, actorID string, now time.Time) (Alert, error) {
	if !next.Valid() {
		return Alert{}, apperrors.New(apperrors.CodeInvalidArgument, "alert status is invalid")
	}
	if next.rank() <= a.Status.rank() {
		return Alert{}, apperrors.WithMetadata(
			apperrors.CodeInvalidTransition,
			"alert status can only move forward",
			map[string]string{"alertId": a.ID, "from": string(a.Status), "to": string(next)},
		)
	}
	at := now.UTC()
	if a.AcknowledgedAt == nil && next.rank() >= AlertAcknowledged.rank() {
		a.AcknowledgedBy = actorID
		a.AcknowledgedAt = &at
	}
	if next == AlertResolved {
		a.ResolvedAt = &at
	}
	a.Status = next
	return a, nil
}
