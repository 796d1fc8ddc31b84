package domain

import (
	"testing"
	"time"

	apperrors "github.com/safehaven-connect/safehaven/internal/platform/errors"
)

func newTestAlert(t *testing.T) Alert {
	t.Helper()
	alert, err := NewAlert("alert-1", NewAlertInput{
		ShelterID: "S1",
		Type:      AlertMedicalEmergency,
		Priority:  PriorityCritical,
		Title:     "  Insulin needed ",
	}, "op-1", baseTime)
	if err != nil {
		t.Fatalf("new alert: %v", err)
	}
	return alert
}

func TestNewAlertDerivesCreatedAt(t *testing.T) {
	alert := newTestAlert(t)
	if alert.Status != AlertOpen {
		t.Fatalf("status = %q", alert.Status)
	}
	if alert.Title != "Insulin needed" {
		t.Fatalf("title = %q", alert.Title)
	}
	if alert.Timestamp != baseTime.UnixMilli() {
		t.Fatalf("timestamp = %d", alert.Timestamp)
	}
	if !alert.CreatedAt.Equal(baseTime) {
		t.Fatalf("createdAt = %s", alert.CreatedAt)
	}
}

func TestNewAlertDefaultsPriorityAndValidates(t *testing.T) {
	alert, err := NewAlert("a", NewAlertInput{ShelterID: "S1", Type: AlertGeneralAssistance, Title: "Need help"}, "op", baseTime)
	if err != nil {
		t.Fatalf("new alert: %v", err)
	}
	if alert.Priority != PriorityMedium {
		t.Fatalf("priority = %q", alert.Priority)
	}

	invalid := []NewAlertInput{
		{Type: AlertGeneralAssistance, Title: "x"},
		{ShelterID: "S1", Type: "flood", Title: "x"},
		{ShelterID: "S1", Type: AlertGeneralAssistance, Priority: "urgent", Title: "x"},
		{ShelterID: "S1", Type: AlertGeneralAssistance},
	}
	for i, input := range invalid {
		if _, err := NewAlert("a", input, "op", baseTime); !apperrors.HasCode(err, apperrors.CodeInvalidArgument) {
			t.Fatalf("input %d: expected invalid argument, got %v", i, err)
		}
	}
}

func TestAlertTransitionsForwardOnly(t *testing.T) {
	alert := newTestAlert(t)
	ackAt := baseTime.Add(time.Minute)

	acked, err := alert.Transition(AlertAcknowledged, "resp-1", ackAt)
	if err != nil {
		t.Fatalf("acknowledge: %v", err)
	}
	if acked.AcknowledgedBy != "resp-1" || acked.AcknowledgedAt == nil || !acked.AcknowledgedAt.Equal(ackAt) {
		t.Fatalf("unexpected acknowledgement fields %+v", acked)
	}

	if _, err := acked.Transition(AlertOpen, "resp-1", ackAt); !apperrors.HasCode(err, apperrors.CodeInvalidTransition) {
		t.Fatalf("expected invalid transition going back, got %v", err)
	}
	if _, err := acked.Transition(AlertAcknowledged, "resp-2", ackAt); !apperrors.HasCode(err, apperrors.CodeInvalidTransition) {
		t.Fatalf("expected invalid transition repeating, got %v", err)
	}

	resolvedAt := ackAt.Add(time.Hour)
	resolved, err := acked.Transition(AlertResolved, "coord-1", resolvedAt)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.AcknowledgedBy != "resp-1" {
		t.Fatalf("acknowledgedBy overwritten: %q", resolved.AcknowledgedBy)
	}
	if resolved.ResolvedAt == nil || !resolved.ResolvedAt.Equal(resolvedAt) {
		t.Fatalf("resolvedAt = %v", resolved.ResolvedAt)
	}
}

func TestAlertTransitionSkippingRecordsAcknowledgement(t *testing.T) {
	alert := newTestAlert(t)
	resolved, err := alert.Transition(AlertResolved, "coord-1", baseTime)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.AcknowledgedBy != "coord-1" || resolved.AcknowledgedAt == nil {
		t.Fatalf("expected skipped acknowledgement to be recorded: %+v", resolved)
	}
	if _, err := alert.Transition("closed", "x", baseTime); !apperrors.HasCode(err, apperrors.CodeInvalidArgument) {
		t.Fatalf("expected invalid status error, got %v", err)
	}
}
