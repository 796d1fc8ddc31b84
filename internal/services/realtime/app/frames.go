package server

import (
	"encoding/json"
	"log"
	"time"

	apperrors "github.com/safehaven-connect/safehaven/internal/platform/errors"
	"github.com/safehaven-connect/safehaven/internal/services/realtime/domain"
)

// Client actions.
const (
	actionPing          = "ping"
	actionPong          = "pong"
	actionAuthenticate  = "authenticate"
	actionShelterUpdate = "shelter_update"
	actionBroadcast     = "broadcast"
	actionAlertCreate   = "alert_create"
	actionAlertUpdate   = "alert_update"
)

// Server frame types.
const (
	frameConnected     = "CONNECTED"
	frameAck           = "ACK"
	frameError         = "ERROR"
	frameShelterUpdate = "SHELTER_UPDATE"
	frameAlert         = "ALERT"
	frameNotification  = "NOTIFICATION"
)

// Application close codes.
const (
	closeHeartbeatTimeout  = 4002
	closeInvalidCredential = 4401
	closeAuthTimeout       = 4408
)

type clientFrame struct {
	Action    string          `json:"action"`
	RequestID string          `json:"request_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Target    *domain.Target  `json:"target,omitempty"`
}

type serverFrame struct {
	Type      string          `json:"type,omitempty"`
	Action    string          `json:"action,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

type authenticatePayload struct {
	Token string `json:"token"`
}

type connectedPayload struct {
	ConnectionID string      `json:"connectionId"`
	UserID       string      `json:"userId"`
	Role         domain.Role `json:"role"`
	ShelterID    string      `json:"shelterId,omitempty"`
}

type errorPayload struct {
	Code      apperrors.Code    `json:"code"`
	Message   string            `json:"message"`
	Retryable bool              `json:"retryable"`
	Details   map[string]string `json:"details,omitempty"`
}

type ackPayload struct {
	Status      string `json:"status"`
	ShelterID   string `json:"shelterId,omitempty"`
	AlertID     string `json:"alertId,omitempty"`
	LastUpdated int64  `json:"lastUpdated,omitempty"`
	Delivered   *int   `json:"delivered,omitempty"`
	Failed      *int   `json:"failed,omitempty"`
}

type shelterUpdateData struct {
	ShelterID string `json:"shelterId"`
	domain.ShelterStatusUpdate
}

type broadcastData struct {
	Message string               `json:"message"`
	Urgency domain.AlertPriority `json:"urgency"`
}

type notificationPayload struct {
	ID      string               `json:"id"`
	Message string               `json:"message"`
	Urgency domain.AlertPriority `json:"urgency"`
	From    domain.Identity      `json:"from"`
	Target  domain.Target        `json:"target"`
}

type alertUpdateData struct {
	AlertID string             `json:"alertId"`
	Status  domain.AlertStatus `json:"status"`
}

// encodeFrame renders a server frame once so fan-out never re-marshals per
// recipient.
func encodeFrame(frameType string, requestID string, data any, at time.Time) ([]byte, error) {
	frame := serverFrame{
		Type:      frameType,
		RequestID: requestID,
		Timestamp: at.UTC().UnixMilli(),
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		frame.Data = raw
	}
	return json.Marshal(frame)
}

func pongFrame(requestID string, at time.Time) []byte {
	encoded, err := json.Marshal(serverFrame{Action: actionPong, RequestID: requestID, Timestamp: at.UTC().UnixMilli()})
	if err != nil {
		log.Printf("realtime: encode pong: %v", err)
		return nil
	}
	return encoded
}

func errorFrame(requestID string, err error, at time.Time) []byte {
	payload := errorPayload{
		Code:    apperrors.CodeOf(err),
		Message: apperrors.MessageOf(err),
	}
	if domainErr, ok := apperrors.AsError(err); ok {
		payload.Retryable = domainErr.Retryable()
		payload.Details = domainErr.Metadata
	}
	encoded, encErr := encodeFrame(frameError, requestID, payload, at)
	if encErr != nil {
		log.Printf("realtime: encode error frame: %v", encErr)
		return nil
	}
	return encoded
}
