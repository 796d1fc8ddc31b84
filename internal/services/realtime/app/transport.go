package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	apperrors "github.com/safehaven-connect/safehaven/internal/platform/errors"
	"github.com/safehaven-connect/safehaven/internal/platform/id"
	"github.com/safehaven-connect/safehaven/internal/platform/requestctx"
	"github.com/safehaven-connect/safehaven/internal/services/realtime/domain"
	"github.com/safehaven-connect/safehaven/internal/services/realtime/identity"
	"golang.org/x/time/rate"
)

// inboundQueueSize bounds the frames waiting for one connection's worker.
const inboundQueueSize = 32

func newHandler(h *hub) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	mux.Handle("GET /metrics", h.metrics.handler())
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if h.verifier == nil {
			http.Error(w, "websocket auth is not configured", http.StatusServiceUnavailable)
			return
		}
		h.serveWS(w, r)
	})
	mux.HandleFunc("GET /api/shelters", h.handleListShelters)
	mux.HandleFunc("GET /api/shelters/{id}", h.handleGetShelter)
	mux.HandleFunc("GET /api/alerts", h.handleListAlerts)
	return mux
}

func (h *hub) serveWS(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("realtime: websocket upgrade failed remote=%s: %v", r.RemoteAddr, err)
		return
	}
	if h.settings.maxFrameBytes > 0 {
		ws.SetReadLimit(h.settings.maxFrameBytes)
	}
	conn := newWSConn(ws, h.settings.sendQueueSize, h.settings.writeTimeout, h.now())
	ws.SetPongHandler(func(string) error {
		conn.markAlive()
		return nil
	})

	ctx := r.Context()
	who, ok := h.authenticate(ctx, r, ws, conn)
	if !ok {
		return
	}

	connID, err := h.registry.Register(conn, who)
	if err != nil {
		log.Printf("realtime: register connection user=%s: %v", who.UserID, err)
		conn.Close(websocket.CloseInternalServerErr, "registration failed")
		return
	}
	h.metrics.activeConnections.Inc()
	conn.setState(stateActive)
	defer h.disconnect(connID, conn)
	ctx = requestctx.WithConnectionID(requestctx.WithUserID(ctx, who.UserID), connID)

	log.Printf("realtime: connected connection=%s user=%s role=%s", connID, who.UserID, who.Role)
	connected, err := encodeFrame(frameConnected, "", connectedPayload{
		ConnectionID: connID,
		UserID:       who.UserID,
		Role:         who.Role,
		ShelterID:    who.ShelterID,
	}, h.now())
	if err == nil {
		_ = conn.Enqueue(connected)
	}

	h.readLoop(ctx, connID, who, ws, conn)
}

// authenticate resolves the connection's identity from the upgrade request or
// from an authenticate frame received within the auth window. On failure the
// connection is closed before returning.
func (h *hub) authenticate(ctx context.Context, r *http.Request, ws *websocket.Conn, conn *wsConn) (domain.Identity, bool) {
	conn.setState(stateAuthenticating)
	if token := identity.BearerToken(r); token != "" {
		return h.verifyCredential(ctx, conn, token)
	}

	if h.settings.authTimeout > 0 {
		_ = ws.SetReadDeadline(time.Now().Add(h.settings.authTimeout))
	}
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if isTimeout(err) {
				log.Printf("realtime: authentication window expired remote=%s", r.RemoteAddr)
				h.metrics.reaped.WithLabelValues("auth_timeout").Inc()
				conn.Close(closeAuthTimeout, "authentication timeout")
			} else {
				conn.Close(websocket.CloseAbnormalClosure, "")
			}
			return domain.Identity{}, false
		}

		var frame clientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			_ = conn.Enqueue(errorFrame("", apperrors.New(apperrors.CodeInvalidArgument, "invalid frame payload"), h.now()))
			continue
		}
		switch frame.Action {
		case actionPing:
			_ = conn.Enqueue(pongFrame(frame.RequestID, h.now()))
		case actionAuthenticate:
			var payload authenticatePayload
			if err := json.Unmarshal(frame.Data, &payload); err != nil {
				payload.Token = ""
			}
			who, ok := h.verifyCredential(ctx, conn, payload.Token)
			if ok {
				_ = ws.SetReadDeadline(time.Time{})
			}
			return who, ok
		default:
			_ = conn.Enqueue(errorFrame(frame.RequestID, apperrors.New(apperrors.CodeAuthentication, "authenticate before sending "+frame.Action), h.now()))
		}
	}
}

func (h *hub) verifyCredential(ctx context.Context, conn *wsConn, token string) (domain.Identity, bool) {
	verifyCtx := ctx
	if h.settings.authTimeout > 0 {
		var cancel context.CancelFunc
		verifyCtx, cancel = context.WithTimeout(ctx, h.settings.authTimeout)
		defer cancel()
	}
	who, err := h.verifier.Verify(verifyCtx, token)
	if err == nil {
		return who, true
	}
	if errors.Is(verifyCtx.Err(), context.DeadlineExceeded) {
		log.Printf("realtime: credential check exceeded the authentication window: %v", err)
		h.metrics.reaped.WithLabelValues("auth_timeout").Inc()
		conn.Close(closeAuthTimeout, "authentication timeout")
		return domain.Identity{}, false
	}
	if apperrors.HasCode(err, apperrors.CodeAuthentication) {
		log.Printf("realtime: credential rejected: %v", err)
		h.metrics.reaped.WithLabelValues("invalid_credential").Inc()
		conn.Close(closeInvalidCredential, apperrors.MessageOf(err))
		return domain.Identity{}, false
	}
	log.Printf("realtime: credential check unavailable: %v", err)
	conn.Close(websocket.CloseTryAgainLater, "authentication unavailable")
	return domain.Identity{}, false
}

func (h *hub) disconnect(connID string, conn *wsConn) {
	if _, ok := h.registry.Unregister(connID); ok {
		h.metrics.activeConnections.Dec()
		log.Printf("realtime: disconnected connection=%s", connID)
	}
	conn.Close(websocket.CloseNormalClosure, "")
}

// readLoop keeps reading for the life of the connection so pong control
// frames and JSON pings are served immediately. Every other frame is handed
// to the connection's worker, which handles frames one at a time in arrival
// order.
func (h *hub) readLoop(ctx context.Context, connID string, who domain.Identity, ws *websocket.Conn, conn *wsConn) {
	var limiter *rate.Limiter
	if h.settings.maxFramesPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(h.settings.maxFramesPerSecond), h.settings.maxFramesPerSecond)
	}
	inbound := make(chan clientFrame, inboundQueueSize)
	h.workers.Add(1)
	go h.work(ctx, conn, who, inbound)
	defer close(inbound)

	decodeErrors := 0
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && conn.currentState() != stateClosed {
				log.Printf("realtime: read connection=%s: %v", connID, err)
			}
			return
		}
		conn.markAlive()

		var frame clientFrame
		decodeErr := json.Unmarshal(data, &frame)
		if decodeErr == nil && frame.Action == actionPing {
			h.reply(conn, pongFrame(frame.RequestID, h.now()))
			continue
		}
		if limiter != nil && !limiter.Allow() {
			h.reply(conn, errorFrame(frame.RequestID, apperrors.New(apperrors.CodeRateLimited, "frame rate limit exceeded"), h.now()))
			continue
		}
		if decodeErr != nil {
			decodeErrors++
			h.reply(conn, errorFrame("", apperrors.New(apperrors.CodeInvalidArgument, "invalid frame payload"), h.now()))
			if h.settings.maxDecodeErrors > 0 && decodeErrors >= h.settings.maxDecodeErrors {
				h.metrics.reaped.WithLabelValues("invalid_frames").Inc()
				conn.Close(websocket.ClosePolicyViolation, "too many invalid frames")
				return
			}
			continue
		}
		decodeErrors = 0

		select {
		case inbound <- frame:
		default:
			h.reply(conn, errorFrame(frame.RequestID, apperrors.New(apperrors.CodeRateLimited, "too many requests in flight"), h.now()))
		}
	}
}

// work handles queued frames for one connection. Frames still queued when
// the connection closes are dropped; a frame already being handled runs to
// completion.
func (h *hub) work(ctx context.Context, conn *wsConn, who domain.Identity, inbound <-chan clientFrame) {
	defer h.workers.Done()
	ctx = context.WithoutCancel(ctx)
	for frame := range inbound {
		if conn.currentState() == stateClosed {
			continue
		}
		h.handleFrame(ctx, conn, who, frame)
	}
}

func (h *hub) handleFrame(ctx context.Context, conn *wsConn, who domain.Identity, frame clientFrame) {
	var (
		ack any
		err error
	)
	switch frame.Action {
	case actionAuthenticate:
		err = apperrors.New(apperrors.CodeInvalidArgument, "connection is already authenticated")
	case actionShelterUpdate:
		ack, err = h.handleShelterUpdate(ctx, who, frame)
	case actionBroadcast:
		ack, err = h.handleBroadcast(ctx, who, frame)
	case actionAlertCreate:
		ack, err = h.handleAlertCreate(ctx, who, frame)
	case actionAlertUpdate:
		ack, err = h.handleAlertUpdate(ctx, who, frame)
	default:
		err = apperrors.New(apperrors.CodeInvalidArgument, "unsupported action")
	}

	if err != nil {
		if code := apperrors.CodeOf(err); code == apperrors.CodeUnknown || code == apperrors.CodePersistence {
			log.Printf("realtime: %s %s: %v", frame.Action, requestctx.Attribution(ctx), err)
		}
		h.reply(conn, errorFrame(frame.RequestID, err, h.now()))
		return
	}
	encoded, encErr := encodeFrame(frameAck, frame.RequestID, ack, h.now())
	if encErr != nil {
		log.Printf("realtime: encode ack: %v", encErr)
		return
	}
	h.reply(conn, encoded)
}

func (h *hub) reply(conn *wsConn, frame []byte) {
	if err := conn.Enqueue(frame); err != nil && !errors.Is(err, errConnectionClosed) {
		log.Printf("realtime: reply dropped: %v", err)
	}
}

func (h *hub) handleShelterUpdate(ctx context.Context, who domain.Identity, frame clientFrame) (any, error) {
	var data shelterUpdateData
	if err := decodeData(frame.Data, &data); err != nil {
		return nil, err
	}
	shelterID := strings.TrimSpace(data.ShelterID)
	if shelterID == "" {
		shelterID = who.ShelterID
	}
	shelter, err := h.ingestor.ApplyUpdate(ctx, shelterID, data.ShelterStatusUpdate, who)
	if err != nil {
		return nil, err
	}
	return ackPayload{Status: "ok", ShelterID: shelter.ID, LastUpdated: shelter.LastUpdated.UnixMilli()}, nil
}

func (h *hub) handleBroadcast(ctx context.Context, who domain.Identity, frame clientFrame) (any, error) {
	var data broadcastData
	if err := decodeData(frame.Data, &data); err != nil {
		return nil, err
	}
	data.Message = strings.TrimSpace(data.Message)
	if data.Message == "" {
		return nil, apperrors.New(apperrors.CodeInvalidArgument, "message is required")
	}
	if data.Urgency == "" {
		data.Urgency = domain.PriorityMedium
	}
	if !data.Urgency.Valid() {
		return nil, apperrors.New(apperrors.CodeInvalidArgument, "urgency is invalid")
	}
	if frame.Target == nil {
		return nil, apperrors.New(apperrors.CodeInvalidArgument, "target is required")
	}
	target := *frame.Target
	if err := target.Validate(); err != nil {
		return nil, err
	}
	if !who.CanBroadcast(target) {
		return nil, apperrors.New(apperrors.CodeAuthorization, "not allowed to broadcast to this target")
	}
	notificationID, err := id.WithPrefix("note")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeUnknown, "generate notification id", err)
	}

	report := h.dispatcher.Broadcast(ctx, Event{
		Type: frameNotification,
		Payload: notificationPayload{
			ID:      notificationID,
			Message: data.Message,
			Urgency: data.Urgency,
			From:    who,
			Target:  target,
		},
		Target: target,
	})
	delivered := len(report.Delivered)
	failed := len(report.Failures)
	return ackPayload{Status: "ok", Delivered: &delivered, Failed: &failed}, nil
}

func (h *hub) handleAlertCreate(ctx context.Context, who domain.Identity, frame clientFrame) (any, error) {
	var input domain.NewAlertInput
	if err := decodeData(frame.Data, &input); err != nil {
		return nil, err
	}
	alert, err := h.ingestor.CreateAlert(ctx, input, who)
	if err != nil {
		return nil, err
	}
	return ackPayload{Status: "ok", AlertID: alert.ID, ShelterID: alert.ShelterID}, nil
}

func (h *hub) handleAlertUpdate(ctx context.Context, who domain.Identity, frame clientFrame) (any, error) {
	var data alertUpdateData
	if err := decodeData(frame.Data, &data); err != nil {
		return nil, err
	}
	alert, err := h.ingestor.UpdateAlert(ctx, data.AlertID, data.Status, who)
	if err != nil {
		return nil, err
	}
	return ackPayload{Status: "ok", AlertID: alert.ID, ShelterID: alert.ShelterID}, nil
}

func decodeData(raw json.RawMessage, target any) error {
	if len(raw) == 0 {
		return apperrors.New(apperrors.CodeInvalidArgument, "data is required")
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return apperrors.Wrap(apperrors.CodeInvalidArgument, "invalid data payload", err)
	}
	return nil
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
