package server

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"

	apperrors "github.com/safehaven-connect/safehaven/internal/platform/errors"
	"github.com/safehaven-connect/safehaven/internal/services/realtime/domain"
	"github.com/safehaven-connect/safehaven/internal/services/realtime/identity"
	"github.com/safehaven-connect/safehaven/internal/services/realtime/storage"
)

type apiErrorEnvelope struct {
	Error errorPayload `json:"error"`
}

func (h *hub) requestIdentity(r *http.Request) (domain.Identity, error) {
	if h.verifier == nil {
		return domain.Identity{}, apperrors.New(apperrors.CodeUnavailable, "auth is not configured")
	}
	return h.verifier.Verify(r.Context(), identity.BearerToken(r))
}

func (h *hub) handleListShelters(w http.ResponseWriter, r *http.Request) {
	if _, err := h.requestIdentity(r); err != nil {
		writeAPIError(w, err)
		return
	}
	shelters, err := h.ingestor.Shelters(r.Context())
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"shelters": shelters})
}

func (h *hub) handleGetShelter(w http.ResponseWriter, r *http.Request) {
	if _, err := h.requestIdentity(r); err != nil {
		writeAPIError(w, err)
		return
	}
	shelter, err := h.ingestor.Shelter(r.Context(), r.PathValue("id"))
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, shelter)
}

// handleListAlerts lists alerts. Operators only ever see their own shelter's
// alerts, whatever shelter_id they ask for.
func (h *hub) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	who, err := h.requestIdentity(r)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	query := r.URL.Query()
	filter := storage.AlertFilter{
		ShelterID: strings.TrimSpace(query.Get("shelter_id")),
		Status:    domain.AlertStatus(strings.TrimSpace(query.Get("status"))),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		writeAPIError(w, apperrors.New(apperrors.CodeInvalidArgument, "status is invalid"))
		return
	}
	if who.Role == domain.RoleShelterOperator {
		if who.ShelterID == "" {
			writeJSON(w, http.StatusOK, map[string]any{"alerts": []domain.Alert{}})
			return
		}
		if filter.ShelterID != "" && filter.ShelterID != who.ShelterID {
			writeAPIError(w, apperrors.New(apperrors.CodeAuthorization, "not allowed to read this shelter's alerts"))
			return
		}
		filter.ShelterID = who.ShelterID
	}
	alerts, err := h.ingestor.Alerts(r.Context(), filter)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": alerts})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("realtime: write api response: %v", err)
	}
}

func writeAPIError(w http.ResponseWriter, err error) {
	payload := errorPayload{
		Code:    apperrors.CodeOf(err),
		Message: apperrors.MessageOf(err),
	}
	if domainErr, ok := apperrors.AsError(err); ok {
		payload.Retryable = domainErr.Retryable()
	}
	writeJSON(w, payload.Code.HTTPStatus(), apiErrorEnvelope{Error: payload})
}
