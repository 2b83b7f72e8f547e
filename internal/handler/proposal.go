package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"financing-api/internal/model"
	"financing-api/internal/repository"
	"financing-api/internal/service"
)

type ProposalHandler struct {
	proposalService *service.ProposalService
	logger          *logrus.Logger
}

func NewProposalHandler(proposalService *service.ProposalService, logger *logrus.Logger) *ProposalHandler {
	return &ProposalHandler{
		proposalService: proposalService,
		logger:          logger,
	}
}

func (h *ProposalHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("", h.CreateProposal).Methods("POST")
	router.HandleFunc("/{proposalId}", h.GetProposal).Methods("GET")
	router.HandleFunc("/{proposalId}/schedule", h.GetSchedule).Methods("GET")
	router.HandleFunc("/{proposalId}/audit", h.GetAuditTrail).Methods("GET")
	router.HandleFunc("/{proposalId}/approve", h.Approve).Methods("POST")
	router.HandleFunc("/{proposalId}/cancel", h.Cancel).Methods("POST")
	router.HandleFunc("/{proposalId}/contract", h.Contract).Methods("POST")
}

func (h *ProposalHandler) RegisterSimulationRoutes(router *mux.Router) {
	router.HandleFunc("", h.Simulate).Methods("POST")
}

func (h *ProposalHandler) CreateProposal(w http.ResponseWriter, r *http.Request) {
	var req model.CreateProposalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WithError(err).Error("Failed to decode create proposal request")
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}

	actor, ok := r.Context().Value("actor").(string)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	proposal, err := h.proposalService.CreateProposal(r.Context(), req, actor)
	if err != nil {
		h.writeServiceError(w, nil, err)
		return
	}

	writeJSON(w, http.StatusCreated, proposal)
}

func (h *ProposalHandler) GetProposal(w http.ResponseWriter, r *http.Request) {
	proposalID, ok := h.proposalID(w, r)
	if !ok {
		return
	}

	proposal, err := h.proposalService.GetProposal(r.Context(), proposalID)
	if err != nil {
		h.writeServiceError(w, nil, err)
		return
	}

	writeJSON(w, http.StatusOK, proposal)
}

func (h *ProposalHandler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	proposalID, ok := h.proposalID(w, r)
	if !ok {
		return
	}

	schedule, err := h.proposalService.GetSchedule(r.Context(), proposalID)
	if err != nil {
		h.writeServiceError(w, nil, err)
		return
	}

	writeJSON(w, http.StatusOK, schedule)
}

func (h *ProposalHandler) GetAuditTrail(w http.ResponseWriter, r *http.Request) {
	proposalID, ok := h.proposalID(w, r)
	if !ok {
		return
	}

	trail, err := h.proposalService.Trail(r.Context(), proposalID)
	if err != nil {
		h.writeServiceError(w, nil, err)
		return
	}

	writeJSON(w, http.StatusOK, trail)
}

func (h *ProposalHandler) Approve(w http.ResponseWriter, r *http.Request) {
	proposalID, ok := h.proposalID(w, r)
	if !ok {
		return
	}

	var req model.ApproveProposalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WithError(err).Error("Failed to decode approve request")
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}

	actor, ok := r.Context().Value("actor").(string)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	proposal, err := h.proposalService.Approve(r.Context(), proposalID, req, actor)
	if err != nil {
		h.writeServiceError(w, proposal, err)
		return
	}

	writeJSON(w, http.StatusOK, proposal)
}

func (h *ProposalHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	proposalID, ok := h.proposalID(w, r)
	if !ok {
		return
	}

	var req model.CancelProposalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WithError(err).Error("Failed to decode cancel request")
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}

	actor, ok := r.Context().Value("actor").(string)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	proposal, err := h.proposalService.Cancel(r.Context(), proposalID, req.Reason, actor)
	if err != nil {
		h.writeServiceError(w, proposal, err)
		return
	}

	writeJSON(w, http.StatusOK, proposal)
}

func (h *ProposalHandler) Contract(w http.ResponseWriter, r *http.Request) {
	proposalID, ok := h.proposalID(w, r)
	if !ok {
		return
	}

	actor, ok := r.Context().Value("actor").(string)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	proposal, err := h.proposalService.Contract(r.Context(), proposalID, actor)
	if err != nil {
		h.writeServiceError(w, proposal, err)
		return
	}

	writeJSON(w, http.StatusOK, proposal)
}

func (h *ProposalHandler) Simulate(w http.ResponseWriter, r *http.Request) {
	var req model.SimulationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WithError(err).Error("Failed to decode simulation request")
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}

	result, err := h.proposalService.Simulate(req)
	if err != nil {
		h.writeServiceError(w, nil, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *ProposalHandler) proposalID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	vars := mux.Vars(r)
	proposalID, err := uuid.Parse(vars["proposalId"])
	if err != nil {
		http.Error(w, "Invalid proposal ID", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return proposalID, true
}

// writeServiceError maps the engine's error taxonomy to HTTP statuses. When
// the service returned the (unchanged) proposal alongside the error, the
// response carries its current state plus the display-ready reason.
func (h *ProposalHandler) writeServiceError(w http.ResponseWriter, proposal *model.FinancingProposal, err error) {
	body := map[string]any{"error": err.Error()}
	if proposal != nil {
		body["state"] = proposal.State
	}

	var invalidInput *model.InvalidInputError
	var invalidTransition *model.InvalidTransitionError
	var concurrent *model.ConcurrentModificationError
	var denied *model.EligibilityDeniedError
	var approvalPending *model.ApprovalPendingError
	var convergence *model.CETConvergenceError

	switch {
	case errors.As(err, &invalidInput):
		writeJSON(w, http.StatusBadRequest, body)
	case errors.As(err, &invalidTransition):
		writeJSON(w, http.StatusConflict, body)
	case errors.As(err, &concurrent):
		writeJSON(w, http.StatusConflict, body)
	case errors.As(err, &denied):
		writeJSON(w, http.StatusUnprocessableEntity, body)
	case errors.As(err, &approvalPending):
		body["status"] = "approval_requested"
		writeJSON(w, http.StatusAccepted, body)
	case errors.As(err, &convergence):
		writeJSON(w, http.StatusServiceUnavailable, body)
	case errors.Is(err, repository.ErrProposalNotFound):
		writeJSON(w, http.StatusNotFound, body)
	default:
		h.logger.WithError(err).Error("Proposal operation failed")
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
