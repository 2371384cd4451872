package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"fieldsync-server/internal/domain"
	"fieldsync-server/internal/middleware"
	"fieldsync-server/internal/repository"
	"fieldsync-server/internal/service"
	"fieldsync-server/pkg/response"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
)

type ConflictHandler struct {
	service  *service.ReviewService
	validate *validator.Validate
}

func NewConflictHandler(service *service.ReviewService) *ConflictHandler {
	return &ConflictHandler{
		service:  service,
		validate: validator.New(),
	}
}

func (h *ConflictHandler) List(w http.ResponseWriter, r *http.Request) {
	tctx, ok := middleware.GetTenantContext(r)
	if !ok {
		response.Unauthorized(w, "Missing tenant context")
		return
	}

	filter := repository.ConflictFilter{
		Status: domain.ConflictStatus(r.URL.Query().Get("status")),
		Well:   r.URL.Query().Get("well"),
	}

	conflicts, err := h.service.List(r.Context(), tctx.TenantID, filter)
	if err != nil {
		response.InternalError(w, "Failed to list conflicts")
		return
	}

	response.Success(w, conflicts)
}

func (h *ConflictHandler) Get(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	conflictID := vars["id"]
	if conflictID == "" {
		response.BadRequest(w, "Conflict ID is required")
		return
	}

	tctx, ok := middleware.GetTenantContext(r)
	if !ok {
		response.Unauthorized(w, "Missing tenant context")
		return
	}

	conflict, err := h.service.Get(r.Context(), tctx.TenantID, conflictID)
	if err != nil {
		if errors.Is(err, domain.ErrConflictNotFound) {
			response.NotFound(w, "Conflict not found")
			return
		}
		response.InternalError(w, "Failed to fetch conflict")
		return
	}

	response.Success(w, conflict)
}

func (h *ConflictHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	conflictID := vars["id"]
	if conflictID == "" {
		response.BadRequest(w, "Conflict ID is required")
		return
	}

	var req domain.ConflictResolutionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request payload")
		return
	}

	if err := h.validate.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	tctx, ok := middleware.GetTenantContext(r)
	if !ok {
		response.Unauthorized(w, "Missing tenant context")
		return
	}

	conflict, err := h.service.Resolve(r.Context(), tctx.TenantID, conflictID, req, tctx.UserID)
	if err != nil {
		h.writeResolveError(w, err)
		return
	}

	response.Success(w, conflict)
}

func (h *ConflictHandler) Ignore(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	conflictID := vars["id"]
	if conflictID == "" {
		response.BadRequest(w, "Conflict ID is required")
		return
	}

	tctx, ok := middleware.GetTenantContext(r)
	if !ok {
		response.Unauthorized(w, "Missing tenant context")
		return
	}

	conflict, err := h.service.Ignore(r.Context(), tctx.TenantID, conflictID, tctx.UserID)
	if err != nil {
		h.writeResolveError(w, err)
		return
	}

	response.Success(w, conflict)
}

func (h *ConflictHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	tctx, ok := middleware.GetTenantContext(r)
	if !ok {
		response.Unauthorized(w, "Missing tenant context")
		return
	}

	eventID := r.URL.Query().Get("event_id")
	if eventID == "" {
		response.BadRequest(w, "event_id query parameter is required")
		return
	}

	entries, err := h.service.ListAuditByEvent(r.Context(), tctx.TenantID, eventID)
	if err != nil {
		response.InternalError(w, "Failed to list audit entries")
		return
	}

	response.Success(w, entries)
}

func (h *ConflictHandler) writeResolveError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrConflictNotFound):
		response.NotFound(w, "Conflict not found")
	case errors.Is(err, domain.ErrConflictAlreadyResolved):
		response.Conflict(w, "Conflict has already been resolved")
	case errors.Is(err, domain.ErrMalformedPayload):
		response.BadRequest(w, "Custom data does not match the record schema")
	default:
		response.InternalError(w, "Failed to resolve conflict")
	}
}
