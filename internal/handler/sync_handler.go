package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"fieldsync-server/internal/domain"
	"fieldsync-server/internal/middleware"
	"fieldsync-server/internal/service"
	"fieldsync-server/pkg/response"

	"github.com/go-playground/validator/v10"
)

type SyncHandler struct {
	service        *service.SyncService
	validate       *validator.Validate
	maxBatchEvents int
}

func NewSyncHandler(service *service.SyncService, maxBatchEvents int) *SyncHandler {
	return &SyncHandler{
		service:        service,
		validate:       validator.New(),
		maxBatchEvents: maxBatchEvents,
	}
}

func (h *SyncHandler) Sync(w http.ResponseWriter, r *http.Request) {
	var req domain.SyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request payload")
		return
	}

	if err := h.validate.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	if h.maxBatchEvents > 0 && len(req.Events) > h.maxBatchEvents {
		response.Error(w, http.StatusRequestEntityTooLarge, "Batch exceeds maximum event count")
		return
	}

	tctx, ok := middleware.GetTenantContext(r)
	if !ok {
		response.Unauthorized(w, "Missing tenant context")
		return
	}
	tctx.DeviceID = req.DeviceID

	receivedAt := time.Now().UTC()
	for i := range req.Events {
		req.Events[i].UploadedAt = receivedAt
	}

	result := h.service.SyncBatch(r.Context(), tctx, req.Events)

	response.Success(w, result)
}
