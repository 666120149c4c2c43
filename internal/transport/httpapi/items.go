package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vladislavdragonenkov/orderengine/internal/domain"
)

func (h *Handler) getOrderItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.queries.GetOrderItem(r.Context(), viewerFrom(r.Context()), chi.URLParam(r, "itemID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderItemResponse(item))
}

func (h *Handler) updateItemStatus(w http.ResponseWriter, r *http.Request) {
	var req updateStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeProblem(w, http.StatusBadRequest, codeInvalidJSON, err.Error())
		return
	}
	target, err := domain.ParseItemStatus(req.Status)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	viewer := viewerFrom(r.Context())
	itemID := chi.URLParam(r, "itemID")
	if err := h.fulfillment.UpdateStatus(r.Context(), viewer, itemID, target); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.respondItem(w, r, viewer, itemID)
}

func (h *Handler) cancelItem(w http.ResponseWriter, r *http.Request) {
	viewer := viewerFrom(r.Context())
	itemID := chi.URLParam(r, "itemID")
	if err := h.fulfillment.Cancel(r.Context(), viewer, itemID); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.respondItem(w, r, viewer, itemID)
}

func (h *Handler) bulkUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req bulkStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeProblem(w, http.StatusBadRequest, codeInvalidJSON, err.Error())
		return
	}
	target, err := domain.ParseItemStatus(req.Status)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := h.fulfillment.BulkUpdateStatus(r.Context(), viewerFrom(r.Context()), req.ItemIDs, target); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bulkStatusResponse{ItemIDs: req.ItemIDs, Status: string(target)})
}

func (h *Handler) bulkCancel(w http.ResponseWriter, r *http.Request) {
	var req bulkCancelRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeProblem(w, http.StatusBadRequest, codeInvalidJSON, err.Error())
		return
	}

	if err := h.fulfillment.BulkCancel(r.Context(), viewerFrom(r.Context()), req.ItemIDs); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bulkStatusResponse{ItemIDs: req.ItemIDs, Status: string(domain.ItemStatusCancelled)})
}

// respondItem отдаёт позицию в состоянии после изменения.
func (h *Handler) respondItem(w http.ResponseWriter, r *http.Request, viewer domain.Viewer, itemID string) {
	item, err := h.queries.GetOrderItem(r.Context(), viewer, itemID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderItemResponse(item))
}
