package httptransport

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	dErrors "archivegate/pkg/domain-errors"
	"archivegate/pkg/platform/httputil"
	"archivegate/pkg/platform/middleware/auth"
)

type BudgetHandler struct {
	service BudgetService
	logger  *slog.Logger
}

func NewBudgetHandler(service BudgetService, logger *slog.Logger) *BudgetHandler {
	return &BudgetHandler{service: service, logger: logger}
}

type budgetResponse struct {
	DatasetID    string  `json:"dataset_id"`
	EpsilonCap   float64 `json:"epsilon_cap"`
	EpsilonSpent float64 `json:"epsilon_spent"`
	Remaining    float64 `json:"epsilon_remaining"`
	Window       string  `json:"window"`
}

// HandleGet handles GET /v1/budget/{dataset} for the calling requester. A
// requester can only see accounts for datasets their token covers.
func (h *BudgetHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	scope, ok := auth.ScopeFrom(ctx)
	if !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return
	}
	dataset := chi.URLParam(r, "dataset")
	if !scope.Allows(dataset) {
		httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "token does not cover dataset "+dataset))
		return
	}

	b, err := h.service.Get(ctx, scope.RequesterID, dataset)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeInternal) {
			h.logger.ErrorContext(ctx, "read budget failed", "dataset", dataset, "error", err)
		}
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, budgetResponse{
		DatasetID:    b.DatasetID,
		EpsilonCap:   b.EpsilonCap,
		EpsilonSpent: b.EpsilonSpent,
		Remaining:    b.Remaining(),
		Window:       string(b.Window),
	})
}
