package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"archivegate/internal/query"
	dErrors "archivegate/pkg/domain-errors"
	"archivegate/pkg/platform/httputil"
	"archivegate/pkg/requestcontext"
)

// queryRequest decodes a descriptor without validating it. Shape errors are
// reported by the pipeline so that they are audited like any other denial.
type queryRequest query.Descriptor

type QueryHandler struct {
	service QueryService
	logger  *slog.Logger
}

func NewQueryHandler(service QueryService, logger *slog.Logger) *QueryHandler {
	return &QueryHandler{service: service, logger: logger}
}

// HandleQuery handles POST /v1/query.
func (h *QueryHandler) HandleQuery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()

	req, ok := httputil.DecodeAndPrepare[queryRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	desc := query.Descriptor(*req)

	resp, err := h.service.Handle(ctx, desc, r.Header.Get("Authorization"))
	if err != nil {
		log := h.logger.WarnContext
		if dErrors.ToHTTPStatus(dErrors.CodeOf(err)) >= http.StatusInternalServerError {
			log = h.logger.ErrorContext
		}
		log(ctx, "query failed",
			"request_id", requestID,
			"dataset", desc.Dataset,
			"error", err,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "query answered",
		"request_id", requestID,
		"dataset", desc.Dataset,
		"query_type", resp.Type,
		"count", resp.Count,
		"audit_entry_id", resp.AuditEntryID,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusOK, resp)
}
