package httptransport

import (
	"log/slog"
	"net/http"
	"strconv"

	dErrors "archivegate/pkg/domain-errors"
	"archivegate/pkg/platform/audit"
	"archivegate/pkg/platform/httputil"
	"archivegate/pkg/requestcontext"
)

type AuditHandler struct {
	service AuditService
	logger  *slog.Logger
}

func NewAuditHandler(service AuditService, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{service: service, logger: logger}
}

type headResponse struct {
	Empty bool         `json:"empty"`
	Head  *audit.Entry `json:"head,omitempty"`
}

// HandleVerify handles GET /v1/audit/verify?from=&to=. Omitted bounds cover
// the whole chain.
func (h *AuditHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	from, err := entryParam(r, "from")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	to, err := entryParam(r, "to")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if to != 0 && to < from {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "to must not be before from"))
		return
	}

	result, err := h.service.Verify(ctx, from, to)
	if err != nil {
		h.logger.ErrorContext(ctx, "audit verification failed",
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "verify audit trail"))
		return
	}

	h.logger.InfoContext(ctx, "audit chain verified",
		"event", "audit_chain_verified",
		"log_type", "audit",
		"request_id", requestID,
		"requester_id", requestcontext.RequesterID(ctx),
		"valid", result.Valid,
		"checked", result.Checked,
	)
	httputil.WriteJSON(w, http.StatusOK, result)
}

// HandleHead handles GET /v1/audit/head.
func (h *AuditHandler) HandleHead(w http.ResponseWriter, r *http.Request) {
	head, ok, err := h.service.Head(r.Context())
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "read audit head"))
		return
	}
	if !ok {
		httputil.WriteJSON(w, http.StatusOK, headResponse{Empty: true})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, headResponse{Head: &head})
}

func entryParam(r *http.Request, name string) (audit.EntryID, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, dErrors.New(dErrors.CodeInvalidInput, name+" must be an entry id")
	}
	return audit.EntryID(n), nil
}
