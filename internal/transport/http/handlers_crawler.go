package httptransport

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	crawlermodels "archivegate/internal/crawler/models"
	dErrors "archivegate/pkg/domain-errors"
	"archivegate/pkg/platform/httputil"
	"archivegate/pkg/requestcontext"
)

type CrawlerHandler struct {
	admin    CrawlerAdmin
	agencies map[string]crawlermodels.Agency
	logger   *slog.Logger
}

func NewCrawlerHandler(admin CrawlerAdmin, agencies []crawlermodels.Agency, logger *slog.Logger) *CrawlerHandler {
	byID := make(map[string]crawlermodels.Agency, len(agencies))
	for _, a := range agencies {
		byID[a.ID] = a
	}
	return &CrawlerHandler{admin: admin, agencies: byID, logger: logger}
}

type rotateResponse struct {
	AgencyID  string              `json:"agency_id"`
	SessionID string              `json:"session_id"`
	State     crawlermodels.State `json:"state"`
}

// HandleRotate handles POST /v1/admin/crawler/{agency}/rotate. Operators call
// it after replacing the agency's credentials; it is the only way out of
// revoked.
func (h *CrawlerHandler) HandleRotate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	agencyID := chi.URLParam(r, "agency")

	agency, ok := h.agencies[agencyID]
	if !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "unknown agency "+agencyID))
		return
	}

	session, err := h.admin.Rotate(ctx, agency)
	if err != nil {
		h.logger.WarnContext(ctx, "session rotation failed",
			"request_id", requestID,
			"agency_id", agencyID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "crawler session rotated",
		"event", "crawler_session_rotated",
		"log_type", "audit",
		"request_id", requestID,
		"agency_id", agencyID,
		"credentials_ref", agency.CredentialsRef,
		"session_id", session.ID,
	)
	httputil.WriteJSON(w, http.StatusOK, rotateResponse{
		AgencyID:  agencyID,
		SessionID: session.ID,
		State:     session.State,
	})
}
