package api

import "net/http"

// ListAnalyses handles GET /api/analyses. Only the caller's own records are
// visible, newest first.
func (a *API) ListAnalyses(w http.ResponseWriter, r *http.Request) {
	p := principalFromContext(r.Context())
	limit, offset := parsePagination(r)

	recs, total, err := a.store.ListAnalyses(r.Context(), p.ID, limit, offset)
	if err != nil {
		a.writeInternalError(w, r, "listing analyses", err)
		return
	}

	out := make([]AnalysisResponse, 0, len(recs))
	for _, rec := range recs {
		out = append(out, AnalysisResponse{
			ID:         rec.ID,
			Label:      rec.PredictedLabel,
			Confidence: rec.Confidence,
			CreatedAt:  rec.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, ListAnalysesResponse{
		Analyses:   out,
		Pagination: pageMeta(total, len(out), limit, offset),
	})
}
