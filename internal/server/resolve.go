package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/gridstone/gridstone/internal/ctxlog"
	"github.com/gridstone/gridstone/internal/timeline"
)

// resolvePayload is the request body of the resolve endpoint. An empty
// body is an apply-mode run.
type resolvePayload struct {
	DryRun       bool `json:"dryRun"`
	ValidateOnly bool `json:"validateOnly"`
}

// validationFailure is the 422 body of a blocked validate-only run.
type validationFailure struct {
	Error  string   `json:"error"`
	Errors []string `json:"errors"`
}

func (s *Server) handleResolveTimeline(w http.ResponseWriter, r *http.Request) {
	projectID, ok := pathID(w, r, "projectID")
	if !ok {
		return
	}

	var payload resolvePayload
	if body, err := io.ReadAll(r.Body); err == nil && len(body) > 0 {
		if !decodeBodyBytes(w, body, &payload) {
			return
		}
	}

	ctx := ctxlog.WithLogger(r.Context(), s.logger)
	summary, err := s.runner.Run(ctx, projectID, timeline.Options{
		DryRun:       payload.DryRun,
		ValidateOnly: payload.ValidateOnly,
	})
	if err != nil {
		if errors.Is(err, timeline.ErrValidation) {
			writeJSON(w, http.StatusUnprocessableEntity, validationFailure{
				Error:  "timeline validation failed; no periods were changed",
				Errors: summary.Errors,
			})
			return
		}
		s.logger.Error("timeline resolution failed", "project_id", projectID, "error", err)
		writeError(w, http.StatusInternalServerError, "timeline resolution failed; no periods were changed")
		return
	}

	writeJSON(w, http.StatusOK, summary)
}
