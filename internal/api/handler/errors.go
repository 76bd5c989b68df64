package handler

import (
	"log/slog"
	"net/http"

	"github.com/mcoot/partyrelay/internal/api/apierr"
	"github.com/mcoot/partyrelay/internal/logger"
)

// writeError answers with the mapped API error, logging anything unexpected
func writeError(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	if apierr.IsInternal(err) {
		log.ErrorContext(r.Context(), "request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			logger.Err(err))
	}
	apierr.WriteError(w, err)
}
