package httpnode

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/prismdkg/prism"
)

// statusForKind maps protocol error kinds to HTTP status codes. Clients
// recover the kind from the body, not the status.
func statusForKind(kind prism.ErrorKind) int {
	switch kind {
	case prism.KindInvalidPeerSet, prism.KindInvalidRequest, prism.KindUnsafePoint:
		return http.StatusBadRequest
	case prism.KindInvalidToken, prism.KindDecryptionFailed:
		return http.StatusForbidden
	case prism.KindNotFound, prism.KindSessionStateMissing:
		return http.StatusNotFound
	case prism.KindKeyIDMismatch, prism.KindInvalidState:
		return http.StatusConflict
	case prism.KindExpired, prism.KindExpiredShare:
		return http.StatusGone
	case prism.KindAggregateSignatureInvalid:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, logger zerolog.Logger, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error().Err(err).Msg("failed to encode response")
	}
}

// writeError renders err as an ErrorResponse. Internal causes are not
// exposed to the caller.
func writeError(w http.ResponseWriter, logger zerolog.Logger, err error) {
	resp := ErrorResponse{Kind: prism.KindInternal, Error: "internal error"}
	var pe *prism.ProtocolError
	if errors.As(err, &pe) {
		resp = ErrorResponse{
			Error:   pe.Message,
			Kind:    pe.Kind,
			Code:    pe.Code,
			Details: pe.Details,
		}
		if pe.Kind == prism.KindInternal {
			resp.Details = ""
		}
	}
	writeJSON(w, logger, resp, statusForKind(resp.Kind))
}

// errorFromResponse rebuilds a ProtocolError of the same kind from a reply.
func errorFromResponse(status int, resp *ErrorResponse) error {
	base := prism.ErrorForKind(resp.Kind)
	if resp.Details != "" {
		return base.WithDetails("%s", resp.Details).WithContext("http_status", status)
	}
	return base.WithContext("http_status", status)
}
