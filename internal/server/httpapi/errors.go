package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/dmitrijs2005/zkdrop/internal/common"
	"github.com/dmitrijs2005/zkdrop/internal/server/services"
)

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{Error: message, Code: code})
}

// classify maps a service error to its HTTP status and code.
func classify(err error) (int, string) {
	var mbe *http.MaxBytesError
	switch {
	case errors.Is(err, common.ErrRateLimited):
		return http.StatusTooManyRequests, common.CodeRateLimited
	case errors.Is(err, common.ErrPayloadTooLarge), errors.As(err, &mbe):
		return http.StatusRequestEntityTooLarge, common.CodePayloadTooLarge
	case errors.Is(err, common.ErrorIncorrectMetadata), errors.Is(err, common.ErrInvalidTTL):
		return http.StatusBadRequest, common.CodeInvalidRequest
	case errors.Is(err, common.ErrorNotFound):
		return http.StatusNotFound, common.CodeNotFound
	case errors.Is(err, common.ErrExpired):
		return http.StatusGone, common.CodeExpired
	case errors.Is(err, common.ErrDownloadsExhausted):
		return http.StatusGone, common.CodeExhausted
	case errors.Is(err, common.ErrPasswordRequired):
		return http.StatusUnauthorized, common.CodePasswordRequired
	case errors.Is(err, common.ErrPasswordInvalid):
		return http.StatusForbidden, common.CodePasswordInvalid
	case errors.Is(err, common.ErrorUnauthorized), errors.Is(err, common.ErrInvalidToken), errors.Is(err, common.ErrTokenExpired):
		return http.StatusUnauthorized, common.CodeUnauthorized
	case errors.Is(err, common.ErrForbidden):
		return http.StatusForbidden, common.CodeForbidden
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, common.CodeTimeout
	default:
		return http.StatusInternalServerError, common.CodeInternal
	}
}

// writeError sends the error body for err. Internal details stay in the
// log; clients get the sentinel text only.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)

	var rl *services.RateLimitError
	if errors.As(err, &rl) && rl.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(rl.RetryAfter.Seconds()))))
	}

	msg := err.Error()
	switch status {
	case http.StatusInternalServerError, http.StatusGatewayTimeout:
		h.logger.Error(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		msg = http.StatusText(status)
	case http.StatusRequestEntityTooLarge:
		msg = common.ErrPayloadTooLarge.Error()
	}
	respondError(w, status, code, msg)
}
