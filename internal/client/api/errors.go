package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/dmitrijs2005/zkdrop/internal/common"
)

// Error is a non-success API response. It unwraps to the matching
// sentinel of the common package, so callers can use errors.Is.
type Error struct {
	Status     int
	Code       string
	Message    string
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.Status)
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

func (e *Error) Unwrap() error {
	switch e.Code {
	case common.CodeNotFound:
		return common.ErrorNotFound
	case common.CodeExpired:
		return common.ErrExpired
	case common.CodeExhausted:
		return common.ErrDownloadsExhausted
	case common.CodePasswordRequired:
		return common.ErrPasswordRequired
	case common.CodePasswordInvalid:
		return common.ErrPasswordInvalid
	case common.CodeRateLimited:
		return common.ErrRateLimited
	case common.CodeInvalidRequest:
		return common.ErrorIncorrectMetadata
	case common.CodePayloadTooLarge:
		return common.ErrPayloadTooLarge
	case common.CodeUnauthorized:
		return common.ErrorUnauthorized
	case common.CodeForbidden:
		return common.ErrForbidden
	default:
		return common.ErrorInternal
	}
}

func decodeError(resp *http.Response) error {
	e := &Error{Status: resp.StatusCode}

	var body struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxErrorBody)).Decode(&body); err == nil {
		e.Code = body.Code
		e.Message = body.Error
	}
	if s, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && s > 0 {
		e.RetryAfter = time.Duration(s) * time.Second
	}
	return e
}
