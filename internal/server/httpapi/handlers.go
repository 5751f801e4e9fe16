package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/dmitrijs2005/zkdrop/internal/common"
	"github.com/dmitrijs2005/zkdrop/internal/netx"
	"github.com/dmitrijs2005/zkdrop/internal/server/auth"
	"github.com/dmitrijs2005/zkdrop/internal/server/services"
	"github.com/gorilla/mux"
)

const (
	maxMetadataSize   = 64 << 10
	maxDownloadBody   = 4 << 10
	multipartOverhead = 1 << 20
)

// DownloadRequest is the optional JSON body of a download.
type DownloadRequest struct {
	AccessPassword string `json:"accessPassword,omitempty"`
}

// upload handles POST /api/files, a multipart body with a "metadata" part
// (services.UploadRequest as JSON) and a "file" part (the ciphertext).
func (h *Handler) upload(w http.ResponseWriter, r *http.Request) {
	owner, err := h.owner(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	maxSize := h.svc.MaxUploadSize()
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+maxMetadataSize+multipartOverhead)

	mr, err := r.MultipartReader()
	if err != nil {
		h.writeError(w, r, common.NewValidationError("body", "expected multipart/form-data"))
		return
	}

	var (
		req  *services.UploadRequest
		blob []byte
	)
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			h.writeError(w, r, bodyError(err))
			return
		}

		switch part.FormName() {
		case "metadata":
			req, err = decodeUploadRequest(part)
		case "file":
			blob, err = readLimited(part, maxSize)
		}
		part.Close()
		if err != nil {
			h.writeError(w, r, err)
			return
		}
	}

	if req == nil {
		h.writeError(w, r, common.NewValidationError("metadata", "part is missing"))
		return
	}
	if blob == nil {
		h.writeError(w, r, common.NewValidationError("file", "part is missing"))
		return
	}

	req.Client = netx.ClientIP(r, h.opts.TrustProxy)
	req.Owner = owner

	res, err := h.svc.Upload(r.Context(), *req, blob)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, res)
}

func decodeUploadRequest(part io.Reader) (*services.UploadRequest, error) {
	data, err := io.ReadAll(io.LimitReader(part, maxMetadataSize+1))
	if err != nil {
		return nil, bodyError(err)
	}
	if len(data) > maxMetadataSize {
		return nil, common.NewValidationError("metadata", "too large")
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var req services.UploadRequest
	if err := dec.Decode(&req); err != nil {
		return nil, common.NewValidationError("metadata", "malformed json")
	}
	return &req, nil
}

func readLimited(part io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(part, limit+1))
	if err != nil {
		return nil, bodyError(err)
	}
	if int64(len(data)) > limit {
		return nil, common.ErrPayloadTooLarge
	}
	return data, nil
}

// bodyError keeps size violations recognizable and turns everything else
// into a validation error.
func bodyError(err error) error {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return err
	}
	return common.NewValidationError("body", "malformed multipart body")
}

// describe handles GET /api/files/{shortUrl}.
func (h *Handler) describe(w http.ResponseWriter, r *http.Request) {
	info, err := h.svc.Describe(r.Context(), mux.Vars(r)["shortUrl"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	respondJSON(w, http.StatusOK, info)
}

// download handles POST /api/files/{shortUrl}/download. The body is
// optional and only carries the access password.
func (h *Handler) download(w http.ResponseWriter, r *http.Request) {
	var body DownloadRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxDownloadBody))
	if err := dec.Decode(&body); err != nil && err != io.EOF {
		h.writeError(w, r, common.NewValidationError("body", "malformed json"))
		return
	}

	res, err := h.svc.Download(r.Context(), mux.Vars(r)["shortUrl"], body.AccessPassword)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	meta, err := json.Marshal(res.Metadata)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", common.GenericContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(res.Ciphertext)))
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set(common.MetadataHeaderName, string(meta))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(res.Ciphertext); err != nil {
		h.logger.Warn(r.Context(), "download write interrupted", "error", err)
	}
}

// delete handles DELETE /api/files/{shortUrl} for the file's owner.
func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	owner, err := h.owner(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := h.svc.Delete(r.Context(), mux.Vars(r)["shortUrl"], owner); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// owner returns the owner reference from the bearer token, or "" when the
// request carries no Authorization header.
func (h *Handler) owner(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", nil
	}
	if len(h.opts.JWTSecret) == 0 {
		return "", common.ErrorUnauthorized
	}
	token := auth.BearerToken(header)
	if token == "" {
		return "", common.ErrInvalidToken
	}
	return auth.GetOwnerFromToken(token, h.opts.JWTSecret)
}
