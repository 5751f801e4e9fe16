// Package api is the HTTP client of the ZKDrop file API. It only ever
// sends ciphertext and public metadata; keys stay with the caller.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dmitrijs2005/zkdrop/internal/common"
	"github.com/dmitrijs2005/zkdrop/internal/retryx"
	"github.com/dmitrijs2005/zkdrop/internal/server/models"
)

const (
	DefaultTimeout = 60 * time.Second

	maxErrorBody = 64 << 10
)

var ErrInvalidServerURL = errors.New("invalid server url")

type KeyData struct {
	Salt              []byte `json:"salt,omitempty"`
	IsPasswordDerived bool   `json:"isPasswordDerived"`
}

type UploadRequest struct {
	Metadata       models.PublicMetadata `json:"publicMetadata"`
	KeyData        KeyData               `json:"keyData"`
	AccessPassword string                `json:"accessPassword,omitempty"`
	TTLClass       string                `json:"ttlClass"`
	MaxDownloads   *int64                `json:"maxDownloads,omitempty"`
}

type UploadResponse struct {
	ShortURL     string                `json:"shortUrl"`
	ShareableURL string                `json:"shareableUrl"`
	ExpiresAt    time.Time             `json:"expiresAt"`
	Metadata     models.PublicMetadata `json:"publicMetadata"`
}

type FileInfo struct {
	ShortURL           string                `json:"shortUrl"`
	Metadata           models.PublicMetadata `json:"publicMetadata"`
	RequiresPassword   bool                  `json:"requiresPassword"`
	ExpiresAt          time.Time             `json:"expiresAt"`
	DownloadCount      int64                 `json:"downloadCount"`
	RemainingDownloads *int64                `json:"remainingDownloads,omitempty"`
}

type Download struct {
	Ciphertext []byte
	Metadata   models.PublicMetadata
}

type Client struct {
	baseURL string
	token   string
	http    *http.Client
	retry   retryx.Config
}

// New returns a client for the API served at baseURL. token, when set, is
// sent as a bearer token and makes uploads deletable by its owner.
func New(baseURL, token string, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, ErrInvalidServerURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
		retry:   retryx.DefaultConfig(),
	}, nil
}

// BaseURL is the API root this client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Upload posts blob with its metadata as multipart/form-data.
func (c *Client) Upload(ctx context.Context, req UploadRequest, blob []byte) (*UploadResponse, error) {
	meta, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("metadata", string(meta)); err != nil {
		return nil, err
	}
	fw, err := mw.CreateFormFile("file", "blob")
	if err != nil {
		return nil, err
	}
	if _, err := fw.Write(blob); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	httpReq, err := c.newRequest(ctx, http.MethodPost, "/api/files", &body)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	var res UploadResponse
	if err := c.doJSON(httpReq, http.StatusCreated, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Info fetches the public view of a file without consuming a download.
func (c *Client) Info(ctx context.Context, shortURL string) (*FileInfo, error) {
	var info FileInfo
	err := retryx.Do(ctx, c.retry, func(ctx context.Context) error {
		req, err := c.newRequest(ctx, http.MethodGet, "/api/files/"+url.PathEscape(shortURL), nil)
		if err != nil {
			return err
		}
		return c.doJSON(req, http.StatusOK, &info)
	})
	if err != nil {
		return nil, err
	}
	return &info, nil
}

// Download consumes one download of shortURL. It is never retried.
func (c *Client) Download(ctx context.Context, shortURL, accessPassword string) (*Download, error) {
	var body io.Reader
	if accessPassword != "" {
		b, err := json.Marshal(map[string]string{"accessPassword": accessPassword})
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(b)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/api/files/"+url.PathEscape(shortURL)+"/download", body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}

	var d Download
	if err := json.Unmarshal([]byte(resp.Header.Get(common.MetadataHeaderName)), &d.Metadata); err != nil {
		return nil, fmt.Errorf("metadata header: %w", err)
	}
	if d.Ciphertext, err = io.ReadAll(resp.Body); err != nil {
		return nil, err
	}
	if int64(len(d.Ciphertext)) != d.Metadata.EncryptedSize {
		return nil, fmt.Errorf("short body: got %d of %d bytes", len(d.Ciphertext), d.Metadata.EncryptedSize)
	}
	return &d, nil
}

// Delete removes a file owned by the client's token.
func (c *Client) Delete(ctx context.Context, shortURL string) error {
	if c.token == "" {
		return common.ErrorUnauthorized
	}
	req, err := c.newRequest(ctx, http.MethodDelete, "/api/files/"+url.PathEscape(shortURL), nil)
	if err != nil {
		return err
	}
	return c.doJSON(req, http.StatusNoContent, nil)
}

// Ping checks that the server answers its health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return err
	}
	return c.doJSON(req, http.StatusOK, nil)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) doJSON(req *http.Request, want int, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		return decodeError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
