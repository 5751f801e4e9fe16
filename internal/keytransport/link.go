// Package keytransport builds and parses share links.
//
// The server-visible part of a link (scheme, host, path, query) only ever
// carries the short URL. Key material, when the link embeds it, lives in the
// fragment, which user agents do not send to the server.
package keytransport

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/dmitrijs2005/zkdrop/internal/common"
	"github.com/dmitrijs2005/zkdrop/internal/cryptox"
)

// Key hints recorded in public metadata.
const (
	HintEmbedded = "embedded"
	HintPassword = "password"
)

const fragmentKeyParam = "key"

var (
	ErrInvalidBaseURL  = errors.New("invalid base url")
	ErrInvalidLink     = errors.New("invalid share link")
	ErrInvalidShortURL = errors.New("invalid short url")
)

// KeyData describes how the recipient obtains the decryption key.
// Key is only ever set on the client side.
type KeyData struct {
	IsPasswordDerived bool
	Salt              []byte
	Key               *cryptox.Key
}

// Hint returns the key hint stored next to the ciphertext.
func (kd KeyData) Hint() string {
	if kd.IsPasswordDerived {
		return HintPassword
	}
	return HintEmbedded
}

// GenerateShareLink returns baseURL/s/<shortURL>, followed by
// #key=<base64url(key)> for embedded keys when the key is known.
func GenerateShareLink(baseURL, shortURL string, kd KeyData) (string, error) {
	base, err := parseBaseURL(baseURL)
	if err != nil {
		return "", err
	}
	if !validShortURL(shortURL) {
		return "", ErrInvalidShortURL
	}

	link := base.JoinPath(strings.Trim(common.ShareLinkPathPrefix, "/"), shortURL).String()

	if kd.IsPasswordDerived || kd.Key == nil {
		return link, nil
	}
	return link + "#" + fragmentKeyParam + "=" + EncodeKey(kd.Key), nil
}

// EncodeKey renders key bytes as unpadded base64url.
func EncodeKey(k *cryptox.Key) string {
	b := k.Bytes()
	defer common.WipeByteArray(b)
	return base64.RawURLEncoding.EncodeToString(b)
}

// DecodeKey is the inverse of EncodeKey.
func DecodeKey(s string) (*cryptox.Key, error) {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, ErrInvalidLink
	}
	defer common.WipeByteArray(b)
	return cryptox.KeyFromBytes(b)
}

// ParsedLink is a share link split into its parts.
type ParsedLink struct {
	BaseURL  string
	ShortURL string
	Key      *cryptox.Key
}

// HasKey reports whether the link carried an embedded key.
func (p *ParsedLink) HasKey() bool { return p.Key != nil }

// ParseShareLink recovers the short URL and, when present, the fragment key.
// Links with a query string are rejected.
func ParseShareLink(link string) (*ParsedLink, error) {
	u, err := url.Parse(link)
	if err != nil || u.Scheme == "" || u.Host == "" || u.RawQuery != "" {
		return nil, ErrInvalidLink
	}

	idx := strings.LastIndex(u.Path, common.ShareLinkPathPrefix)
	if idx < 0 {
		return nil, ErrInvalidLink
	}
	short := u.Path[idx+len(common.ShareLinkPathPrefix):]
	if !validShortURL(short) {
		return nil, ErrInvalidLink
	}

	p := &ParsedLink{
		BaseURL:  (&url.URL{Scheme: u.Scheme, Host: u.Host, Path: u.Path[:idx]}).String(),
		ShortURL: short,
	}

	if u.Fragment == "" {
		return p, nil
	}
	values, err := url.ParseQuery(u.Fragment)
	if err != nil {
		return nil, ErrInvalidLink
	}
	if enc := values.Get(fragmentKeyParam); enc != "" {
		k, err := DecodeKey(enc)
		if err != nil {
			return nil, fmt.Errorf("%w: key fragment", ErrInvalidLink)
		}
		p.Key = k
	}
	return p, nil
}

func parseBaseURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, ErrInvalidBaseURL
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, ErrInvalidBaseURL
	}
	if u.RawQuery != "" || u.Fragment != "" || u.User != nil {
		return nil, ErrInvalidBaseURL
	}
	return u, nil
}

func validShortURL(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}
