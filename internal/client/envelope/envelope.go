// Package envelope packs a file's name and MIME type together with its
// content before encryption, so that neither reaches the server in the
// clear.
//
// Layout: magic "ZKE1", a big-endian uint32 manifest length, the JSON
// manifest, then the raw content.
package envelope

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

const (
	magic = "ZKE1"

	headerSize      = len(magic) + 4
	maxManifestSize = 16 << 10

	DefaultMIMEType = "application/octet-stream"
)

var ErrMalformed = errors.New("malformed envelope")

// Manifest is the private description of the packed file.
type Manifest struct {
	Name     string `json:"name"`
	MIMEType string `json:"type"`
	Size     int64  `json:"size"`
}

type Envelope struct {
	Manifest Manifest
	Content  []byte
}

// Pack builds the plaintext that gets encrypted. The name is reduced to
// its base element.
func Pack(name, mimeType string, content []byte) ([]byte, error) {
	if mimeType == "" {
		mimeType = DefaultMIMEType
	}
	m := Manifest{
		Name:     SafeName(name),
		MIMEType: mimeType,
		Size:     int64(len(content)),
	}
	manifest, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	if len(manifest) > maxManifestSize {
		return nil, fmt.Errorf("%w: manifest too large", ErrMalformed)
	}

	var buf bytes.Buffer
	buf.Grow(headerSize + len(manifest) + len(content))
	buf.WriteString(magic)
	_ = binary.Write(&buf, binary.BigEndian, uint32(len(manifest)))
	buf.Write(manifest)
	buf.Write(content)
	return buf.Bytes(), nil
}

// Unpack reverses Pack. The returned content aliases data.
func Unpack(data []byte) (*Envelope, error) {
	if len(data) < headerSize || string(data[:len(magic)]) != magic {
		return nil, ErrMalformed
	}
	n := int(binary.BigEndian.Uint32(data[len(magic):headerSize]))
	if n > maxManifestSize || n > len(data)-headerSize {
		return nil, fmt.Errorf("%w: manifest length", ErrMalformed)
	}

	var m Manifest
	if err := json.Unmarshal(data[headerSize:headerSize+n], &m); err != nil {
		return nil, fmt.Errorf("%w: manifest", ErrMalformed)
	}
	content := data[headerSize+n:]
	if m.Size != int64(len(content)) {
		return nil, fmt.Errorf("%w: size mismatch", ErrMalformed)
	}
	m.Name = SafeName(m.Name)
	if m.MIMEType == "" {
		m.MIMEType = DefaultMIMEType
	}
	return &Envelope{Manifest: m, Content: content}, nil
}

// SafeName strips directories and characters that cannot appear in a
// file name, falling back to "download" when nothing is left.
func SafeName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f || r == '/' || r == ':' {
			return -1
		}
		return r
	}, name)
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." {
		return "download"
	}
	return name
}
