// Package common contains shared constants and sentinel errors used across
// ZKDrop components.
package common

const (
	// MetadataHeaderName carries the JSON public metadata next to a
	// ciphertext download body.
	MetadataHeaderName = "X-File-Metadata"

	// ShareLinkPathPrefix is the server-visible path segment of share links.
	ShareLinkPathPrefix = "/s/"

	// GenericContentType is the only content type the server ever records
	// for zero-knowledge uploads.
	GenericContentType = "application/octet-stream"
)
