package domain

import (
	"encoding/base64"
	"errors"
	"strings"
)

// FileFormat classifies a file for provider capability checks.
type FileFormat string

const (
	FormatImage    FileFormat = "image"
	FormatAudio    FileFormat = "audio"
	FormatPDF      FileFormat = "pdf"
	FormatDocument FileFormat = "document"
)

// File is a content part referencing inline bytes or a URL. At least one of
// Data and URL must be present.
type File struct {
	// Data is the base64-encoded file content.
	Data string `json:"data,omitempty"`

	// URL points at the file when it is not inlined.
	URL string `json:"url,omitempty"`

	// ContentType is the MIME type; may be empty for URL files until sniffed.
	ContentType string `json:"content_type,omitempty"`

	// Format overrides format detection when set.
	Format FileFormat `json:"format,omitempty"`
}

// Validate checks the at-least-one-of data/url invariant.
func (f *File) Validate() error {
	if f.Data == "" && f.URL == "" {
		return errors.New("file requires data or url")
	}
	if f.Data != "" {
		if _, err := base64.StdEncoding.DecodeString(f.Data); err != nil {
			return errors.New("file data is not valid base64")
		}
	}
	return nil
}

// IsInline reports whether the file carries its bytes.
func (f *File) IsInline() bool { return f.Data != "" }

// DetectedFormat returns the explicit format, or one derived from the
// content type, or empty when neither is known.
func (f *File) DetectedFormat() FileFormat {
	if f.Format != "" {
		return f.Format
	}
	ct := strings.ToLower(f.ContentType)
	switch {
	case strings.HasPrefix(ct, "image/"):
		return FormatImage
	case strings.HasPrefix(ct, "audio/"):
		return FormatAudio
	case ct == "application/pdf":
		return FormatPDF
	case ct != "":
		return FormatDocument
	}
	return ""
}

// Bytes decodes the inline payload.
func (f *File) Bytes() ([]byte, error) {
	if f.Data == "" {
		return nil, errors.New("file has no inline data")
	}
	return base64.StdEncoding.DecodeString(f.Data)
}
