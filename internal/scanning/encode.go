package scanning

import (
	"encoding/base64"
	"strings"
)

// MediaType is an image type accepted by the extraction providers
type MediaType string

const (
	MediaJPEG MediaType = "image/jpeg"
	MediaPNG  MediaType = "image/png"
	MediaGIF  MediaType = "image/gif"
	MediaWEBP MediaType = "image/webp"
)

// Format returns the bare subtype ("png", "jpeg", ...)
func (m MediaType) Format() string {
	return strings.TrimPrefix(string(m), "image/")
}

// RawReceipt is an uploaded image as received from the client
type RawReceipt struct {
	Data        []byte
	ContentType string
}

// EncodedPayload is a base64 encoded image paired with its resolved media type
type EncodedPayload struct {
	MediaType MediaType
	Data      string
}

// Bytes decodes the payload back to raw image bytes for SDKs that do their own encoding.
func (p EncodedPayload) Bytes() ([]byte, error) {
	return base64.StdEncoding.DecodeString(p.Data)
}

// DataURL renders the payload as a data: URL
func (p EncodedPayload) DataURL() string {
	return "data:" + string(p.MediaType) + ";base64," + p.Data
}

// ResolveMediaType maps a declared content type onto a supported media type.
// Only exact PNG, GIF and WEBP matches are kept; everything else is tagged JPEG.
func ResolveMediaType(declared string) MediaType {
	switch MediaType(declared) {
	case MediaPNG, MediaGIF, MediaWEBP:
		return MediaType(declared)
	default:
		return MediaJPEG
	}
}

// Encode converts a raw receipt into a transport-safe payload. It never fails and
// enforces no size limit.
func Encode(raw RawReceipt) EncodedPayload {
	return EncodedPayload{
		MediaType: ResolveMediaType(raw.ContentType),
		Data:      base64.StdEncoding.EncodeToString(raw.Data),
	}
}
