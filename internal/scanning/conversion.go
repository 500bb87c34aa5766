package scanning

import (
	"bytes"
	"fmt"
	"image/jpeg"
	"image/png"
	"log/slog"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
)

const mimePDF = "application/pdf"

// pdfToPNG renders the first page of a PDF as PNG
func pdfToPNG(pdfData []byte) ([]byte, error) {
	doc, err := fitz.NewFromMemory(pdfData)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	// Most receipts are single page
	img, err := doc.Image(0)
	if err != nil {
		return nil, fmt.Errorf("rendering PDF page: %w", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// heicToJPEG decodes a HEIC/HEIF photo and re-encodes it as JPEG
func heicToJPEG(data []byte) ([]byte, error) {
	img, err := heic.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding HEIC/HEIF image: %w", err)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("encoding JPEG: %w", err)
	}
	return buf.Bytes(), nil
}

// isHEICFormat checks for an ftyp box with a HEIC-family brand
func isHEICFormat(data []byte) bool {
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	switch string(data[8:12]) {
	case "heic", "heix", "heif", "mif1", "msf1":
		return true
	}
	return false
}

// isHEICMimeType checks if the MIME type indicates HEIC/HEIF format
func isHEICMimeType(mimeType string) bool {
	return strings.Contains(mimeType, "heic") || strings.Contains(mimeType, "heif")
}

// prepareImage converts formats the models cannot read (HEIC, PDF) into ones they can.
// Conversion is best-effort: on failure the original bytes and content type are
// returned unchanged and the encoder's JPEG fallback applies.
func prepareImage(data []byte, contentType string) ([]byte, string) {
	mimeType := strings.ToLower(strings.TrimSpace(contentType))

	var (
		converted []byte
		target    string
		err       error
	)
	switch {
	case mimeType == mimePDF:
		converted, err = pdfToPNG(data)
		target = string(MediaPNG)
	case isHEICMimeType(mimeType) || isHEICFormat(data):
		converted, err = heicToJPEG(data)
		target = string(MediaJPEG)
	default:
		return data, contentType
	}

	if err != nil {
		slog.Warn("Image conversion failed, sending original bytes",
			"content_type", contentType,
			"file_size", len(data),
			"error", err,
		)
		return data, contentType
	}

	slog.Debug("Converted receipt image", "from", contentType, "to", target, "file_size", len(converted))
	return converted, target
}
