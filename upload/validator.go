// Package upload decides whether untrusted upload bytes are an image the
// gateway is willing to hand to the classifier. The decision is made by
// decoding the content; file names and client supplied content types are
// recorded but never trusted.
package upload

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"path/filepath"
	"slices"
	"strings"

	// Registered decoders. Formats that decode but are not allowed are
	// reported as unsupported rather than corrupt.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/jmcleod/leafgate/config"
)

// Kind classifies a rejected upload.
type Kind string

const (
	KindTooLarge          Kind = "too_large"
	KindUnsupportedFormat Kind = "unsupported_format"
	KindCorruptFile       Kind = "corrupt_file"
)

var (
	ErrTooLarge          = errors.New("upload too large")
	ErrUnsupportedFormat = errors.New("unsupported image format")
	ErrCorruptFile       = errors.New("corrupt or unsupported file")
)

// ValidationError is returned for every rejected upload. Message is safe to
// show to the client.
type ValidationError struct {
	Kind    Kind
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Is matches the sentinel for the error's kind.
func (e *ValidationError) Is(target error) bool {
	switch e.Kind {
	case KindTooLarge:
		return target == ErrTooLarge
	case KindUnsupportedFormat:
		return target == ErrUnsupportedFormat
	case KindCorruptFile:
		return target == ErrCorruptFile
	}
	return false
}

// Artifact is a validated upload. It lives for one request.
type Artifact struct {
	Image             image.Image
	Format            string
	DeclaredName      string
	DeclaredExtension string
	Size              int
	Width             int
	Height            int
}

// Validator holds the size limits and format allow-list.
type Validator struct {
	maxBytes  int64
	maxPixels int
	allowed   []string
}

// NewValidator builds a validator from configuration.
func NewValidator(cfg config.Upload) *Validator {
	allowed := make([]string, 0, len(cfg.AllowedFormats))
	for _, f := range cfg.AllowedFormats {
		allowed = append(allowed, normalizeFormat(f))
	}
	return &Validator{
		maxBytes:  cfg.MaxBytes,
		maxPixels: cfg.MaxPixels,
		allowed:   allowed,
	}
}

// MaxBytes is the largest accepted upload.
func (v *Validator) MaxBytes() int64 { return v.maxBytes }

// Validate checks raw in order: size, decodability, dimensions, format.
func (v *Validator) Validate(raw []byte, declaredName string) (*Artifact, error) {
	if int64(len(raw)) > v.maxBytes {
		return nil, &ValidationError{
			Kind:    KindTooLarge,
			Message: fmt.Sprintf("file exceeds the %d byte limit", v.maxBytes),
		}
	}
	if len(raw) == 0 {
		return nil, corrupt()
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, corrupt()
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, corrupt()
	}
	// Checked before the full decode so a tiny file claiming huge
	// dimensions cannot force a huge allocation.
	if v.maxPixels > 0 && int64(cfg.Width)*int64(cfg.Height) > int64(v.maxPixels) {
		return nil, &ValidationError{
			Kind:    KindTooLarge,
			Message: fmt.Sprintf("image dimensions %dx%d exceed the pixel limit", cfg.Width, cfg.Height),
		}
	}

	img, format, err := decode(raw)
	if err != nil {
		return nil, corrupt()
	}
	format = normalizeFormat(format)
	if !slices.Contains(v.allowed, format) {
		return nil, &ValidationError{
			Kind:    KindUnsupportedFormat,
			Message: fmt.Sprintf("image format %q is not accepted; allowed formats: %s", format, strings.Join(v.allowed, ", ")),
		}
	}

	bounds := img.Bounds()
	return &Artifact{
		Image:             img,
		Format:            format,
		DeclaredName:      declaredName,
		DeclaredExtension: strings.ToLower(strings.TrimPrefix(filepath.Ext(declaredName), ".")),
		Size:              len(raw),
		Width:             bounds.Dx(),
		Height:            bounds.Dy(),
	}, nil
}

// decode runs the full pixel decode. Some third-party decoders panic on
// hostile input instead of returning an error.
func decode(raw []byte) (img image.Image, format string, err error) {
	defer func() {
		if r := recover(); r != nil {
			img, format, err = nil, "", fmt.Errorf("decoder panic: %v", r)
		}
	}()
	return image.Decode(bytes.NewReader(raw))
}

func corrupt() *ValidationError {
	return &ValidationError{
		Kind:    KindCorruptFile,
		Message: "file could not be decoded as an image",
	}
}

func normalizeFormat(f string) string {
	f = strings.ToLower(strings.TrimSpace(f))
	if f == "jpg" {
		return "jpeg"
	}
	return f
}
