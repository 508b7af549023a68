package inference

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/image/draw"

	"github.com/jmcleod/leafgate/config"
)

// maxResponseBytes bounds how much of a model server reply is read.
const maxResponseBytes = 1 << 20

// HTTPClassifier sends images to a remote model server. The server receives
// a PNG already resized to the model input size and answers with either
// class probabilities or raw logits in label order.
type HTTPClassifier struct {
	endpoint  string
	labels    []string
	inputSize int
	device    string
	client    *http.Client
}

// HTTPOption configures an HTTPClassifier.
type HTTPOption func(*HTTPClassifier)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTPClassifier) {
		h.client = c
	}
}

// NewHTTPClassifier builds a classifier from the inference section.
func NewHTTPClassifier(cfg config.Inference, opts ...HTTPOption) (*HTTPClassifier, error) {
	if cfg.Endpoint == "" {
		return nil, &config.Error{Field: "inference.endpoint", Err: config.ErrMissing}
	}
	if len(cfg.Labels) == 0 {
		return nil, &config.Error{Field: "inference.labels", Err: config.ErrMissing}
	}
	size := cfg.InputSize
	if size <= 0 {
		size = 224
	}
	h := &HTTPClassifier{
		endpoint:  cfg.Endpoint,
		labels:    append([]string(nil), cfg.Labels...),
		inputSize: size,
		device:    cfg.Device,
		client:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Device names where the model runs, as reported by the health endpoint.
func (h *HTTPClassifier) Device() string {
	if h.device == "" {
		return "remote"
	}
	return h.device
}

type modelResponse struct {
	Probabilities []float64 `json:"probabilities"`
	Logits        []float64 `json:"logits"`
}

// Classify implements Classifier.
func (h *HTTPClassifier) Classify(ctx context.Context, img image.Image) (Prediction, error) {
	var body bytes.Buffer
	if err := png.Encode(&body, Resize(img, h.inputSize)); err != nil {
		return Prediction{}, fmt.Errorf("encode model input: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, &body)
	if err != nil {
		return Prediction{}, fmt.Errorf("build model request: %w", err)
	}
	req.Header.Set("Content-Type", "image/png")
	req.Header.Set("Accept", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return Prediction{}, fmt.Errorf("model request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return Prediction{}, fmt.Errorf("model server returned %d", resp.StatusCode)
	}

	var out modelResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&out); err != nil {
		return Prediction{}, fmt.Errorf("decode model response: %w", err)
	}

	probs := out.Probabilities
	if len(probs) == 0 && len(out.Logits) > 0 {
		probs = Softmax(out.Logits)
	}
	if len(probs) != len(h.labels) {
		return Prediction{}, fmt.Errorf("model returned %d scores for %d labels", len(probs), len(h.labels))
	}
	idx := Argmax(probs)
	if idx < 0 {
		return Prediction{}, errors.New("model returned no finite scores")
	}
	return Prediction{Label: h.labels[idx], Confidence: probs[idx]}, nil
}

// Resize scales img to a size x size RGBA image with bilinear sampling.
func Resize(img image.Image, size int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

// Softmax converts logits to probabilities. The maximum is subtracted first
// so large logits do not overflow.
func Softmax(logits []float64) []float64 {
	if len(logits) == 0 {
		return nil
	}
	maxLogit := math.Inf(-1)
	for _, v := range logits {
		maxLogit = math.Max(maxLogit, v)
	}
	out := make([]float64, len(logits))
	var sum float64
	for i, v := range logits {
		out[i] = math.Exp(v - maxLogit)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// Argmax returns the index of the largest finite value, or -1.
func Argmax(values []float64) int {
	best := -1
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		if best < 0 || v > values[best] {
			best = i
		}
	}
	return best
}
