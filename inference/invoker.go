// Package inference wraps the leaf classification model behind a narrow
// interface and contains its failure modes: slow calls are cut off, panics
// are recovered, and nonsensical outputs are rejected before they reach
// storage or the client.
package inference

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"math"
	"runtime/debug"
	"time"
)

// Prediction is a single classifier result.
type Prediction struct {
	Label      string
	Confidence float64
}

// Classifier labels a decoded image. Implementations should honour ctx but
// are not required to; the invoker stops waiting when ctx ends either way.
type Classifier interface {
	Classify(ctx context.Context, img image.Image) (Prediction, error)
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(ctx context.Context, img image.Image) (Prediction, error)

func (f ClassifierFunc) Classify(ctx context.Context, img image.Image) (Prediction, error) {
	return f(ctx, img)
}

// Reason is the category of an inference failure.
type Reason string

const (
	ReasonTimeout         Reason = "timeout"
	ReasonClassifierError Reason = "classifier_error"
	ReasonInvalidResult   Reason = "invalid_result"
	ReasonPanic           Reason = "panic"
)

// Error is returned by Invoker.Predict for every failure. Err carries the
// internal detail and must not be shown to clients.
type Error struct {
	Reason Reason
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("inference %s: %v", e.Reason, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Invoker runs one classification per call under a deadline.
type Invoker struct {
	classifier Classifier
	timeout    time.Duration
	logger     *slog.Logger
}

// Option configures an Invoker.
type Option func(*Invoker)

// WithLogger sets the logger used for recovered panics.
func WithLogger(l *slog.Logger) Option {
	return func(i *Invoker) {
		i.logger = l
	}
}

// NewInvoker returns an invoker that gives classifier at most timeout per
// call. A non-positive timeout disables the per-call deadline; the request
// context still applies.
func NewInvoker(classifier Classifier, timeout time.Duration, opts ...Option) *Invoker {
	i := &Invoker{
		classifier: classifier,
		timeout:    timeout,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

type outcome struct {
	pred Prediction
	err  *Error
}

// Predict classifies img. There is no retry.
func (i *Invoker) Predict(ctx context.Context, img image.Image) (Prediction, error) {
	if img == nil {
		return Prediction{}, &Error{Reason: ReasonClassifierError, Err: errors.New("nil image")}
	}
	if i.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.timeout)
		defer cancel()
	}

	// Buffered so a classifier that ignores ctx can still finish and exit
	// after we stop waiting.
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				i.logger.Error("classifier panic", "panic", r, "stack", string(debug.Stack()))
				done <- outcome{err: &Error{Reason: ReasonPanic, Err: fmt.Errorf("%v", r)}}
			}
		}()
		pred, err := i.classifier.Classify(ctx, img)
		if err != nil {
			done <- outcome{err: classifyErr(ctx, err)}
			return
		}
		done <- outcome{pred: pred}
	}()

	select {
	case <-ctx.Done():
		return Prediction{}, &Error{Reason: ReasonTimeout, Err: ctx.Err()}
	case out := <-done:
		if out.err != nil {
			return Prediction{}, out.err
		}
		if err := checkPrediction(out.pred); err != nil {
			return Prediction{}, &Error{Reason: ReasonInvalidResult, Err: err}
		}
		return out.pred, nil
	}
}

func classifyErr(ctx context.Context, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || ctx.Err() != nil {
		return &Error{Reason: ReasonTimeout, Err: err}
	}
	return &Error{Reason: ReasonClassifierError, Err: err}
}

func checkPrediction(p Prediction) error {
	if p.Label == "" {
		return errors.New("empty label")
	}
	if math.IsNaN(p.Confidence) || math.IsInf(p.Confidence, 0) {
		return fmt.Errorf("confidence %v is not finite", p.Confidence)
	}
	if p.Confidence < 0 || p.Confidence > 1 {
		return fmt.Errorf("confidence %v outside [0,1]", p.Confidence)
	}
	return nil
}
