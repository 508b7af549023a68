package api

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"

	"github.com/jmcleod/leafgate/audit"
	"github.com/jmcleod/leafgate/inference"
	"github.com/jmcleod/leafgate/storage"
	"github.com/jmcleod/leafgate/upload"
)

const (
	uploadField = "file"
	// Room for multipart boundaries and part headers around the file.
	multipartOverhead = 64 << 10
)

var (
	errNotMultipart = errors.New("request must be multipart/form-data")
	errMissingFile  = errors.New(`multipart field "file" is required`)
	errBadMultipart = errors.New("malformed multipart body")
)

// readUpload streams the request body until the "file" part and reads at
// most one byte more than the upload limit from it.
func (a *API) readUpload(w http.ResponseWriter, r *http.Request) ([]byte, string, error) {
	limit := a.validator.MaxBytes()
	r.Body = http.MaxBytesReader(w, r.Body, limit+multipartOverhead)

	mr, err := r.MultipartReader()
	if err != nil {
		return nil, "", errNotMultipart
	}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return nil, "", errMissingFile
		}
		if err != nil {
			return nil, "", a.bodyReadError(err, limit)
		}
		if part.FormName() != uploadField {
			part.Close()
			continue
		}
		raw, err := readPart(part, limit)
		if err != nil {
			return nil, "", a.bodyReadError(err, limit)
		}
		return raw, part.FileName(), nil
	}
}

func readPart(part *multipart.Part, limit int64) ([]byte, error) {
	defer part.Close()
	return io.ReadAll(io.LimitReader(part, limit+1))
}

func (a *API) bodyReadError(err error, limit int64) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return &upload.ValidationError{
			Kind:    upload.KindTooLarge,
			Message: fmt.Sprintf("file exceeds the %d byte limit", limit),
		}
	}
	return errBadMultipart
}

// Predict handles POST /predict: validate the upload, classify it, store
// the analysis, and return the prediction.
func (a *API) Predict(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p := principalFromContext(ctx)

	raw, name, err := a.readUpload(w, r)
	if err != nil {
		a.rejectUpload(w, r, p, name, err)
		return
	}
	art, err := a.validator.Validate(raw, name)
	if err != nil {
		a.rejectUpload(w, r, p, name, err)
		return
	}
	a.classify(w, r, p, art)
}

func (a *API) rejectUpload(w http.ResponseWriter, r *http.Request, p *storage.Principal, name string, err error) {
	attrs := []slog.Attr{slog.String("reason", err.Error()), slog.String("declared_name", name)}
	var verr *upload.ValidationError
	if errors.As(err, &verr) {
		attrs = append(attrs, slog.String("kind", string(verr.Kind)))
	}
	a.audit.Record(r.Context(), audit.UploadRejected, p.ID, attrs...)
	if verr != nil {
		mapError(w, err)
		return
	}
	writeError(w, http.StatusBadRequest, err.Error())
}

func (a *API) classify(w http.ResponseWriter, r *http.Request, p *storage.Principal, art *upload.Artifact) {
	ctx := r.Context()
	pred, err := a.predictor.Predict(ctx, art.Image)
	if err != nil {
		reason := "unknown"
		var ierr *inference.Error
		if errors.As(err, &ierr) {
			reason = string(ierr.Reason)
		}
		a.audit.Record(ctx, audit.InferenceError, p.ID,
			slog.String("reason", reason),
			slog.String("error", err.Error()),
			slog.String("format", art.Format))
		mapError(w, err)
		return
	}

	rec := &storage.AnalysisRecord{
		PrincipalID:    p.ID,
		PredictedLabel: pred.Label,
		Confidence:     pred.Confidence,
	}
	if err := a.store.InsertAnalysis(ctx, rec); err != nil {
		a.audit.Record(ctx, audit.PersistenceError, p.ID,
			slog.String("operation", "insert_analysis"),
			slog.String("label", pred.Label),
			slog.String("error", err.Error()))
		a.logger.ErrorContext(ctx, "storing analysis", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, msgNotSaved)
		return
	}
	a.metrics.observePrediction(pred.Label)

	writeJSON(w, http.StatusOK, PredictionResponse{
		ID:         rec.ID,
		Label:      rec.PredictedLabel,
		Class:      rec.PredictedLabel,
		Confidence: rec.Confidence,
		CreatedAt:  rec.CreatedAt,
	})
}
