package api

import "time"

// RegisterRequest is the JSON body for POST /api/register.
type RegisterRequest struct {
	Email     string `json:"email" validate:"required|email" message:"required:email is required|email:email is invalid"`
	Password  string `json:"password" validate:"required|minLen:12|maxLen:72" message:"required:password is required|minLen:password must be at least 12 characters|maxLen:password must be at most 72 bytes"`
	FirstName string `json:"first_name" validate:"maxLen:100" message:"first_name is too long"`
	LastName  string `json:"last_name" validate:"maxLen:100" message:"last_name is too long"`
}

// LoginRequest is the JSON body for POST /api/login.
type LoginRequest struct {
	Email    string `json:"email" validate:"required" message:"email is required"`
	Password string `json:"password" validate:"required" message:"password is required"`
}

// PrincipalResponse describes the authenticated user. It never includes the
// credential hash.
type PrincipalResponse struct {
	ID        string     `json:"id"`
	Email     string     `json:"email"`
	FirstName string     `json:"first_name"`
	LastName  string     `json:"last_name"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
}

// MessageResponse is returned by endpoints with nothing else to report.
type MessageResponse struct {
	Message string `json:"message"`
}

// PredictionResponse is returned from POST /predict. Class duplicates Label
// for clients written against the earlier response shape.
type PredictionResponse struct {
	ID         string    `json:"id"`
	Label      string    `json:"label"`
	Class      string    `json:"class"`
	Confidence float64   `json:"confidence"`
	CreatedAt  time.Time `json:"created_at"`
}

// AnalysisResponse is one entry of GET /api/analyses.
type AnalysisResponse struct {
	ID         string    `json:"id"`
	Label      string    `json:"label"`
	Confidence float64   `json:"confidence"`
	CreatedAt  time.Time `json:"created_at"`
}

// ListAnalysesResponse is returned from GET /api/analyses.
type ListAnalysesResponse struct {
	Analyses   []AnalysisResponse `json:"analyses"`
	Pagination PaginationMeta     `json:"pagination"`
}

// HealthResponse is returned from GET /health and GET /ready.
type HealthResponse struct {
	Status string `json:"status"`
	Device string `json:"device,omitempty"`
}

// ErrorResponse is returned for all error cases.
type ErrorResponse struct {
	Error string `json:"error"`
}

// RateLimitedResponse is the 429 body.
type RateLimitedResponse struct {
	Error             string `json:"error"`
	RetryAfterSeconds int    `json:"retry_after_seconds"`
}
