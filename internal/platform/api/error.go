package api

import (
	"net/http"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type ErrorResponse struct {
	Error APIError `json:"error"`
}

type APIError struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

func WriteError(w http.ResponseWriter, status int, code, message, requestID string, details map[string]any) {
	WriteJSON(w, status, ErrorResponse{Error: APIError{Code: code, Message: message, Details: details, RequestID: requestID}})
}

func BadRequest(w http.ResponseWriter, code, message, requestID string, details map[string]any) {
	WriteError(w, http.StatusBadRequest, code, message, requestID, details)
}

func Unauthorized(w http.ResponseWriter, code, message, requestID string) {
	WriteError(w, http.StatusUnauthorized, code, message, requestID, nil)
}

func Forbidden(w http.ResponseWriter, code, message, requestID string) {
	WriteError(w, http.StatusForbidden, code, message, requestID, nil)
}

func NotFound(w http.ResponseWriter, code, message, requestID string) {
	WriteError(w, http.StatusNotFound, code, message, requestID, nil)
}

func Conflict(w http.ResponseWriter, code, message, requestID string, details map[string]any) {
	WriteError(w, http.StatusConflict, code, message, requestID, details)
}

func RateLimited(w http.ResponseWriter, code, message, requestID string, details map[string]any) {
	WriteError(w, http.StatusTooManyRequests, code, message, requestID, details)
}

// Unavailable is used when a dependency (store of record, broker) cannot serve the request.
func Unavailable(w http.ResponseWriter, code, message, requestID string) {
	WriteError(w, http.StatusServiceUnavailable, code, message, requestID, nil)
}

func Internal(w http.ResponseWriter, requestID string) {
	WriteError(w, http.StatusInternalServerError, "INTERNAL", "Internal server error", requestID, nil)
}

// WriteStatus maps a gRPC status error from a store onto the error envelope.
// ErrorInfo.Reason becomes the code and BadRequest field violations become
// details keyed by field. Errors without a status are internal.
func WriteStatus(w http.ResponseWriter, requestID string, err error) {
	st, ok := status.FromError(err)
	if !ok || err == nil {
		Internal(w, requestID)
		return
	}

	code := ""
	var details map[string]any
	for _, d := range st.Details() {
		switch v := d.(type) {
		case *errdetails.ErrorInfo:
			code = v.GetReason()
		case *errdetails.BadRequest:
			for _, fv := range v.GetFieldViolations() {
				if fv.GetField() == "" {
					continue
				}
				if details == nil {
					details = map[string]any{}
				}
				details[fv.GetField()] = fv.GetDescription()
			}
		}
	}

	switch st.Code() {
	case codes.InvalidArgument:
		if code == "" {
			code = "INVALID_ARGUMENT"
		}
		BadRequest(w, code, st.Message(), requestID, details)
	case codes.PermissionDenied:
		if code == "" {
			code = "FORBIDDEN"
		}
		Forbidden(w, code, st.Message(), requestID)
	case codes.NotFound:
		if code == "" {
			code = "NOT_FOUND"
		}
		NotFound(w, code, st.Message(), requestID)
	case codes.Unavailable, codes.DeadlineExceeded:
		Unavailable(w, "STORE_UNAVAILABLE", st.Message(), requestID)
	default:
		Internal(w, requestID)
	}
}
