package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"google.golang.org/grpc/codes"

	"github.com/joseph-ayodele/homework-scanner/internal/common"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Debug("http.response.encode_failed", "error", err)
	}
}

// httpStatus maps the gRPC code chosen by common.ToStatus onto HTTP.
func httpStatus(c codes.Code) int {
	switch c {
	case codes.OK:
		return http.StatusOK
	case codes.InvalidArgument:
		return http.StatusBadRequest
	case codes.NotFound:
		return http.StatusNotFound
	case codes.FailedPrecondition:
		return http.StatusUnprocessableEntity
	case codes.Aborted, codes.AlreadyExists:
		return http.StatusConflict
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	case codes.Canceled:
		return 499
	case codes.Unimplemented:
		return http.StatusNotImplemented
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	st := common.ToStatus(err)
	code := httpStatus(st.Code())
	logger := common.LoggerFromContext(r.Context(), s.logger)
	if code >= 500 {
		logger.Error("http.request.failed", "path", r.URL.Path, "status", code, "error", err)
	} else {
		logger.Info("http.request.rejected", "path", r.URL.Path, "status", code, "error", err)
	}
	writeJSON(w, code, errorBody{
		Error:     err.Error(),
		Code:      common.CodeOf(err),
		RequestID: common.RequestIDFromContext(r.Context()),
	})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return common.NewAppError(common.CodeValidation, "invalid JSON body: "+err.Error(), common.ErrInvalidInput)
	}
	return nil
}
