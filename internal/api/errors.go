package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/leafsii/launchpad/internal/domain"
)

const (
	codeInternal    = "INTERNAL"
	codeRateLimited = "RATE_LIMITED"
	codeTimeout     = "TIMEOUT"
)

var kindStatus = map[domain.Kind]int{
	domain.KindInvalidParameters:    http.StatusBadRequest,
	domain.KindSignerRejected:       http.StatusForbidden,
	domain.KindSignerNotConnected:   http.StatusServiceUnavailable,
	domain.KindLedgerUnavailable:    http.StatusServiceUnavailable,
	domain.KindLedgerRejected:       http.StatusUnprocessableEntity,
	domain.KindPartiallyIssued:      http.StatusConflict,
	domain.KindPartiallyExecuted:    http.StatusConflict,
	domain.KindInsufficientReserves: http.StatusConflict,
	domain.KindPoolInert:            http.StatusConflict,
	domain.KindAssetNotFound:        http.StatusNotFound,
	domain.KindPoolNotFound:         http.StatusNotFound,
	domain.KindAuthorityRevoked:     http.StatusConflict,
	domain.KindStorageUnavailable:   http.StatusServiceUnavailable,
	domain.KindUnknown:              http.StatusGatewayTimeout,
}

// errorResponse maps err to a status code and response body. Errors that are
// not *domain.Error are reported as INTERNAL without their message.
func errorResponse(err error) (int, ErrorResponse) {
	var derr *domain.Error
	if !errors.As(err, &derr) {
		return http.StatusInternalServerError, ErrorResponse{
			Code:    codeInternal,
			Message: http.StatusText(http.StatusInternalServerError),
		}
	}
	status, ok := kindStatus[derr.Kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	return status, ErrorResponse{
		Code:      string(derr.Kind),
		Message:   derr.Error(),
		Step:      derr.Step,
		Address:   derr.Address,
		Retryable: domain.Retryable(err),
	}
}

// writeProblem writes an error body for failures raised outside the handlers.
func writeProblem(w http.ResponseWriter, status int, code, message string, retryable bool) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Code: code, Message: message, Retryable: retryable})
}

func problemBody(code, message string, retryable bool) string {
	b, _ := json.Marshal(ErrorResponse{Code: code, Message: message, Retryable: retryable})
	return string(b)
}
