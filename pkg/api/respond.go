package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/jakechorley/snow-dispatch/pkg/core/services"
)

var validate = validator.New()

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// errorStatus maps a service error to its HTTP response. fixed errors always
// use the sentinel's own message, whatever context was wrapped around them.
type errorStatus struct {
	err    error
	status int
	code   string
	fixed  bool
}

var errorStatuses = []errorStatus{
	{err: services.ErrAlreadyClaimed, status: http.StatusConflict, code: "already_claimed", fixed: true},
	{err: services.ErrWorkerSuspended, status: http.StatusForbidden, code: "worker_suspended", fixed: true},
	{err: services.ErrBidOutOfBounds, status: http.StatusUnprocessableEntity, code: "bid_out_of_bounds"},
	{err: services.ErrBidWindowClosed, status: http.StatusConflict, code: "bid_window_closed", fixed: true},
	{err: services.ErrJobNotFound, status: http.StatusNotFound, code: "job_not_found"},
	{err: services.ErrWorkerNotFound, status: http.StatusNotFound, code: "worker_not_found"},
	{err: services.ErrBidNotFound, status: http.StatusNotFound, code: "bid_not_found"},
	{err: services.ErrInvalidTransition, status: http.StatusConflict, code: "invalid_transition"},
	{err: services.ErrNotBidMode, status: http.StatusConflict, code: "not_bid_mode", fixed: true},
	{err: services.ErrBidRequired, status: http.StatusConflict, code: "bid_required", fixed: true},
	{err: services.ErrBackupUnavailable, status: http.StatusConflict, code: "backup_unavailable"},
	{err: services.ErrPromotionNotDue, status: http.StatusConflict, code: "promotion_not_due"},
	{err: services.ErrConcurrentUpdate, status: http.StatusConflict, code: "concurrent_update", fixed: true},
	{err: services.ErrForbidden, status: http.StatusForbidden, code: "forbidden"},
	{err: services.ErrInvalidInput, status: http.StatusBadRequest, code: "invalid_input"},
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: message, Code: code})
}

// writeError translates err into a status code. Unknown errors are logged and
// hidden behind a 500.
func writeError(w http.ResponseWriter, logger *zap.Logger, err error) {
	for _, es := range errorStatuses {
		if !errors.Is(err, es.err) {
			continue
		}
		msg := err.Error()
		if es.fixed {
			msg = es.err.Error()
		}
		var bounds *services.BidBoundsError
		if errors.As(err, &bounds) {
			msg = bounds.Error()
		}
		writeMessage(w, es.status, es.code, msg)
		return
	}

	logger.Error("Request failed", zap.Error(err))
	writeMessage(w, http.StatusInternalServerError, "internal", "internal error")
}

// decodeBody reads an optional JSON body into dst. An empty body leaves dst untouched.
func decodeBody(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: malformed JSON body: %v", services.ErrInvalidInput, err)
	}
	return nil
}

// decodeJSON is decodeBody followed by struct validation
func decodeJSON(r *http.Request, dst any) error {
	if err := decodeBody(r, dst); err != nil {
		return err
	}
	if err := validate.Struct(dst); err != nil {
		return fmt.Errorf("%w: %v", services.ErrInvalidInput, err)
	}
	return nil
}
