package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/practitioner-slot-booking/internal/booking"
	"github.com/hackgods/practitioner-slot-booking/internal/schedule"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterValidation("date", func(fl validator.FieldLevel) bool {
		_, err := schedule.ParseDate(fl.Field().String())
		return err == nil
	})
	v.RegisterValidation("clock", func(fl validator.FieldLevel) bool {
		_, err := schedule.ParseClock(fl.Field().String())
		return err == nil
	})
	v.RegisterValidation("channel", func(fl validator.FieldLevel) bool {
		return booking.Channel(fl.Field().String()).Valid()
	})
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

// decode reads a JSON body into dst and runs struct validation on it.
// It writes the 400 response itself and reports whether the caller may
// continue.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return false
	}
	if err := validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", describeValidation(err))
		return false
	}
	return true
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s: failed %q", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}

// parseUUID returns uuid.Nil for an empty string. Inputs have already
// passed validation.
func parseUUID(s string) uuid.UUID {
	if s == "" {
		return uuid.Nil
	}
	return uuid.MustParse(s)
}

func mustDate(s string) (d time.Time) {
	if s == "" {
		return d
	}
	d, _ = schedule.ParseDate(s)
	return d
}

func mustClock(s string) schedule.Clock {
	c, _ := schedule.ParseClock(s)
	return c
}

var statusByKind = map[booking.Kind]int{
	booking.KindInvalidRequest:       http.StatusBadRequest,
	booking.KindConfiguration:        http.StatusUnprocessableEntity,
	booking.KindAvailability:         http.StatusUnprocessableEntity,
	booking.KindDuplicate:            http.StatusConflict,
	booking.KindNumberUnavailable:    http.StatusConflict,
	booking.KindCheckedIn:            http.StatusConflict,
	booking.KindNotFound:             http.StatusNotFound,
	booking.KindConflict:             http.StatusConflict,
	booking.KindExternalSync:         http.StatusBadGateway,
	booking.KindRescheduleIncomplete: http.StatusBadGateway,
	booking.KindIdentity:             http.StatusUnprocessableEntity,
}

// writeBookingError maps a booking failure onto a response. A compound
// reschedule failure carries the cancelled original so the caller can
// rebook manually.
func (h *handler) writeBookingError(w http.ResponseWriter, r *http.Request, err error) {
	kind := booking.KindOf(err)
	code := booking.CodeOf(err)
	h.metrics.observeOutcome(code)

	status, ok := statusByKind[kind]
	if !ok {
		h.log.Error("unexpected booking failure",
			zap.String("request_id", GetRequestID(r.Context())),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
		return
	}
	if booking.IsHighSeverity(err) {
		h.log.Error("booking operation needs attention",
			zap.String("request_id", GetRequestID(r.Context())),
			zap.Int("code", code),
			zap.Error(err),
		)
	}

	var rerr *booking.RescheduleError
	if errors.As(err, &rerr) {
		writeJSON(w, status, struct {
			ErrorResponse
			Original BookingResponse `json:"original"`
		}{
			ErrorResponse: ErrorResponse{Error: string(kind), Code: code, Details: err.Error()},
			Original:      toBookingResponse(rerr.Original),
		})
		return
	}
	writeJSON(w, status, ErrorResponse{Error: string(kind), Code: code, Details: err.Error()})
}
