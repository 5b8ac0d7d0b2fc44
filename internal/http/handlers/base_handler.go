// README: Base handler utilities (JSON helpers, error mapping, booking views).
package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"ridebook/internal/modules/booking"
	"ridebook/internal/modules/matching"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

func writeBookingError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, booking.ErrValidation), errors.Is(err, matching.ErrInvalidDriver):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, booking.ErrUnauthenticated):
		writeError(c, http.StatusUnauthorized, err.Error())
	case errors.Is(err, booking.ErrNotFound):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, booking.ErrInvalidTransition):
		writeError(c, http.StatusConflict, err.Error())
	case errors.Is(err, matching.ErrNoDriverAvailable):
		writeError(c, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, booking.ErrStoreUnavailable):
		writeError(c, http.StatusServiceUnavailable, "booking store unavailable")
	default:
		_ = c.Error(err)
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}

type bookingView struct {
	ID           string           `json:"id"`
	RiderID      string           `json:"rider_id"`
	Pickup       string           `json:"pickup"`
	Dropoff      string           `json:"dropoff"`
	Date         string           `json:"date"`
	Time         string           `json:"time"`
	Status       booking.Status   `json:"status"`
	Driver       *matching.Driver `json:"driver,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
	ConfirmedAt  *time.Time       `json:"confirmed_at,omitempty"`
	CompletedAt  *time.Time       `json:"completed_at,omitempty"`
	CancelledAt  *time.Time       `json:"cancelled_at,omitempty"`
	CancelReason *string          `json:"cancel_reason,omitempty"`
}

func toView(b *booking.Booking) bookingView {
	return bookingView{
		ID:           b.ID.String(),
		RiderID:      b.RiderID.String(),
		Pickup:       b.Pickup,
		Dropoff:      b.Dropoff,
		Date:         b.Date,
		Time:         b.Time,
		Status:       b.Status,
		Driver:       b.Driver,
		CreatedAt:    b.CreatedAt,
		UpdatedAt:    b.UpdatedAt,
		ConfirmedAt:  b.ConfirmedAt,
		CompletedAt:  b.CompletedAt,
		CancelledAt:  b.CancelledAt,
		CancelReason: b.CancelReason,
	}
}

func toViews(list []*booking.Booking) []bookingView {
	out := make([]bookingView, 0, len(list))
	for _, b := range list {
		out = append(out, toView(b))
	}
	return out
}
