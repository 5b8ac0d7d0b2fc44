// README: Rider-facing booking handlers (create, list, get, cancel) and driver completion.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"ridebook/internal/http/middleware"
	"ridebook/internal/infra"
	"ridebook/internal/modules/booking"
	"ridebook/internal/types"
)

type BookingHandler struct {
	booking *booking.Service
}

func NewBookingHandler(svc *booking.Service) *BookingHandler {
	return &BookingHandler{booking: svc}
}

type createBookingReq struct {
	Pickup  string `json:"pickup" binding:"required"`
	Dropoff string `json:"dropoff" binding:"required"`
	Date    string `json:"date" binding:"required"`
	Time    string `json:"time" binding:"required"`
}

type cancelBookingReq struct {
	Reason string `json:"reason" binding:"max=200"`
}

func (h *BookingHandler) Create(c *gin.Context) {
	var req createBookingReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "pickup, dropoff, date and time are required")
		return
	}
	b, err := h.booking.Create(c.Request.Context(), booking.CreateCommand{
		RiderID: types.ID(middleware.CallerUID(c)),
		Pickup:  req.Pickup,
		Dropoff: req.Dropoff,
		Date:    req.Date,
		Time:    req.Time,
	})
	if err != nil {
		writeBookingError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, toView(b))
}

func (h *BookingHandler) List(c *gin.Context) {
	class, ok := booking.ParseClass(c.DefaultQuery("class", string(booking.ClassActive)))
	if !ok {
		writeError(c, http.StatusBadRequest, "class must be active or historical")
		return
	}
	list, err := h.booking.ListByRider(c.Request.Context(), types.ID(middleware.CallerUID(c)), class)
	if err != nil {
		writeBookingError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"class": class, "bookings": toViews(list)})
}

func (h *BookingHandler) Get(c *gin.Context) {
	b, ok := h.owned(c)
	if !ok {
		return
	}
	writeJSON(c, http.StatusOK, toView(b))
}

func (h *BookingHandler) Cancel(c *gin.Context) {
	var req cancelBookingReq
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, "invalid json")
			return
		}
	}
	b, ok := h.owned(c)
	if !ok {
		return
	}
	reason := req.Reason
	if reason == "" {
		reason = "rider_cancel"
	}
	cancelled, err := h.booking.Cancel(c.Request.Context(), booking.CancelCommand{
		BookingID: b.ID,
		Reason:    reason,
	})
	if err != nil {
		writeBookingError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toView(cancelled))
}

// Complete is open to the assigned driver and to admins.
func (h *BookingHandler) Complete(c *gin.Context) {
	id := c.Param("id")
	b, err := h.booking.Get(c.Request.Context(), types.ID(id))
	if err != nil {
		writeBookingError(c, err)
		return
	}
	if middleware.CallerRole(c) == infra.RoleDriver {
		if b.Driver == nil || b.Driver.ID.String() != middleware.CallerUID(c) {
			writeError(c, http.StatusForbidden, "booking is not assigned to caller")
			return
		}
	}
	completed, err := h.booking.Complete(c.Request.Context(), b.ID)
	if err != nil {
		writeBookingError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toView(completed))
}

// owned loads :id and writes 403 unless the caller is its rider.
func (h *BookingHandler) owned(c *gin.Context) (*booking.Booking, bool) {
	id := c.Param("id")
	if id == "" {
		writeError(c, http.StatusBadRequest, "missing booking id")
		return nil, false
	}
	b, err := h.booking.Get(c.Request.Context(), types.ID(id))
	if err != nil {
		writeBookingError(c, err)
		return nil, false
	}
	if b.RiderID.String() != middleware.CallerUID(c) {
		writeError(c, http.StatusForbidden, "booking belongs to another rider")
		return nil, false
	}
	return b, true
}
