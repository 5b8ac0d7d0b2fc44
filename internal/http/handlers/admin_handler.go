// README: Operator handlers: manual assignment trigger and driver pool maintenance.
package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"ridebook/internal/modules/booking"
	"ridebook/internal/modules/matching"
	"ridebook/internal/types"
)

// DriverRegistry is the writable driver pool. *matching.Store implements it.
type DriverRegistry interface {
	Available(ctx context.Context) ([]matching.Driver, error)
	Upsert(ctx context.Context, d matching.Driver) error
	Remove(ctx context.Context, id types.ID) error
}

type AdminHandler struct {
	booking *booking.Service
	drivers DriverRegistry
}

// NewAdminHandler accepts a nil registry when the pool is static.
func NewAdminHandler(svc *booking.Service, drivers DriverRegistry) *AdminHandler {
	return &AdminHandler{booking: svc, drivers: drivers}
}

// Assign runs RequestAssignment now, bypassing the dispatch window. Losing
// the race to another trigger still answers 200 with the driver already
// attached; only a booking that can no longer be assigned answers 409.
func (h *AdminHandler) Assign(c *gin.Context) {
	ctx := c.Request.Context()
	id := types.ID(c.Param("id"))
	b, err := h.booking.RequestAssignment(ctx, id)
	if booking.IsBenign(err) {
		if cur, gerr := h.booking.Get(ctx, id); gerr == nil && cur.Driver != nil {
			b, err = cur, nil
		}
	}
	if err != nil {
		writeBookingError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toView(b))
}

// ListDrivers returns the registry, or a random subset of it when ?sample=n is given.
func (h *AdminHandler) ListDrivers(c *gin.Context) {
	if !h.writable(c) {
		return
	}
	sample := 0
	if raw := c.Query("sample"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(c, http.StatusBadRequest, "sample must be a positive integer")
			return
		}
		sample = n
	}
	drivers, err := h.drivers.Available(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		writeError(c, http.StatusServiceUnavailable, "driver pool unavailable")
		return
	}
	if sample > 0 {
		drivers = matching.PickRandomDrivers(drivers, sample)
	}
	writeJSON(c, http.StatusOK, gin.H{"drivers": drivers})
}

type putDriverReq struct {
	Name    string           `json:"name" binding:"required"`
	Phone   string           `json:"phone"`
	Rating  float64          `json:"rating" binding:"gte=0,lte=5"`
	Vehicle matching.Vehicle `json:"vehicle"`
}

func (h *AdminHandler) PutDriver(c *gin.Context) {
	if !h.writable(c) {
		return
	}
	var req putDriverReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	d := matching.Driver{
		ID:      types.ID(c.Param("id")),
		Name:    req.Name,
		Phone:   req.Phone,
		Rating:  req.Rating,
		Vehicle: req.Vehicle,
	}
	if err := h.drivers.Upsert(c.Request.Context(), d); err != nil {
		writeBookingError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, d)
}

func (h *AdminHandler) DeleteDriver(c *gin.Context) {
	if !h.writable(c) {
		return
	}
	if err := h.drivers.Remove(c.Request.Context(), types.ID(c.Param("id"))); err != nil {
		_ = c.Error(err)
		writeError(c, http.StatusServiceUnavailable, "driver pool unavailable")
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *AdminHandler) writable(c *gin.Context) bool {
	if h.drivers == nil {
		writeError(c, http.StatusNotImplemented, "driver pool is static")
		return false
	}
	return true
}
