// README: Fare estimate handler.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"ridesync/internal/modules/pricing"
)

type PricingHandler struct {
	pricing *pricing.Service
}

func NewPricingHandler(svc *pricing.Service) *PricingHandler {
	return &PricingHandler{pricing: svc}
}

type estimateReq struct {
	DistanceKm  float64 `json:"distance_km"`
	DurationMin float64 `json:"duration_min"`
	Weather     string  `json:"weather"`
	CarType     string  `json:"car_type"`
	// RequestTime defaults to now.
	RequestTime *time.Time `json:"request_time"`
}

func (h *PricingHandler) Estimate(c *gin.Context) {
	var req estimateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	at := time.Now()
	if req.RequestTime != nil {
		at = *req.RequestTime
	}
	res, err := h.pricing.Estimate(c.Request.Context(), pricing.PricingRequest{
		DistanceKm:  req.DistanceKm,
		DurationMin: req.DurationMin,
		RequestTime: at,
		Weather:     req.Weather,
		CarType:     req.CarType,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{
		"total":     res.TotalAmount,
		"currency":  res.Currency,
		"breakdown": res.Breakdown,
	})
}
