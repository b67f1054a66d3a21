// README: Pricing service computes fare estimates from distance, time and conditions.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

var ErrBadRequest = errors.New("invalid pricing request")

// Rates resolves the tariff for a car type. Store implements it over Postgres.
type Rates interface {
	GetRate(ctx context.Context, carType string) (Rate, error)
}

type Service struct {
	rates Rates
}

// NewService accepts a nil store; built-in rates are used then.
func NewService(store *Store) *Service {
	if store == nil {
		return &Service{}
	}
	return &Service{rates: store}
}

const epsilon = 1e-9

func (s *Service) Estimate(ctx context.Context, req PricingRequest) (PricingResult, error) {
	if req.DistanceKm < 0 || req.DurationMin < 0 {
		return PricingResult{}, ErrBadRequest
	}
	rate, err := s.rate(ctx, req.CarType)
	if err != nil {
		return PricingResult{}, err
	}
	at := req.RequestTime
	if at.IsZero() {
		at = time.Now()
	}

	breakdown := map[string]int64{"base": rate.BaseFare}

	var distance int64
	if extra := req.DistanceKm - rate.BaseKm; extra > 0 {
		distance = int64(math.Ceil(extra/rate.UnitKm-epsilon)) * rate.PerUnit
	}
	breakdown["distance"] = distance

	perMin := rate.PerMinOffPeak
	if isPeak(at) {
		perMin = rate.PerMinPeak
	}
	perMin += distanceAdjustment(req.DistanceKm)
	if perMin < 0 {
		perMin = 0
	}
	timeCharge := int64(math.Ceil(req.DurationMin*float64(perMin) - epsilon))
	breakdown["time"] = timeCharge

	var surcharge int64
	if isNight(at) {
		surcharge += nightSurcharge
		breakdown["night"] = nightSurcharge
	}
	if isFestival(at) {
		surcharge += festivalSurcharge
		breakdown["festival"] = festivalSurcharge
	}

	subtotal := rate.BaseFare + distance + timeCharge + surcharge
	mult := weatherMultiplier(req.Weather) * rate.Multiplier
	total := int64(math.Ceil(float64(subtotal)*mult - epsilon))
	breakdown["multiplier"] = total - subtotal

	return PricingResult{TotalAmount: total, Currency: rate.Currency, Breakdown: breakdown}, nil
}

func (s *Service) rate(ctx context.Context, carType string) (Rate, error) {
	carType = strings.ToLower(strings.TrimSpace(carType))
	if carType == "" {
		carType = CarTypeNormal
	}
	if s.rates != nil {
		r, err := s.rates.GetRate(ctx, carType)
		if err == nil {
			return r, nil
		}
		if !errors.Is(err, ErrRateNotFound) {
			return Rate{}, fmt.Errorf("load rate %s: %w", carType, err)
		}
	}
	if r, ok := DefaultRates[carType]; ok {
		return r, nil
	}
	return DefaultRates[CarTypeNormal], nil
}

func isPeak(t time.Time) bool {
	h := t.Hour()
	return (h >= 7 && h < 9) || (h >= 17 && h < 19)
}

func isNight(t time.Time) bool {
	h := t.Hour()
	return h >= 23 || h < 6
}

func isFestival(t time.Time) bool {
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	for _, f := range festivals {
		if !day.Before(f.from) && !day.After(f.to) {
			return true
		}
	}
	return false
}

// distanceAdjustment changes the per-minute rate for mid and long trips.
func distanceAdjustment(km float64) int64 {
	switch {
	case km >= 5 && km <= 6:
		return -2
	case km > 7:
		return 2
	default:
		return 0
	}
}

func weatherMultiplier(w string) float64 {
	switch strings.ToLower(strings.TrimSpace(w)) {
	case WeatherRain:
		return 1.15
	case WeatherHeavyRain:
		return 1.3
	default:
		return 1.0
	}
}
