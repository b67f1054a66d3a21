// README: Fare rates per car type and the estimate request/result shapes.
package pricing

import (
	"time"

	"ridesync/internal/types"
)

const (
	CarTypeNormal   = "normal"
	CarTypeLuckyCat = "lucky_cat"

	WeatherNormal    = "normal"
	WeatherRain      = "rain"
	WeatherHeavyRain = "heavy_rain"
)

// Rate is the tariff of one car type. Amounts are in whole currency units.
type Rate struct {
	CarType       string
	BaseFare      int64   // covers the first BaseKm
	BaseKm        float64 // distance included in the base fare
	PerUnit       int64   // per started UnitKm beyond BaseKm
	UnitKm        float64
	PerMinOffPeak int64
	PerMinPeak    int64
	Multiplier    float64
	Currency      string
}

var defaultRate = Rate{
	CarType:       CarTypeNormal,
	BaseFare:      85,
	BaseKm:        1.25,
	PerUnit:       5,
	UnitKm:        0.2,
	PerMinOffPeak: 3,
	PerMinPeak:    5,
	Multiplier:    1.0,
	Currency:      types.DefaultCurrency,
}

// DefaultRates are used when no store is configured or a car type has no stored rate.
var DefaultRates = map[string]Rate{
	CarTypeNormal: defaultRate,
	CarTypeLuckyCat: func() Rate {
		r := defaultRate
		r.CarType = CarTypeLuckyCat
		r.Multiplier = 1.5
		return r
	}(),
}

const (
	nightSurcharge    = 25
	festivalSurcharge = 40
)

type dateRange struct{ from, to time.Time }

// festivals are inclusive calendar-day ranges (Lunar New Year holidays).
var festivals = []dateRange{
	{time.Date(2026, 2, 14, 0, 0, 0, 0, time.UTC), time.Date(2026, 2, 22, 0, 0, 0, 0, time.UTC)},
	{time.Date(2027, 2, 5, 0, 0, 0, 0, time.UTC), time.Date(2027, 2, 10, 0, 0, 0, 0, time.UTC)},
}

type PricingRequest struct {
	DistanceKm  float64
	DurationMin float64
	RequestTime time.Time
	Weather     string // "rain", "heavy_rain", "normal"
	CarType     string // "lucky_cat", "normal"
}

type PricingResult struct {
	TotalAmount int64
	Currency    string
	Breakdown   map[string]int64
}

func (r PricingResult) Money() types.Money {
	return types.Money{Amount: r.TotalAmount, Currency: r.Currency}
}
