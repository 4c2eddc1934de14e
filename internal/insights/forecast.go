// Package insights derives short-horizon forecasts and energy-saving
// recommendations from the aggregated history. Everything here is a pure
// projection over stored averages with deterministic adjustments; there is
// no learned model.
package insights

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/semsmon/semsmon/internal/history"
	"github.com/semsmon/semsmon/internal/metrics"
	"github.com/semsmon/semsmon/internal/models"
)

const (
	profileLookbackDays = 14
	dailyLookbackDays   = 30
	defaultHorizonHours = 24
)

type Engine struct {
	store history.Store
	now   func() time.Time
}

func New(store history.Store) *Engine {
	return &Engine{store: store, now: time.Now}
}

// Forecast projects generation and consumption for the next hours from the
// 14-day hourly profiles, optionally scaled for the weather outlook. The
// first slot starts at the next full hour. A failing weather fetch disables
// the adjustment but never fails the forecast; history read errors do.
func (e *Engine) Forecast(ctx context.Context, plantID string, hours int, weather WeatherFetcher) (models.ForecastResult, error) {
	metrics.InsightRequests.WithLabelValues("forecast").Inc()

	if hours == 0 {
		hours = defaultHorizonHours
	}
	if hours < 1 {
		hours = 1
	}

	genProfile, err := e.store.GetHourlyProfile(ctx, history.SeriesGeneration, plantID, profileLookbackDays)
	if err != nil {
		return models.ForecastResult{}, fmt.Errorf("generation profile: %w", err)
	}
	consProfile, err := e.store.GetHourlyProfile(ctx, history.SeriesConsumption, plantID, profileLookbackDays)
	if err != nil {
		return models.ForecastResult{}, fmt.Errorf("consumption profile: %w", err)
	}

	factor := 1.0
	weatherUsed := false
	if weather != nil {
		raw, err := weather(ctx)
		if err != nil || len(raw) == 0 {
			if err != nil {
				log.Printf("insights: weather fetch failed, forecasting without adjustment: %v", err)
			}
		} else {
			weatherUsed = true
			if o, ok := parseWeather(raw); ok {
				factor = o.generationFactor()
			}
		}
	}

	base := e.now().UTC().Truncate(time.Hour)
	result := models.ForecastResult{
		PlantID:     plantID,
		Hours:       hours,
		Items:       make([]models.ForecastItem, 0, hours),
		WeatherUsed: weatherUsed,
	}
	for i := 1; i <= hours; i++ {
		slot := base.Add(time.Duration(i) * time.Hour)
		item := models.ForecastItem{
			Time:           slot,
			GenerationKWh:  genProfile[slot.Hour()] * factor,
			ConsumptionKWh: consProfile[slot.Hour()],
		}
		result.Items = append(result.Items, item)
		result.TotalGenerationKWh += item.GenerationKWh
		result.TotalConsumptionKWh += item.ConsumptionKWh
	}
	return result, nil
}
