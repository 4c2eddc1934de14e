package insights

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// WeatherFetcher returns the vendor's raw weather payload for a plant. A nil
// fetcher or any returned error disables weather adjustment without failing
// the caller.
type WeatherFetcher func(ctx context.Context) (json.RawMessage, error)

// DevicesFetcher returns a raw smart-home device listing of the shape
// {"items": [...]}. Optional in the same way as WeatherFetcher.
type DevicesFetcher func(ctx context.Context) (json.RawMessage, error)

// outlook holds the weather signals the engines act on: a sky descriptor
// string and, when present, a cloud-cover fraction in [0,1].
type outlook struct {
	Sky          string
	CloudRate    float64
	HasCloudRate bool
}

type weatherPayload struct {
	Data struct {
		Weather struct {
			Forecast []struct {
				Skycon string `json:"skycon"`
			} `json:"forecast"`
			Skycon    string   `json:"skycon"`
			CloudRate *float64 `json:"cloudrate"`
		} `json:"weather"`
	} `json:"data"`
}

func parseWeather(raw json.RawMessage) (outlook, bool) {
	if len(raw) == 0 {
		return outlook{}, false
	}
	var p weatherPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return outlook{}, false
	}

	var o outlook
	w := p.Data.Weather
	if len(w.Forecast) > 0 {
		o.Sky = strings.ToLower(w.Forecast[0].Skycon)
	}
	if o.Sky == "" {
		o.Sky = strings.ToLower(w.Skycon)
	}
	if w.CloudRate != nil && !math.IsNaN(*w.CloudRate) {
		o.CloudRate = *w.CloudRate
		o.HasCloudRate = true
	}
	return o, true
}

// generationFactor scales projected generation for the expected sky. Cloud
// cover, when reported, dominates the sky descriptor.
func (o outlook) generationFactor() float64 {
	switch {
	case o.HasCloudRate:
		return math.Max(0.3, 1-o.CloudRate*0.6)
	case strings.Contains(o.Sky, "rain") || strings.Contains(o.Sky, "storm"):
		return 0.5
	case strings.Contains(o.Sky, "cloud"):
		return 0.7
	default:
		return 1.0
	}
}

// lowGeneration reports whether the outlook warrants a low-generation
// warning, and the human-readable reason.
func (o outlook) lowGeneration() (string, bool) {
	switch {
	case o.HasCloudRate && o.CloudRate >= 0.7:
		return fmt.Sprintf("high cloud cover (%d%%)", int(math.Round(o.CloudRate*100))), true
	case strings.Contains(o.Sky, "rain") || strings.Contains(o.Sky, "storm"):
		return "rain expected", true
	case strings.Contains(o.Sky, "cloud"):
		return "cloudy conditions", true
	default:
		return "", false
	}
}
