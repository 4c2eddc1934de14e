package insights

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"sort"
	"strings"

	"github.com/semsmon/semsmon/internal/history"
	"github.com/semsmon/semsmon/internal/metrics"
	"github.com/semsmon/semsmon/internal/models"
)

var (
	peakHours = []int{18, 19, 20, 21, 22}
	baseHours = []int{10, 11, 12, 13, 14}
)

const (
	upliftThresholdPct = 10
	devicePowerMinW    = 30
	standbyMinW        = 3
	standbyMaxW        = 15
)

// Recommend evaluates the rule set against recent consumption history and
// optional weather/device signals. The returned list is never empty: when no
// consumption pattern fires, a default note is appended. Weather and device
// failures are swallowed; history read errors propagate.
func (e *Engine) Recommend(ctx context.Context, plantID string, weather WeatherFetcher, devices DevicesFetcher) (models.RecommendationResult, error) {
	metrics.InsightRequests.WithLabelValues("recommendations").Inc()

	daily, err := e.store.GetDailyTotals(ctx, history.SeriesConsumption, plantID, dailyLookbackDays)
	if err != nil {
		return models.RecommendationResult{}, fmt.Errorf("daily totals: %w", err)
	}
	byHour, err := e.store.GetHourlyProfile(ctx, history.SeriesConsumption, plantID, profileLookbackDays)
	if err != nil {
		return models.RecommendationResult{}, fmt.Errorf("hourly profile: %w", err)
	}

	var recs []models.Recommendation

	// Rule 1: evening peak uplift over midday base.
	peakAvg := hourAverage(byHour, peakHours)
	baseAvg := hourAverage(byHour, baseHours)
	upliftPct := 0.0
	switch {
	case baseAvg > 0:
		upliftPct = (peakAvg - baseAvg) / baseAvg * 100
	case peakAvg > 0:
		upliftPct = 100
	}
	if upliftPct > upliftThresholdPct {
		recs = append(recs, models.Recommendation{
			Text: fmt.Sprintf("Your peak-hour consumption (18:00-22:00) is %.0f%% above the midday base. Consider switching off non-essential appliances in that window.", upliftPct),
			Metric: map[string]float64{
				"peak_avg_kwh": round3(peakAvg),
				"base_avg_kwh": round3(baseAvg),
				"uplift_pct":   round1(upliftPct),
			},
		})
	}

	// Rule 2: mean daily consumption over the last 30 days.
	meanDaily := 0.0
	if len(daily) > 0 {
		for _, d := range daily {
			meanDaily += d.KWh
		}
		meanDaily /= float64(len(daily))
	}
	if meanDaily > 0 {
		recs = append(recs, models.Recommendation{
			Text: fmt.Sprintf("Average daily consumption is %.1f kWh. Scheduling washers and dryers outside peak hours can reduce cost.", meanDaily),
			Metric: map[string]float64{
				"mean_daily_kwh": round2(meanDaily),
			},
		})
	}
	patternFound := len(recs) > 0

	// Rule 4: device-aware suggestions. Applied before the weather prepend so
	// the low-generation warning always ends up first.
	if devices != nil {
		recs = e.applyDeviceRules(ctx, devices, recs)
	}

	// Rule 3: weather-driven low-generation warning outranks everything.
	if weather != nil {
		if rec, ok := e.weatherWarning(ctx, weather); ok {
			recs = append([]models.Recommendation{rec}, recs...)
		}
	}

	// Rule 5: guarantee a non-empty result.
	if !patternFound {
		recs = append(recs, models.Recommendation{
			Text:   "No critical consumption pattern found recently. Keep up the good energy habits!",
			Metric: map[string]float64{},
		})
	}

	return models.RecommendationResult{PlantID: plantID, Recommendations: recs}, nil
}

func (e *Engine) weatherWarning(ctx context.Context, weather WeatherFetcher) (models.Recommendation, bool) {
	raw, err := weather(ctx)
	if err != nil || len(raw) == 0 {
		return models.Recommendation{}, false
	}
	o, ok := parseWeather(raw)
	if !ok {
		return models.Recommendation{}, false
	}
	reason, ok := o.lowGeneration()
	if !ok {
		return models.Recommendation{}, false
	}

	metric := map[string]float64{}
	if o.HasCloudRate {
		metric["cloud_rate"] = round2(o.CloudRate)
	}
	return models.Recommendation{
		Text:   fmt.Sprintf("The weather forecast indicates %s. Avoid running non-critical loads during peak solar hours (11:00-15:00) to not depend on unstable generation.", reason),
		Metric: metric,
	}, true
}

// applyDeviceRules folds device-draw suggestions into the list: big live
// loads first, then an aggregated standby note and the top accumulated-energy
// devices. Any fetch or decode failure leaves the list untouched.
func (e *Engine) applyDeviceRules(ctx context.Context, devices DevicesFetcher, recs []models.Recommendation) []models.Recommendation {
	raw, err := devices(ctx)
	if err != nil || len(raw) == 0 {
		if err != nil {
			log.Printf("insights: devices fetch failed, skipping device rules: %v", err)
		}
		return recs
	}
	var listing struct {
		Items []models.Device `json:"items"`
	}
	if err := json.Unmarshal(raw, &listing); err != nil {
		log.Printf("insights: undecodable devices payload, skipping device rules: %v", err)
		return recs
	}

	var big, standby []models.Device
	for _, d := range listing.Items {
		if !d.On {
			continue
		}
		switch {
		case d.PowerW >= devicePowerMinW:
			big = append(big, d)
		case d.PowerW >= standbyMinW && d.PowerW <= standbyMaxW:
			standby = append(standby, d)
		}
	}

	// Top live loads, highest draw first, prepended.
	sort.Slice(big, func(i, j int) bool { return big[i].PowerW > big[j].PowerW })
	if len(big) > 5 {
		big = big[:5]
	}
	var front []models.Recommendation
	for _, d := range big {
		front = append(front, models.Recommendation{
			Text: fmt.Sprintf("%s is currently drawing ~%.0fW, consider switching off if non-essential.", deviceName(d), d.PowerW),
			Metric: map[string]float64{
				"power_w": round1(d.PowerW),
			},
		})
	}
	recs = append(front, recs...)

	// Small always-on draws flagged once as a possible phantom load.
	if len(standby) > 0 {
		if len(standby) > 5 {
			standby = standby[:5]
		}
		names := make([]string, len(standby))
		total := 0.0
		for i, d := range standby {
			names[i] = deviceName(d)
			total += d.PowerW
		}
		recs = append(recs, models.Recommendation{
			Text: fmt.Sprintf("Possible standby/phantom load: %s draw a few watts while idle. Unplugging them avoids silent consumption.", strings.Join(names, ", ")),
			Metric: map[string]float64{
				"devices":       float64(len(standby)),
				"total_power_w": round1(total),
			},
		})
	}

	// Largest accumulated energy consumers.
	var withEnergy []models.Device
	for _, d := range listing.Items {
		if d.EnergyKWh > 0 {
			withEnergy = append(withEnergy, d)
		}
	}
	sort.Slice(withEnergy, func(i, j int) bool { return withEnergy[i].EnergyKWh > withEnergy[j].EnergyKWh })
	if len(withEnergy) > 3 {
		withEnergy = withEnergy[:3]
	}
	for _, d := range withEnergy {
		recs = append(recs, models.Recommendation{
			Text: fmt.Sprintf("%s accumulated ~%.2f kWh recently. Check whether its usage can move off peak hours.", deviceName(d), d.EnergyKWh),
			Metric: map[string]float64{
				"energy_kwh": round2(d.EnergyKWh),
			},
		})
	}

	return recs
}

func deviceName(d models.Device) string {
	if d.Name == "" {
		return d.ID
	}
	if d.RoomName != "" {
		return fmt.Sprintf("%s (%s)", d.Name, d.RoomName)
	}
	return d.Name
}

// hourAverage averages the profile over the given hours, counting only hours
// the sparse profile actually has data for.
func hourAverage(profile map[int]float64, hours []int) float64 {
	sum, n := 0.0, 0
	for _, h := range hours {
		if v, ok := profile[h]; ok {
			sum += v
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }
func round2(v float64) float64 { return math.Round(v*100) / 100 }
func round3(v float64) float64 { return math.Round(v*1000) / 1000 }
