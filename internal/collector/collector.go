// Package collector translates raw SEMS vendor payloads into normalized
// history writes. It is the only producer of interval, battery, and grid
// samples.
package collector

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/semsmon/semsmon/internal/curve"
	"github.com/semsmon/semsmon/internal/history"
	"github.com/semsmon/semsmon/internal/metrics"
	"github.com/semsmon/semsmon/internal/models"
)

// Route names the collector understands. Anything else is ignored.
const (
	RoutePowerChart   = "power-chart"
	RouteChartByPlant = "chart-by-plant"
	RoutePowerflow    = "powerflow"
)

// Channel is a canonical curve identifier in a power-chart payload.
type Channel string

const (
	ChannelPV      Channel = "pv"
	ChannelPVTotal Channel = "pvtotal"
	ChannelLoad    Channel = "load"
	ChannelBattery Channel = "battery"
	ChannelMeter   Channel = "meter"
	ChannelSOC     Channel = "soc"
)

// channelKeys maps the vendor's curve keys (lowercased) to canonical
// channels. Built once; all key matching goes through this table.
var channelKeys = map[string]Channel{
	"pcurve_power_pv":      ChannelPV,
	"pcurve_power_pvtotal": ChannelPVTotal,
	"pcurve_power_load":    ChannelLoad,
	"pcurve_power_battery": ChannelBattery,
	"pcurve_power_meter":   ChannelMeter,
	"pcurve_power_soc":     ChannelSOC,
}

type Collector struct {
	store history.Store
	loc   *time.Location
	now   func() time.Time
}

func New(store history.Store, loc *time.Location) *Collector {
	return &Collector{store: store, loc: loc, now: time.Now}
}

// Payload carries one vendor response for ingestion.
type Payload struct {
	PlantID  string
	Date     string // "YYYY-MM-DD"; power-chart only
	Response json.RawMessage
}

// OnResponse is the fire-and-forget ingestion hook. Parse failures and store
// errors are logged, never returned; a broken ingestion cycle must not crash
// the caller.
func (c *Collector) OnResponse(ctx context.Context, route string, p Payload) {
	if p.PlantID == "" {
		return
	}
	var err error
	switch route {
	case RoutePowerChart, RouteChartByPlant:
		err = c.IngestPowerChart(ctx, p.PlantID, p.Date, p.Response)
	case RoutePowerflow:
		err = c.IngestPowerflow(ctx, p.PlantID, p.Response)
	default:
		return
	}
	if err != nil {
		metrics.IngestFailures.WithLabelValues(route).Inc()
		log.Printf("collector: %s ingestion for %s failed: %v", route, p.PlantID, err)
	}
}

// powerChartResponse is the vendor's keyed-curve payload shape.
type powerChartResponse struct {
	Data struct {
		Lines []struct {
			Key   string        `json:"key"`
			Label string        `json:"label"`
			XY    []curve.Point `json:"xy"`
		} `json:"lines"`
	} `json:"data"`
}

// IngestPowerChart integrates the PV and load curves into energy batches and
// persists the final battery, SOC, and grid readings of the day as
// instantaneous samples. Only store errors are returned; a malformed payload
// is a no-op.
func (c *Collector) IngestPowerChart(ctx context.Context, plantID, date string, raw json.RawMessage) error {
	var resp powerChartResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		log.Printf("collector: unparsable power-chart payload for %s: %v", plantID, err)
		return nil
	}

	day := c.chartDay(date)
	curves := make(map[Channel][]curve.Point)
	for _, line := range resp.Data.Lines {
		key := line.Key
		if key == "" {
			key = line.Label
		}
		ch, ok := channelKeys[lower(key)]
		if !ok {
			continue
		}
		if _, seen := curves[ch]; !seen {
			curves[ch] = line.XY
		}
	}

	// The per-inverter PV curve is authoritative; the plant total is only a
	// fallback when it is missing. Line order in the payload is irrelevant.
	pv := curves[ChannelPV]
	if len(pv) == 0 {
		pv = curves[ChannelPVTotal]
	}

	if gen := curve.Integrate(pv, day, c.loc); len(gen) > 0 {
		for i := range gen {
			gen[i].PlantID = plantID
		}
		n, err := c.store.InsertGenerationBatch(ctx, gen)
		if err != nil {
			return fmt.Errorf("insert generation batch: %w", err)
		}
		metrics.SamplesIngested.WithLabelValues(string(history.SeriesGeneration)).Add(float64(n))
	}

	if cons := curve.Integrate(curves[ChannelLoad], day, c.loc); len(cons) > 0 {
		for i := range cons {
			cons[i].PlantID = plantID
		}
		n, err := c.store.InsertConsumptionBatch(ctx, cons)
		if err != nil {
			return fmt.Errorf("insert consumption batch: %w", err)
		}
		metrics.SamplesIngested.WithLabelValues(string(history.SeriesConsumption)).Add(float64(n))
	}

	// Instantaneous channels keep only the last reading of the day.
	if soc := curves[ChannelSOC]; len(soc) > 0 {
		last := soc[len(soc)-1]
		if err := c.store.InsertBatterySample(ctx, models.BatterySample{
			PlantID:   plantID,
			Timestamp: c.pointTime(day, last.X),
			SOC:       sql.NullFloat64{Float64: last.Y, Valid: true},
		}); err != nil {
			return fmt.Errorf("insert soc sample: %w", err)
		}
		metrics.SamplesIngested.WithLabelValues("battery_history").Inc()
	}

	if batt := curves[ChannelBattery]; len(batt) > 0 {
		last := batt[len(batt)-1]
		if err := c.store.InsertBatterySample(ctx, models.BatterySample{
			PlantID:   plantID,
			Timestamp: c.pointTime(day, last.X),
			PowerKW:   sql.NullFloat64{Float64: last.Y / 1000, Valid: true},
		}); err != nil {
			return fmt.Errorf("insert battery sample: %w", err)
		}
		metrics.SamplesIngested.WithLabelValues("battery_history").Inc()
	}

	if grid := curves[ChannelMeter]; len(grid) > 0 {
		last := grid[len(grid)-1]
		if err := c.store.InsertGridSample(ctx, DeriveGridSample(plantID, c.pointTime(day, last.X), last.Y)); err != nil {
			return fmt.Errorf("insert grid sample: %w", err)
		}
		metrics.SamplesIngested.WithLabelValues("grid_history").Inc()
	}

	return nil
}

// IngestPowerflow writes one battery and one grid sample from a single
// instantaneous snapshot, stamped "now".
func (c *Collector) IngestPowerflow(ctx context.Context, plantID string, raw json.RawMessage) error {
	data, ok := powerflowData(raw)
	if !ok {
		log.Printf("collector: unparsable powerflow payload for %s", plantID)
		return nil
	}

	now := c.now()
	soc, hasSOC := pickNumber(data, "BatterySOC", "batterySOC", "soc")
	battW, hasBatt := pickNumber(data, "BatteryPower", "batteryPower", "pbattery")
	gridW, _ := pickNumber(data, "GridPower", "gridPower", "pmeter")

	sample := models.BatterySample{PlantID: plantID, Timestamp: now}
	if hasSOC {
		sample.SOC = sql.NullFloat64{Float64: soc, Valid: true}
	}
	if hasBatt {
		sample.PowerKW = sql.NullFloat64{Float64: battW / 1000, Valid: true}
	}
	if hasSOC || hasBatt {
		if err := c.store.InsertBatterySample(ctx, sample); err != nil {
			return fmt.Errorf("insert battery sample: %w", err)
		}
		metrics.SamplesIngested.WithLabelValues("battery_history").Inc()
	}

	if err := c.store.InsertGridSample(ctx, DeriveGridSample(plantID, now, gridW)); err != nil {
		return fmt.Errorf("insert grid sample: %w", err)
	}
	metrics.SamplesIngested.WithLabelValues("grid_history").Inc()
	return nil
}

// DeriveGridSample applies the grid sign convention: positive raw watts flow
// in from the grid, negative flow out. The result always satisfies
// import*export == 0 and power == import+export.
func DeriveGridSample(plantID string, ts time.Time, rawWatts float64) models.GridSample {
	kw := math.Abs(rawWatts) / 1000
	g := models.GridSample{PlantID: plantID, Timestamp: ts, PowerKW: kw}
	switch {
	case rawWatts > 0:
		g.ImportKW = kw
	case rawWatts < 0:
		g.ExportKW = kw
	}
	return g
}

// chartDay resolves the reference day for curve labels, defaulting to today.
func (c *Collector) chartDay(date string) time.Time {
	if len(date) >= 10 {
		if d, err := time.ParseInLocation("2006-01-02", date[:10], c.loc); err == nil {
			return d
		}
	}
	return c.now().In(c.loc)
}

// pointTime resolves a curve label against the reference day, falling back
// to "now" when the label is unparsable.
func (c *Collector) pointTime(day time.Time, hm string) time.Time {
	if t, ok := curve.ParseHM(day, hm, c.loc); ok {
		return t
	}
	return c.now()
}
