package ingest

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/semsmon/semsmon/internal/collector"
	"github.com/semsmon/semsmon/internal/metrics"
	"github.com/semsmon/semsmon/internal/models"
)

const chartDateLayout = "2006-01-02"

// Scheduler polls the vendor on fixed cadences and feeds every response to
// the collector. One logical worker per cycle; plants are visited in order
// with no fan-out, since the portal is a shared rate-limited resource.
type Scheduler struct {
	client        VendorClient
	collector     *collector.Collector
	plantIDs      []string
	loc           *time.Location
	flowInterval  time.Duration
	chartInterval time.Duration
	now           func() time.Time
}

func NewScheduler(client VendorClient, c *collector.Collector, plantIDs []string, loc *time.Location) *Scheduler {
	return &Scheduler{
		client:        client,
		collector:     c,
		plantIDs:      plantIDs,
		loc:           loc,
		flowInterval:  5 * time.Minute,
		chartInterval: 30 * time.Minute,
		now:           time.Now,
	}
}

// SetIntervals overrides the polling cadences; zero values keep the default.
func (s *Scheduler) SetIntervals(flow, chart time.Duration) {
	if flow > 0 {
		s.flowInterval = flow
	}
	if chart > 0 {
		s.chartInterval = chart
	}
}

// RunOnce performs a single powerflow and power-chart pass for every plant.
func (s *Scheduler) RunOnce(ctx context.Context) {
	s.ingestPowerflow(ctx)
	s.ingestPowerCharts(ctx)
}

func (s *Scheduler) Run(ctx context.Context) {
	s.RunOnce(ctx)

	flowTicker := time.NewTicker(s.flowInterval)
	chartTicker := time.NewTicker(s.chartInterval)
	defer flowTicker.Stop()
	defer chartTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("scheduler: shutting down")
			return
		case <-flowTicker.C:
			s.ingestPowerflow(ctx)
		case <-chartTicker.C:
			s.ingestPowerCharts(ctx)
		}
	}
}

func (s *Scheduler) ingestPowerflow(ctx context.Context) {
	for _, plantID := range s.plantIDs {
		resp, err := s.client.GetPowerflow(ctx, plantID)
		if err != nil {
			metrics.IngestFailures.WithLabelValues(collector.RoutePowerflow).Inc()
			log.Printf("scheduler: powerflow fetch for %s failed: %v", plantID, err)
			continue
		}
		s.collector.OnResponse(ctx, collector.RoutePowerflow, collector.Payload{
			PlantID:  plantID,
			Response: resp,
		})
	}
}

func (s *Scheduler) ingestPowerCharts(ctx context.Context) {
	date := s.now().In(s.loc).Format(chartDateLayout)
	for _, plantID := range s.plantIDs {
		resp, err := s.client.GetPowerChart(ctx, plantID, date)
		if err != nil {
			metrics.IngestFailures.WithLabelValues(collector.RoutePowerChart).Inc()
			log.Printf("scheduler: power chart fetch for %s failed: %v", plantID, err)
			continue
		}
		s.collector.OnResponse(ctx, collector.RoutePowerChart, collector.Payload{
			PlantID:  plantID,
			Date:     date,
			Response: resp,
		})
	}
}

// Backfill retrieves and ingests one power chart per day, newest day first,
// strictly sequentially. A failed day is recorded and the loop moves on;
// partial history beats none.
func (s *Scheduler) Backfill(ctx context.Context, plantID string, days int, start time.Time) models.BackfillResult {
	if days < 1 {
		days = 1
	}
	if start.IsZero() {
		start = s.now().In(s.loc)
	}

	result := models.BackfillResult{Days: days}
	for i := 0; i < days; i++ {
		if err := ctx.Err(); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("aborted: %v", err))
			break
		}

		day := start.AddDate(0, 0, -i)
		date := day.Format(chartDateLayout)

		resp, err := s.client.GetPowerChart(ctx, plantID, date)
		if err == nil {
			err = s.collector.IngestPowerChart(ctx, plantID, date, resp)
		}
		if err != nil {
			metrics.BackfillDays.WithLabelValues("error").Inc()
			log.Printf("backfill: day %s for %s failed: %v", date, plantID, err)
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", date, err))
			continue
		}

		metrics.BackfillDays.WithLabelValues("ok").Inc()
		result.Completed++
	}
	return result
}
