// Package api exposes the monitor's read side over HTTP: forecasts,
// recommendations, daily history, spreadsheet export, and on-demand backfill.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/semsmon/semsmon/internal/history"
	"github.com/semsmon/semsmon/internal/insights"
	"github.com/semsmon/semsmon/internal/models"
	"github.com/semsmon/semsmon/internal/report"
)

// Backfiller runs a historical ingestion pass. Satisfied by ingest.Scheduler.
type Backfiller interface {
	Backfill(ctx context.Context, plantID string, days int, start time.Time) models.BackfillResult
}

type Server struct {
	store    history.Store
	engine   *insights.Engine
	backfill Backfiller
	weather  insights.WeatherFetcher
	devices  insights.DevicesFetcher
	port     string
}

func NewServer(store history.Store, engine *insights.Engine, backfill Backfiller, weather insights.WeatherFetcher, devices insights.DevicesFetcher, port string) *Server {
	return &Server{
		store:    store,
		engine:   engine,
		backfill: backfill,
		weather:  weather,
		devices:  devices,
		port:     port,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/forecast", s.handleForecast)
	mux.HandleFunc("/api/recommendations", s.handleRecommendations)
	mux.HandleFunc("/api/backfill", s.handleBackfill)
	mux.HandleFunc("/api/history/daily", s.handleDailyHistory)
	mux.HandleFunc("/api/history/export", s.handleExport)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:    ":" + s.port,
		Handler: s.Handler(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"ok": false, "error": msg})
}

// plantParam pulls the required plant_id query parameter.
func plantParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	plantID := r.URL.Query().Get("plant_id")
	if plantID == "" {
		writeError(w, http.StatusBadRequest, "plant_id is required")
		return "", false
	}
	return plantID, true
}

// intParam parses an optional integer query parameter, falling back to def.
func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	return n, nil
}

func (s *Server) handleForecast(w http.ResponseWriter, r *http.Request) {
	plantID, ok := plantParam(w, r)
	if !ok {
		return
	}
	hours, err := intParam(r, "hours", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := s.engine.Forecast(r.Context(), plantID, hours, s.weather)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "forecast": result})
}

func (s *Server) handleRecommendations(w http.ResponseWriter, r *http.Request) {
	plantID, ok := plantParam(w, r)
	if !ok {
		return
	}

	result, err := s.engine.Recommend(r.Context(), plantID, s.weather, s.devices)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "recommendations": result})
}

func (s *Server) handleBackfill(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	plantID, ok := plantParam(w, r)
	if !ok {
		return
	}
	days, err := intParam(r, "days", 1)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result := s.backfill.Backfill(r.Context(), plantID, days, time.Time{})
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "backfill": result})
}

func (s *Server) handleDailyHistory(w http.ResponseWriter, r *http.Request) {
	plantID, ok := plantParam(w, r)
	if !ok {
		return
	}
	days, err := intParam(r, "days", 30)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	series := history.SeriesGeneration
	switch r.URL.Query().Get("series") {
	case "", "generation":
	case "consumption":
		series = history.SeriesConsumption
	default:
		writeError(w, http.StatusBadRequest, "series must be generation or consumption")
		return
	}

	totals, err := s.store.GetDailyTotals(r.Context(), series, plantID, days)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	type dayRow struct {
		Day string  `json:"day"`
		KWh float64 `json:"kwh"`
	}
	rows := make([]dayRow, 0, len(totals))
	for _, t := range totals {
		rows = append(rows, dayRow{Day: t.Day.Format("2006-01-02"), KWh: t.KWh})
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "days": rows})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	plantID, ok := plantParam(w, r)
	if !ok {
		return
	}
	days, err := intParam(r, "days", 30)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	data, err := report.BuildDailyHistoryXLSX(r.Context(), s.store, plantID, days)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "history-"+plantID+".xlsx"))
	if _, err := w.Write(data); err != nil {
		log.Printf("api: write export: %v", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	// A cheap store round-trip doubles as a liveness probe for the backend.
	if _, err := s.store.GetDailyTotals(r.Context(), history.SeriesGeneration, "healthz", 1); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "status": "degraded", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "status": "ok"})
}
