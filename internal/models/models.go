package models

import (
	"database/sql"
	"time"
)

// EnergySample is one interval of integrated energy. Timestamp marks the end
// of the interval.
type EnergySample struct {
	PlantID   string
	Timestamp time.Time
	KWh       float64
}

// BatterySample is an instantaneous battery reading. SOC and PowerKW may
// arrive in separate rows for the same timestamp; at least one is set.
type BatterySample struct {
	PlantID   string
	Timestamp time.Time
	SOC       sql.NullFloat64 // percent, 0-100
	PowerKW   sql.NullFloat64 // signed: >0 discharge, <0 charge
}

// GridSample is an instantaneous grid meter reading. Flow is import XOR
// export XOR idle: ImportKW*ExportKW == 0 and PowerKW == ImportKW+ExportKW.
type GridSample struct {
	PlantID   string
	Timestamp time.Time
	PowerKW   float64
	ImportKW  float64
	ExportKW  float64
}

// DailyTotal is energy summed over one calendar day.
type DailyTotal struct {
	Day time.Time
	KWh float64
}

// ForecastItem is one projected hourly slot.
type ForecastItem struct {
	Time           time.Time `json:"time"`
	GenerationKWh  float64   `json:"generation_kwh"`
	ConsumptionKWh float64   `json:"consumption_kwh"`
}

type ForecastResult struct {
	PlantID             string         `json:"plant_id"`
	Hours               int            `json:"hours"`
	Items               []ForecastItem `json:"items"`
	TotalGenerationKWh  float64        `json:"total_generation_kwh"`
	TotalConsumptionKWh float64        `json:"total_consumption_kwh"`
	WeatherUsed         bool           `json:"weather_used"`
}

// Recommendation pairs advice text with the numbers that justify it.
type Recommendation struct {
	Text   string             `json:"text"`
	Metric map[string]float64 `json:"metric"`
}

type RecommendationResult struct {
	PlantID         string           `json:"plant_id"`
	Recommendations []Recommendation `json:"recommendations"`
}

// Device is a smart-home device snapshot from an external devices fetcher.
type Device struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	RoomName  string  `json:"roomName"`
	Vendor    string  `json:"vendor"`
	On        bool    `json:"on"`
	PowerW    float64 `json:"power_w"`
	EnergyKWh float64 `json:"energy_kwh"`
}

// BackfillResult reports the outcome of a historical ingestion run.
type BackfillResult struct {
	Completed int      `json:"completed"`
	Days      int      `json:"days"`
	Errors    []string `json:"errors"`
}
