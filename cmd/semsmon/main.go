package main

import (
	"context"
	"encoding/json"
	"log"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	kongdotenv "github.com/titusjaka/kong-dotenv-go"

	"github.com/semsmon/semsmon/internal/api"
	"github.com/semsmon/semsmon/internal/collector"
	"github.com/semsmon/semsmon/internal/history"
	"github.com/semsmon/semsmon/internal/ingest"
	"github.com/semsmon/semsmon/internal/insights"
)

var cli struct {
	Account  string   `env:"SEMS_ACCOUNT" required:"" help:"SEMS portal account (email)."`
	Password string   `env:"SEMS_PASSWORD" required:"" help:"SEMS portal password."`
	Plants   []string `env:"SEMS_PLANT_IDS" required:"" help:"Plant (power station) IDs to monitor."`

	DatabaseURL string `env:"DATABASE_URL" help:"Postgres connection string; when empty an embedded SQLite file is used."`
	DB          string `default:"data/semsmon.db" help:"Path to the SQLite database."`

	Port          string        `env:"PORT" default:"8080" help:"HTTP server port."`
	Timezone      string        `env:"TZ_NAME" default:"UTC" help:"Timezone for curve day boundaries."`
	FlowInterval  time.Duration `default:"5m" help:"Power-flow poll interval."`
	ChartInterval time.Duration `default:"30m" help:"Power-chart poll interval."`
	DevicesURL    string        `env:"DEVICES_URL" help:"Optional smart-home bridge endpoint for device-aware recommendations."`

	NoPoll   bool `help:"Disable polling (server only, for local dev)."`
	Once     bool `help:"Ingest once and exit (for testing)."`
	Backfill int  `help:"Backfill N days of power-chart history and exit."`
}

func main() {
	kong.Parse(&cli,
		kong.Name("semsmon"),
		kong.Description("GoodWe SEMS solar and battery telemetry monitor."),
		kong.Configuration(kongdotenv.ENVFileReader, ".env"),
	)

	loc, err := time.LoadLocation(cli.Timezone)
	if err != nil {
		log.Printf("could not load timezone %s, using UTC: %v", cli.Timezone, err)
		loc = time.UTC
	}

	store, err := history.Open(history.Config{DatabaseURL: cli.DatabaseURL, Path: cli.DB})
	if err != nil {
		log.Fatalf("open history store: %v", err)
	}
	defer store.Close()

	sems := ingest.NewSEMS(cli.Account, cli.Password)
	coll := collector.New(store, loc)
	scheduler := ingest.NewScheduler(sems, coll, cli.Plants, loc)
	scheduler.SetIntervals(cli.FlowInterval, cli.ChartInterval)

	engine := insights.New(store)

	// Insight weather comes from the vendor's per-plant forecast endpoint.
	// One plant's weather stands in for the site.
	primaryPlant := cli.Plants[0]
	weather := func(ctx context.Context) (json.RawMessage, error) {
		return sems.GetWeather(ctx, primaryPlant)
	}

	var devices insights.DevicesFetcher
	if cli.DevicesURL != "" {
		devices = insights.HTTPDevicesFetcher(cli.DevicesURL)
	}

	server := api.NewServer(store, engine, scheduler, weather, devices, cli.Port)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cli.Backfill > 0 {
		log.Printf("backfilling %d days for %s", cli.Backfill, strings.Join(cli.Plants, ", "))
		for _, plantID := range cli.Plants {
			result := scheduler.Backfill(ctx, plantID, cli.Backfill, time.Time{})
			log.Printf("backfill %s: %d/%d days", plantID, result.Completed, result.Days)
			for _, e := range result.Errors {
				log.Printf("backfill %s: %s", plantID, e)
			}
		}
		return
	}

	if cli.Once {
		log.Println("running single ingestion")
		scheduler.RunOnce(ctx)
		log.Println("done")
		return
	}

	if !cli.NoPoll {
		go scheduler.Run(ctx)
	} else {
		log.Println("polling disabled (--no-poll)")
	}

	log.Printf("starting server on :%s", cli.Port)
	if err := server.Run(ctx); err != nil {
		log.Fatalf("server: %v", err)
	}
}
