package main

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"os"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/shopspring/decimal"

	"github.com/raterudder/homeplug/pkg/forecast"
	"github.com/raterudder/homeplug/pkg/log"
	"github.com/raterudder/homeplug/pkg/storage"
	"github.com/raterudder/homeplug/pkg/types"
)

func main() {
	s := storage.Configured()
	area := lflag.String("seed-area", "SE3", "Price area stamped on seeded prices")
	lflag.Configure()
	defer s.Close()

	ctx := context.Background()

	log.Ctx(ctx).InfoContext(ctx, "seeding mock data")

	// Use a new random source
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	now := time.Now().UTC()
	start := now.Truncate(24 * time.Hour)

	// Prices for today and tomorrow
	var prices []types.PriceSample
	for t := start; t.Before(start.Add(48 * time.Hour)); t = t.Add(time.Hour) {
		hour := t.Hour()
		base := 0.40
		if hour >= 6 && hour < 9 {
			base = 1.20 // Morning peak
		} else if hour >= 10 && hour < 15 {
			base = 0.25 // Mid-day lull
		} else if hour >= 17 && hour < 21 {
			base = 1.80 // Evening peak
		}
		// Jitter
		base += (rng.Float64() * 0.1) - 0.05
		prices = append(prices, types.PriceSample{
			TimeStart: t.Format(time.RFC3339),
			TimeEnd:   t.Add(time.Hour).Format(time.RFC3339),
			Price:     decimal.NewFromFloat(base).Round(5),
			Area:      *area,
		})
	}
	n, err := s.Prices.AppendAll(ctx, prices)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to seed prices", "error", err)
		os.Exit(1)
	}
	fmt.Printf("Seeded %d prices\n", n)

	// Solar forecast for the next two days, irradiance as a bell curve
	f := forecast.Forecast{}
	for t := now.Truncate(time.Hour); t.Before(now.Add(48 * time.Hour)); t = t.Add(time.Hour) {
		irradiance := 0.0
		if hour := t.Hour(); hour > 4 && hour < 20 {
			dist := math.Abs(float64(hour) - 12.0)
			irradiance = 850 * math.Exp(-(dist*dist)/10.0) * (0.7 + rng.Float64()*0.3)
		}
		f.Timestamps = append(f.Timestamps, t)
		f.Irradiance = append(f.Irradiance, irradiance)
		f.Temperature = append(f.Temperature, 12+rng.Float64()*10)
	}
	model := forecast.Model{PanelArea: 1.6, Efficiency: 0.2, TempCoefficient: -0.004, ReferenceTemperature: 25}
	solar, err := model.Predict(f, time.Local)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to predict solar", "error", err)
		os.Exit(1)
	}
	n, err = s.Solar.AppendAll(ctx, solar)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to seed solar forecast", "error", err)
		os.Exit(1)
	}
	fmt.Printf("Seeded %d solar samples\n", n)

	// Host metrics, one every 10 seconds up to now
	const (
		MemoryTotal = 8 << 30
		DiskTotal   = 64 << 30
	)
	cpu := 15.0
	diskUsed := uint64(DiskTotal) / 3
	count := s.Metrics.Limit()
	for i := count; i > 0; i-- {
		cpu = math.Max(1, math.Min(100, cpu+(rng.Float64()*10)-5))
		available := uint64(MemoryTotal) / 2 / uint64(1+rng.Intn(2))
		diskUsed += uint64(rng.Intn(1 << 20))
		m := types.MetricsSample{
			Timestamp:       now.Add(-time.Duration(i) * 10 * time.Second),
			CPUPercent:      cpu,
			MemoryTotal:     MemoryTotal,
			MemoryAvailable: available,
			MemoryPercent:   100 * float64(MemoryTotal-available) / MemoryTotal,
			DiskTotal:       DiskTotal,
			DiskUsed:        diskUsed,
			DiskPercent:     100 * float64(diskUsed) / DiskTotal,
		}
		if _, err := s.Metrics.Append(ctx, m); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to seed metrics", "error", err)
			os.Exit(1)
		}
	}
	fmt.Printf("Seeded %d metrics samples\n", count)

	log.Ctx(ctx).InfoContext(ctx, "seeded mock data successfully")
}
