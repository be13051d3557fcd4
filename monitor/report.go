package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/c360/tiercache/cache"
	"github.com/c360/tiercache/errors"
	"github.com/c360/tiercache/store"
)

// Period is a reporting window
type Period string

// Reporting periods
const (
	PeriodHour Period = "hour"
	PeriodDay  Period = "day"
	PeriodWeek Period = "week"
)

// Duration returns the window length, or an error for unknown periods
func (p Period) Duration() (time.Duration, error) {
	switch p {
	case PeriodHour:
		return time.Hour, nil
	case PeriodDay:
		return 24 * time.Hour, nil
	case PeriodWeek:
		return 7 * 24 * time.Hour, nil
	default:
		return 0, errors.WrapInvalid(errors.ErrInvalidConfig, "Monitor", "Period",
			fmt.Sprintf("unknown period %q", string(p)))
	}
}

// Report summarizes cache behavior over a period
type Report struct {
	Period              Period                         `json:"period"`
	GeneratedAt         time.Time                      `json:"generated_at"`
	Summary             Metrics                        `json:"summary"`
	PeriodHitRate       float64                        `json:"period_hit_rate"`
	InvalidationsByType map[store.InvalidationType]int `json:"invalidations_by_type"`
	TopKeys             []cache.KeyHits                `json:"top_keys"`
	Alerts              []Alert                        `json:"alerts,omitempty"`
}

// Trend describes hit-rate movement between two windows
type Trend string

// Performance trends
const (
	TrendImproving Trend = "improving"
	TrendDeclining Trend = "declining"
	TrendStable    Trend = "stable"
)

// trendTolerance is the hit-rate delta in percentage points below which
// the trend reads as stable
const trendTolerance = 1.0

// Analysis compares recent behavior against the longer baseline
type Analysis struct {
	HourlyHitRate float64         `json:"hourly_hit_rate"`
	DailyHitRate  float64         `json:"daily_hit_rate"`
	Trend         Trend           `json:"trend"`
	TopPerformers []cache.KeyHits `json:"top_performers"`
	GeneratedAt   time.Time       `json:"generated_at"`
}

// HitRate computes the hit rate over the given period from stored
// snapshots. Snapshots hold cumulative totals, so the rate is the delta
// between the oldest and newest snapshot in the window. With fewer than
// two snapshots the live cumulative rate stands in.
func (m *Monitor) HitRate(ctx context.Context, period Period) (float64, error) {
	window, err := period.Duration()
	if err != nil {
		return 0, err
	}

	since := m.clock.Now().Add(-window)
	snaps, err := m.store.SnapshotsSince(ctx, since)
	if err != nil {
		return 0, errors.Wrap(err, "Monitor", "HitRate", "load snapshots")
	}

	if len(snaps) < 2 {
		return m.manager.Statistics().HitRate(), nil
	}

	first, last := snaps[0], snaps[len(snaps)-1]
	hits := last.HitCount - first.HitCount
	misses := last.MissCount - first.MissCount
	total := hits + misses
	if total <= 0 {
		return 0, nil
	}
	return float64(hits) / float64(total) * 100, nil
}

// GenerateReport builds a full report for the period
func (m *Monitor) GenerateReport(ctx context.Context, period Period) (*Report, error) {
	window, err := period.Duration()
	if err != nil {
		return nil, err
	}

	periodRate, err := m.HitRate(ctx, period)
	if err != nil {
		return nil, err
	}

	since := m.clock.Now().Add(-window)
	invalidations, err := m.store.InvalidationsSince(ctx, since)
	if err != nil {
		return nil, errors.Wrap(err, "Monitor", "GenerateReport", "load invalidations")
	}

	byType := make(map[store.InvalidationType]int)
	for _, rec := range invalidations {
		byType[rec.Type]++
	}

	return &Report{
		Period:              period,
		GeneratedAt:         m.clock.Now(),
		Summary:             m.Metrics(),
		PeriodHitRate:       periodRate,
		InvalidationsByType: byType,
		TopKeys:             m.manager.Statistics().TopKeys(10),
		Alerts:              m.Alerts(),
	}, nil
}

// AnalyzePerformance compares the last hour against the last day
func (m *Monitor) AnalyzePerformance(ctx context.Context) (*Analysis, error) {
	hourly, err := m.HitRate(ctx, PeriodHour)
	if err != nil {
		return nil, err
	}
	daily, err := m.HitRate(ctx, PeriodDay)
	if err != nil {
		return nil, err
	}

	trend := TrendStable
	switch {
	case hourly-daily > trendTolerance:
		trend = TrendImproving
	case daily-hourly > trendTolerance:
		trend = TrendDeclining
	}

	return &Analysis{
		HourlyHitRate: hourly,
		DailyHitRate:  daily,
		Trend:         trend,
		TopPerformers: m.manager.Statistics().TopKeys(5),
		GeneratedAt:   m.clock.Now(),
	}, nil
}
