// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package report

import (
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"grimm.is/longview/internal/errors"
	"grimm.is/longview/internal/pipeline"
	"grimm.is/longview/internal/unbound"
)

// Export is the YAML document shape. Hourly tables flatten into row lists so
// downstream tooling gets stable, greppable records instead of composite map
// keys.
type Export struct {
	GeneratedAt time.Time `yaml:"generated_at"`
	Window      struct {
		StartTS  int64  `yaml:"start_ts"`
		EndTS    int64  `yaml:"end_ts"`
		Timezone string `yaml:"timezone"`
	} `yaml:"window"`

	TotalQueries int64 `yaml:"total_queries"`
	SpanDays     int   `yaml:"span_days"`

	StatusTotals map[string]int `yaml:"status_totals"`
	ServerTotals map[string]int `yaml:"server_totals"`
	TypeTotals   map[string]int `yaml:"type_totals"`

	StatusHourly []HourlyRow `yaml:"status_hourly"`
	ServerHourly []HourlyRow `yaml:"server_hourly"`
	TypeHourly   []HourlyRow `yaml:"type_hourly"`

	TopClients        []pipeline.ClientCount `yaml:"top_clients"`
	TopAllowedDomains []pipeline.DomainCount `yaml:"top_allowed_domains"`
	TopBlockedDomains []pipeline.DomainCount `yaml:"top_blocked_domains"`

	ReplyTimes []pipeline.ReplyTimePoint `yaml:"reply_times,omitempty"`

	Heatmap        []pipeline.HeatmapCell `yaml:"heatmap,omitempty"`
	HeatmapAllowed []pipeline.HeatmapCell `yaml:"heatmap_allowed,omitempty"`
	HeatmapBlocked []pipeline.HeatmapCell `yaml:"heatmap_blocked,omitempty"`

	Devices []DeviceRow `yaml:"devices,omitempty"`

	Unbound *UnboundSummary `yaml:"unbound,omitempty"`

	Metrics map[string]float64 `yaml:"run_metrics"`
}

// HourlyRow is one flattened hourly-table cell.
type HourlyRow struct {
	Bucket   int64  `yaml:"bucket"`
	Category string `yaml:"category"`
	Client   string `yaml:"client"`
	Count    int    `yaml:"count"`
}

// DeviceRow is one device activity record.
type DeviceRow struct {
	MAC             string    `yaml:"mac"`
	Vendor          string    `yaml:"vendor"`
	FirstSeen       time.Time `yaml:"first_seen,omitempty"`
	LastQuery       time.Time `yaml:"last_query,omitempty"`
	LifetimeQueries int64     `yaml:"lifetime_queries"`
}

// UnboundSummary carries the derived resolver metrics; the raw counter dump
// stays out of the export.
type UnboundSummary struct {
	TotalQueries int64   `yaml:"total_queries"`
	CacheHits    int64   `yaml:"cache_hits"`
	CacheMisses  int64   `yaml:"cache_misses"`
	CacheHitRate float64 `yaml:"cache_hit_rate"`
	Uptime       string  `yaml:"uptime"`
}

// BuildExport shapes a pipeline result for serialization.
func BuildExport(res *pipeline.Result, stats *unbound.Stats) *Export {
	agg := res.Aggregates

	e := &Export{
		GeneratedAt:       time.Now().UTC(),
		TotalQueries:      agg.TotalRecords,
		SpanDays:          agg.SpanDays,
		StatusTotals:      agg.StatusTotals,
		ServerTotals:      agg.ServerTotals,
		TypeTotals:        agg.TypeTotals,
		StatusHourly:      hourlyRows(agg.StatusHourly),
		ServerHourly:      hourlyRows(agg.ServerHourly),
		TypeHourly:        hourlyRows(agg.TypeHourly),
		TopClients:        agg.TopClients,
		TopAllowedDomains: agg.TopAllowedDomains,
		TopBlockedDomains: agg.TopBlockedDomains,
		ReplyTimes:        agg.ReplyTimes,
		Heatmap:           agg.Heatmap,
		HeatmapAllowed:    agg.HeatmapAllowed,
		HeatmapBlocked:    agg.HeatmapBlocked,
		Metrics:           res.Metrics,
	}
	e.Window.StartTS = res.Window.StartTS
	e.Window.EndTS = res.Window.EndTS
	e.Window.Timezone = res.Window.Location.String()

	macs := make([]string, 0, len(res.Devices))
	for mac := range res.Devices {
		macs = append(macs, mac)
	}
	sort.Strings(macs)
	for _, mac := range macs {
		d := res.Devices[mac]
		e.Devices = append(e.Devices, DeviceRow{
			MAC:             mac,
			Vendor:          d.Vendor,
			FirstSeen:       d.FirstSeen,
			LastQuery:       d.LastQuery,
			LifetimeQueries: d.LifetimeQueries,
		})
	}

	if stats != nil {
		e.Unbound = &UnboundSummary{
			TotalQueries: stats.Int("total.num.queries"),
			CacheHits:    stats.Int("total.num.cachehits"),
			CacheMisses:  stats.Int("total.num.cachemiss"),
			CacheHitRate: stats.CacheHitRate,
			Uptime:       stats.UptimeString,
		}
	}
	return e
}

// hourlyRows flattens a bucket table into deterministic order: bucket, then
// category, then client.
func hourlyRows(table map[pipeline.BucketKey]int) []HourlyRow {
	rows := make([]HourlyRow, 0, len(table))
	for key, count := range table {
		rows = append(rows, HourlyRow{
			Bucket:   key.Bucket,
			Category: key.Category,
			Client:   key.Client,
			Count:    count,
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Bucket != rows[j].Bucket {
			return rows[i].Bucket < rows[j].Bucket
		}
		if rows[i].Category != rows[j].Category {
			return rows[i].Category < rows[j].Category
		}
		return rows[i].Client < rows[j].Client
	})
	return rows
}

// WriteYAML serializes the export to path.
func WriteYAML(path string, res *pipeline.Result, stats *unbound.Stats) error {
	data, err := yaml.Marshal(BuildExport(res, stats))
	if err != nil {
		return errors.Wrap(err, errors.KindInternal, "failed to serialize export")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(err, errors.KindInternal, "failed to write export to %s", path)
	}
	return nil
}
