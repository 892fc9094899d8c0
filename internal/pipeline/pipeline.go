// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"

	"grimm.is/longview/internal/config"
	"grimm.is/longview/internal/ftl"
	"grimm.is/longview/internal/host"
	"grimm.is/longview/internal/logging"
	"grimm.is/longview/internal/metrics"
)

// Result is everything one pipeline run hands to the presentation layer:
// plain structured data, no chart objects. Degraded mappings are visible only
// through logs and the mapping-size metrics; there is deliberately no
// completeness flag.
type Result struct {
	Aggregates *Aggregates
	Devices    map[string]ftl.DeviceActivity
	Window     Window
	Metrics    map[string]float64
}

// Run executes one full ingestion-and-aggregation pass over cfg. Fatal errors
// are limited to missing/broken sources and unresolvable windows; everything
// else degrades with a warning and the run produces a best-effort result.
func Run(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*Result, error) {
	if logger == nil {
		logger = logging.Default()
	}
	logger = logger.With("run_id", uuid.NewString())
	run := metrics.NewRun()

	start := time.Now()
	logger.Info("Starting pipeline", "databases", len(cfg.Databases), "timezone", cfg.Timezone)

	// Probe every source up front: chunk sizes are per database, and the
	// all-time window needs the oldest record across all of them.
	available := availableMemory(logger)
	chunkSizes := make([]int, len(cfg.Databases))
	var oldest time.Time
	for i, path := range cfg.Databases {
		probe, err := probeSource(ctx, path)
		if err != nil {
			return nil, err
		}
		if probe.Empty {
			logger.Warn("Database has no rows", "database", path)
			continue
		}
		chunkSizes[i] = ftl.PlanChunkSize(probe.Sample, available, cfg.MemoryFraction)
		logger.Info("Planned chunk size", "database", path, "chunk_size", chunkSizes[i])

		dbOldest := time.Unix(probe.OldestTS, 0).UTC()
		if oldest.IsZero() || dbOldest.Before(oldest) {
			oldest = dbOldest
		}
	}

	window, err := ResolveWindow(WindowRequest{
		Days:            cfg.Days,
		StartDate:       cfg.StartDate,
		EndDate:         cfg.EndDate,
		Timezone:        cfg.Timezone,
		OldestAvailable: oldest,
	}, logger)
	if err != nil {
		return nil, err
	}

	maps, devices := loadMappings(ctx, cfg.Databases[0], run, logger)

	enricher := NewEnricher(window.Location, config.DisplayMode(cfg.ClientDisplay), cfg.ExcludeDomains, maps, logger)
	agg := NewAggregator(window.Location)

	reader := ftl.NewReader(cfg.Databases, chunkSizes, window.StartTS, window.EndTS, logger)
	defer reader.Close()

	for reader.Next(ctx) {
		chunk := reader.Chunk()
		run.RowsRead.WithLabelValues(reader.Source()).Add(float64(len(chunk)))
		run.Chunks.WithLabelValues(reader.Source()).Inc()
		agg.Add(enricher.EnrichChunk(chunk))
	}
	if err := reader.Err(); err != nil {
		return nil, err
	}

	run.Excluded.Add(float64(enricher.ExcludedCount()))
	run.DecodeAnomalies.Add(float64(reader.Anomalies()))

	aggregates := agg.Finalize(cfg.TopClients, cfg.TopDomains)
	snapshot := run.Snapshot()

	logger.Info("Pipeline complete",
		"records", aggregates.TotalRecords,
		"span_days", aggregates.SpanDays,
		"excluded", enricher.ExcludedCount(),
		"anomalies", reader.Anomalies(),
		"took", time.Since(start).String())

	return &Result{
		Aggregates: aggregates,
		Devices:    devices,
		Window:     window,
		Metrics:    snapshot,
	}, nil
}

func probeSource(ctx context.Context, path string) (*ftl.Probe, error) {
	src, err := ftl.OpenSource(path)
	if err != nil {
		return nil, err
	}
	defer src.Close()
	return src.Probe(ctx)
}

func availableMemory(logger *logging.Logger) uint64 {
	info, err := host.GetMemoryInfo()
	if err != nil {
		// 1 GiB keeps chunks reasonable when the probe fails.
		logger.Warn("Could not read available memory, assuming 1GiB", "error", err)
		return 1 << 30
	}
	return info.AvailableBytes
}

// loadMappings pulls the reference tables from the first source. Every
// failure degrades to an empty mapping with a warning.
func loadMappings(ctx context.Context, path string, run *metrics.Run, logger *logging.Logger) (Mappings, map[string]ftl.DeviceActivity) {
	maps := Mappings{}

	hostnames, err := ftl.LoadHostnames(ctx, path)
	if err != nil {
		logger.Warn("Could not load hostname mapping, falling back to IPs", "error", err)
	}
	maps.Hostnames = hostnames

	ipToMAC, macToName, err := ftl.LoadMACMappings(ctx, path)
	if err != nil {
		logger.Warn("Could not load MAC mappings", "error", err)
	}
	maps.IPToMAC = ipToMAC
	maps.MACToName = macToName

	forwarders, err := ftl.LoadForwarders(ctx, path)
	if err != nil {
		logger.Warn("Could not load forwarder mapping, DNS server analytics unavailable", "error", err)
	}
	maps.Forwarders = forwarders

	devices, err := ftl.LoadDeviceActivity(ctx, path)
	if err != nil {
		logger.Warn("Could not load device activity", "error", err)
	}

	run.MappingEntries.WithLabelValues("hostnames").Set(float64(len(maps.Hostnames)))
	run.MappingEntries.WithLabelValues("ip_to_mac").Set(float64(len(maps.IPToMAC)))
	run.MappingEntries.WithLabelValues("mac_to_name").Set(float64(len(maps.MACToName)))
	run.MappingEntries.WithLabelValues("forwarders").Set(float64(len(maps.Forwarders)))
	run.MappingEntries.WithLabelValues("devices").Set(float64(len(devices)))

	logger.Info("Loaded mappings",
		"hostnames", len(maps.Hostnames),
		"ip_to_mac", len(maps.IPToMAC),
		"mac_to_name", len(maps.MACToName),
		"forwarders", len(maps.Forwarders),
		"devices", len(devices))

	return maps, devices
}
