// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Command longview summarizes Pi-hole FTL query logs over long time ranges.
// It reads one or more FTL databases in memory-bounded chunks, enriches and
// classifies every query, and prints hourly-aggregated statistics, optionally
// exporting the full result as YAML.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"grimm.is/longview/internal/config"
	"grimm.is/longview/internal/logging"
	"grimm.is/longview/internal/pipeline"
	"grimm.is/longview/internal/report"
	"grimm.is/longview/internal/unbound"
)

func main() {
	configPath := flag.String("config", "", "Path to HCL config file")
	days := flag.Int("days", 0, "Analyze the last N days (-1 for all data)")
	startDate := flag.String("start-date", "", "Window start date (YYYY-MM-DD, inclusive)")
	endDate := flag.String("end-date", "", "Window end date (YYYY-MM-DD, inclusive)")
	timezone := flag.String("timezone", "", "IANA timezone for bucketing")
	exclude := flag.String("exclude-domains", "", "Regex of domains to exclude")
	display := flag.String("client-display", "", "Client display mode: ip, hostname or both")
	export := flag.String("export", "", "Write the full result as YAML to this path")
	noColor := flag.Bool("no-color", false, "Disable styled output")
	logLevel := flag.String("log-level", "", "Log level: debug, info, warn or error")
	flag.Parse()

	cfg, err := loadConfig(*configPath, flag.Args())
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Flags override file settings.
	if *days != 0 {
		cfg.Days = *days
	}
	if *startDate != "" {
		cfg.StartDate = *startDate
	}
	if *endDate != "" {
		cfg.EndDate = *endDate
	}
	if *timezone != "" {
		cfg.Timezone = *timezone
	}
	if *exclude != "" {
		cfg.ExcludeDomains = *exclude
	}
	if *display != "" {
		cfg.ClientDisplay = *display
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger := logging.New(logging.Config{Level: parseLevel(cfg.LogLevel)})
	logging.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := pipeline.Run(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Error("Pipeline failed")
		os.Exit(1)
	}

	stats := collectUnbound(ctx, cfg, logger)

	color := !*noColor && cfg.ReportColor()
	fmt.Print(report.NewRenderer(color).Render(res, stats))

	exportPath := *export
	if exportPath == "" && cfg.Report != nil {
		exportPath = cfg.Report.ExportPath
	}
	if exportPath != "" {
		if err := report.WriteYAML(exportPath, res, stats); err != nil {
			logger.WithError(err).Error("Export failed")
			os.Exit(1)
		}
		logger.Info("Wrote YAML export", "path", exportPath)
	}
}

// loadConfig reads the config file when given, otherwise starts from
// defaults. Positional arguments are database paths and take precedence over
// the file's list.
func loadConfig(path string, dbArgs []string) (*config.Config, error) {
	var cfg *config.Config
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = config.Default()
	}
	if len(dbArgs) > 0 {
		cfg.Databases = dbArgs
	}
	return cfg, nil
}

func collectUnbound(ctx context.Context, cfg *config.Config, logger *logging.Logger) *unbound.Stats {
	if cfg.Unbound == nil || !cfg.Unbound.Enabled {
		return nil
	}
	collector := unbound.NewCollector(cfg.Unbound.Command, cfg.UnboundTimeout(), logger)
	stats, err := collector.Collect(ctx)
	if err != nil {
		logger.Warn("Skipping unbound stats", "error", err)
		return nil
	}
	return stats
}

func parseLevel(s string) logging.Level {
	switch strings.ToLower(s) {
	case "debug":
		return logging.LevelDebug
	case "warn":
		return logging.LevelWarn
	case "error":
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}
