// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package unbound collects live resolver statistics from unbound-control.
// The resolver is an optional collaborator: any failure here yields no stats,
// never a failed run.
package unbound

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"grimm.is/longview/internal/errors"
	"grimm.is/longview/internal/logging"
)

// Stats is one parsed stats_noreset snapshot. Values keeps every key the
// daemon reported; the derived fields are computed here because the raw
// counters are awkward to read directly.
type Stats struct {
	Ints    map[string]int64
	Floats  map[string]float64
	Strings map[string]string

	// Derived.
	CacheHitRate float64 // percent of total queries answered from cache
	UptimeString string  // "2d 5h 11m" style, "N/A" when time.up is absent
}

// Int returns a counter by key, falling back through the float table since
// unbound reports some counters with a decimal point.
func (s *Stats) Int(key string) int64 {
	if v, ok := s.Ints[key]; ok {
		return v
	}
	return int64(s.Floats[key])
}

func (s *Stats) Float(key string) float64 {
	if v, ok := s.Floats[key]; ok {
		return v
	}
	return float64(s.Ints[key])
}

// Runner executes a command and returns its stdout. Injected in tests.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// Collector fetches stats through a configurable command prefix, typically
// just ["unbound-control"] but often wrapped in ssh or docker exec.
type Collector struct {
	command []string
	timeout time.Duration
	runner  Runner
	logger  *logging.Logger
}

// NewCollector builds a Collector. An empty command defaults to the local
// unbound-control binary.
func NewCollector(command []string, timeout time.Duration, logger *logging.Logger) *Collector {
	if len(command) == 0 {
		command = []string{"unbound-control"}
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = logging.WithComponent("unbound")
	}
	return &Collector{command: command, timeout: timeout, runner: execRunner, logger: logger}
}

// Collect runs stats_noreset and parses the output. Every failure is
// KindUnavailable: the resolver being unreachable is expected on hosts that
// run the analysis away from the resolver.
func (c *Collector) Collect(ctx context.Context) (*Stats, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	// Cap-limited so the append cannot write into the caller's slice.
	args := append(c.command[1:len(c.command):len(c.command)], "stats_noreset")
	out, err := c.runner(ctx, c.command[0], args...)
	if err != nil {
		return nil, errors.Attr(
			errors.Wrap(err, errors.KindUnavailable, "unbound-control failed"),
			"command", strings.Join(c.command, " "))
	}

	stats := parseStats(string(out))
	c.logger.Debug("Collected unbound stats",
		"keys", len(stats.Ints)+len(stats.Floats)+len(stats.Strings),
		"cache_hit_rate", fmt.Sprintf("%.1f", stats.CacheHitRate))
	return stats, nil
}

// parseStats decodes key=value lines. Values are typed by shape: a decimal
// point makes a float, otherwise integer, otherwise the literal string. Lines
// without '=' are skipped.
func parseStats(output string) *Stats {
	s := &Stats{
		Ints:    make(map[string]int64),
		Floats:  make(map[string]float64),
		Strings: make(map[string]string),
	}
	for _, line := range strings.Split(output, "\n") {
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if strings.Contains(value, ".") {
			if f, err := strconv.ParseFloat(value, 64); err == nil {
				s.Floats[key] = f
				continue
			}
		} else if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			s.Ints[key] = i
			continue
		}
		s.Strings[key] = value
	}

	if total := s.Float("total.num.queries"); total > 0 {
		s.CacheHitRate = s.Float("total.num.cachehits") / total * 100
	}
	s.UptimeString = formatUptime(s.Float("time.up"))
	return s
}

func formatUptime(seconds float64) string {
	if seconds <= 0 {
		return "N/A"
	}
	total := int64(seconds)
	days := total / 86400
	hours := total % 86400 / 3600
	minutes := total % 3600 / 60
	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}
	return fmt.Sprintf("%dh %dm", hours, minutes)
}
