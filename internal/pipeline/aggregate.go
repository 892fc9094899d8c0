// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package pipeline

import (
	"math"
	"sort"
	"time"
)

// BucketKey addresses one cell of an hourly aggregate table. Bucket is the
// absolute instant (UTC Unix seconds) of a zone-local hour start.
type BucketKey struct {
	Bucket   int64
	Category string
	Client   string
}

// ClientCount is one row of the top-client ranking.
type ClientCount struct {
	Client string `yaml:"client"`
	Count  int    `yaml:"count"`
}

// DomainCount is one row of a top-domain ranking.
type DomainCount struct {
	Domain string `yaml:"domain"`
	Count  int    `yaml:"count"`
}

// HeatmapCell counts queries for one day-of-week × hour slot.
type HeatmapCell struct {
	DayName string `yaml:"day"`
	Hour    int    `yaml:"hour"`
	Count   int    `yaml:"count"`
}

// ReplyTimePoint is the mean reply time for one calendar date.
type ReplyTimePoint struct {
	Date    time.Time `yaml:"date"`
	MeanMS  float64   `yaml:"mean_ms"`
	Samples int       `yaml:"samples"`
}

// Aggregates is the pipeline's public output: fixed-shape summary tables the
// presentation layer slices without further gap-filling.
type Aggregates struct {
	// Hourly tables: (bucket, category, client) → count. Buckets between the
	// observed minimum and maximum are contiguous; missing combinations hold
	// explicit zeros for every (category, client) pair present anywhere.
	StatusHourly map[BucketKey]int
	ServerHourly map[BucketKey]int
	TypeHourly   map[BucketKey]int

	TopClients        []ClientCount
	TopAllowedDomains []DomainCount
	TopBlockedDomains []DomainCount

	StatusTotals map[string]int
	ServerTotals map[string]int
	TypeTotals   map[string]int

	ReplyTimes []ReplyTimePoint

	// Heatmaps are Monday-first day × hour counts.
	Heatmap        []HeatmapCell
	HeatmapAllowed []HeatmapCell
	HeatmapBlocked []HeatmapCell

	TotalRecords int64
	SpanDays     int
	FirstBucket  time.Time
	LastBucket   time.Time
}

type heatKey struct {
	day  time.Weekday
	hour int
}

// Aggregator reduces enriched chunks into Aggregates. Feed chunks with Add,
// then call Finalize exactly once.
type Aggregator struct {
	loc *time.Location

	status map[BucketKey]int
	server map[BucketKey]int
	qtype  map[BucketKey]int

	clientCounts map[string]int
	clientOrder  map[string]int
	nextClient   int

	allowedDomains map[string]int
	blockedDomains map[string]int

	statusTotals map[string]int
	serverTotals map[string]int
	typeTotals   map[string]int

	replySum   map[int64]float64
	replyCount map[int64]int

	heat        map[heatKey]int
	heatAllowed map[heatKey]int
	heatBlocked map[heatKey]int

	minBucket int64
	maxBucket int64
	minTS     time.Time
	maxTS     time.Time
	total     int64
}

// NewAggregator builds an empty Aggregator bucketing in loc.
func NewAggregator(loc *time.Location) *Aggregator {
	return &Aggregator{
		loc:            loc,
		status:         make(map[BucketKey]int),
		server:         make(map[BucketKey]int),
		qtype:          make(map[BucketKey]int),
		clientCounts:   make(map[string]int),
		clientOrder:    make(map[string]int),
		allowedDomains: make(map[string]int),
		blockedDomains: make(map[string]int),
		statusTotals:   make(map[string]int),
		serverTotals:   make(map[string]int),
		typeTotals:     make(map[string]int),
		replySum:       make(map[int64]float64),
		replyCount:     make(map[int64]int),
		heat:           make(map[heatKey]int),
		heatAllowed:    make(map[heatKey]int),
		heatBlocked:    make(map[heatKey]int),
		minBucket:      math.MaxInt64,
		maxBucket:      math.MinInt64,
	}
}

// bucketOf returns the zone-local hour start containing t, as an absolute
// instant.
func (a *Aggregator) bucketOf(t time.Time) int64 {
	local := t.In(a.loc)
	return time.Date(local.Year(), local.Month(), local.Day(), local.Hour(), 0, 0, 0, a.loc).Unix()
}

// Add folds one enriched chunk into the running aggregation.
func (a *Aggregator) Add(recs []Enriched) {
	for i := range recs {
		rec := &recs[i]
		bucket := a.bucketOf(rec.Timestamp)

		if bucket < a.minBucket {
			a.minBucket = bucket
		}
		if bucket > a.maxBucket {
			a.maxBucket = bucket
		}
		if a.minTS.IsZero() || rec.Timestamp.Before(a.minTS) {
			a.minTS = rec.Timestamp
		}
		if rec.Timestamp.After(a.maxTS) {
			a.maxTS = rec.Timestamp
		}

		a.status[BucketKey{bucket, rec.StatusType, rec.Client}]++
		a.server[BucketKey{bucket, rec.DNSCategory, rec.Client}]++
		a.qtype[BucketKey{bucket, rec.QueryType, rec.Client}]++

		if _, seen := a.clientOrder[rec.Client]; !seen {
			a.clientOrder[rec.Client] = a.nextClient
			a.nextClient++
		}
		a.clientCounts[rec.Client]++

		a.statusTotals[rec.StatusType]++
		a.serverTotals[rec.DNSCategory]++
		a.typeTotals[rec.QueryType]++

		switch rec.StatusType {
		case StatusAllowed:
			a.allowedDomains[shortenDomain(rec.Domain)]++
			a.heatAllowed[heatKey{rec.Timestamp.Weekday(), rec.Hour}]++
		case StatusBlocked:
			a.blockedDomains[shortenDomain(rec.Domain)]++
			a.heatBlocked[heatKey{rec.Timestamp.Weekday(), rec.Hour}]++
		}
		a.heat[heatKey{rec.Timestamp.Weekday(), rec.Hour}]++

		if !math.IsNaN(rec.ReplyTime) {
			date := rec.Date.Unix()
			a.replySum[date] += rec.ReplyTime
			a.replyCount[date]++
		}

		a.total++
	}
}

// Finalize materializes the output tables: hourly gaps zero-filled across the
// cross-product of buckets × pairs present, rankings cut to their N.
func (a *Aggregator) Finalize(topClients, topDomains int) *Aggregates {
	out := &Aggregates{
		StatusHourly:      a.status,
		ServerHourly:      a.server,
		TypeHourly:        a.qtype,
		StatusTotals:      a.statusTotals,
		ServerTotals:      a.serverTotals,
		TypeTotals:        a.typeTotals,
		TopClients:        a.rankClients(topClients),
		TopAllowedDomains: rankDomains(a.allowedDomains, topDomains),
		TopBlockedDomains: rankDomains(a.blockedDomains, topDomains),
		ReplyTimes:        a.replySeries(),
		Heatmap:           heatmapCells(a.heat),
		HeatmapAllowed:    heatmapCells(a.heatAllowed),
		HeatmapBlocked:    heatmapCells(a.heatBlocked),
		TotalRecords:      a.total,
	}

	if a.total > 0 {
		fillBucketGaps(a.status, a.minBucket, a.maxBucket)
		fillBucketGaps(a.server, a.minBucket, a.maxBucket)
		fillBucketGaps(a.qtype, a.minBucket, a.maxBucket)

		out.FirstBucket = time.Unix(a.minBucket, 0).In(a.loc)
		out.LastBucket = time.Unix(a.maxBucket, 0).In(a.loc)
		out.SpanDays = int(a.maxTS.Sub(a.minTS).Hours() / 24)
	}
	return out
}

// fillBucketGaps inserts zero rows so every (category, client) pair present
// in the table has one entry per hour between min and max.
func fillBucketGaps(table map[BucketKey]int, minBucket, maxBucket int64) {
	type pair struct{ category, client string }
	pairs := make(map[pair]struct{})
	for k := range table {
		pairs[pair{k.Category, k.Client}] = struct{}{}
	}
	for b := minBucket; b <= maxBucket; b += 3600 {
		for p := range pairs {
			k := BucketKey{b, p.category, p.client}
			if _, ok := table[k]; !ok {
				table[k] = 0
			}
		}
	}
}

func (a *Aggregator) rankClients(n int) []ClientCount {
	ranked := make([]ClientCount, 0, len(a.clientCounts))
	for client, count := range a.clientCounts {
		ranked = append(ranked, ClientCount{Client: client, Count: count})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Count != ranked[j].Count {
			return ranked[i].Count > ranked[j].Count
		}
		return a.clientOrder[ranked[i].Client] < a.clientOrder[ranked[j].Client]
	})
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}

func rankDomains(counts map[string]int, n int) []DomainCount {
	ranked := make([]DomainCount, 0, len(counts))
	for domain, count := range counts {
		ranked = append(ranked, DomainCount{Domain: domain, Count: count})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Count != ranked[j].Count {
			return ranked[i].Count > ranked[j].Count
		}
		return ranked[i].Domain < ranked[j].Domain
	})
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}

func (a *Aggregator) replySeries() []ReplyTimePoint {
	points := make([]ReplyTimePoint, 0, len(a.replySum))
	for date, sum := range a.replySum {
		count := a.replyCount[date]
		points = append(points, ReplyTimePoint{
			Date:    time.Unix(date, 0).In(a.loc),
			MeanMS:  sum / float64(count) * 1000,
			Samples: count,
		})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Date.Before(points[j].Date) })
	return points
}

// weekdayOrder is Monday-first, matching how the dashboards lay out weeks.
var weekdayOrder = []time.Weekday{
	time.Monday, time.Tuesday, time.Wednesday, time.Thursday,
	time.Friday, time.Saturday, time.Sunday,
}

func heatmapCells(heat map[heatKey]int) []HeatmapCell {
	cells := make([]HeatmapCell, 0, len(weekdayOrder)*24)
	for _, day := range weekdayOrder {
		for hour := 0; hour < 24; hour++ {
			cells = append(cells, HeatmapCell{
				DayName: day.String(),
				Hour:    hour,
				Count:   heat[heatKey{day, hour}],
			})
		}
	}
	return cells
}

const maxDomainDisplay = 45

// shortenDomain keeps rankings readable for very long names.
func shortenDomain(d string) string {
	if len(d) <= maxDomainDisplay {
		return d
	}
	return d[:20] + "..." + d[len(d)-20:]
}
