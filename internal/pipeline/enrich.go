// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package pipeline

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"grimm.is/longview/internal/config"
	"grimm.is/longview/internal/ftl"
	"grimm.is/longview/internal/logging"
)

// Status classes. Classification is total: every status code lands in
// exactly one of the three.
const (
	StatusAllowed = "Allowed"
	StatusBlocked = "Blocked"
	StatusOther   = "Other"
)

// DNS forwarder categories.
const (
	CategoryUnboundV4     = "Unbound IPv4"
	CategoryUnboundV6     = "Unbound IPv6"
	CategoryRouter        = "Router"
	CategoryCachedBlocked = "Cached/Blocked"
)

// Day periods.
const (
	PeriodDay   = "Day"
	PeriodNight = "Night"
)

// Pi-hole FTL status codes, per the FTL documentation.
var allowedStatuses = map[int]struct{}{
	2: {}, 3: {}, 12: {}, 13: {}, 14: {}, 17: {},
}

var blockedStatuses = map[int]struct{}{
	1: {}, 4: {}, 5: {}, 6: {}, 7: {}, 8: {}, 9: {}, 10: {}, 11: {}, 15: {}, 16: {}, 18: {},
}

// FTL query type codes. 28 is the raw wire qtype for AAAA, which older
// snapshots stored directly; both spell IPv6.
var queryTypeLabels = map[int]string{
	1:  "A (IPv4)",
	2:  "AAAA (IPv6)",
	3:  "ANY",
	4:  "SRV",
	5:  "SOA",
	6:  "PTR",
	7:  "TXT",
	8:  "NAPTR",
	9:  "MX",
	10: "DS",
	11: "RRSIG",
	12: "DNSKEY",
	13: "NS",
	14: "OTHER",
	15: "SVCB",
	16: "HTTPS",
	28: "AAAA (IPv6)",
}

var ipVersionLabels = map[int]string{
	1:  "IPv4",
	2:  "IPv6",
	28: "IPv6",
}

// Known upstream markers, checked in priority order. An address matching an
// Unbound marker is never a Router even if it also looks router-like.
var (
	unboundV4Marker = "127.0.0.1#5335"
	unboundV6Marker = "::1#5335"
	routerMarkers   = []string{"192.168.50.1", "fe80::ce28:aaff:fe29:f650"}
)

// ClassifyStatus maps an FTL status code to Allowed, Blocked or Other.
func ClassifyStatus(code int) string {
	if _, ok := allowedStatuses[code]; ok {
		return StatusAllowed
	}
	if _, ok := blockedStatuses[code]; ok {
		return StatusBlocked
	}
	return StatusOther
}

// DecodeQueryType maps an FTL query type code to its label, or Other.
func DecodeQueryType(code int) string {
	if label, ok := queryTypeLabels[code]; ok {
		return label
	}
	return StatusOther
}

// IPVersionOf reports the address family a query type implies.
func IPVersionOf(code int) string {
	if v, ok := ipVersionLabels[code]; ok {
		return v
	}
	return StatusOther
}

// CategorizeDNSServer groups a forwarder address. Unmatched non-empty
// addresses pass through as their own label; an absent address means the
// query never left the resolver.
func CategorizeDNSServer(addr string) string {
	switch {
	case addr == "":
		return CategoryCachedBlocked
	case strings.Contains(addr, unboundV4Marker):
		return CategoryUnboundV4
	case strings.Contains(addr, unboundV6Marker):
		return CategoryUnboundV6
	}
	for _, marker := range routerMarkers {
		if strings.Contains(addr, marker) {
			return CategoryRouter
		}
	}
	return addr
}

// Enriched is an event record augmented with derived identity, time and
// classification fields. Source fields are preserved unmodified.
type Enriched struct {
	ID        int64
	Timestamp time.Time // zone-local
	Date      time.Time // zone-local calendar date, midnight
	Hour      int
	DayName   string
	DayPeriod string

	Domain   string
	Client   string // display value per the configured mode
	ClientIP string // original source IP

	ReplyTime float64 // seconds; NaN when unknown

	StatusType  string
	QueryType   string
	IPVersion   string
	DNSServer   string // resolved forwarder address, "" when absent
	DNSCategory string
}

// Mappings bundles the reference tables enrichment resolves against. Empty
// maps are valid and simply yield no enrichment.
type Mappings struct {
	Hostnames  map[string]string // ip → hostname
	IPToMAC    map[string]string
	MACToName  map[string]string // lowercase MAC → hostname
	Forwarders map[int64]string
}

// Enricher applies the per-record transformation. It is pure and
// order-independent: enriching the same records twice yields identical
// output.
type Enricher struct {
	loc      *time.Location
	mode     config.DisplayMode
	exclude  *regexp.Regexp
	maps     Mappings
	logger   *logging.Logger
	excluded int64
}

// NewEnricher builds an Enricher. An invalid exclusion pattern is logged and
// the exclusion step disabled entirely; no records are dropped by a pattern
// that does not compile.
func NewEnricher(loc *time.Location, mode config.DisplayMode, excludePattern string, maps Mappings, logger *logging.Logger) *Enricher {
	if logger == nil {
		logger = logging.WithComponent("enrich")
	}
	e := &Enricher{loc: loc, mode: mode, maps: maps, logger: logger}
	if excludePattern != "" {
		re, err := regexp.Compile(excludePattern)
		if err != nil {
			logger.Warn("Ignoring invalid domain exclusion pattern", "pattern", excludePattern, "error", err)
		} else {
			e.exclude = re
		}
	}
	return e
}

// EnrichChunk transforms a chunk, dropping excluded records.
func (e *Enricher) EnrichChunk(recs []ftl.Record) []Enriched {
	out := make([]Enriched, 0, len(recs))
	for _, rec := range recs {
		if enriched, ok := e.Enrich(rec); ok {
			out = append(out, enriched)
		}
	}
	return out
}

// Enrich transforms one record. The second return is false when the record
// is excluded by the domain pattern.
func (e *Enricher) Enrich(rec ftl.Record) (Enriched, bool) {
	if e.exclude != nil && e.exclude.MatchString(rec.Domain) {
		e.excluded++
		return Enriched{}, false
	}

	local := time.Unix(rec.Timestamp, 0).In(e.loc)
	hour := local.Hour()

	enriched := Enriched{
		ID:        rec.ID,
		Timestamp: local,
		Date:      time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, e.loc),
		Hour:      hour,
		DayName:   local.Weekday().String(),
		DayPeriod: dayPeriod(hour),

		Domain:    rec.Domain,
		ClientIP:  rec.Client,
		Client:    e.displayClient(rec.Client),
		ReplyTime: rec.ReplyTime,

		StatusType: ClassifyStatus(rec.Status),
		QueryType:  DecodeQueryType(rec.Type),
		IPVersion:  IPVersionOf(rec.Type),
	}

	enriched.DNSServer = e.resolveForwarder(rec)
	enriched.DNSCategory = CategorizeDNSServer(enriched.DNSServer)
	return enriched, true
}

// ExcludedCount reports how many records the exclusion pattern dropped.
func (e *Enricher) ExcludedCount() int64 { return e.excluded }

func dayPeriod(hour int) string {
	if hour >= 6 {
		return PeriodDay
	}
	return PeriodNight
}

// hostnameFor resolves an IP to a display name, directly or via MAC.
func (e *Enricher) hostnameFor(ip string) (string, bool) {
	if name, ok := e.maps.Hostnames[ip]; ok {
		return name, true
	}
	if mac, ok := e.maps.IPToMAC[ip]; ok {
		if name, ok := e.maps.MACToName[mac]; ok {
			return name, true
		}
	}
	return "", false
}

func (e *Enricher) displayClient(ip string) string {
	switch e.mode {
	case config.DisplayIP:
		return ip
	case config.DisplayBoth:
		if name, ok := e.hostnameFor(ip); ok {
			return fmt.Sprintf("%s (%s)", name, ip)
		}
		return ip
	default: // hostname
		if name, ok := e.hostnameFor(ip); ok {
			return name
		}
		return ip
	}
}

func (e *Enricher) resolveForwarder(rec ftl.Record) string {
	if rec.ForwardAddr != "" {
		return rec.ForwardAddr
	}
	if rec.HasForward {
		return e.maps.Forwarders[rec.ForwardID]
	}
	return ""
}
