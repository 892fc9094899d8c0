// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package pipeline

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"grimm.is/longview/internal/config"
	"grimm.is/longview/internal/ftl"
)

func TestClassifyStatusIsTotalAndDisjoint(t *testing.T) {
	for a := range allowedStatuses {
		if _, both := blockedStatuses[a]; both {
			t.Fatalf("status %d is both allowed and blocked", a)
		}
	}

	// Every conceivable code maps to exactly one class.
	for code := -5; code <= 50; code++ {
		got := ClassifyStatus(code)
		switch got {
		case StatusAllowed, StatusBlocked, StatusOther:
		default:
			t.Fatalf("status %d classified as %q", code, got)
		}
	}

	assert.Equal(t, StatusAllowed, ClassifyStatus(2))
	assert.Equal(t, StatusAllowed, ClassifyStatus(17))
	assert.Equal(t, StatusBlocked, ClassifyStatus(1))
	assert.Equal(t, StatusBlocked, ClassifyStatus(18))
	assert.Equal(t, StatusOther, ClassifyStatus(0))
	assert.Equal(t, StatusOther, ClassifyStatus(99))
}

func TestDecodeQueryType(t *testing.T) {
	assert.Equal(t, "A (IPv4)", DecodeQueryType(1))
	// Both the FTL code and the raw wire qtype spell AAAA.
	assert.Equal(t, "AAAA (IPv6)", DecodeQueryType(2))
	assert.Equal(t, "AAAA (IPv6)", DecodeQueryType(28))
	assert.Equal(t, "Other", DecodeQueryType(999))

	assert.Equal(t, "IPv4", IPVersionOf(1))
	assert.Equal(t, "IPv6", IPVersionOf(2))
	assert.Equal(t, "IPv6", IPVersionOf(28))
	assert.Equal(t, "Other", IPVersionOf(6))
}

func TestCategorizeDNSServerPrecedence(t *testing.T) {
	assert.Equal(t, CategoryUnboundV4, CategorizeDNSServer("127.0.0.1#5335"))
	assert.Equal(t, CategoryUnboundV6, CategorizeDNSServer("::1#5335"))
	assert.Equal(t, CategoryRouter, CategorizeDNSServer("192.168.50.1#53"))
	assert.Equal(t, CategoryCachedBlocked, CategorizeDNSServer(""))
	assert.Equal(t, "8.8.8.8#53", CategorizeDNSServer("8.8.8.8#53"))

	// An address carrying both an Unbound marker and a router-looking part
	// must win as Unbound; pattern priority is fixed.
	assert.Equal(t, CategoryUnboundV4, CategorizeDNSServer("192.168.50.1 via 127.0.0.1#5335"))
}

func testRecord() ftl.Record {
	return ftl.Record{
		ID:        1,
		Timestamp: time.Date(2024, 1, 15, 22, 30, 0, 0, time.UTC).Unix(),
		Type:      1,
		Status:    2,
		Domain:    "example.com",
		Client:    "192.168.1.10",
		ReplyTime: 0.012,
	}
}

func testMappings() Mappings {
	return Mappings{
		Hostnames:  map[string]string{"192.168.1.10": "laptop"},
		IPToMAC:    map[string]string{"192.168.1.20": "aa:bb:cc:00:11:22"},
		MACToName:  map[string]string{"aa:bb:cc:00:11:22": "phone"},
		Forwarders: map[int64]string{1: "127.0.0.1#5335"},
	}
}

func TestEnrichCalendarFields(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)
	e := NewEnricher(loc, config.DisplayIP, "", Mappings{}, nil)

	// 22:30 UTC on a Monday is 23:30 Monday in Berlin (winter).
	enriched, ok := e.Enrich(testRecord())
	require.True(t, ok)

	assert.Equal(t, 23, enriched.Hour)
	assert.Equal(t, "Monday", enriched.DayName)
	assert.Equal(t, PeriodDay, enriched.DayPeriod)
	assert.Equal(t, time.Date(2024, 1, 15, 0, 0, 0, 0, loc), enriched.Date)
	assert.Equal(t, loc, enriched.Timestamp.Location())
}

func TestEnrichDayPeriodBoundaries(t *testing.T) {
	e := NewEnricher(time.UTC, config.DisplayIP, "", Mappings{}, nil)

	rec := testRecord()
	rec.Timestamp = time.Date(2024, 1, 15, 5, 59, 59, 0, time.UTC).Unix()
	enriched, _ := e.Enrich(rec)
	assert.Equal(t, PeriodNight, enriched.DayPeriod)

	rec.Timestamp = time.Date(2024, 1, 15, 6, 0, 0, 0, time.UTC).Unix()
	enriched, _ = e.Enrich(rec)
	assert.Equal(t, PeriodDay, enriched.DayPeriod)

	rec.Timestamp = time.Date(2024, 1, 15, 23, 59, 0, 0, time.UTC).Unix()
	enriched, _ = e.Enrich(rec)
	assert.Equal(t, PeriodDay, enriched.DayPeriod)
}

func TestEnrichDisplayModes(t *testing.T) {
	maps := testMappings()

	e := NewEnricher(time.UTC, config.DisplayIP, "", maps, nil)
	enriched, _ := e.Enrich(testRecord())
	assert.Equal(t, "192.168.1.10", enriched.Client)
	assert.Equal(t, "192.168.1.10", enriched.ClientIP)

	e = NewEnricher(time.UTC, config.DisplayHostname, "", maps, nil)
	enriched, _ = e.Enrich(testRecord())
	assert.Equal(t, "laptop", enriched.Client)
	assert.Equal(t, "192.168.1.10", enriched.ClientIP)

	e = NewEnricher(time.UTC, config.DisplayBoth, "", maps, nil)
	enriched, _ = e.Enrich(testRecord())
	assert.Equal(t, "laptop (192.168.1.10)", enriched.Client)

	// Two-hop resolution through the MAC tables.
	rec := testRecord()
	rec.Client = "192.168.1.20"
	e = NewEnricher(time.UTC, config.DisplayHostname, "", maps, nil)
	enriched, _ = e.Enrich(rec)
	assert.Equal(t, "phone", enriched.Client)

	// Unresolved IPs pass through unchanged in every mode.
	rec.Client = "10.9.9.9"
	enriched, _ = e.Enrich(rec)
	assert.Equal(t, "10.9.9.9", enriched.Client)
}

func TestEnrichForwarderResolution(t *testing.T) {
	maps := testMappings()
	e := NewEnricher(time.UTC, config.DisplayIP, "", maps, nil)

	rec := testRecord()
	rec.ForwardID = 1
	rec.HasForward = true
	enriched, _ := e.Enrich(rec)
	assert.Equal(t, "127.0.0.1#5335", enriched.DNSServer)
	assert.Equal(t, CategoryUnboundV4, enriched.DNSCategory)

	// Absent forwarder means the query never left the resolver.
	rec = testRecord()
	enriched, _ = e.Enrich(rec)
	assert.Equal(t, "", enriched.DNSServer)
	assert.Equal(t, CategoryCachedBlocked, enriched.DNSCategory)

	// Unknown forwarder id resolves to no address.
	rec = testRecord()
	rec.ForwardID = 42
	rec.HasForward = true
	enriched, _ = e.Enrich(rec)
	assert.Equal(t, CategoryCachedBlocked, enriched.DNSCategory)

	// Legacy schemas carry the address directly.
	rec = testRecord()
	rec.ForwardAddr = "::1#5335"
	rec.HasForward = true
	enriched, _ = e.Enrich(rec)
	assert.Equal(t, CategoryUnboundV6, enriched.DNSCategory)
}

func TestEnrichDomainExclusion(t *testing.T) {
	e := NewEnricher(time.UTC, config.DisplayIP, `(^|\.)tracker\.net$`, Mappings{}, nil)

	rec := testRecord()
	rec.Domain = "ads.tracker.net"
	_, ok := e.Enrich(rec)
	assert.False(t, ok)
	assert.Equal(t, int64(1), e.ExcludedCount())

	rec.Domain = "example.com"
	_, ok = e.Enrich(rec)
	assert.True(t, ok)
}

func TestEnrichInvalidExclusionPatternDropsNothing(t *testing.T) {
	e := NewEnricher(time.UTC, config.DisplayIP, `(unbalanced`, Mappings{}, nil)

	recs := []ftl.Record{testRecord(), testRecord()}
	out := e.EnrichChunk(recs)
	assert.Len(t, out, 2)
	assert.Equal(t, int64(0), e.ExcludedCount())
}

func TestEnrichIsIdempotent(t *testing.T) {
	maps := testMappings()
	e := NewEnricher(time.UTC, config.DisplayBoth, "", maps, nil)

	rec := testRecord()
	first, _ := e.Enrich(rec)
	second, _ := e.Enrich(rec)
	assert.Equal(t, first, second)
}

func TestEnrichPreservesNaNReplyTime(t *testing.T) {
	e := NewEnricher(time.UTC, config.DisplayIP, "", Mappings{}, nil)
	rec := testRecord()
	rec.ReplyTime = math.NaN()
	enriched, _ := e.Enrich(rec)
	assert.True(t, math.IsNaN(enriched.ReplyTime))
}
