// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package pipeline

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"grimm.is/longview/internal/config"
	"grimm.is/longview/internal/errors"
	"grimm.is/longview/internal/logging"
)

func quietLogger() *logging.Logger {
	return logging.New(logging.Config{Level: logging.LevelError, Output: io.Discard})
}

// fixtureDB builds a minimal modern-schema FTL database.
func fixtureDB(t *testing.T) (string, *sql.DB) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pihole-FTL.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	stmts := []string{
		`CREATE TABLE query_storage (
			id INTEGER PRIMARY KEY,
			timestamp INTEGER,
			type INTEGER,
			status INTEGER,
			domain INTEGER,
			client INTEGER,
			forward INTEGER,
			reply_time REAL
		)`,
		`CREATE TABLE domain_by_id (id INTEGER PRIMARY KEY, domain TEXT)`,
		`CREATE TABLE client_by_id (id INTEGER PRIMARY KEY, ip TEXT)`,
		`CREATE TABLE forward_by_id (id INTEGER PRIMARY KEY, forward TEXT)`,
		`CREATE TABLE network (id INTEGER PRIMARY KEY, hwaddr TEXT, firstSeen INTEGER, lastQuery INTEGER, numQueries INTEGER, macVendor TEXT)`,
		`CREATE TABLE network_addresses (network_id INTEGER, ip TEXT, name TEXT)`,
	}
	for _, s := range stmts {
		_, err := db.Exec(s)
		require.NoError(t, err)
	}
	return path, db
}

type fixtureQuery struct {
	ts        int64
	qtype     int
	status    int
	domain    string
	client    string
	forwardID int64 // 0 = no forward
	replyTime float64
}

func insertQueries(t *testing.T, db *sql.DB, queries []fixtureQuery) {
	t.Helper()
	domains := make(map[string]int64)
	clients := make(map[string]int64)
	intern := func(table, col string, ids map[string]int64, value string) int64 {
		if id, ok := ids[value]; ok {
			return id
		}
		id := int64(len(ids) + 1)
		_, err := db.Exec(fmt.Sprintf("INSERT INTO %s (id, %s) VALUES (?, ?)", table, col), id, value)
		require.NoError(t, err)
		ids[value] = id
		return id
	}

	for i, q := range queries {
		did := intern("domain_by_id", "domain", domains, q.domain)
		cid := intern("client_by_id", "ip", clients, q.client)
		var fwd any
		if q.forwardID != 0 {
			fwd = q.forwardID
		}
		_, err := db.Exec(
			`INSERT INTO query_storage (id, timestamp, type, status, domain, client, forward, reply_time)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			i+1, q.ts, q.qtype, q.status, did, cid, fwd, q.replyTime)
		require.NoError(t, err)
	}
}

func fixtureConfig(dbPath string) *config.Config {
	cfg := config.Default()
	cfg.Databases = []string{dbPath}
	cfg.Days = config.AllDays
	cfg.Timezone = "UTC"
	return cfg
}

func TestRunEndToEnd(t *testing.T) {
	path, db := fixtureDB(t)

	_, err := db.Exec(`INSERT INTO forward_by_id (id, forward) VALUES (1, '127.0.0.1#5335')`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO network (id, hwaddr, firstSeen, lastQuery, numQueries, macVendor)
		VALUES (1, 'AA:BB:CC:DD:EE:FF', 1700000000, 1700400000, 1234, 'Acme')`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO network_addresses (network_id, ip, name) VALUES (1, '10.0.0.2', 'laptop')`)
	require.NoError(t, err)

	base := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC).Unix()
	insertQueries(t, db, []fixtureQuery{
		{ts: base, qtype: 1, status: 2, domain: "example.com", client: "10.0.0.2", forwardID: 1, replyTime: 0.012},
		{ts: base + 60, qtype: 1, status: 2, domain: "example.com", client: "10.0.0.2", forwardID: 1, replyTime: 0.020},
		{ts: base + 120, qtype: 2, status: 1, domain: "ads.tracker.net", client: "10.0.0.3"},
		{ts: base + 7200, qtype: 1, status: 3, domain: "cached.example.com", client: "10.0.0.2"},
	})

	cfg := fixtureConfig(path)
	cfg.ClientDisplay = string(config.DisplayHostname)

	res, err := Run(context.Background(), cfg, quietLogger())
	require.NoError(t, err)

	agg := res.Aggregates
	assert.Equal(t, int64(4), agg.TotalRecords)
	assert.Equal(t, 3, agg.StatusTotals[StatusAllowed])
	assert.Equal(t, 1, agg.StatusTotals[StatusBlocked])
	assert.Equal(t, 0, agg.StatusTotals[StatusOther])

	// Forwarded queries categorize by upstream; cached and blocked ones
	// never left the resolver.
	assert.Equal(t, 2, agg.ServerTotals[CategoryUnboundV4])
	assert.Equal(t, 2, agg.ServerTotals[CategoryCachedBlocked])

	// The hostname mapping renamed 10.0.0.2; 10.0.0.3 has no entry.
	require.NotEmpty(t, agg.TopClients)
	assert.Equal(t, "laptop", agg.TopClients[0].Client)
	clients := make(map[string]bool)
	for _, c := range agg.TopClients {
		clients[c.Client] = true
	}
	assert.True(t, clients["10.0.0.3"])

	// Hourly gap between 09:00 and 11:00 is zero-filled.
	var zeroRows int
	for _, count := range agg.StatusHourly {
		if count == 0 {
			zeroRows++
		}
	}
	assert.Greater(t, zeroRows, 0)

	require.Contains(t, res.Devices, "aa:bb:cc:dd:ee:ff")
	assert.Equal(t, "Acme", res.Devices["aa:bb:cc:dd:ee:ff"].Vendor)
	assert.Equal(t, int64(1234), res.Devices["aa:bb:cc:dd:ee:ff"].LifetimeQueries)

	assert.Equal(t, float64(4), res.Metrics["longview_rows_read_total{database="+path+"}"])
}

func TestRunMissingDatabaseFails(t *testing.T) {
	cfg := fixtureConfig(filepath.Join(t.TempDir(), "absent.db"))
	cfg.Days = 7

	_, err := Run(context.Background(), cfg, quietLogger())
	require.Error(t, err)
	assert.Equal(t, errors.KindNotFound, errors.GetKind(err))
}

func TestRunExclusionPattern(t *testing.T) {
	path, db := fixtureDB(t)
	base := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC).Unix()
	insertQueries(t, db, []fixtureQuery{
		{ts: base, qtype: 1, status: 2, domain: "keep.example.com", client: "10.0.0.2"},
		{ts: base + 1, qtype: 1, status: 2, domain: "telemetry.vendor.com", client: "10.0.0.2"},
		{ts: base + 2, qtype: 1, status: 2, domain: "metrics.vendor.com", client: "10.0.0.2"},
	})

	cfg := fixtureConfig(path)
	cfg.ExcludeDomains = `(telemetry|metrics)\.vendor\.com`

	res, err := Run(context.Background(), cfg, quietLogger())
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Aggregates.TotalRecords)
	assert.Equal(t, float64(2), res.Metrics["longview_records_excluded_total"])
}

func TestRunWindowFiltering(t *testing.T) {
	path, db := fixtureDB(t)
	insertQueries(t, db, []fixtureQuery{
		{ts: time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC).Unix(), qtype: 1, status: 2, domain: "old.example.com", client: "10.0.0.2"},
		{ts: time.Date(2024, 1, 20, 12, 0, 0, 0, time.UTC).Unix(), qtype: 1, status: 2, domain: "new.example.com", client: "10.0.0.2"},
	})

	cfg := fixtureConfig(path)
	cfg.Days = 0
	cfg.StartDate = "2024-01-15"
	cfg.EndDate = "2024-01-25"

	res, err := Run(context.Background(), cfg, quietLogger())
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Aggregates.TotalRecords)
	require.Len(t, res.Aggregates.TopAllowedDomains, 1)
	assert.Equal(t, "new.example.com", res.Aggregates.TopAllowedDomains[0].Domain)
}

func TestRunEmptyDatabase(t *testing.T) {
	path, _ := fixtureDB(t)
	cfg := fixtureConfig(path)
	cfg.Days = 7

	res, err := Run(context.Background(), cfg, quietLogger())
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.Aggregates.TotalRecords)
}
