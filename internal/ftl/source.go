// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package ftl

import (
	"context"
	"database/sql"
	"math"
	"os"
	"strings"

	_ "modernc.org/sqlite"

	"grimm.is/longview/internal/errors"
)

// schemaVariant distinguishes the FTL on-disk layouts we can read.
type schemaVariant int

const (
	// schemaStorage is the current layout: query_storage with id-indexed
	// domain/client/forward lookup tables.
	schemaStorage schemaVariant = iota
	// schemaLegacy is the pre-storage layout: a flat queries table with
	// domain, client and forward as text.
	schemaLegacy
)

// Source is a scoped read-only connection to one FTL database file.
type Source struct {
	Path string

	db           *sql.DB
	schema       schemaVariant
	hasReplyTime bool
}

// OpenSource opens an FTL database read-only. A missing file is a
// KindNotFound failure carrying the offending path.
func OpenSource(path string) (*Source, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, errors.Attr(
			errors.Wrapf(err, errors.KindNotFound, "database file %s not found", path),
			"path", path)
	}

	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro&_busy_timeout=5000")
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindInternal, "failed to open database %s", path)
	}

	s := &Source{Path: path, db: db}
	if err := s.detectSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Source) Close() error {
	return s.db.Close()
}

func (s *Source) detectSchema() error {
	var name string
	err := s.db.QueryRow(
		`SELECT name FROM sqlite_master WHERE type IN ('table', 'view') AND name = 'query_storage'`,
	).Scan(&name)
	switch {
	case err == nil:
		s.schema = schemaStorage
		s.hasReplyTime = true
		return nil
	case err == sql.ErrNoRows:
		s.schema = schemaLegacy
		return s.detectLegacyColumns()
	default:
		return errors.Wrapf(err, errors.KindInternal, "failed to inspect schema of %s", s.Path)
	}
}

func (s *Source) detectLegacyColumns() error {
	rows, err := s.db.Query(`SELECT name FROM pragma_table_info('queries')`)
	if err != nil {
		return errors.Wrapf(err, errors.KindInternal, "failed to inspect queries table of %s", s.Path)
	}
	defer rows.Close()

	found := false
	for rows.Next() {
		var col string
		if err := rows.Scan(&col); err != nil {
			return errors.Wrap(err, errors.KindInternal, "failed to scan column name")
		}
		found = true
		if col == "reply_time" {
			s.hasReplyTime = true
		}
	}
	if err := rows.Err(); err != nil {
		return errors.Wrap(err, errors.KindInternal, "failed to list queries columns")
	}
	if !found {
		return errors.Errorf(errors.KindValidation, "%s has neither query_storage nor a queries table", s.Path)
	}
	return nil
}

// eventQuery returns the SELECT for event rows in [startTS, endTS), in source
// order. Both variants produce the same column shape.
func (s *Source) eventQuery() string {
	if s.schema == schemaStorage {
		return `
			SELECT q.id, q.timestamp, q.type, q.status, d.domain, c.ip AS client, q.reply_time, q.forward, NULL AS forward_addr
			FROM query_storage q
			JOIN client_by_id c ON q.client = c.id
			JOIN domain_by_id d ON q.domain = d.id
			WHERE q.timestamp >= ? AND q.timestamp < ?`
	}
	replyCol := "NULL AS reply_time"
	if s.hasReplyTime {
		replyCol = "reply_time"
	}
	return `
		SELECT id, timestamp, type, status, domain, client, ` + replyCol + `, NULL AS forward, forward AS forward_addr
		FROM queries
		WHERE timestamp >= ? AND timestamp < ?`
}

// Probe holds the sample and bounds used for chunk planning and window
// resolution.
type Probe struct {
	Sample   []Record
	OldestTS int64
	LatestTS int64
	Empty    bool
}

const sampleRows = 5

// Probe samples a handful of rows and reads the timestamp bounds.
func (s *Source) Probe(ctx context.Context) (*Probe, error) {
	p := &Probe{}

	var oldest, latest sql.NullInt64
	table := "query_storage"
	if s.schema == schemaLegacy {
		table = "queries"
	}
	err := s.db.QueryRowContext(ctx,
		`SELECT MIN(timestamp), MAX(timestamp) FROM `+table,
	).Scan(&oldest, &latest)
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindInternal, "failed to probe timestamp bounds of %s", s.Path)
	}
	if !oldest.Valid {
		p.Empty = true
		return p, nil
	}
	p.OldestTS = oldest.Int64
	p.LatestTS = latest.Int64

	rows, err := s.db.QueryContext(ctx, s.eventQuery()+" LIMIT ?", int64(0), int64(math.MaxInt64), sampleRows)
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindInternal, "failed to sample rows of %s", s.Path)
	}
	defer rows.Close()

	for rows.Next() {
		rec, _, err := scanRecord(rows)
		if err != nil {
			return nil, errors.Wrapf(err, errors.KindInternal, "failed to scan sample row of %s", s.Path)
		}
		p.Sample = append(p.Sample, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(err, errors.KindInternal, "failed to sample rows of %s", s.Path)
	}
	return p, nil
}

// scanRecord decodes one event row. Malformed text fields are replaced rather
// than rejected; the anomaly count reports how many fields needed fixing up.
func scanRecord(rows *sql.Rows) (Record, int, error) {
	var (
		rec         Record
		id          sql.NullInt64
		ts          sql.NullInt64
		qtype       sql.NullInt64
		status      sql.NullInt64
		domain      sql.NullString
		client      sql.NullString
		replyTime   sql.NullFloat64
		forwardID   sql.NullInt64
		forwardAddr sql.NullString
	)
	if err := rows.Scan(&id, &ts, &qtype, &status, &domain, &client, &replyTime, &forwardID, &forwardAddr); err != nil {
		return rec, 0, err
	}

	anomalies := 0
	rec.ID = id.Int64
	rec.Timestamp = ts.Int64
	rec.Type = int(qtype.Int64)
	rec.Status = int(status.Int64)

	rec.Domain, anomalies = validText(domain.String, anomalies)
	rec.Client, anomalies = validText(client.String, anomalies)

	if replyTime.Valid {
		rec.ReplyTime = replyTime.Float64
	} else {
		rec.ReplyTime = math.NaN()
	}

	if forwardID.Valid {
		rec.ForwardID = forwardID.Int64
		rec.HasForward = true
	}
	if forwardAddr.Valid && forwardAddr.String != "" {
		rec.ForwardAddr, anomalies = validText(forwardAddr.String, anomalies)
		rec.HasForward = true
	}
	return rec, anomalies, nil
}

func validText(s string, anomalies int) (string, int) {
	fixed := strings.ToValidUTF8(s, "�")
	if fixed != s {
		anomalies++
	}
	return fixed, anomalies
}
