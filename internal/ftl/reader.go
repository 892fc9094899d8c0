// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package ftl

import (
	"context"
	"database/sql"

	"grimm.is/longview/internal/errors"
	"grimm.is/longview/internal/logging"
)

// Reader streams event rows from a list of FTL databases as bounded chunks,
// database by database in the given order. It follows the sql.Rows pull
// pattern: Next advances, Chunk returns the current batch, Err reports the
// terminal error, Close releases whatever is still open.
//
// A Reader is single-use and not safe for concurrent use.
type Reader struct {
	paths      []string
	chunkSizes []int
	startTS    int64
	endTS      int64
	logger     *logging.Logger

	idx     int
	src     *Source
	rows    *sql.Rows
	chunk   []Record
	chunkNo int

	anomalies int64
	err       error
	done      bool
}

// NewReader prepares a chunked read of [startTS, endTS) across paths.
// chunkSizes is parallel to paths; a missing or non-positive entry falls back
// to a fixed default.
func NewReader(paths []string, chunkSizes []int, startTS, endTS int64, logger *logging.Logger) *Reader {
	if logger == nil {
		logger = logging.WithComponent("reader")
	}
	return &Reader{
		paths:      paths,
		chunkSizes: chunkSizes,
		startTS:    startTS,
		endTS:      endTS,
		logger:     logger,
	}
}

func (r *Reader) chunkSize() int {
	if r.idx < len(r.chunkSizes) && r.chunkSizes[r.idx] > 0 {
		return r.chunkSizes[r.idx]
	}
	return defaultChunkSize
}

// Next produces the next chunk. It returns false on exhaustion or error;
// check Err afterwards. The chunk returned by Chunk is valid until the next
// call to Next.
func (r *Reader) Next(ctx context.Context) bool {
	if r.err != nil || r.done {
		return false
	}

	for {
		if err := ctx.Err(); err != nil {
			r.fail(errors.Wrap(err, errors.KindInternal, "read cancelled"))
			return false
		}

		if r.rows == nil {
			if r.idx >= len(r.paths) {
				r.done = true
				return false
			}
			if !r.openCurrent(ctx) {
				return false
			}
		}

		size := r.chunkSize()
		r.chunk = r.chunk[:0]
		for len(r.chunk) < size && r.rows.Next() {
			rec, anomalies, err := scanRecord(r.rows)
			if err != nil {
				r.fail(errors.Wrapf(err, errors.KindInternal, "failed to scan row from %s", r.src.Path))
				return false
			}
			r.anomalies += int64(anomalies)
			r.chunk = append(r.chunk, rec)
		}

		if err := r.rows.Err(); err != nil {
			r.fail(errors.Wrapf(err, errors.KindInternal, "read failed on %s", r.src.Path))
			return false
		}

		if len(r.chunk) > 0 {
			r.chunkNo++
			r.logger.Debug("Produced chunk", "database", r.src.Path, "chunk", r.chunkNo, "rows", len(r.chunk))
			if len(r.chunk) < size {
				// Rows exhausted inside this chunk; release before the
				// consumer processes it.
				r.closeCurrent()
			}
			return true
		}

		// Database exhausted without rows; move on.
		r.closeCurrent()
	}
}

func (r *Reader) openCurrent(ctx context.Context) bool {
	path := r.paths[r.idx]
	src, err := OpenSource(path)
	if err != nil {
		r.fail(err)
		return false
	}

	rows, err := src.db.QueryContext(ctx, src.eventQuery(), r.startTS, r.endTS)
	if err != nil {
		src.Close()
		r.fail(errors.Wrapf(err, errors.KindInternal, "failed to query %s", path))
		return false
	}

	r.logger.Info("Reading database", "database", path, "position", r.idx+1, "total", len(r.paths))
	r.src = src
	r.rows = rows
	r.chunkNo = 0
	return true
}

func (r *Reader) closeCurrent() {
	if r.rows != nil {
		r.rows.Close()
		r.rows = nil
	}
	if r.src != nil {
		r.src.Close()
		r.src = nil
	}
	r.idx++
}

func (r *Reader) fail(err error) {
	r.err = err
	r.Close()
}

// Chunk returns the batch produced by the last successful Next.
func (r *Reader) Chunk() []Record { return r.chunk }

// Source returns the path of the database the current chunk came from.
func (r *Reader) Source() string {
	if r.src != nil {
		return r.src.Path
	}
	if r.idx > 0 && r.idx <= len(r.paths) {
		return r.paths[r.idx-1]
	}
	return ""
}

// Err returns the terminal error, if any.
func (r *Reader) Err() error { return r.err }

// Anomalies returns how many text fields needed replacement so far.
func (r *Reader) Anomalies() int64 { return r.anomalies }

// Close releases the current connection and ends the read. Safe to call at
// any point and more than once; early termination must not leak connections.
func (r *Reader) Close() error {
	r.done = true
	if r.rows != nil {
		r.rows.Close()
		r.rows = nil
	}
	if r.src != nil {
		err := r.src.Close()
		r.src = nil
		return err
	}
	return nil
}
