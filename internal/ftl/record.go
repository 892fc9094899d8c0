// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package ftl reads Pi-hole FTL databases: event rows in bounded chunks plus
// the auxiliary mapping tables used for enrichment.
package ftl

import "unsafe"

// Record is one DNS query observation as stored by FTL. Source fields only;
// enrichment never writes back here.
type Record struct {
	ID        int64
	Timestamp int64 // UTC Unix seconds
	Type      int
	Status    int
	Domain    string
	Client    string // source IP at read time

	// ReplyTime is in seconds; NaN when the source had no usable value.
	ReplyTime float64

	// Modern schemas store a forwarder id, legacy ones the literal upstream
	// address. At most one of the two is set.
	ForwardID   int64
	HasForward  bool
	ForwardAddr string
}

// footprint approximates the in-memory size of r, including string payloads.
func (r Record) footprint() int {
	return int(unsafe.Sizeof(r)) + len(r.Domain) + len(r.Client) + len(r.ForwardAddr)
}
