// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package ftl

// defaultChunkSize is used when a database has no rows to sample; the value
// only matters for memory bounding, not correctness.
const defaultChunkSize = 50000

// PlanChunkSize computes a row-count chunk size that keeps one chunk inside
// fraction × availableBytes, based on the sampled per-row footprint. The
// result is always at least 1.
func PlanChunkSize(sample []Record, availableBytes uint64, fraction float64) int {
	if len(sample) == 0 {
		return defaultChunkSize
	}
	if fraction <= 0 || fraction > 1 {
		fraction = 0.5
	}

	total := 0
	for _, rec := range sample {
		total += rec.footprint()
	}
	perRow := total / len(sample)
	if perRow < 1 {
		perRow = 1
	}

	budget := uint64(float64(availableBytes) * fraction)
	chunk := int(budget / uint64(perRow))
	if chunk < 1 {
		return 1
	}
	return chunk
}
