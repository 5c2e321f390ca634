package engine

// Outcome aggregates per-record results of one persistence run. Records
// skipped by last-write-wins are counted in Total but neither Succeeded nor
// Failed, so Succeeded+Failed <= Total always holds.
type Outcome struct {
	// Total is the number of records processed.
	Total int

	// Succeeded is the number of records written (new or updated).
	Succeeded int

	// Failed is the number of records rejected by record-level errors.
	Failed int

	// New is the number of records inserted for the first time.
	New int

	// Updated is the number of records that overwrote an older stored row.
	Updated int
}

// Success reports whether the run completed without record-level failures.
func (o Outcome) Success() bool {
	return o.Failed == 0
}

// Skipped is the number of records dropped by last-write-wins because the
// stored row was current or newer.
func (o Outcome) Skipped() int {
	return o.Total - o.Succeeded - o.Failed
}

// HasNewData reports whether the run wrote anything at all.
func (o Outcome) HasNewData() bool {
	return o.New > 0 || o.Updated > 0
}
