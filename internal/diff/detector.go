// Package diff implements change detection between a freshly fetched
// collection and the last observed snapshot. Detection is a pure function
// over its inputs; it performs no I/O.
package diff

import (
	"github.com/syncforge/syncforge/internal/record"
)

// Options controls detector output.
type Options struct {
	// IncludeUnchanged emits Unchanged classifications in the result, for
	// callers that want a full diff for logging. Default drops them.
	IncludeUnchanged bool
}

// Detect compares current against previous and classifies every current
// record as New, Modified, or Unchanged. The output preserves the order of
// current. Records present only in previous are not reported; this detector
// is fetch-driven, not deletion-aware.
func Detect(current, previous *record.Snapshot, opts Options) []record.Change {
	changes := make([]record.Change, 0, current.Len())

	for _, cur := range current.Records() {
		prev, found := previous.Lookup(cur.Key())
		if !found {
			changes = append(changes, record.Change{Record: cur, Kind: record.KindNew})
			continue
		}

		fields := changedFields(cur, prev)
		if len(fields) > 0 {
			changes = append(changes, record.Change{
				Record: cur,
				Kind:   record.KindModified,
				Fields: fields,
			})
			continue
		}

		if opts.IncludeUnchanged {
			changes = append(changes, record.Change{Record: cur, Kind: record.KindUnchanged})
		}
	}

	return changes
}

// changedFields compares the fields relevant for change detection: the
// primary status, the total, the modification timestamp, and the nested
// line-item list when both sides carry one.
func changedFields(cur, prev record.Record) []string {
	var fields []string

	if cur.Status() != prev.Status() {
		fields = append(fields, record.FieldStatus)
	}
	if cur.Total() != prev.Total() {
		fields = append(fields, record.FieldTotal)
	}

	curMod, curOK := cur.ModifiedAt()
	prevMod, prevOK := prev.ModifiedAt()
	if curOK != prevOK || (curOK && !curMod.Equal(prevMod)) {
		fields = append(fields, record.FieldModifiedAt)
	}

	if cur.HasLines() && prev.HasLines() && linesChanged(cur.Lines(), prev.Lines()) {
		fields = append(fields, record.FieldLines)
	}

	return fields
}

// linesChanged compares line-item lists structurally. A differing length is
// itself a change; otherwise items are compared positionally and the first
// mismatch wins. Reordering without value change therefore counts as a
// change, an accepted imprecision for this use case.
func linesChanged(cur, prev []record.LineItem) bool {
	if len(cur) != len(prev) {
		return true
	}
	for i := range cur {
		if cur[i].ItemID != prev[i].ItemID ||
			cur[i].Quantity != prev[i].Quantity ||
			cur[i].Price != prev[i].Price {
			return true
		}
	}
	return false
}
