package record

// Kind classifies a record relative to the prior snapshot.
type Kind string

const (
	// KindNew means the record was absent from the prior snapshot.
	KindNew Kind = "new"

	// KindModified means the record exists in both snapshots with at least
	// one compared field differing.
	KindModified Kind = "modified"

	// KindUnchanged means the record exists in both snapshots with no
	// compared field differing. Unchanged records are never persisted or
	// notified.
	KindUnchanged Kind = "unchanged"
)

// Change is a record tagged with its classification and, for modified
// records, the names of the fields that differ.
type Change struct {
	Record Record
	Kind   Kind

	// Fields lists the changed field names for KindModified, in comparison
	// order. Empty for KindNew and KindUnchanged.
	Fields []string
}

// FieldChanged reports whether the named field is among the changed ones.
func (c Change) FieldChanged(name string) bool {
	for _, f := range c.Fields {
		if f == name {
			return true
		}
	}
	return false
}
