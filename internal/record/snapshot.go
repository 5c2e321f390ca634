package record

// Snapshot is an ordered collection of records captured at one point in
// time, indexed by unique key for O(1) lookup. Snapshots are built once from
// a fetch result and never mutated; the next cycle supersedes them wholesale.
type Snapshot struct {
	records []Record
	index   map[string]Record
}

// NewSnapshot builds a snapshot from an ordered record slice. When two
// records share a key, the later one in iteration order wins the index slot.
func NewSnapshot(records []Record) *Snapshot {
	s := &Snapshot{
		records: records,
		index:   make(map[string]Record, len(records)),
	}
	for _, r := range records {
		if key := r.Key(); key != "" {
			s.index[key] = r
		}
	}
	return s
}

// EmptySnapshot returns a snapshot with no records, the diff baseline for
// the bootstrap cycle.
func EmptySnapshot() *Snapshot {
	return NewSnapshot(nil)
}

// Records returns the snapshot's records in capture order.
func (s *Snapshot) Records() []Record {
	if s == nil {
		return nil
	}
	return s.records
}

// Lookup returns the record stored under key, if any.
func (s *Snapshot) Lookup(key string) (Record, bool) {
	if s == nil {
		return nil, false
	}
	r, ok := s.index[key]
	return r, ok
}

// Len returns the number of records captured.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.records)
}

// IsEmpty reports whether the snapshot holds no records.
func (s *Snapshot) IsEmpty() bool {
	return s.Len() == 0
}
