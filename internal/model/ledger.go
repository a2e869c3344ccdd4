package model

// LedgerEntry is the durable record that an applicant has been processed.
// Path is relative to the artifact directory. Sent only ever moves from false to true.
type LedgerEntry struct {
	ID   string `json:"id"`
	Path string `json:"path"`
	Sent bool   `json:"sent"`
}

// ExemptionSet is the set of applicant ids already present in the ledger.
type ExemptionSet map[string]struct{}

// NewExemptionSet builds a set from ids.
func NewExemptionSet(ids ...string) ExemptionSet {
	set := make(ExemptionSet, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// Contains reports whether id is exempted.
func (s ExemptionSet) Contains(id string) bool {
	_, ok := s[id]
	return ok
}

// IDs returns the ids of the set in no particular order.
func (s ExemptionSet) IDs() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	return ids
}
