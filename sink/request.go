package sink

import "context"

// Insertion is one column written to one row of one table.
type Insertion struct {
	Table  string
	RowKey string
	Column string
	Value  string
}

// MutationRequest holds every insertion of one batch. It is submitted to the
// store as a single call.
type MutationRequest struct {
	Insertions []Insertion
}

// Add appends an insertion.
func (r *MutationRequest) Add(ins Insertion) {
	r.Insertions = append(r.Insertions, ins)
}

// Len returns the number of insertions.
func (r *MutationRequest) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Insertions)
}

// Tables returns the distinct tables touched by the request, in first-seen order.
func (r *MutationRequest) Tables() []string {
	seen := make(map[string]struct{})
	var tables []string
	for _, ins := range r.Insertions {
		if _, ok := seen[ins.Table]; ok {
			continue
		}
		seen[ins.Table] = struct{}{}
		tables = append(tables, ins.Table)
	}
	return tables
}

// Rows returns the number of distinct (table, row key) pairs in the request.
func (r *MutationRequest) Rows() int {
	type row struct{ table, key string }
	seen := make(map[row]struct{})
	for _, ins := range r.Insertions {
		seen[row{ins.Table, ins.RowKey}] = struct{}{}
	}
	return len(seen)
}

// Store executes mutation requests against the column store.
//
// Execute either applies the whole request or returns an error; the sink does
// not inspect partial outcomes.
type Store interface {
	Execute(ctx context.Context, req *MutationRequest) error
}
