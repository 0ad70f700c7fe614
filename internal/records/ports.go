package records

import "context"

// Source is the read side of the raw record store. Scan visits records of a
// dataset in ascending SortKey order, starting strictly after `after` when it
// is non-nil, until fn returns false or an error.
type Source interface {
	Scan(ctx context.Context, dataset string, after *SortKey, fn func(Record) (bool, error)) error
}

// Sink is the write side the crawler feeds.
type Sink interface {
	Put(ctx context.Context, record Record) error
}
