package query

import (
	"context"

	"archivegate/internal/records"
)

// Count returns the exact number of matching records. The result is raw and
// must pass through the DP engine before leaving the service.
func Count(ctx context.Context, src records.Source, dataset string, filter *Filter) (float64, error) {
	var n float64
	err := src.Scan(ctx, dataset, nil, func(r records.Record) (bool, error) {
		if filter.Match(r) {
			n++
		}
		return true, nil
	})
	return n, err
}

// Sum adds a numeric field across matching records. Each record's
// contribution is clamped to [lower, upper] so one record moves the total by
// at most max(|lower|, |upper|). A list contributes the clamped sum of its
// numeric elements; records without a numeric value contribute nothing.
func Sum(ctx context.Context, src records.Source, dataset string, filter *Filter, field string, lower, upper float64) (float64, error) {
	var total float64
	err := src.Scan(ctx, dataset, nil, func(r records.Record) (bool, error) {
		if !filter.Match(r) {
			return true, nil
		}
		v, ok := r.Get(field)
		if !ok {
			return true, nil
		}
		if x, ok := numericTotal(v); ok {
			total += min(max(x, lower), upper)
		}
		return true, nil
	})
	return total, err
}

func numericTotal(v records.Value) (float64, bool) {
	if v.Kind != records.KindList {
		return v.Numeric()
	}
	var s float64
	found := false
	for _, item := range v.List {
		if x, ok := item.Numeric(); ok {
			s += x
			found = true
		}
	}
	return s, found
}
