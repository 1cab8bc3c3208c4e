package geoset

import (
	"context"

	"github.com/hupe1980/geoset/engine"
)

// Check verifies the dataset invariants: graph vertex sets against table key
// sets in both directions, and every stored image count against the graph
// degree. It is read-only, never repairs, and is safe to run concurrently
// with queries.
//
// A divergence is reported, not returned as an error; use CheckStrict to
// fail on divergence. Repair with RecomputeContainments.
func (a *Associator) Check(ctx context.Context) (*engine.CheckReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return a.eng.Check(), nil
}

// CheckStrict runs Check and returns *ErrInvariantViolation carrying the
// report when the dataset has diverged.
func (a *Associator) CheckStrict(ctx context.Context) error {
	report, err := a.Check(ctx)
	if err != nil {
		return err
	}
	if !report.OK() {
		return &ErrInvariantViolation{Report: report}
	}
	return nil
}
