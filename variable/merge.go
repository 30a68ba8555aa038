// merge.go implements the variable merger (spec §4.B), grounded on the
// teacher's original C++ MergeVars (communicator.h): sum dense tensors
// element-wise, optionally average; concatenate-then-dedup sparse rows.
package variable

import (
	"github.com/MrChengmo/communicator/cmnerr"
)

// MergeMode selects whether a dense merge is left as a sum or additionally
// averaged. The sender (4.D) always merges with MergeSum ("no averaging",
// spec §4.D step 2); MergeAverage exists as the plumbed-through counterpart
// the spec's Open Question (§9) asks implementers to make a config flag —
// see DESIGN.md for why nothing in this repo's call graph passes it today.
type MergeMode int

const (
	MergeSum MergeMode = iota
	MergeAverage
)

// Merge reduces a non-empty list of same-named variables into one output
// Variable. Dense inputs must share vs[0]'s exact shape; sparse inputs must
// share a common Height. Mixed dense/sparse input, or an empty list, is an
// InvariantViolation (spec §4.B edge cases).
func Merge(vs []Variable, mode MergeMode) (Variable, error) {
	if len(vs) == 0 {
		return nil, cmnerr.NewInvariantViolation("merge: empty input list")
	}
	switch vs[0].Kind() {
	case KindDense:
		return mergeDense(vs, mode)
	case KindSparse:
		return mergeSparse(vs)
	default:
		return nil, cmnerr.NewInvariantViolation("merge: unknown variable kind")
	}
}

func mergeDense(vs []Variable, mode MergeMode) (Variable, error) {
	d0, ok := vs[0].(*Dense)
	if !ok {
		return nil, cmnerr.NewInvariantViolation("merge: mixed dense/sparse input")
	}
	out := NewDense(d0.VarName, d0.Rows, d0.Cols)
	for _, v := range vs {
		d, ok := v.(*Dense)
		if !ok {
			return nil, cmnerr.NewInvariantViolation("merge: mixed dense/sparse input")
		}
		if d.Rows != d0.Rows || d.Cols != d0.Cols {
			return nil, cmnerr.NewInvariantViolation(
				"merge: dense shape mismatch for %q: (%d,%d) vs (%d,%d)",
				d0.VarName, d.Rows, d.Cols, d0.Rows, d0.Cols)
		}
		for i, x := range d.Data {
			out.Data[i] += x
		}
	}
	if mode == MergeAverage {
		n := float32(len(vs))
		for i := range out.Data {
			out.Data[i] /= n
		}
	}
	return out, nil
}

// mergeSparse concatenates (row, value) pairs across inputs and collapses
// duplicate row indices by summing their rows; output row order is
// insertion order of first appearance (spec §4.B, §8 "merge dedup").
func mergeSparse(vs []Variable) (Variable, error) {
	s0, ok := vs[0].(*Sparse)
	if !ok {
		return nil, cmnerr.NewInvariantViolation("merge: mixed dense/sparse input")
	}
	out := NewSparse(s0.VarName, s0.Height, s0.Cols)
	pos := make(map[int64]int, len(s0.RowIDs))
	for _, v := range vs {
		s, ok := v.(*Sparse)
		if !ok {
			return nil, cmnerr.NewInvariantViolation("merge: mixed dense/sparse input")
		}
		if s.Height != s0.Height {
			return nil, cmnerr.NewInvariantViolation(
				"merge: sparse height mismatch for %q: %d vs %d", s0.VarName, s.Height, s0.Height)
		}
		if s.Cols != s0.Cols {
			return nil, cmnerr.NewInvariantViolation(
				"merge: sparse width mismatch for %q: %d vs %d", s0.VarName, s.Cols, s0.Cols)
		}
		for i, id := range s.RowIDs {
			row := s.Row(i)
			if j, seen := pos[id]; seen {
				dst := out.Row(j)
				for c, x := range row {
					dst[c] += x
				}
				continue
			}
			pos[id] = len(out.RowIDs)
			out.RowIDs = append(out.RowIDs, id)
			out.Value = append(out.Value, row...)
		}
	}
	return out, nil
}
