// split.go implements the row-axis partition of a merged variable into
// per-endpoint shards (spec §4.D step 3) and the inverse operation used by
// the receiver: flattening shard slices back into one contiguous buffer and
// scattering that buffer across origin variables (spec §4.E steps 3-4).
package variable

import "github.com/MrChengmo/communicator/cmnerr"

// PrefixSums returns the n+1 cumulative boundaries of heightSections, i.e.
// PrefixSums(sections)[i] is the first row of shard i and
// PrefixSums(sections)[n] == sum(sections) == H.
func PrefixSums(sections []int) []int {
	out := make([]int, len(sections)+1)
	for i, s := range sections {
		out[i+1] = out[i] + s
	}
	return out
}

// Split partitions a merged Variable into len(sections) contiguous shards
// whose row counts equal sections (spec §4.D step 3, §8 "split round-trip").
func Split(v Variable, sections []int) ([]Variable, error) {
	switch t := v.(type) {
	case *Dense:
		return splitDense(t, sections)
	case *Sparse:
		return splitSparse(t, sections)
	default:
		return nil, cmnerr.NewInvariantViolation("split: unknown variable kind")
	}
}

func splitDense(d *Dense, sections []int) ([]Variable, error) {
	sum := 0
	for _, s := range sections {
		sum += s
	}
	if sum != d.Rows {
		return nil, cmnerr.NewInvariantViolation(
			"split: sections sum to %d rows, variable %q has %d", sum, d.VarName, d.Rows)
	}
	bounds := PrefixSums(sections)
	out := make([]Variable, len(sections))
	for i, n := range sections {
		lo, hi := bounds[i]*d.Cols, bounds[i+1]*d.Cols
		out[i] = &Dense{VarName: d.VarName, Rows: n, Cols: d.Cols, Data: d.Data[lo:hi]}
	}
	return out, nil
}

// splitSparse buckets rows whose index r falls in [prefix[i], prefix[i+1])
// into shard i, rebasing the index to r - prefix[i] (spec §4.D step 3).
func splitSparse(s *Sparse, sections []int) ([]Variable, error) {
	sum := 0
	for _, n := range sections {
		sum += n
	}
	if sum != s.Height {
		return nil, cmnerr.NewInvariantViolation(
			"split: sections sum to %d but %q has height %d", sum, s.VarName, s.Height)
	}
	bounds := PrefixSums(sections)
	out := make([]*Sparse, len(sections))
	for i, n := range sections {
		out[i] = NewSparse(s.VarName, n, s.Cols)
	}
	for i, id := range s.RowIDs {
		shard := shardFor(int(id), bounds)
		if shard < 0 {
			return nil, cmnerr.NewInvariantViolation(
				"split: row id %d out of range [0,%d) for %q", id, s.Height, s.VarName)
		}
		rebased := id - int64(bounds[shard])
		out[shard].RowIDs = append(out[shard].RowIDs, rebased)
		out[shard].Value = append(out[shard].Value, s.Row(i)...)
	}
	result := make([]Variable, len(out))
	for i, sp := range out {
		result[i] = sp
	}
	return result, nil
}

func shardFor(row int, bounds []int) int {
	for i := 0; i < len(bounds)-1; i++ {
		if row >= bounds[i] && row < bounds[i+1] {
			return i
		}
	}
	return -1
}

// FlattenDense logically concatenates n dense slice tensors along axis 0 into
// one contiguous row-major buffer (spec §4.E step 3).
func FlattenDense(slices []*Dense) *Dense {
	cols := slices[0].Cols
	rows := 0
	for _, s := range slices {
		rows += s.Rows
	}
	out := NewDense("", rows, cols)
	off := 0
	for _, s := range slices {
		copy(out.Data[off:], s.Data)
		off += len(s.Data)
	}
	return out
}

// FlattenSparse concatenates shard sparse values (already rebased back to
// global row ids by the caller) preserving shard order then row order
// within each shard.
func FlattenSparse(slices []*Sparse, height int) *Sparse {
	cols := slices[0].Cols
	out := NewSparse("", height, cols)
	for _, s := range slices {
		out.RowIDs = append(out.RowIDs, s.RowIDs...)
		out.Value = append(out.Value, s.Value...)
	}
	return out
}

// ScatterDense copies the flattened buffer's elements, in order, into each
// origin's storage: the sum of origins' element counts must equal the
// flattened element count (spec §4.E step 4, §8 "recv reassembly").
func ScatterDense(flat *Dense, origins []*Dense) error {
	total := 0
	for _, o := range origins {
		total += len(o.Data)
	}
	if total != len(flat.Data) {
		return cmnerr.NewInvariantViolation(
			"scatter: origin element count %d != flattened element count %d", total, len(flat.Data))
	}
	off := 0
	for _, o := range origins {
		copy(o.Data, flat.Data[off:off+len(o.Data)])
		off += len(o.Data)
	}
	return nil
}

// RebaseShard converts a shard's locally-rebased row ids back to global ids
// by adding the shard's prefix offset (inverse of splitSparse's rebasing),
// so FlattenSparse can concatenate shards that each came from a different
// height_sections partition.
func RebaseShard(s *Sparse, offset int) *Sparse {
	out := &Sparse{VarName: s.VarName, Height: s.Height, Cols: s.Cols}
	out.RowIDs = make([]int64, len(s.RowIDs))
	for i, id := range s.RowIDs {
		out.RowIDs[i] = id + int64(offset)
	}
	out.Value = append(out.Value, s.Value...)
	return out
}

// ScatterSparse assigns the flattened shard back to origins. The spec's
// multi-origin scatter (§4.E step 4) is defined in terms of dense byte
// ranges; sparse variables have no such fixed-width layout, so only the
// single-origin case (the common one: origin_varnames has length 1) is
// supported here. A sparse descriptor naming more than one origin is an
// InvariantViolation.
func ScatterSparse(flat *Sparse, origins []*Sparse) error {
	if len(origins) != 1 {
		return cmnerr.NewInvariantViolation(
			"scatter: sparse variable %q has %d origins, only single-origin scatter is supported",
			flat.VarName, len(origins))
	}
	origins[0].RowIDs = flat.RowIDs
	origins[0].Value = flat.Value
	return nil
}
