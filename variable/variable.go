// Package variable implements the communicator's two wire-visible variable
// shapes (spec §3: Variable) and the scope they live in: a dense tensor and
// a logically-dense sparse-rows value. This is the boundary past which the
// numerical-operator/tensor-kernel framework (out of scope per spec §1)
// never leaks into the communicator — everything on this side of the line
// deals in plain float32 slices and row indices.
/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package variable

import (
	"fmt"
	"sync"

	"github.com/MrChengmo/communicator/cmn/cos"
	"github.com/MrChengmo/communicator/cmnerr"
)

type Kind int

const (
	KindDense Kind = iota
	KindSparse
)

func (k Kind) String() string {
	if k == KindDense {
		return "dense"
	}
	return "sparse"
}

// Variable is the tagged-variant type shared by dense and sparse payloads
// (Design Note §9: a type switch on Kind replaces a runtime type registry).
type Variable interface {
	Name() string
	Kind() Kind
	// Clone returns a deep copy — used to take the Send-time snapshot so the
	// producer may keep mutating its own copy after enqueue (spec §5).
	Clone() Variable
}

// Dense is a fixed 2-D float32 matrix, row-major.
type Dense struct {
	VarName string
	Rows    int
	Cols    int
	Data    []float32 // len == Rows*Cols
}

func NewDense(name string, rows, cols int) *Dense {
	return &Dense{VarName: name, Rows: rows, Cols: cols, Data: make([]float32, rows*cols)}
}

func (d *Dense) Name() string { return d.VarName }
func (d *Dense) Kind() Kind   { return KindDense }

func (d *Dense) Clone() Variable {
	cp := &Dense{VarName: d.VarName, Rows: d.Rows, Cols: d.Cols, Data: make([]float32, len(d.Data))}
	copy(cp.Data, d.Data)
	return cp
}

// Row returns the i'th row as a sub-slice (zero-copy view).
func (d *Dense) Row(i int) []float32 { return d.Data[i*d.Cols : (i+1)*d.Cols] }

// Sparse is a SelectedRows-style value: k rows of a logically dense Height x
// Cols matrix, identified by an ordered, possibly-duplicated-before-merge
// row index list.
type Sparse struct {
	VarName string
	Height  int // H: row count of the logical dense parent
	Cols    int
	RowIDs  []int64   // len == k
	Value   []float32 // len == k*Cols, row i corresponds to RowIDs[i]
}

func NewSparse(name string, height, cols int) *Sparse {
	return &Sparse{VarName: name, Height: height, Cols: cols}
}

func (s *Sparse) Name() string { return s.VarName }
func (s *Sparse) Kind() Kind   { return KindSparse }

func (s *Sparse) Clone() Variable {
	cp := &Sparse{VarName: s.VarName, Height: s.Height, Cols: s.Cols}
	cp.RowIDs = append(cp.RowIDs, s.RowIDs...)
	cp.Value = append(cp.Value, s.Value...)
	return cp
}

func (s *Sparse) Row(i int) []float32 { return s.Value[i*s.Cols : (i+1)*s.Cols] }

// Set replaces (or appends, preserving insertion order) the value for row id.
func (s *Sparse) Set(id int64, row []float32) {
	for i, have := range s.RowIDs {
		if have == id {
			copy(s.Row(i), row)
			return
		}
	}
	s.RowIDs = append(s.RowIDs, id)
	s.Value = append(s.Value, row...)
}

// Get returns the row for id and whether it was present.
func (s *Sparse) Get(id int64) ([]float32, bool) {
	for i, have := range s.RowIDs {
		if have == id {
			return s.Row(i), true
		}
	}
	return nil, false
}

// Scope is a non-owning-or-owning name -> Variable map; the communicator
// holds a shared recv Scope plus private staging scopes (send, delta, old,
// pserver) per spec §3.
type Scope struct {
	mu   sync.RWMutex
	vars map[string]Variable
}

func NewScope() *Scope { return &Scope{vars: make(map[string]Variable)} }

func (s *Scope) Get(name string) (Variable, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vars[name]
	return v, ok
}

func (s *Scope) MustGet(name string) (Variable, error) {
	v, ok := s.Get(name)
	if !ok {
		return nil, cos.NewErrNotFound("variable %q in scope", name)
	}
	return v, nil
}

func (s *Scope) Set(name string, v Variable) {
	s.mu.Lock()
	s.vars[name] = v
	s.mu.Unlock()
}

func (s *Scope) Del(name string) {
	s.mu.Lock()
	delete(s.vars, name)
	s.mu.Unlock()
}

func (s *Scope) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.vars))
	for k := range s.vars {
		out = append(out, k)
	}
	return out
}

// GetDense/GetSparse type-assert with a descriptive InvariantViolation on a
// kind mismatch.
func (s *Scope) GetDense(name string) (*Dense, error) {
	v, err := s.MustGet(name)
	if err != nil {
		return nil, err
	}
	d, ok := v.(*Dense)
	if !ok {
		return nil, cmnerr.NewInvariantViolation("variable %q is not dense (got %s)", name, v.Kind())
	}
	return d, nil
}

func (s *Scope) GetSparse(name string) (*Sparse, error) {
	v, err := s.MustGet(name)
	if err != nil {
		return nil, err
	}
	sp, ok := v.(*Sparse)
	if !ok {
		return nil, cmnerr.NewInvariantViolation("variable %q is not sparse (got %s)", name, v.Kind())
	}
	return sp, nil
}

// String is for log lines, matching the teacher's style of terse Stringers.
func (d *Dense) String() string {
	return fmt.Sprintf("dense[%s](%dx%d)", d.VarName, d.Rows, d.Cols)
}

func (s *Sparse) String() string {
	return fmt.Sprintf("sparse[%s](k=%d,H=%d,cols=%d)", s.VarName, len(s.RowIDs), s.Height, s.Cols)
}
