// Package comm implements the async-mode Communicator: the per-variable
// sender and receiver workers (spec §4.D, §4.E), the orchestrator that
// dispatches them (§4.F), and the descriptor types they're built from (§3).
/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package comm

import "github.com/MrChengmo/communicator/cmnerr"

// RpcContext is the per-variable split/merge descriptor (spec §3). Two
// RpcCtxMaps exist per Async instance: one for send-tracked variables, one
// for recv-tracked ones; keys need not overlap.
type RpcContext struct {
	VarName         string
	SplitedVarnames []string
	Endpoints       []string
	HeightSections  []int
	OriginVarnames  []string
	TrainerID       int
	MergeAdd        bool
}

// Validate enforces the §3 invariants: |SplitedVarnames| = |Endpoints| =
// |HeightSections| = n >= 1; origin_varnames non-empty. sum(HeightSections)
// is checked lazily against the merged tensor's row count at send/recv time
// (it depends on runtime shape, not on the descriptor alone).
func (c *RpcContext) Validate() error {
	n := len(c.SplitedVarnames)
	if n == 0 {
		return cmnerr.NewConfigurationError("rpc context %q: splited_varnames is empty", c.VarName)
	}
	if len(c.Endpoints) != n {
		return cmnerr.NewConfigurationError(
			"rpc context %q: |endpoints|=%d != |splited_varnames|=%d", c.VarName, len(c.Endpoints), n)
	}
	if len(c.HeightSections) != n {
		return cmnerr.NewConfigurationError(
			"rpc context %q: |height_sections|=%d != |splited_varnames|=%d", c.VarName, len(c.HeightSections), n)
	}
	if len(c.OriginVarnames) == 0 {
		return cmnerr.NewConfigurationError("rpc context %q: origin_varnames is empty", c.VarName)
	}
	for i, s := range c.HeightSections {
		if s <= 0 {
			return cmnerr.NewConfigurationError(
				"rpc context %q: height_sections[%d]=%d must be > 0", c.VarName, i, s)
		}
	}
	return nil
}

// RpcCtxMap is name -> RpcContext (spec §3). A ConfigurationError on an
// empty map is raised by the orchestrator constructor, not here, since an
// empty map is only invalid in context (send map empty means nothing to do;
// recv map empty is legal for pure-GEO setups outside this package).
type RpcCtxMap map[string]*RpcContext

// Validate checks every entry.
func (m RpcCtxMap) Validate() error {
	for name, c := range m {
		if c.VarName == "" {
			c.VarName = name
		}
		if err := c.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Names returns the map's keys, in no particular order.
func (m RpcCtxMap) Names() []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
