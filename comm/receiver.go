package comm

import (
	"golang.org/x/sync/errgroup"

	"github.com/MrChengmo/communicator/cmn/cos"
	"github.com/MrChengmo/communicator/cmn/nlog"
	"github.com/MrChengmo/communicator/cmnerr"
	"github.com/MrChengmo/communicator/rpcface"
	"github.com/MrChengmo/communicator/stats"
	"github.com/MrChengmo/communicator/variable"
)

// Receiver is the per-variable worker from spec §4.E. On the multi-shard
// path, barrier selects AsyncGet (true, the orchestrator's periodic pull) vs
// AsyncGetNoBarrier (false, GEO-SGD's pull, spec §4.G step 5 "bypassing any
// barrier"); the single-slice fast path always uses AsyncGetNoBarrier.
//
// dest is where scatter writes land. For the Async orchestrator this is the
// shared global recv scope; the GEO engine reuses RunOnce with dest set to its
// private pserver_scope. Multi-shard scatter requires every origin to
// already exist in dest with correctly-sized storage (spec §4.E step 4
// "into the origin variable's storage"); the single-slice fast path has no
// such requirement since the RPC client installs the fetched variable
// itself.
type Receiver struct {
	ctx     *RpcContext
	client  rpcface.Client
	dest    *variable.Scope
	barrier bool
}

func NewReceiver(ctx *RpcContext, client rpcface.Client, dest *variable.Scope, barrier bool) *Receiver {
	return &Receiver{ctx: ctx, client: client, dest: dest, barrier: barrier}
}

func (r *Receiver) get(endpoint, inName, outName string, scope *variable.Scope) (rpcface.WaitHandle, error) {
	if r.barrier {
		return r.client.AsyncGet(endpoint, r.ctx.TrainerID, scope, inName, outName)
	}
	return r.client.AsyncGetNoBarrier(endpoint, r.ctx.TrainerID, scope, inName, outName)
}

// RunOnce executes one pull (spec §4.E steps 1-4).
func (r *Receiver) RunOnce() error {
	n := len(r.ctx.SplitedVarnames)

	if n == 1 && len(r.ctx.OriginVarnames) == 1 {
		name := r.ctx.OriginVarnames[0]
		h, err := r.client.AsyncGetNoBarrier(r.ctx.Endpoints[0], r.ctx.TrainerID, r.dest, r.ctx.SplitedVarnames[0], name)
		if err != nil {
			err = cmnerr.NewRpcFailure("get_no_barrier", name, r.ctx.Endpoints[0], err)
			nlog.Warningf("recv %s: %v", r.ctx.VarName, err)
			stats.RpcFailuresTotal.WithLabelValues("get_no_barrier").Inc()
			return err
		}
		if !h.Wait() {
			err := cmnerr.NewRpcFailure("get_no_barrier", name, r.ctx.Endpoints[0], nil)
			nlog.Warningf("recv %s: %v", r.ctx.VarName, err)
			stats.RpcFailuresTotal.WithLabelValues("get_no_barrier").Inc()
			return err
		}
		return nil
	}

	staging := variable.NewScope()
	handles := make([]rpcface.WaitHandle, n)
	var g errgroup.Group
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			shardName := r.ctx.SplitedVarnames[i]
			h, err := r.get(r.ctx.Endpoints[i], shardName, shardName, staging)
			if err != nil {
				return cmnerr.NewRpcFailure("get", shardName, r.ctx.Endpoints[i], err)
			}
			handles[i] = h
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		nlog.Warningf("recv %s: dispatch failed: %v", r.ctx.VarName, err)
		stats.RpcFailuresTotal.WithLabelValues("get").Inc()
		return err
	}
	var errs cos.Errs
	for i, h := range handles {
		if !h.Wait() {
			err := cmnerr.NewRpcFailure("get", r.ctx.SplitedVarnames[i], r.ctx.Endpoints[i], nil)
			nlog.Warningf("recv %s: %v", r.ctx.VarName, err)
			stats.RpcFailuresTotal.WithLabelValues("get").Inc()
			errs.Add(err)
		}
	}
	if errs.Cnt() > 0 {
		return &errs
	}

	first, err := staging.MustGet(r.ctx.SplitedVarnames[0])
	if err != nil {
		return err
	}
	prefix := variable.PrefixSums(r.ctx.HeightSections)

	switch first.Kind() {
	case variable.KindDense:
		shards := make([]*variable.Dense, n)
		for i, name := range r.ctx.SplitedVarnames {
			shards[i], err = staging.GetDense(name)
			if err != nil {
				return err
			}
		}
		flat := variable.FlattenDense(shards)
		origins := make([]*variable.Dense, len(r.ctx.OriginVarnames))
		for i, name := range r.ctx.OriginVarnames {
			origins[i], err = r.dest.GetDense(name)
			if err != nil {
				return err
			}
		}
		return variable.ScatterDense(flat, origins)

	case variable.KindSparse:
		shards := make([]*variable.Sparse, n)
		for i, name := range r.ctx.SplitedVarnames {
			sp, err := staging.GetSparse(name)
			if err != nil {
				return err
			}
			shards[i] = variable.RebaseShard(sp, prefix[i])
		}
		height := prefix[len(prefix)-1]
		flat := variable.FlattenSparse(shards, height)
		origins := make([]*variable.Sparse, len(r.ctx.OriginVarnames))
		for i, name := range r.ctx.OriginVarnames {
			origins[i], err = r.dest.GetSparse(name)
			if err != nil {
				return err
			}
		}
		return variable.ScatterSparse(flat, origins)

	default:
		return cmnerr.NewInvariantViolation("recv %s: unknown variable kind", r.ctx.VarName)
	}
}
