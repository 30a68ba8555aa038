package comm

import (
	"bytes"
	"encoding/binary"

	"golang.org/x/sync/errgroup"

	xatomic "github.com/MrChengmo/communicator/cmn/atomic"
	"github.com/MrChengmo/communicator/cmn/cos"
	"github.com/MrChengmo/communicator/cmn/debug"
	"github.com/MrChengmo/communicator/cmn/nlog"
	"github.com/MrChengmo/communicator/cmnerr"
	"github.com/MrChengmo/communicator/queue"
	"github.com/MrChengmo/communicator/rpcface"
	"github.com/MrChengmo/communicator/stats"
	"github.com/MrChengmo/communicator/variable"
)

// Sender is the per-variable worker from spec §4.D. One is constructed per
// send-tracked RpcContext and invoked repeatedly by the send dispatcher's
// thread pool for as long as its queue has work. It is also reused directly
// by the GEO-SGD engine (spec §4.G step 4, "ship delta via the sender"),
// which calls SplitAndSend instead of RunOnce since it has no queue to drain.
type Sender struct {
	ctx    *RpcContext
	q      *queue.Bounded[variable.Variable]
	client rpcface.Client
	scope  *variable.Scope // private staging scope
}

func NewSender(ctx *RpcContext, q *queue.Bounded[variable.Variable], client rpcface.Client) *Sender {
	return &Sender{ctx: ctx, q: q, client: client, scope: variable.NewScope()}
}

// RunOnce executes one send tick (spec §4.D steps 1-5). It returns nil on
// success having incremented counter by exactly 1, or a non-nil error
// (typically *cmnerr.RpcFailure) the caller logs and discards — the batch is
// never retried, per spec "no retry — the next gradient will supersede".
func (s *Sender) RunOnce(counter *xatomic.Uint64) error {
	first, ok := s.q.Pop()
	if !ok {
		return nil // queue stopped while empty; nothing to do
	}
	batch := append([]variable.Variable{first}, s.q.DrainAvailable(s.q.Size())...)

	merged, err := variable.Merge(batch, variable.MergeSum)
	if err != nil {
		return err
	}
	return SplitAndSend(s.ctx, s.client, merged, s.scope, counter)
}

// payloadBytes serializes a variable's actual numeric content (not its name
// or shape) so cos.Checksum64 can detect a corrupted or truncated merge —
// hashing metadata alone would return the same value on every send.
func payloadBytes(v variable.Variable) []byte {
	buf := new(bytes.Buffer)
	switch t := v.(type) {
	case *variable.Dense:
		for _, f := range t.Data {
			binary.Write(buf, binary.LittleEndian, f)
		}
	case *variable.Sparse:
		for _, id := range t.RowIDs {
			binary.Write(buf, binary.LittleEndian, id)
		}
		for _, f := range t.Value {
			binary.Write(buf, binary.LittleEndian, f)
		}
	}
	return buf.Bytes()
}

// SplitAndSend is spec §4.D steps 3-5, factored out so the GEO engine can
// ship an already-computed delta without going through a send queue.
func SplitAndSend(ctx *RpcContext, client rpcface.Client, merged variable.Variable, scope *variable.Scope, counter *xatomic.Uint64) error {
	if debug.ON() {
		checksum := cos.Checksum64(payloadBytes(merged))
		nlog.Infof("send %s: merged payload checksum=%x", ctx.VarName, checksum)
	}
	scope.Set(ctx.VarName, merged)

	shards, err := variable.Split(merged, ctx.HeightSections)
	if err != nil {
		return err
	}

	n := len(shards)
	handles := make([]rpcface.WaitHandle, n)
	var g errgroup.Group
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			shardName := ctx.SplitedVarnames[i]
			scope.Set(shardName, shards[i])
			h, err := client.AsyncSend(ctx.Endpoints[i], ctx.TrainerID, scope, shardName)
			if err != nil {
				return cmnerr.NewRpcFailure("send", shardName, ctx.Endpoints[i], err)
			}
			handles[i] = h
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		nlog.Warningf("send %s: dispatch failed: %v", ctx.VarName, err)
		stats.RpcFailuresTotal.WithLabelValues("send").Inc()
		return err
	}
	var errs cos.Errs
	for i, h := range handles {
		if !h.Wait() {
			err := cmnerr.NewRpcFailure("send", ctx.SplitedVarnames[i], ctx.Endpoints[i], nil)
			nlog.Warningf("send %s: %v", ctx.VarName, err)
			stats.RpcFailuresTotal.WithLabelValues("send").Inc()
			errs.Add(err)
		}
	}
	if errs.Cnt() > 0 {
		return &errs
	}
	if counter != nil {
		counter.Inc()
	}
	return nil
}
