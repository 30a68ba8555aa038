package comm_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xatomic "github.com/MrChengmo/communicator/cmn/atomic"
	"github.com/MrChengmo/communicator/comm"
	"github.com/MrChengmo/communicator/queue"
	"github.com/MrChengmo/communicator/rpcface/localrpc"
	"github.com/MrChengmo/communicator/variable"
)

func twoShardCtx() *comm.RpcContext {
	return &comm.RpcContext{
		VarName:         "w",
		SplitedVarnames: []string{"w_0", "w_1"},
		Endpoints:       []string{"e0", "e1"},
		HeightSections:  []int{2, 3},
		OriginVarnames:  []string{"w"},
	}
}

func denseRows(name string, rows int, v float32) *variable.Dense {
	d := variable.NewDense(name, rows, 1)
	for i := range d.Data {
		d.Data[i] = v
	}
	return d
}

func TestSenderMergesAndSplitsAcrossShards(t *testing.T) {
	ctx := twoShardCtx()
	q, err := queue.New[variable.Variable](8)
	require.NoError(t, err)
	client := localrpc.New()
	s := comm.NewSender(ctx, q, client)

	q.Push(denseRows("w", 5, 1))
	q.Push(denseRows("w", 5, 2))
	q.Push(denseRows("w", 5, 4))

	var counter xatomic.Uint64
	require.NoError(t, s.RunOnce(&counter))
	assert.Equal(t, uint64(1), counter.Load())

	shard0, err := client.Store("e0").GetDense("w_0")
	require.NoError(t, err)
	assert.Equal(t, []float32{7, 7}, shard0.Data)

	shard1, err := client.Store("e1").GetDense("w_1")
	require.NoError(t, err)
	assert.Equal(t, []float32{7, 7, 7}, shard1.Data)
}

func TestSenderRpcFailureDoesNotAdvanceCounter(t *testing.T) {
	ctx := twoShardCtx()
	q, err := queue.New[variable.Variable](8)
	require.NoError(t, err)
	client := localrpc.New()
	client.FailNext("e1", "send")
	s := comm.NewSender(ctx, q, client)

	q.Push(denseRows("w", 5, 3))

	var counter xatomic.Uint64
	err = s.RunOnce(&counter)
	assert.Error(t, err)
	assert.Equal(t, uint64(0), counter.Load())
}
