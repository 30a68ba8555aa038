package comm_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrChengmo/communicator/comm"
	"github.com/MrChengmo/communicator/rpcface/localrpc"
	"github.com/MrChengmo/communicator/variable"
)

func TestReceiverSingleShardEcho(t *testing.T) {
	client := localrpc.New()
	client.Store("e0").Set("w", denseRows("w", 4, 9))

	ctx := &comm.RpcContext{
		VarName:         "w",
		SplitedVarnames: []string{"w"},
		Endpoints:       []string{"e0"},
		HeightSections:  []int{4},
		OriginVarnames:  []string{"w"},
	}
	recvScope := variable.NewScope()
	recvScope.Set("w", variable.NewDense("w", 4, 1))

	r := comm.NewReceiver(ctx, client, recvScope, true)
	require.NoError(t, r.RunOnce())

	got, err := recvScope.GetDense("w")
	require.NoError(t, err)
	assert.Equal(t, []float32{9, 9, 9, 9}, got.Data)
}

func TestReceiverReassemblesMultipleOrigins(t *testing.T) {
	client := localrpc.New()
	client.Store("e0").Set("w0", denseRows("w0", 2, 1)) // A0,A1
	client.Store("e1").Set("w1", denseRows("w1", 2, 2)) // B0,B1

	ctx := &comm.RpcContext{
		VarName:         "w",
		SplitedVarnames: []string{"w0", "w1"},
		Endpoints:       []string{"e0", "e1"},
		HeightSections:  []int{2, 2},
		OriginVarnames:  []string{"a", "b"},
	}
	recvScope := variable.NewScope()
	recvScope.Set("a", variable.NewDense("a", 2, 1))
	recvScope.Set("b", variable.NewDense("b", 2, 1))

	r := comm.NewReceiver(ctx, client, recvScope, true)
	require.NoError(t, r.RunOnce())

	a, err := recvScope.GetDense("a")
	require.NoError(t, err)
	b, err := recvScope.GetDense("b")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 1}, a.Data)
	assert.Equal(t, []float32{2, 2}, b.Data)
}

func TestReceiverRpcFailureIsReported(t *testing.T) {
	client := localrpc.New()
	client.Store("e0").Set("w", denseRows("w", 4, 9))
	client.FailNext("e0", "get_no_barrier")

	ctx := &comm.RpcContext{
		VarName:         "w",
		SplitedVarnames: []string{"w"},
		Endpoints:       []string{"e0"},
		HeightSections:  []int{4},
		OriginVarnames:  []string{"w"},
	}
	recvScope := variable.NewScope()
	r := comm.NewReceiver(ctx, client, recvScope, true)
	err := r.RunOnce()
	assert.Error(t, err)
}
