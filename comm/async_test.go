package comm_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrChengmo/communicator/comm"
	"github.com/MrChengmo/communicator/config"
	"github.com/MrChengmo/communicator/rpcface/localrpc"
	"github.com/MrChengmo/communicator/variable"
)

func singleShardCtxMap() comm.RpcCtxMap {
	return comm.RpcCtxMap{
		"w": &comm.RpcContext{
			VarName:         "w",
			SplitedVarnames: []string{"w"},
			Endpoints:       []string{"e0"},
			HeightSections:  []int{4},
			OriginVarnames:  []string{"w"},
		},
	}
}

func TestAsyncSingleShardDenseEcho(t *testing.T) {
	client := localrpc.New()
	recvScope := variable.NewScope()

	async, err := comm.InitAsync(singleShardCtxMap(), singleShardCtxMap(), recvScope, client, config.Default())
	require.NoError(t, err)
	require.NoError(t, async.Start())
	defer async.Stop()

	sendScope := variable.NewScope()
	sendScope.Set("w", denseRows("w", 4, 5))
	require.NoError(t, async.Send("w", sendScope))

	assert.Eventually(t, func() bool {
		got, err := recvScope.GetDense("w")
		return err == nil && len(got.Data) == 4 && got.Data[0] == 5
	}, 2*time.Second, 5*time.Millisecond)
}

func TestAsyncRejectsUntrackedVariable(t *testing.T) {
	client := localrpc.New()
	recvScope := variable.NewScope()
	async, err := comm.InitAsync(singleShardCtxMap(), singleShardCtxMap(), recvScope, client, config.Default())
	require.NoError(t, err)

	sendScope := variable.NewScope()
	sendScope.Set("unknown", denseRows("unknown", 1, 1))
	assert.Error(t, async.Send("unknown", sendScope))
}

func TestAsyncRpcFailureDoesNotAdvanceGradCounter(t *testing.T) {
	client := localrpc.New()
	client.FailNext("e0", "send")
	recvScope := variable.NewScope()

	async, err := comm.InitAsync(singleShardCtxMap(), singleShardCtxMap(), recvScope, client, config.Default())
	require.NoError(t, err)
	require.NoError(t, async.Start())
	defer async.Stop()

	sendScope := variable.NewScope()
	sendScope.Set("w", denseRows("w", 4, 1))
	require.NoError(t, async.Send("w", sendScope))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, uint64(0), async.GradCount())

	// a subsequent successful send does advance it: the counter reaches the
	// threshold (|send map| = 1), and the recv pass it triggers fills
	// recvScope and resets the counter to 0
	require.NoError(t, async.Send("w", sendScope))
	assert.Eventually(t, func() bool { _, ok := recvScope.Get("w"); return ok && async.GradCount() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestInitAsyncRejectsEmptySendMap(t *testing.T) {
	client := localrpc.New()
	_, err := comm.InitAsync(comm.RpcCtxMap{}, comm.RpcCtxMap{}, variable.NewScope(), client, config.Default())
	assert.Error(t, err)
}
