package geo_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrChengmo/communicator/config"
	"github.com/MrChengmo/communicator/geo"
	"github.com/MrChengmo/communicator/rpcface/localrpc"
	"github.com/MrChengmo/communicator/variable"
)

func sparseVarsInfo() config.VarsInfo {
	return config.VarsInfo{
		"w": config.VarInfo{
			ParamName: []string{"w_0"},
			Epmap:     []string{"e0"},
			Sections:  []int{10},
		},
	}
}

// touchScope builds a per-call scope whose "touched" sparse lookup table
// carries RowIDs equal to the rows GeoSgdSend should report for this call.
func touchScope(rows ...int64) *variable.Scope {
	s := variable.NewScope()
	lookup := variable.NewSparse("touched", 10, 2)
	for _, r := range rows {
		lookup.Set(r, []float32{0, 0})
	}
	s.Set("touched", lookup)
	return s
}

func TestGeoSgdSendComputesDeltaAndAppliesPull(t *testing.T) {
	client := localrpc.New()

	// InitGeo seeds old_scope/pserver_scope from training_scope's state at
	// init time (spec "Initial old[w].rows=[]"), so the engine must be
	// constructed against an empty w before any row is ever written —
	// otherwise old[w] would start equal to training[w] and every delta
	// would compute to zero.
	trainingScope := variable.NewScope()
	w := variable.NewSparse("w", 10, 2)
	trainingScope.Set("w", w)

	// what the pserver hands back when pulled, simulating the server having
	// merged the delta and some concurrent updates from other trainers.
	pserverSide := variable.NewSparse("w_0", 10, 2)
	pserverSide.Set(3, []float32{11, 21})
	pserverSide.Set(7, []float32{101, 201})
	client.Store("e0").Set("w_0", pserverSide)

	eng, err := geo.InitGeo(trainingScope, sparseVarsInfo(), 2, 4, 0, client, config.Default())
	require.NoError(t, err)
	require.NoError(t, eng.Start())
	defer eng.Stop()

	w.Set(3, []float32{10, 20})
	w.Set(7, []float32{100, 200})

	for i := 0; i < 4; i++ {
		var sendErr error
		if i%2 == 0 {
			sendErr = eng.GeoSgdSend([]string{"w"}, []string{"touched"}, touchScope(3))
		} else {
			sendErr = eng.GeoSgdSend([]string{"w"}, []string{"touched"}, touchScope(7))
		}
		require.NoError(t, sendErr)
	}

	assert.Eventually(t, func() bool {
		delta, err := client.Store("e0").GetSparse("w_0.delta")
		if err != nil {
			return false
		}
		r3, ok3 := delta.Get(3)
		r7, ok7 := delta.Get(7)
		return ok3 && ok7 && r3[0] == 5 && r3[1] == 10 && r7[0] == 50 && r7[1] == 100
	}, 2*time.Second, 5*time.Millisecond, "shipped delta should be (training-old)/trainer_nums for touched rows")

	assert.Eventually(t, func() bool {
		row3, ok3 := w.Get(3)
		row7, ok7 := w.Get(7)
		return ok3 && ok7 && row3[0] == 11 && row3[1] == 21 && row7[0] == 101 && row7[1] == 201
	}, 2*time.Second, 5*time.Millisecond, "apply should copy pulled pserver rows back into training")
}

func TestInitGeoRejectsZeroTrainerCount(t *testing.T) {
	client := localrpc.New()
	trainingScope := variable.NewScope()
	trainingScope.Set("w", variable.NewSparse("w", 10, 2))
	_, err := geo.InitGeo(trainingScope, sparseVarsInfo(), 0, 4, 0, client, config.Default())
	assert.Error(t, err)
}

func TestGeoSgdSendRejectsMismatchedNameLists(t *testing.T) {
	client := localrpc.New()
	trainingScope := variable.NewScope()
	trainingScope.Set("w", variable.NewSparse("w", 10, 2))
	eng, err := geo.InitGeo(trainingScope, sparseVarsInfo(), 2, 4, 0, client, config.Default())
	require.NoError(t, err)

	err = eng.GeoSgdSend([]string{"w", "v"}, []string{"touched"}, touchScope(3))
	assert.Error(t, err)
}
