package comm

import (
	"sync"

	"github.com/MrChengmo/communicator/config"
	"github.com/MrChengmo/communicator/rpcface"
	"github.com/MrChengmo/communicator/variable"
)

// Singleton facade (spec §4.H, Design Note §9): process-wide handle gated
// behind a once-only init primitive rather than an implicit global lookup.
// Concurrent Init calls race to construct; every call after the first winner
// is silently ignored and returns the winner's instance and error.
var (
	instOnce sync.Once
	inst     *Async
	instErr  error
)

// Init is the once-only constructor. Only the first call's arguments take
// effect (spec §8 "Singleton idempotence").
func Init(sendCtxMap, recvCtxMap RpcCtxMap, recvScope *variable.Scope, client rpcface.Client, cfg config.Config) (*Async, error) {
	instOnce.Do(func() {
		inst, instErr = InitAsync(sendCtxMap, recvCtxMap, recvScope, client, cfg)
	})
	return inst, instErr
}

// GetInstance returns the unique instance. Per spec §4.H, calling it before
// Init is undefined behavior — here, a nil pointer whose methods panic on
// first use, a weak read deliberately left unguarded (Design Note §9).
func GetInstance() *Async {
	return inst
}
