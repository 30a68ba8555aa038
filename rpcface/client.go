// Package rpcface defines the abstract RPC client facade the communicator
// is built against (spec §4.C, §6): async get/send primitives returning
// wait-handles, with the wire-level transport entirely out of scope (spec
// §1). Concrete implementations live outside this package — see
// rpcface/localrpc for the in-process stub used by tests and the
// single-process demo in cmd/trainerd.
/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package rpcface

import "github.com/MrChengmo/communicator/variable"

// WaitHandle is the opaque token returned by an async RPC call. Wait blocks
// until the call completes and reports success; spec §4.C states this as
// "non-zero on success, 0 on failure" — expressed here as a bool.
type WaitHandle interface {
	Wait() bool
}

// Client is the facade injected into the communicator (spec §4.C). endpoint
// is a "host:port" string, opaque to the core; trainerID selects which
// client identity issues the call, matching spec §6 ("an implementation-
// selected client keyed by trainer_id").
type Client interface {
	// AsyncSend ships scope[varName] to endpoint, asynchronously.
	AsyncSend(endpoint string, trainerID int, scope *variable.Scope, varName string) (WaitHandle, error)

	// AsyncGet is the barriered get: fetches endpoint's inName into
	// scope[outName], waiting for the endpoint to have finished applying
	// all sends issued before this get (used by the Async orchestrator's
	// periodic pull, spec §4.E step 2).
	AsyncGet(endpoint string, trainerID int, scope *variable.Scope, inName, outName string) (WaitHandle, error)

	// AsyncGetNoBarrier is the same fetch without waiting for a server-side
	// barrier (used for the single-slice fast path, spec §4.E step 1, and
	// for GEO-SGD's pull, spec §4.G step 5).
	AsyncGetNoBarrier(endpoint string, trainerID int, scope *variable.Scope, inName, outName string) (WaitHandle, error)
}
