// Package cmnerr defines the Communicator's error taxonomy (spec §7):
// ConfigurationError and InvariantViolation are fatal at the boundary where
// they're detected; RpcFailure is reported and swallowed by the dispatcher
// that owns the failing pass.
/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package cmnerr

import (
	"fmt"

	"github.com/pkg/errors"
)

// ConfigurationError: detected at construction time — empty context map,
// non-positive queue capacity, mismatched RpcContext vector lengths, an
// unknown variable type in a descriptor.
type ConfigurationError struct {
	msg string
}

func NewConfigurationError(format string, a ...any) *ConfigurationError {
	return &ConfigurationError{msg: fmt.Sprintf(format, a...)}
}

func (e *ConfigurationError) Error() string { return "configuration error: " + e.msg }

// InvariantViolation: a precondition the caller guaranteed and violated —
// merger given empty/heterogeneous input, recv flatten size mismatch,
// singleton accessed before init. Always a programming error, never a
// transient condition.
type InvariantViolation struct {
	msg string
}

func NewInvariantViolation(format string, a ...any) *InvariantViolation {
	return &InvariantViolation{msg: fmt.Sprintf(format, a...)}
}

func (e *InvariantViolation) Error() string { return "invariant violation: " + e.msg }

// RpcFailure wraps a single failed wait-handle: which variable, which
// endpoint, and whether it was a send or a get. The dispatcher that
// encounters this logs it at warning severity and abandons the pass; it
// is never propagated to the compute loop.
type RpcFailure struct {
	VarName  string
	Endpoint string
	Op       string // "send" | "get" | "get_no_barrier"
	cause    error
}

func NewRpcFailure(op, varName, endpoint string, cause error) *RpcFailure {
	return &RpcFailure{VarName: varName, Endpoint: endpoint, Op: op, cause: cause}
}

func (e *RpcFailure) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("rpc %s failed: var=%s endpoint=%s: %v", e.Op, e.VarName, e.Endpoint, e.cause)
	}
	return fmt.Sprintf("rpc %s failed: var=%s endpoint=%s: wait() returned failure", e.Op, e.VarName, e.Endpoint)
}

func (e *RpcFailure) Unwrap() error { return e.cause }

func Wrap(err error, format string, a ...any) error {
	return errors.Wrapf(err, format, a...)
}
