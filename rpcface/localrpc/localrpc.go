// Package localrpc is an in-process rpcface.Client: each "endpoint" is
// simply a key into an in-memory map of scopes, standing in for a pserver
// shard. It is grounded on the teacher's cluster/mock idiom (a same-process
// fake satisfying a wire-facing interface) and is wired into cmd/trainerd's
// single-process demo mode and every package test in this module that needs
// a working Client without a network.
/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package localrpc

import (
	"sync"

	"github.com/MrChengmo/communicator/rpcface"
	"github.com/MrChengmo/communicator/variable"
)

type handle struct{ ok bool }

func (h handle) Wait() bool { return h.ok }

// Client simulates a set of pserver shards, one variable.Scope per
// endpoint string, entirely in memory.
type Client struct {
	mu     sync.Mutex
	stores map[string]*variable.Scope
	fail   map[string]map[string]bool
}

func New() *Client {
	return &Client{stores: make(map[string]*variable.Scope), fail: make(map[string]map[string]bool)}
}

var _ rpcface.Client = (*Client)(nil)

func (c *Client) store(endpoint string) *variable.Scope {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.stores[endpoint]
	if !ok {
		s = variable.NewScope()
		c.stores[endpoint] = s
	}
	return s
}

// FailNext arranges for the next call of op ("send", "get", or
// "get_no_barrier") against endpoint to report wait()=0, for exercising the
// RPC-failure-does-not-advance-counter scenario.
func (c *Client) FailNext(endpoint, op string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail[endpoint] == nil {
		c.fail[endpoint] = make(map[string]bool)
	}
	c.fail[endpoint][op] = true
}

func (c *Client) consumeFail(endpoint, op string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail[endpoint][op] {
		c.fail[endpoint][op] = false
		return true
	}
	return false
}

func (c *Client) AsyncSend(endpoint string, _ int, scope *variable.Scope, varName string) (rpcface.WaitHandle, error) {
	v, err := scope.MustGet(varName)
	if err != nil {
		return nil, err
	}
	c.store(endpoint).Set(varName, v.Clone())
	return handle{ok: !c.consumeFail(endpoint, "send")}, nil
}

func (c *Client) AsyncGet(endpoint string, _ int, scope *variable.Scope, inName, outName string) (rpcface.WaitHandle, error) {
	return c.get(endpoint, "get", scope, inName, outName)
}

func (c *Client) AsyncGetNoBarrier(endpoint string, _ int, scope *variable.Scope, inName, outName string) (rpcface.WaitHandle, error) {
	return c.get(endpoint, "get_no_barrier", scope, inName, outName)
}

func (c *Client) get(endpoint, op string, scope *variable.Scope, inName, outName string) (rpcface.WaitHandle, error) {
	v, err := c.store(endpoint).MustGet(inName)
	if err != nil {
		return nil, err
	}
	scope.Set(outName, v.Clone())
	return handle{ok: !c.consumeFail(endpoint, op)}, nil
}

// Store exposes an endpoint's backing scope directly, for test setup (e.g.
// pre-seeding pserver state) and assertions.
func (c *Client) Store(endpoint string) *variable.Scope {
	return c.store(endpoint)
}
