// Package pool provides the communicator's fixed-size thread pools (spec
// §4.F, §5: "Two fixed-size thread pools (send, recv)... default to
// max(1, |map|) workers each"). It is a thin wrapper around
// golang.org/x/sync/errgroup's concurrency-limited Group: each dispatcher
// iteration opens a Batch bounded to the pool's worker count, submits one
// task per variable that has work, and waits for the whole batch before
// moving on — exactly the fan-out/fan-in shape spec §4.F describes.
/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package pool

import "golang.org/x/sync/errgroup"

type Pool struct {
	size int
}

// New returns a pool with the given worker count, clamped to at least 1.
func New(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{size: size}
}

func (p *Pool) Size() int { return p.size }

// Batch starts a new bounded-concurrency task group: at most p.Size()
// submitted tasks run at once; Wait() blocks until all have completed.
func (p *Pool) Batch() *errgroup.Group {
	g := &errgroup.Group{}
	g.SetLimit(p.size)
	return g
}
