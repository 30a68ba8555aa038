package comm

import (
	"sync"
	"time"

	xatomic "github.com/MrChengmo/communicator/cmn/atomic"
	"github.com/MrChengmo/communicator/cmn/cos"
	"github.com/MrChengmo/communicator/cmn/nlog"
	"github.com/MrChengmo/communicator/cmnerr"
	"github.com/MrChengmo/communicator/config"
	"github.com/MrChengmo/communicator/lifecycle"
	"github.com/MrChengmo/communicator/pool"
	"github.com/MrChengmo/communicator/queue"
	"github.com/MrChengmo/communicator/rpcface"
	"github.com/MrChengmo/communicator/stats"
	"github.com/MrChengmo/communicator/variable"
)

// dispatchPollInterval bounds the send dispatcher's idle-scan busy-wait and
// the recv dispatcher's threshold poll (spec §5: "recv dispatcher blocks on
// GradCounter threshold via condition variable or short sleep" — this
// repo takes the short-sleep option named in the spec itself).
const dispatchPollInterval = 5 * time.Millisecond

// Async is the orchestrator from spec §4.F: owns one SendQueue + sender per
// send-tracked variable, one receiver per recv-tracked variable, two fixed
// thread pools, and the two dispatcher goroutines.
type Async struct {
	id      string
	sendCtx RpcCtxMap
	recvCtx RpcCtxMap
	client  rpcface.Client
	cfg     config.Config

	queues    map[string]*queue.Bounded[variable.Variable]
	senders   map[string]*Sender
	receivers map[string]*Receiver
	sendPool  *pool.Pool
	recvPool  *pool.Pool
	counter   xatomic.Uint64

	mu     sync.Mutex
	state  lifecycle.State
	stopCh chan struct{}
	wg     sync.WaitGroup
}

var _ lifecycle.Runner = (*Async)(nil)

// InitAsync constructs the orchestrator (spec §6 init_async). The send
// context map must be non-empty — a Communicator with nothing to send has
// no way to trigger a recv pass (GradCounter's threshold is |send map|).
func InitAsync(sendCtxMap, recvCtxMap RpcCtxMap, recvScope *variable.Scope, client rpcface.Client, cfg config.Config) (*Async, error) {
	if len(sendCtxMap) == 0 {
		return nil, cmnerr.NewConfigurationError("init_async: send context map is empty")
	}
	if err := sendCtxMap.Validate(); err != nil {
		return nil, err
	}
	if err := recvCtxMap.Validate(); err != nil {
		return nil, err
	}

	cap := cfg.SendQueueCapacity
	if cap <= 0 {
		cap = config.Default().SendQueueCapacity
	}

	queues := make(map[string]*queue.Bounded[variable.Variable], len(sendCtxMap))
	senders := make(map[string]*Sender, len(sendCtxMap))
	for name, ctx := range sendCtxMap {
		q, err := queue.New[variable.Variable](cap)
		if err != nil {
			return nil, err
		}
		queues[name] = q
		senders[name] = NewSender(ctx, q, client)
	}

	receivers := make(map[string]*Receiver, len(recvCtxMap))
	for name, ctx := range recvCtxMap {
		receivers[name] = NewReceiver(ctx, client, recvScope, true)
	}

	sendPoolSize := cfg.SendThreadPoolSize
	if sendPoolSize <= 0 {
		sendPoolSize = len(sendCtxMap)
	}
	recvPoolSize := cfg.RecvThreadPoolSize
	if recvPoolSize <= 0 {
		recvPoolSize = len(recvCtxMap)
	}

	return &Async{
		id:        cos.GenUUID(),
		sendCtx:   sendCtxMap,
		recvCtx:   recvCtxMap,
		client:    client,
		cfg:       cfg,
		queues:    queues,
		senders:   senders,
		receivers: receivers,
		sendPool:  pool.New(sendPoolSize),
		recvPool:  pool.New(recvPoolSize),
		state:     lifecycle.Created,
	}, nil
}

// InitAsyncFromProgram adapts the §6 program-description entrypoint: since
// model/program binding is out of scope (spec §1), this accepts a decoded
// vars_info descriptor in place of a real program and builds the context
// maps from it via config.BuildCtxMaps.
func InitAsyncFromProgram(sendInfo, recvInfo config.VarsInfo, recvScope *variable.Scope, trainerID int, client rpcface.Client, cfg config.Config) (*Async, error) {
	sendCtxMap, err := ctxMapFromVarsInfo(sendInfo, trainerID, true)
	if err != nil {
		return nil, err
	}
	recvCtxMap, err := ctxMapFromVarsInfo(recvInfo, trainerID, false)
	if err != nil {
		return nil, err
	}
	return InitAsync(sendCtxMap, recvCtxMap, recvScope, client, cfg)
}

func ctxMapFromVarsInfo(vi config.VarsInfo, trainerID int, mergeAdd bool) (RpcCtxMap, error) {
	specs, err := config.BuildCtxMaps(vi)
	if err != nil {
		return nil, err
	}
	out := make(RpcCtxMap, len(specs))
	for name, s := range specs {
		out[name] = &RpcContext{
			VarName:         s.VarName,
			SplitedVarnames: s.SplitedVarnames,
			Endpoints:       s.Endpoints,
			HeightSections:  s.HeightSections,
			OriginVarnames:  s.OriginVarnames,
			TrainerID:       trainerID,
			MergeAdd:        mergeAdd,
		}
	}
	return out, nil
}

// Start spawns the send and recv dispatchers (spec §4.F). Calling it while
// running, mid-shutdown or after Stop is rejected, matching "start() is
// idempotent-rejected after first success".
func (a *Async) Start() error {
	a.mu.Lock()
	if a.state != lifecycle.Created {
		a.mu.Unlock()
		return cmnerr.NewConfigurationError("async: start() called while state=%s", a.state)
	}
	a.state = lifecycle.Running
	a.stopCh = make(chan struct{})
	a.mu.Unlock()

	a.wg.Add(2)
	go a.runSendDispatcher()
	go a.runRecvDispatcher()
	nlog.Infof("async[%s]: started, send=%d recv=%d", a.id, len(a.sendCtx), len(a.recvCtx))
	return nil
}

func (a *Async) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state == lifecycle.Running
}

// Stop flips running to false, poisons every SendQueue, and joins both
// dispatcher goroutines (spec §4.F stop()). Pending queue contents are
// discarded, not drained into a final send.
func (a *Async) Stop() {
	a.mu.Lock()
	if a.state != lifecycle.Running {
		a.mu.Unlock()
		return
	}
	a.state = lifecycle.Stopping
	close(a.stopCh)
	a.mu.Unlock()

	for _, q := range a.queues {
		q.Stop()
	}
	a.wg.Wait()

	a.mu.Lock()
	a.state = lifecycle.Stopped
	a.mu.Unlock()
	nlog.Infof("async: stopped")
}

// Send captures a deep-copy snapshot of scope[varName] and enqueues it
// (spec §2 step 1, §5 "send snapshots are deep copies"). Blocks under
// backpressure if the variable's queue is full.
func (a *Async) Send(varName string, scope *variable.Scope) error {
	q, ok := a.queues[varName]
	if !ok {
		return cmnerr.NewConfigurationError("send: %q is not a send-tracked variable", varName)
	}
	v, err := scope.MustGet(varName)
	if err != nil {
		return err
	}
	q.Push(v.Clone())
	return nil
}

// GradCount reports the current GradCounter value (spec §3), exposed for
// health checks and tests — it crosses 0 each time a recv pass completes.
func (a *Async) GradCount() uint64 { return a.counter.Load() }

// runSendDispatcher is spec §4.F's send dispatcher thread.
func (a *Async) runSendDispatcher() {
	defer a.wg.Done()
	for {
		select {
		case <-a.stopCh:
			return
		default:
		}

		g := a.sendPool.Batch()
		any := false
		for name, q := range a.queues {
			depth := q.Size()
			stats.QueueDepth.WithLabelValues(name).Set(float64(depth))
			if depth == 0 {
				continue
			}
			any = true
			name, s := name, a.senders[name]
			g.Go(func() error {
				if err := s.RunOnce(&a.counter); err != nil {
					nlog.Warningf("send dispatcher: %s: %v", name, err)
				}
				return nil
			})
		}
		g.Wait()

		if !any {
			select {
			case <-a.stopCh:
				return
			case <-time.After(dispatchPollInterval):
			}
		}
	}
}

// runRecvDispatcher is spec §4.F's recv dispatcher thread.
func (a *Async) runRecvDispatcher() {
	defer a.wg.Done()
	threshold := uint64(len(a.sendCtx))
	for {
		select {
		case <-a.stopCh:
			return
		default:
		}

		count := a.counter.Load()
		stats.GradCounter.Set(float64(count))
		if count < threshold {
			select {
			case <-a.stopCh:
				return
			case <-time.After(dispatchPollInterval):
			}
			continue
		}

		g := a.recvPool.Batch()
		for name, r := range a.receivers {
			name, r := name, r
			g.Go(func() error {
				if err := r.RunOnce(); err != nil {
					nlog.Warningf("recv dispatcher: %s: %v", name, err)
				}
				return nil
			})
		}
		g.Wait()
		a.counter.Store(0)
		stats.GradCounter.Set(0)
	}
}
