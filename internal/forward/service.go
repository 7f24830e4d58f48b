// Package forward propagates the originating subject's identity as a grid
// operation executes across peers. The operation payload carries the
// originator's subject id; each receiving peer resolves it through the
// security layer's peer cache and executes the task under that context, so
// the subject observed at every hop equals the subject at the initiating
// hop.
//
// The Exchange is an in-process stand-in for the grid's compute transport:
// it routes an operation to the target peer's Service by node id. Wire-level
// delivery is owned by the transport layer and out of scope here; the
// identity-propagation contract is the same either way.
package forward

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/terraconstructs/gridsec/internal/cluster"
	"github.com/terraconstructs/gridsec/internal/security"
)

// Task is the unit of work executed on a receiving peer. It runs under the
// originator's activated security context and may forward further through
// the local service without losing that identity.
type Task func(ctx context.Context, svc *Service) error

// Exchange routes operations between the services of an in-process grid.
type Exchange struct {
	mu       sync.RWMutex
	services map[uuid.UUID]*Service
}

// NewExchange creates an empty exchange.
func NewExchange() *Exchange {
	return &Exchange{services: make(map[uuid.UUID]*Service)}
}

func (e *Exchange) register(s *Service) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.services[s.node.ID] = s
}

func (e *Exchange) deliver(target uuid.UUID, op *Operation, task Task) error {
	e.mu.RLock()
	svc, ok := e.services[target]
	e.mu.RUnlock()
	if !ok {
		return fmt.Errorf("forward: no service for node %s", target)
	}
	return svc.execute(op, task)
}

// Service executes and forwards distributed operations for one grid node.
type Service struct {
	node *cluster.Node
	proc *security.Processor
	exch *Exchange
}

// NewService registers a forwarding service for the node on the exchange.
func NewService(exch *Exchange, node *cluster.Node, proc *security.Processor) *Service {
	s := &Service{node: node, proc: proc, exch: exch}
	exch.register(s)
	return s
}

// Node returns the local node this service executes for.
func (s *Service) Node() *cluster.Node {
	return s.node
}

// Security returns the local security processor.
func (s *Service) Security() *security.Processor {
	return s.proc
}

// Broadcast submits the task to every target peer under the subject active
// on ctx. When called from within a task, that subject is the original
// initiator's, so nested forwarding keeps the originating identity. Each hop
// runs on its own goroutine and re-establishes the context itself; failures
// on individual hops are joined.
func (s *Service) Broadcast(ctx context.Context, targets []uuid.UUID, task Task) error {
	op := NewOperation(s.proc.SecurityContext(ctx).SubjectID())
	op.markInFlight()
	defer op.complete()

	var wg sync.WaitGroup
	errs := make([]error, len(targets))
	for i, target := range targets {
		wg.Add(1)
		go func(i int, target uuid.UUID) {
			defer wg.Done()
			errs[i] = s.exch.deliver(target, op, task)
		}(i, target)
	}
	wg.Wait()

	return errors.Join(errs...)
}

// Run submits the task to a single target peer.
func (s *Service) Run(ctx context.Context, target uuid.UUID, task Task) error {
	return s.Broadcast(ctx, []uuid.UUID{target}, task)
}

// execute is the receiving side of a hop: resolve the originator's context,
// activate it for the task's duration, run the task. If the originator
// cannot be resolved the task does not execute and no authorization side
// effect occurs.
func (s *Service) execute(op *Operation, task Task) error {
	// A fresh root context: pooled executors must never inherit an
	// activation left behind by an unrelated task.
	ctx, err := s.proc.WithContextForNode(context.Background(), op.OriginatorID)
	if err != nil {
		return err
	}

	op.hopStarted()
	defer op.hopFinished()

	return task(ctx, s)
}
