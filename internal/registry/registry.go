// Package registry tracks live connections and their group memberships for
// the self-hosted transport. It is process-local by design: registrations
// live exactly as long as the process.
package registry

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

var (
	ErrDuplicateConnection = errors.New("connection id already registered")
	ErrUnknownConnection   = errors.New("connection id not registered")
)

// Conn is the transport handle the registry uses to deliver payloads. The
// registry never owns the underlying connection; closing it is the
// transport adapter's job.
type Conn interface {
	WriteText(ctx context.Context, data []byte) error
}

// ClientContext carries per-connection handshake state. UserID is mutable
// during the connecting phase only.
type ClientContext struct {
	ConnectionID string
	UserID       string
	Query        string
}

// Delivery failure reasons.
const (
	ReasonNotFound = "not_found"
	ReasonTimeout  = "timeout"
	ReasonError    = "error"
)

// SendResult is the per-recipient outcome of one group delivery attempt.
type SendResult struct {
	ConnectionID string
	OK           bool
	Reason       string
}

type entry struct {
	ctx  *ClientContext
	conn Conn
}

// Registry maps connection ids to transport handles and group member sets.
// Mutations are short critical sections; delivery always happens outside
// the lock on a snapshot so a stalled client cannot block the tables.
type Registry struct {
	mu          sync.RWMutex
	conns       map[string]*entry
	groups      map[string]map[string]struct{}
	sendTimeout time.Duration
}

func New(sendTimeout time.Duration) *Registry {
	return &Registry{
		conns:       make(map[string]*entry),
		groups:      make(map[string]map[string]struct{}),
		sendTimeout: sendTimeout,
	}
}

func (r *Registry) Add(id string, ctx *ClientContext, conn Conn) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[id]; ok {
		return ErrDuplicateConnection
	}
	r.conns[id] = &entry{ctx: ctx, conn: conn}
	return nil
}

// Remove deregisters the connection and prunes it from every group. Groups
// emptied by the removal are deleted in the same critical section.
// Idempotent.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, id)
	for g, members := range r.groups {
		delete(members, id)
		if len(members) == 0 {
			delete(r.groups, g)
		}
	}
}

func (r *Registry) Get(id string) (*ClientContext, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[id]
	if !ok {
		return nil, false
	}
	return e.ctx, true
}

func (r *Registry) AddToGroup(id, group string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[id]; !ok {
		return ErrUnknownConnection
	}
	members, ok := r.groups[group]
	if !ok {
		members = make(map[string]struct{})
		r.groups[group] = members
	}
	members[id] = struct{}{}
	return nil
}

// RemoveFromGroup is a no-op if the group or the membership does not exist.
// A group emptied by the removal is deleted, same as in Remove.
func (r *Registry) RemoveFromGroup(id, group string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	members, ok := r.groups[group]
	if !ok {
		return
	}
	delete(members, id)
	if len(members) == 0 {
		delete(r.groups, group)
	}
}

func (r *Registry) GroupMembers(group string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.groups[group]))
	for id := range r.groups[group] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// SendToGroup delivers payload to every current group member not in
// excludeIDs. Membership and connection handles are snapshotted under one
// read lock; the sends themselves run concurrently outside it, each with
// its own timeout. A failed delivery is recorded and never aborts the rest.
func (r *Registry) SendToGroup(ctx context.Context, group string, payload []byte, excludeIDs []string) []SendResult {
	r.mu.RLock()
	ids := make([]string, 0, len(r.groups[group]))
	for id := range r.groups[group] {
		ids = append(ids, id)
	}
	targets := r.snapshotConns(ids)
	r.mu.RUnlock()

	return r.deliver(ctx, targets, payload, excludeIDs)
}

// Broadcast is SendToGroup over every registered connection.
func (r *Registry) Broadcast(ctx context.Context, payload []byte, excludeIDs []string) []SendResult {
	r.mu.RLock()
	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	targets := r.snapshotConns(ids)
	r.mu.RUnlock()

	return r.deliver(ctx, targets, payload, excludeIDs)
}

type target struct {
	id   string
	conn Conn
}

// snapshotConns must be called with at least the read lock held.
func (r *Registry) snapshotConns(ids []string) []target {
	sort.Strings(ids)
	out := make([]target, 0, len(ids))
	for _, id := range ids {
		if e, ok := r.conns[id]; ok {
			out = append(out, target{id: id, conn: e.conn})
		} else {
			out = append(out, target{id: id})
		}
	}
	return out
}

func (r *Registry) deliver(ctx context.Context, targets []target, payload []byte, excludeIDs []string) []SendResult {
	excluded := make(map[string]struct{}, len(excludeIDs))
	for _, id := range excludeIDs {
		excluded[id] = struct{}{}
	}

	kept := targets[:0]
	for _, t := range targets {
		if _, skip := excluded[t.id]; !skip {
			kept = append(kept, t)
		}
	}

	results := make([]SendResult, len(kept))
	var wg sync.WaitGroup
	for i, t := range kept {
		if t.conn == nil {
			results[i] = SendResult{ConnectionID: t.id, Reason: ReasonNotFound}
			continue
		}
		wg.Add(1)
		go func(i int, t target) {
			defer wg.Done()
			sendCtx := ctx
			if r.sendTimeout > 0 {
				var cancel context.CancelFunc
				sendCtx, cancel = context.WithTimeout(ctx, r.sendTimeout)
				defer cancel()
			}
			err := t.conn.WriteText(sendCtx, payload)
			switch {
			case err == nil:
				results[i] = SendResult{ConnectionID: t.id, OK: true}
			case errors.Is(err, context.DeadlineExceeded):
				results[i] = SendResult{ConnectionID: t.id, Reason: ReasonTimeout}
			default:
				results[i] = SendResult{ConnectionID: t.id, Reason: ReasonError}
			}
		}(i, t)
	}
	wg.Wait()
	return results
}
