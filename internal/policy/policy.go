// Package policy loads and caches workspace tool policies.
//
// Policies are consulted on every spawn and agent mutation, so reads go
// through a short-TTL in-memory cache with singleflight collapsing to keep
// hot paths off the database.
package policy

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/baleyhq/baley/internal/model"
	"github.com/baleyhq/baley/internal/storage"
)

// Loader serves workspace policies with caching.
type Loader struct {
	db  *storage.DB
	ttl time.Duration

	mu      sync.RWMutex
	entries map[uuid.UUID]cachedPolicy
	group   singleflight.Group
	done    chan struct{}
}

type cachedPolicy struct {
	policy    model.WorkspacePolicy
	expiresAt time.Time
}

// NewLoader creates a policy loader. Call Close to stop the background
// eviction goroutine.
func NewLoader(db *storage.DB, ttl time.Duration) *Loader {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	l := &Loader{
		db:      db,
		ttl:     ttl,
		entries: make(map[uuid.UUID]cachedPolicy),
		done:    make(chan struct{}),
	}
	go l.evictLoop()
	return l
}

// Get returns the policy for a workspace, from cache when fresh. Concurrent
// misses for the same workspace collapse into one database read.
func (l *Loader) Get(ctx context.Context, workspaceID uuid.UUID) (model.WorkspacePolicy, error) {
	l.mu.RLock()
	entry, ok := l.entries[workspaceID]
	l.mu.RUnlock()
	if ok && time.Now().Before(entry.expiresAt) {
		return entry.policy, nil
	}

	v, err, _ := l.group.Do(workspaceID.String(), func() (any, error) {
		p, err := l.db.GetWorkspacePolicy(ctx, workspaceID)
		if err != nil {
			return nil, err
		}
		l.mu.Lock()
		l.entries[workspaceID] = cachedPolicy{policy: p, expiresAt: time.Now().Add(l.ttl)}
		l.mu.Unlock()
		return p, nil
	})
	if err != nil {
		return model.WorkspacePolicy{}, err
	}
	return v.(model.WorkspacePolicy), nil
}

// Set replaces the policy for a workspace and refreshes the cache.
func (l *Loader) Set(ctx context.Context, policy model.WorkspacePolicy) (model.WorkspacePolicy, error) {
	p, err := l.db.UpsertWorkspacePolicy(ctx, policy)
	if err != nil {
		return model.WorkspacePolicy{}, err
	}
	l.mu.Lock()
	l.entries[p.WorkspaceID] = cachedPolicy{policy: p, expiresAt: time.Now().Add(l.ttl)}
	l.mu.Unlock()
	return p, nil
}

// Invalidate drops a workspace from the cache.
func (l *Loader) Invalidate(workspaceID uuid.UUID) {
	l.mu.Lock()
	delete(l.entries, workspaceID)
	l.mu.Unlock()
}

// Close stops the background eviction goroutine.
func (l *Loader) Close() {
	close(l.done)
}

func (l *Loader) evictLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			now := time.Now()
			l.mu.Lock()
			for k, v := range l.entries {
				if now.After(v.expiresAt) {
					delete(l.entries, k)
				}
			}
			l.mu.Unlock()
		}
	}
}

// CheckTools validates a tool list against a policy. The first offending
// tool is named in the error so callers can surface it verbatim.
func CheckTools(policy model.WorkspacePolicy, tools []string) error {
	for _, t := range tools {
		if slices.Contains(policy.ForbiddenTools, t) {
			return fmt.Errorf("tool %q is forbidden by workspace policy", t)
		}
	}
	if policy.AllowedTools != nil {
		for _, t := range tools {
			if !slices.Contains(policy.AllowedTools, t) {
				return fmt.Errorf("tool %q is not in the workspace allowlist", t)
			}
		}
	}
	return nil
}
