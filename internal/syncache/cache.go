package syncache

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/arafsarkar/bazarbook/internal/api"
	"github.com/arafsarkar/bazarbook/internal/push"
	"github.com/arafsarkar/bazarbook/internal/session"
)

// Record is anything the backend owns and the cache mirrors.
type Record interface {
	RecordID() string
}

// Config parameterizes one cache instantiation.
type Config[T Record] struct {
	// Kind names the resource in log lines.
	Kind string
	// ListPath serves the full collection; CreatePath accepts new records;
	// ItemPath addresses one record for update and delete.
	ListPath   string
	CreatePath string
	ItemPath   func(id string) string
	// PushEvents are the channel events that invalidate this cache.
	PushEvents []string
	// Decode maps the response envelope's data into records. Nil means the
	// data is a plain JSON array of T.
	Decode func(data json.RawMessage) ([]T, error)
	// OnReplace runs after the collection is replaced wholesale, with the
	// new items. Specializations use it to recompute derived counters.
	OnReplace func(items []T)
}

// Cache mirrors one backend-owned collection. All consumers share a single
// instance; reads return snapshots. The cache clears itself only on a
// confirmed unauthenticated session, never on the transient Unknown state,
// and drops responses that were issued under an earlier session epoch.
type Cache[T Record] struct {
	cfg     Config[T]
	client  *api.Client
	session *session.Session

	mu      sync.RWMutex
	items   []T
	loading bool
}

// New builds the cache and subscribes it to identity transitions: the cache
// populates itself on login and empties itself on logout.
func New[T Record](client *api.Client, sess *session.Session, cfg Config[T]) *Cache[T] {
	c := &Cache[T]{
		cfg:     cfg,
		client:  client,
		session: sess,
		loading: true,
	}
	sess.OnChange(c.onSessionChange)
	return c
}

func (c *Cache[T]) onSessionChange(state session.State) {
	switch state {
	case session.StateAuthenticated:
		c.Refresh(context.Background(), false)
	case session.StateUnauthenticated:
		c.Clear()
	}
	// StateUnknown: the credential has not been resolved yet; keep whatever
	// we have instead of flashing an empty collection.
}

// BindPush subscribes the cache's configured events on the channel. Every
// event triggers a silent refresh; the payload is not trusted for direct
// mutation.
func (c *Cache[T]) BindPush(ch *push.Channel) {
	for _, event := range c.cfg.PushEvents {
		ch.Subscribe(event, func(json.RawMessage) {
			c.Refresh(context.Background(), true)
		})
	}
}

// Refresh replaces the collection from the backend. With silent set, the
// loading flag is never touched. Read failures are logged and leave the
// current items in place; Refresh never returns an error for them.
func (c *Cache[T]) Refresh(ctx context.Context, silent bool) {
	switch c.session.State() {
	case session.StateUnauthenticated:
		c.Clear()
		return
	case session.StateUnknown:
		return
	}
	epoch := c.session.Epoch()

	if !silent {
		c.mu.Lock()
		// Only flip loading when there is nothing to show yet, so a refresh
		// of an already-populated cache does not blank the view.
		if len(c.items) == 0 {
			c.loading = true
		}
		c.mu.Unlock()
	}
	defer func() {
		if !silent {
			c.mu.Lock()
			c.loading = false
			c.mu.Unlock()
		}
	}()

	var raw json.RawMessage
	if err := c.client.Get(ctx, c.cfg.ListPath, &raw); err != nil {
		log.Printf("Failed to refresh %s: %v", c.cfg.Kind, err)
		return
	}
	items, err := c.decode(raw)
	if err != nil {
		log.Printf("Failed to decode %s response: %v", c.cfg.Kind, err)
		return
	}

	// The session changed while the request was in flight: this response
	// belongs to a previous identity.
	if c.session.Epoch() != epoch {
		return
	}
	c.replace(items)
}

func (c *Cache[T]) decode(raw json.RawMessage) ([]T, error) {
	if c.cfg.Decode != nil {
		return c.cfg.Decode(raw)
	}
	var items []T
	if len(raw) == 0 {
		return nil, nil
	}
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (c *Cache[T]) replace(items []T) {
	c.mu.Lock()
	c.items = items
	c.mu.Unlock()
	if c.cfg.OnReplace != nil {
		c.cfg.OnReplace(items)
	}
}

// Create persists body and, on success, inserts the server's canonical
// record at the front of the collection. There is no optimistic insert:
// a failed create leaves the collection untouched.
func (c *Cache[T]) Create(ctx context.Context, body interface{}) (T, error) {
	var created T
	if err := c.client.Post(ctx, c.cfg.CreatePath, body, &created); err != nil {
		return created, err
	}
	c.insertFront(created)
	return created, nil
}

// insertFront prepends rec, dropping any record already carrying its id
// (a concurrent push refresh may have delivered it first).
func (c *Cache[T]) insertFront(rec T) {
	c.mu.Lock()
	defer c.mu.Unlock()

	items := make([]T, 0, len(c.items)+1)
	items = append(items, rec)
	for _, it := range c.items {
		if it.RecordID() != rec.RecordID() {
			items = append(items, it)
		}
	}
	c.items = items
}

// Update applies a partial change and replaces the matching record in place
// with the server's full record. The collection is untouched on failure.
func (c *Cache[T]) Update(ctx context.Context, id string, patch interface{}) (T, error) {
	var updated T
	if err := c.client.Patch(ctx, c.cfg.ItemPath(id), patch, &updated); err != nil {
		return updated, err
	}

	c.mu.Lock()
	for i, it := range c.items {
		if it.RecordID() == id {
			c.items[i] = updated
			break
		}
	}
	c.mu.Unlock()
	return updated, nil
}

// Remove optimistically drops id from the collection, then issues the
// delete. When the backend rejects it, the error is returned and a silent
// refresh reconciles the cache with server truth instead of leaving the
// optimistic removal in place.
func (c *Cache[T]) Remove(ctx context.Context, id string) error {
	c.mu.Lock()
	items := c.items[:0:0]
	for _, it := range c.items {
		if it.RecordID() != id {
			items = append(items, it)
		}
	}
	c.items = items
	c.mu.Unlock()

	if err := c.client.Delete(ctx, c.cfg.ItemPath(id)); err != nil {
		log.Printf("Failed to delete %s %s, reconciling: %v", c.cfg.Kind, id, err)
		c.Refresh(ctx, true)
		return err
	}
	return nil
}

// Items returns a snapshot of the collection in server order.
func (c *Cache[T]) Items() []T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	items := make([]T, len(c.items))
	copy(items, c.items)
	return items
}

func (c *Cache[T]) Loading() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loading
}

// Clear empties the collection. Called on confirmed logout only.
func (c *Cache[T]) Clear() {
	c.mu.Lock()
	c.items = nil
	c.loading = false
	c.mu.Unlock()
	if c.cfg.OnReplace != nil {
		c.cfg.OnReplace(nil)
	}
}

// Mutate runs fn against the live collection under the write lock.
// Specializations use it for optimistic flag flips (read-marks) that have
// no server record to reconcile against.
func (c *Cache[T]) Mutate(fn func(items []T) []T) {
	c.mu.Lock()
	c.items = fn(c.items)
	c.mu.Unlock()
}
