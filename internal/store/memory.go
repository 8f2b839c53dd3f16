package store

import (
	"context"
	"errors"
	"sync"
	"time"
)

// MemoryBackend is an in-process state tree shared by any number of
// MemoryStore connections. It backs tests and single-process deployments.
type MemoryBackend struct {
	mu     sync.Mutex
	root   any
	subs   map[*subscriber]struct{}
	clock  func() time.Time
	keys   pushKeys
	failFn func(op, path string) error
}

// NewMemoryBackend creates an empty tree using the wall clock
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		subs:  make(map[*subscriber]struct{}),
		clock: time.Now,
	}
}

// SetClock replaces the backend clock used for server timestamps
func (b *MemoryBackend) SetClock(clock func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clock = clock
}

// FailWith installs a hook consulted before every write; a non-nil error
// fails the write. Passing nil removes the hook.
func (b *MemoryBackend) FailWith(fn func(op, path string) error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failFn = fn
}

// Connect opens a new client connection to the tree
func (b *MemoryBackend) Connect() *MemoryStore {
	return &MemoryStore{
		backend:      b,
		onDisconnect: make(map[string][]string),
		subs:         make(map[*subscriber]struct{}),
	}
}

// Snapshot returns the value at path without a connection
func (b *MemoryBackend) Snapshot(path string) any {
	segs, err := splitPath(path)
	if err != nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return getIn(b.root, segs)
}

func (b *MemoryBackend) nowMillis() int64 {
	return b.clock().UnixMilli()
}

func (b *MemoryBackend) checkFail(op, path string) error {
	if b.failFn == nil {
		return nil
	}
	return b.failFn(op, path)
}

// commit swaps in a new root and notifies subscribers under changed paths.
// Callers hold b.mu.
func (b *MemoryBackend) commit(root any, changed [][]string) {
	b.root = root
	for s := range b.subs {
		for _, c := range changed {
			if overlaps(s.segs, c) {
				s.offer(getIn(root, s.segs))
				break
			}
		}
	}
}

// MemoryStore is one client's connection to a MemoryBackend
type MemoryStore struct {
	backend *MemoryBackend

	mu           sync.Mutex
	closed       bool
	onDisconnect map[string][]string
	subs         map[*subscriber]struct{}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *MemoryStore) Get(ctx context.Context, path string) (any, error) {
	if m.isClosed() {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	segs, err := splitPath(path)
	if err != nil {
		return nil, err
	}
	b := m.backend
	b.mu.Lock()
	defer b.mu.Unlock()
	return getIn(b.root, segs), nil
}

func (m *MemoryStore) Set(ctx context.Context, path string, value any) error {
	if m.isClosed() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	segs, err := splitPath(path)
	if err != nil {
		return err
	}
	b := m.backend
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkFail("set", path); err != nil {
		return err
	}
	v, err := prepare(value, func() (int64, error) { return b.nowMillis(), nil })
	if err != nil {
		return err
	}
	b.commit(setIn(b.root, segs, v), [][]string{segs})
	return nil
}

func (m *MemoryStore) Update(ctx context.Context, path string, values map[string]any) error {
	if m.isClosed() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	writes, err := expandUpdate(path, values)
	if err != nil {
		return err
	}
	b := m.backend
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkFail("update", path); err != nil {
		return err
	}
	now := b.nowMillis()
	root := b.root
	changed := make([][]string, 0, len(writes))
	for _, w := range writes {
		v, err := prepare(w.value, func() (int64, error) { return now, nil })
		if err != nil {
			return err
		}
		root = setIn(root, w.segs, v)
		changed = append(changed, w.segs)
	}
	b.commit(root, changed)
	return nil
}

// Transact runs fn against the current value while holding the backend
// lock, so it commits on the first attempt unless fn aborts.
func (m *MemoryStore) Transact(ctx context.Context, path string, fn TxFunc) (TxResult, error) {
	if m.isClosed() {
		return TxResult{}, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return TxResult{}, err
	}
	segs, err := splitPath(path)
	if err != nil {
		return TxResult{}, err
	}
	b := m.backend
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkFail("transact", path); err != nil {
		return TxResult{}, err
	}
	cur := getIn(b.root, segs)
	next, err := fn(cur)
	if errors.Is(err, ErrAbort) {
		return TxResult{Committed: false, Value: cur}, nil
	}
	if err != nil {
		return TxResult{}, err
	}
	v, err := prepare(next, func() (int64, error) { return b.nowMillis(), nil })
	if err != nil {
		return TxResult{}, err
	}
	b.commit(setIn(b.root, segs, v), [][]string{segs})
	return TxResult{Committed: true, Value: v}, nil
}

func (m *MemoryStore) Push(ctx context.Context, path string, value any) (string, error) {
	if m.isClosed() {
		return "", ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	segs, err := splitPath(path)
	if err != nil {
		return "", err
	}
	b := m.backend
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkFail("push", path); err != nil {
		return "", err
	}
	now := b.nowMillis()
	v, err := prepare(value, func() (int64, error) { return now, nil })
	if err != nil {
		return "", err
	}
	key := b.keys.after(now, lastChildKey(getIn(b.root, segs)))
	child := append(append([]string(nil), segs...), key)
	b.commit(setIn(b.root, child, v), [][]string{child})
	return key, nil
}

func (b *MemoryBackend) nowMillisLocked() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nowMillis()
}

// Subscribe delivers the current value at path immediately, then every
// subsequent change
func (m *MemoryStore) Subscribe(ctx context.Context, path string, fn func(Snapshot)) (Unsubscribe, error) {
	if m.isClosed() {
		return nil, ErrClosed
	}
	segs, err := splitPath(path)
	if err != nil {
		return nil, err
	}
	s := newSubscriber(path, segs, fn)

	m.mu.Lock()
	m.subs[s] = struct{}{}
	m.mu.Unlock()

	b := m.backend
	b.mu.Lock()
	b.subs[s] = struct{}{}
	s.offer(getIn(b.root, segs))
	b.mu.Unlock()

	return func() { m.unsubscribe(s) }, nil
}

func (m *MemoryStore) unsubscribe(s *subscriber) {
	s.stop()
	b := m.backend
	b.mu.Lock()
	delete(b.subs, s)
	b.mu.Unlock()
	m.mu.Lock()
	delete(m.subs, s)
	m.mu.Unlock()
}

// OnDisconnectRemove deletes path when this connection closes
func (m *MemoryStore) OnDisconnectRemove(ctx context.Context, path string) error {
	segs, err := splitPath(path)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.onDisconnect[Join(segs...)] = segs
	return nil
}

func (m *MemoryStore) CancelOnDisconnect(ctx context.Context, path string) error {
	segs, err := splitPath(path)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	delete(m.onDisconnect, Join(segs...))
	return nil
}

func (m *MemoryStore) ServerTime(ctx context.Context) (int64, error) {
	if m.isClosed() {
		return 0, ErrClosed
	}
	return m.backend.nowMillisLocked(), nil
}

// Close drops the connection: subscriptions stop and every registered
// disconnect removal is applied, as if the client had vanished.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	subs := m.subs
	m.subs = nil
	removals := m.onDisconnect
	m.onDisconnect = nil
	m.mu.Unlock()

	b := m.backend
	for s := range subs {
		s.stop()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range subs {
		delete(b.subs, s)
	}
	root := b.root
	changed := make([][]string, 0, len(removals))
	for _, segs := range removals {
		root = setIn(root, segs, nil)
		changed = append(changed, segs)
	}
	if len(changed) > 0 {
		b.commit(root, changed)
	}
	return nil
}
