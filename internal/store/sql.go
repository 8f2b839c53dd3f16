package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"bananaclash/internal/database"
)

// errWriteConflict marks a write that lost a race and may be retried
var errWriteConflict = errors.New("store: concurrent write")

const maxWriteAttempts = 5

// SQLOptions tunes an SQLStore
type SQLOptions struct {
	// PollInterval is how often subscriptions check for remote changes
	PollInterval time.Duration
	// LeaseDuration is how long a silent session survives before its
	// disconnect removals are applied by another client
	LeaseDuration time.Duration
	// TombstoneTTL is how long deleted documents keep their version row
	TombstoneTTL time.Duration
	// OnReaped runs after the disconnect removals of an expired session
	// are applied, with the paths that were removed
	OnReaped func(ctx context.Context, s Store, removed []string)
	Logger   zerolog.Logger
}

// SQLStore is a Store kept in a SQL database. Every top-level child of a
// collection (for example rooms/ABC123) is one versioned JSON document;
// independent processes sharing the database see the same tree.
type SQLStore struct {
	db      *database.DB
	session string
	opts    SQLOptions
	log     zerolog.Logger
	keys    pushKeys

	mu     sync.Mutex
	closed bool
	subs   map[*subscriber]*pollState

	kick   chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type pollState struct {
	mu  sync.Mutex
	sig string
}

var _ Store = (*SQLStore)(nil)

// NewSQLStore opens a session against db and starts the background poll
// and lease loops. The schema must already be migrated.
func NewSQLStore(ctx context.Context, db *database.DB, opts SQLOptions) (*SQLStore, error) {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 250 * time.Millisecond
	}
	if opts.LeaseDuration <= 0 {
		opts.LeaseDuration = 30 * time.Second
	}
	if opts.TombstoneTTL <= 0 {
		opts.TombstoneTTL = time.Hour
	}

	s := &SQLStore{
		db:      db,
		session: uuid.NewString(),
		opts:    opts,
		log:     opts.Logger.With().Str("component", "store").Logger(),
		subs:    make(map[*subscriber]*pollState),
		kick:    make(chan struct{}, 1),
	}
	if err := s.heartbeat(ctx); err != nil {
		return nil, fmt.Errorf("store: open session: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(2)
	go s.pollLoop(loopCtx)
	go s.leaseLoop(loopCtx)

	s.log.Debug().Str("session", s.session).Msg("Store session opened")
	return s, nil
}

func (s *SQLStore) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func docKey(segs []string) (string, []string) {
	return segs[0] + "/" + segs[1], segs[2:]
}

func queryNow(ctx context.Context, q database.DBTX) (int64, error) {
	var ms int64
	if err := q.QueryRowContext(ctx, q.GetDialect().NowMillisQuery()).Scan(&ms); err != nil {
		return 0, err
	}
	return ms, nil
}

func loadDoc(ctx context.Context, q database.DBTX, key string, lock bool) (any, int64, bool, error) {
	query := "SELECT value, version FROM state_docs WHERE doc_key = ?"
	if lock {
		query += q.GetDialect().LockSuffix()
	}
	var raw sql.NullString
	var version int64
	err := q.QueryRowContext(ctx, query, key).Scan(&raw, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, false, nil
	}
	if err != nil {
		return nil, 0, false, fmt.Errorf("store: load %s: %w", key, err)
	}
	if !raw.Valid {
		return nil, version, true, nil
	}
	var value any
	if err := json.Unmarshal([]byte(raw.String), &value); err != nil {
		return nil, 0, false, fmt.Errorf("store: decode %s: %w", key, err)
	}
	return value, version, true, nil
}

// writeDoc stores value as the next version of a document. A nil value
// leaves a tombstone so pollers still observe the version change.
func writeDoc(ctx context.Context, q database.DBTX, key string, value any, version int64, exists bool, now int64) error {
	var raw sql.NullString
	if value != nil {
		b, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("store: encode %s: %w", key, err)
		}
		raw = sql.NullString{String: string(b), Valid: true}
	}

	if !exists {
		_, err := q.ExecContext(ctx,
			"INSERT INTO state_docs (doc_key, value, version, updated_at) VALUES (?, ?, 1, ?)",
			key, raw, now)
		if err != nil {
			return fmt.Errorf("%w: insert %s: %v", errWriteConflict, key, err)
		}
		return nil
	}

	res, err := q.ExecContext(ctx,
		"UPDATE state_docs SET value = ?, version = version + 1, updated_at = ? WHERE doc_key = ? AND version = ?",
		raw, now, key, version)
	if err != nil {
		return fmt.Errorf("store: update %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: update %s: %w", key, err)
	}
	if n != 1 {
		return fmt.Errorf("%w: %s changed since version %d", errWriteConflict, key, version)
	}
	return nil
}

type docRow struct {
	key     string
	value   any
	version int64
}

// listDocs returns live documents under a collection, or every document
// when collection is empty
func listDocs(ctx context.Context, q database.DBTX, collection string, withValues bool) ([]docRow, error) {
	cols := "doc_key, version"
	if withValues {
		cols = "doc_key, version, value"
	}
	query := "SELECT " + cols + " FROM state_docs WHERE value IS NOT NULL"
	var args []interface{}
	prefix := ""
	if collection != "" {
		prefix = collection + "/"
		query += " AND doc_key LIKE ?"
		args = append(args, prefix+"%")
	}
	query += " ORDER BY doc_key"

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list %q: %w", collection, err)
	}
	defer rows.Close()

	var out []docRow
	for rows.Next() {
		var r docRow
		var raw sql.NullString
		if withValues {
			err = rows.Scan(&r.key, &r.version, &raw)
		} else {
			err = rows.Scan(&r.key, &r.version)
		}
		if err != nil {
			return nil, fmt.Errorf("store: list %q: %w", collection, err)
		}
		// LIKE treats _ as a wildcard
		if !strings.HasPrefix(r.key, prefix) {
			continue
		}
		if raw.Valid {
			if err := json.Unmarshal([]byte(raw.String), &r.value); err != nil {
				return nil, fmt.Errorf("store: decode %s: %w", r.key, err)
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func treeOf(docs []docRow) any {
	var root any
	for _, d := range docs {
		root = setIn(root, strings.SplitN(d.key, "/", 2), d.value)
	}
	return root
}

func (s *SQLStore) read(ctx context.Context, segs []string) (any, error) {
	if len(segs) >= 2 {
		key, rest := docKey(segs)
		value, _, _, err := loadDoc(ctx, s.db, key, false)
		if err != nil {
			return nil, err
		}
		return getIn(value, rest), nil
	}
	collection := ""
	if len(segs) == 1 {
		collection = segs[0]
	}
	docs, err := listDocs(ctx, s.db, collection, true)
	if err != nil {
		return nil, err
	}
	return getIn(treeOf(docs), segs), nil
}

func (s *SQLStore) Get(ctx context.Context, path string) (any, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}
	segs, err := splitPath(path)
	if err != nil {
		return nil, err
	}
	return s.read(ctx, segs)
}

func (s *SQLStore) Set(ctx context.Context, path string, value any) error {
	if s.isClosed() {
		return ErrClosed
	}
	segs, err := splitPath(path)
	if err != nil {
		return err
	}
	return s.applyWrites(ctx, []pathWrite{{segs: segs, value: value}})
}

func (s *SQLStore) Update(ctx context.Context, path string, values map[string]any) error {
	if s.isClosed() {
		return ErrClosed
	}
	writes, err := expandUpdate(path, values)
	if err != nil {
		return err
	}
	return s.applyWrites(ctx, writes)
}

type docOp struct {
	rest  []string
	value any
}

// applyWrites commits all writes in one database transaction, locking each
// touched document in key order
func (s *SQLStore) applyWrites(ctx context.Context, writes []pathWrite) error {
	var err error
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		err = s.db.WithTx(ctx, func(tx *database.Tx) error {
			return s.applyWritesTx(ctx, tx, writes)
		})
		if err == nil {
			s.notify()
			return nil
		}
		if !errors.Is(err, errWriteConflict) || ctx.Err() != nil {
			return err
		}
		s.log.Debug().Err(err).Int("attempt", attempt+1).Msg("Retrying store write")
	}
	return err
}

func (s *SQLStore) applyWritesTx(ctx context.Context, tx *database.Tx, writes []pathWrite) error {
	now, err := queryNow(ctx, tx)
	if err != nil {
		return fmt.Errorf("store: read server clock: %w", err)
	}
	clock := func() (int64, error) { return now, nil }

	ops := make(map[string][]docOp)
	var keys []string
	add := func(key string, op docOp) {
		if _, ok := ops[key]; !ok {
			keys = append(keys, key)
		}
		ops[key] = append(ops[key], op)
	}

	for _, w := range writes {
		v, err := prepare(w.value, clock)
		if err != nil {
			return err
		}
		switch len(w.segs) {
		case 0:
			return fmt.Errorf("%w: cannot write the root", ErrInvalidPath)
		case 1:
			existing, err := listDocs(ctx, tx, w.segs[0], false)
			if err != nil {
				return err
			}
			for _, d := range existing {
				add(d.key, docOp{})
			}
			if v == nil {
				continue
			}
			children, ok := v.(map[string]any)
			if !ok {
				return fmt.Errorf("%w: collection %s must hold an object", ErrInvalidPath, w.segs[0])
			}
			for k, child := range children {
				add(w.segs[0]+"/"+k, docOp{value: child})
			}
		default:
			key, rest := docKey(w.segs)
			add(key, docOp{rest: rest, value: v})
		}
	}

	sort.Strings(keys)
	for _, key := range keys {
		value, version, exists, err := loadDoc(ctx, tx, key, true)
		if err != nil {
			return err
		}
		for _, op := range ops[key] {
			value = setIn(value, op.rest, op.value)
		}
		if !exists && value == nil {
			continue
		}
		if err := writeDoc(ctx, tx, key, value, version, exists, now); err != nil {
			return err
		}
	}
	return nil
}

// Transact runs an optimistic compare-and-set loop on the document that
// contains path. Transactions must address a document or something inside one.
func (s *SQLStore) Transact(ctx context.Context, path string, fn TxFunc) (TxResult, error) {
	if s.isClosed() {
		return TxResult{}, ErrClosed
	}
	segs, err := splitPath(path)
	if err != nil {
		return TxResult{}, err
	}
	if len(segs) < 2 {
		return TxResult{}, fmt.Errorf("%w: transaction on collection %q", ErrInvalidPath, path)
	}
	key, rest := docKey(segs)

	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return TxResult{}, err
		}
		doc, version, exists, err := loadDoc(ctx, s.db, key, false)
		if err != nil {
			return TxResult{}, err
		}
		cur := getIn(doc, rest)
		next, err := fn(cur)
		if errors.Is(err, ErrAbort) {
			return TxResult{Committed: false, Value: cur}, nil
		}
		if err != nil {
			return TxResult{}, err
		}

		now, err := s.db.NowMillis(ctx)
		if err != nil {
			return TxResult{}, fmt.Errorf("store: read server clock: %w", err)
		}
		v, err := prepare(next, func() (int64, error) { return now, nil })
		if err != nil {
			return TxResult{}, err
		}
		updated := setIn(doc, rest, v)
		if !exists && updated == nil {
			return TxResult{Committed: true, Value: nil}, nil
		}
		err = writeDoc(ctx, s.db, key, updated, version, exists, now)
		if errors.Is(err, errWriteConflict) {
			continue
		}
		if err != nil {
			return TxResult{}, err
		}
		s.notify()
		return TxResult{Committed: true, Value: v}, nil
	}
	return TxResult{}, fmt.Errorf("%w: %s", ErrTooManyRetries, path)
}

// Push appends value under a new key. Inside a document the key is minted
// in the same compare-and-set as the write, after every key already there,
// so readers never see a later commit sort before an earlier one. Pushes
// that create top-level documents only order by server clock.
func (s *SQLStore) Push(ctx context.Context, path string, value any) (string, error) {
	if s.isClosed() {
		return "", ErrClosed
	}
	segs, err := splitPath(path)
	if err != nil {
		return "", err
	}
	now, err := s.db.NowMillis(ctx)
	if err != nil {
		return "", fmt.Errorf("store: read server clock: %w", err)
	}
	if len(segs) < 2 {
		key := s.keys.next(now)
		if err := s.Set(ctx, Join(path, key), value); err != nil {
			return "", err
		}
		return key, nil
	}

	var key string
	_, err = s.Transact(ctx, path, func(cur any) (any, error) {
		key = s.keys.after(now, lastChildKey(cur))
		return setIn(cur, []string{key}, value), nil
	})
	if err != nil {
		return "", err
	}
	return key, nil
}

// Subscribe delivers the current value before returning, then polls for
// changes. Local writes are picked up without waiting for the next tick.
func (s *SQLStore) Subscribe(ctx context.Context, path string, fn func(Snapshot)) (Unsubscribe, error) {
	segs, err := splitPath(path)
	if err != nil {
		return nil, err
	}
	sub := newSubscriber(path, segs, fn)
	state := &pollState{}
	if err := s.pollOne(ctx, sub, state); err != nil {
		sub.stop()
		return nil, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		sub.stop()
		return nil, ErrClosed
	}
	s.subs[sub] = state
	s.mu.Unlock()

	return func() {
		sub.stop()
		s.mu.Lock()
		delete(s.subs, sub)
		s.mu.Unlock()
	}, nil
}

// signature summarizes the versions visible to a subscription
func (s *SQLStore) signature(ctx context.Context, segs []string) (string, error) {
	if len(segs) >= 2 {
		key, _ := docKey(segs)
		var version int64
		err := s.db.QueryRowContext(ctx, "SELECT version FROM state_docs WHERE doc_key = ?", key).Scan(&version)
		if errors.Is(err, sql.ErrNoRows) {
			return "-", nil
		}
		if err != nil {
			return "", err
		}
		return strconv.FormatInt(version, 10), nil
	}
	collection := ""
	if len(segs) == 1 {
		collection = segs[0]
	}
	docs, err := listDocs(ctx, s.db, collection, false)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, d := range docs {
		b.WriteString(d.key)
		b.WriteByte(':')
		b.WriteString(strconv.FormatInt(d.version, 10))
		b.WriteByte(';')
	}
	return "v" + b.String(), nil
}

func (s *SQLStore) pollOne(ctx context.Context, sub *subscriber, state *pollState) error {
	state.mu.Lock()
	defer state.mu.Unlock()

	sig, err := s.signature(ctx, sub.segs)
	if err != nil {
		return err
	}
	if sig == state.sig {
		return nil
	}
	value, err := s.read(ctx, sub.segs)
	if err != nil {
		return err
	}
	state.sig = sig
	sub.offer(value)
	return nil
}

func (s *SQLStore) notify() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

func (s *SQLStore) pollLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-s.kick:
		}

		s.mu.Lock()
		subs := make(map[*subscriber]*pollState, len(s.subs))
		for sub, state := range s.subs {
			subs[sub] = state
		}
		s.mu.Unlock()

		for sub, state := range subs {
			if err := s.pollOne(ctx, sub, state); err != nil && ctx.Err() == nil {
				s.log.Warn().Err(err).Str("path", sub.path).Msg("Subscription poll failed")
			}
		}
	}
}

func (s *SQLStore) heartbeat(ctx context.Context) error {
	now, err := s.db.NowMillis(ctx)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.db.Dialect.UpsertSessionQuery(), s.session, now)
	return err
}

func (s *SQLStore) leaseLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.opts.LeaseDuration / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if err := s.heartbeat(ctx); err != nil && ctx.Err() == nil {
			s.log.Warn().Err(err).Msg("Store heartbeat failed")
		}
		if err := s.reapExpired(ctx); err != nil && ctx.Err() == nil {
			s.log.Warn().Err(err).Msg("Failed to reap expired store sessions")
		}
		if err := s.purgeTombstones(ctx); err != nil && ctx.Err() == nil {
			s.log.Warn().Err(err).Msg("Failed to purge deleted documents")
		}
	}
}

// reapExpired applies the disconnect removals of sessions whose lease ran out
func (s *SQLStore) reapExpired(ctx context.Context) error {
	now, err := s.db.NowMillis(ctx)
	if err != nil {
		return err
	}
	cutoff := now - s.opts.LeaseDuration.Milliseconds()
	rows, err := s.db.QueryContext(ctx,
		"SELECT session_id FROM store_sessions WHERE last_seen < ? AND session_id <> ?", cutoff, s.session)
	if err != nil {
		return err
	}
	var expired []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		expired = append(expired, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, id := range expired {
		s.log.Info().Str("session", id).Msg("Store session expired")
		removed, err := s.runDisconnectOps(ctx, id)
		if err != nil {
			return err
		}
		if s.opts.OnReaped != nil && len(removed) > 0 {
			s.opts.OnReaped(ctx, s, removed)
		}
	}
	return nil
}

func (s *SQLStore) runDisconnectOps(ctx context.Context, session string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT path FROM store_disconnect_ops WHERE session_id = ? ORDER BY id", session)
	if err != nil {
		return nil, err
	}
	var writes []pathWrite
	var removed []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			rows.Close()
			return nil, err
		}
		segs, err := splitPath(p)
		if err != nil || len(segs) == 0 {
			continue
		}
		writes = append(writes, pathWrite{segs: segs})
		removed = append(removed, Join(segs...))
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(writes) > 0 {
		if err := s.applyWrites(ctx, writes); err != nil {
			return nil, fmt.Errorf("store: apply disconnect removals: %w", err)
		}
	}
	err = s.db.WithTx(ctx, func(tx *database.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM store_disconnect_ops WHERE session_id = ?", session); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, "DELETE FROM store_sessions WHERE session_id = ?", session)
		return err
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

func (s *SQLStore) purgeTombstones(ctx context.Context) error {
	now, err := s.db.NowMillis(ctx)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		"DELETE FROM state_docs WHERE value IS NULL AND updated_at < ?", now-s.opts.TombstoneTTL.Milliseconds())
	return err
}

func (s *SQLStore) OnDisconnectRemove(ctx context.Context, path string) error {
	if s.isClosed() {
		return ErrClosed
	}
	segs, err := splitPath(path)
	if err != nil {
		return err
	}
	p := Join(segs...)
	return s.db.WithTx(ctx, func(tx *database.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM store_disconnect_ops WHERE session_id = ? AND path = ?", s.session, p); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			"INSERT INTO store_disconnect_ops (session_id, path) VALUES (?, ?)", s.session, p)
		return err
	})
}

func (s *SQLStore) CancelOnDisconnect(ctx context.Context, path string) error {
	if s.isClosed() {
		return ErrClosed
	}
	segs, err := splitPath(path)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		"DELETE FROM store_disconnect_ops WHERE session_id = ? AND path = ?", s.session, Join(segs...))
	return err
}

func (s *SQLStore) ServerTime(ctx context.Context) (int64, error) {
	if s.isClosed() {
		return 0, ErrClosed
	}
	return s.db.NowMillis(ctx)
}

// Close stops subscriptions, applies this session's disconnect removals
// and ends the lease. The underlying database stays open.
func (s *SQLStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()

	for sub := range subs {
		sub.stop()
	}
	s.cancel()
	s.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := s.runDisconnectOps(ctx, s.session); err != nil {
		s.log.Warn().Err(err).Msg("Failed to apply disconnect removals on close")
		return err
	}
	s.log.Debug().Str("session", s.session).Msg("Store session closed")
	return nil
}
