package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/meleki1/salesagent/internal/domain"
	"github.com/meleki1/salesagent/internal/metrics"
	"github.com/meleki1/salesagent/internal/store"
)

// ErrEmptyID is returned for operations on a blank session id.
var ErrEmptyID = errors.New("session id is required")

// slot serializes access to one session. The channel is a one-token semaphore
// so waiters can give up on context cancellation.
type slot struct {
	sem  chan struct{}
	sess *Session
}

// Store is the lock-protected registry of sessions. Each id has its own
// critical section; unrelated ids never contend. Snapshots are written
// through to the repository after every successful mutation.
type Store struct {
	repo store.Repository
	now  func() time.Time

	mu    sync.Mutex
	slots map[string]*slot
}

// NewStore creates a Store backed by repo. repo may be nil for a purely
// in-memory store.
func NewStore(repo store.Repository) *Store {
	return &Store{
		repo:  repo,
		now:   time.Now,
		slots: make(map[string]*slot),
	}
}

func (st *Store) slotFor(id string) *slot {
	st.mu.Lock()
	defer st.mu.Unlock()
	sl, ok := st.slots[id]
	if !ok {
		sl = &slot{sem: make(chan struct{}, 1)}
		st.slots[id] = sl
	}
	return sl
}

// With runs fn while holding the session's critical section. The session is
// hydrated from the repository on first use. If fn returns nil the new
// snapshot is persisted before the section is released; if it returns an
// error the in-memory session is reloaded on next use.
func (st *Store) With(ctx context.Context, id string, fn func(*Session) error) error {
	if id == "" {
		return ErrEmptyID
	}
	sl := st.slotFor(id)

	select {
	case sl.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-sl.sem }()

	if sl.sess == nil {
		sess, err := st.load(ctx, id)
		if err != nil {
			return err
		}
		sl.sess = sess
	}

	working := sl.sess.Clone()
	if err := fn(working); err != nil {
		return err
	}
	if err := st.persist(ctx, working); err != nil {
		return err
	}
	sl.sess = working
	return nil
}

// Peek returns a copy of the session for read-only views. It waits for any
// in-flight mutation of the same id. The bool is false when the session has
// never been seen.
func (st *Store) Peek(ctx context.Context, id string) (*Session, bool, error) {
	if id == "" {
		return nil, false, ErrEmptyID
	}
	sl := st.slotFor(id)
	select {
	case sl.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
	defer func() { <-sl.sem }()

	if sl.sess != nil {
		return sl.sess.Clone(), true, nil
	}
	if st.repo == nil {
		return nil, false, nil
	}
	rec, err := st.repo.GetSession(ctx, id)
	if err != nil {
		return nil, false, fmt.Errorf("load session %s: %w", id, err)
	}
	if rec == nil {
		return nil, false, nil
	}
	sess, err := fromRecord(rec)
	if err != nil {
		return nil, false, err
	}
	sl.sess = sess
	return sess.Clone(), true, nil
}

func (st *Store) load(ctx context.Context, id string) (*Session, error) {
	if st.repo == nil {
		return New(id, st.now()), nil
	}
	rec, err := st.repo.GetSession(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}
	if rec == nil {
		return New(id, st.now()), nil
	}
	return fromRecord(rec)
}

func (st *Store) persist(ctx context.Context, s *Session) error {
	if st.repo == nil {
		return nil
	}
	rec, err := toRecord(s)
	if err != nil {
		return err
	}
	if err := st.repo.UpsertSession(ctx, rec); err != nil {
		return fmt.Errorf("persist session %s: %w", s.ID, err)
	}
	return nil
}

// ReleaseStaleLocks unlocks sessions that took the payment lock before the
// threshold and never received a checkout URL. It returns the released ids.
func (st *Store) ReleaseStaleLocks(ctx context.Context, olderThan time.Duration) ([]string, error) {
	if st.repo == nil {
		return nil, nil
	}
	before := st.now().Add(-olderThan)
	ids, err := st.repo.StaleLockedSessions(ctx, before)
	if err != nil {
		return nil, fmt.Errorf("list stale locks: %w", err)
	}

	var released []string
	for _, id := range ids {
		err := st.With(ctx, id, func(s *Session) error {
			// Re-check under the lock: the gateway may have answered meanwhile.
			if s.State != domain.StatePaymentLocked || s.PaymentURL() != "" {
				return errNothingToDo
			}
			if s.Pending != nil && s.Pending.LockedAt.After(before) {
				return errNothingToDo
			}
			s.Unlock(st.now())
			return nil
		})
		if errors.Is(err, errNothingToDo) {
			continue
		}
		if err != nil {
			slog.Warn("Stale lock release failed", "session_id", id, "error", err)
			continue
		}
		released = append(released, id)
	}
	return released, nil
}

var errNothingToDo = errors.New("nothing to do")

const sweepInterval = time.Minute

// StartSweeper periodically releases stale payment locks until ctx ends.
func StartSweeper(ctx context.Context, st *Store, ttl time.Duration, interval time.Duration) {
	if interval <= 0 {
		interval = sweepInterval
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Lock sweeper started", "interval", interval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				released, err := st.ReleaseStaleLocks(ctx, ttl)
				if err != nil {
					slog.Error("Lock sweeper failed", "error", err)
					continue
				}
				if len(released) > 0 {
					metrics.StaleLocksReleased.Add(float64(len(released)))
					slog.Info("Lock sweeper released stale locks", "count", len(released), "session_ids", released)
				}
			case <-ctx.Done():
				slog.Info("Lock sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func toRecord(s *Session) (*domain.SessionRecord, error) {
	info, err := json.Marshal(s.Info)
	if err != nil {
		return nil, fmt.Errorf("encode customer info: %w", err)
	}
	msgs, err := json.Marshal(s.messages)
	if err != nil {
		return nil, fmt.Errorf("encode messages: %w", err)
	}
	rec := &domain.SessionRecord{
		SessionID:    s.ID,
		State:        s.State,
		InfoJSON:     string(info),
		Channel:      s.Channel,
		MessagesJSON: string(msgs),
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
	}
	if p := s.Pending; p != nil {
		lockedAt := p.LockedAt
		rec.PaymentURL = p.URL
		rec.PaymentReference = p.Reference
		rec.OrderID = p.OrderID
		rec.LockedAt = &lockedAt
	}
	return rec, nil
}

func fromRecord(rec *domain.SessionRecord) (*Session, error) {
	s := &Session{
		ID:        rec.SessionID,
		State:     rec.State,
		Channel:   rec.Channel,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}
	if !s.State.Valid() {
		s.State = domain.StateCollecting
	}
	if rec.InfoJSON != "" {
		if err := json.Unmarshal([]byte(rec.InfoJSON), &s.Info); err != nil {
			return nil, fmt.Errorf("decode customer info for %s: %w", rec.SessionID, err)
		}
	}
	if rec.MessagesJSON != "" {
		if err := json.Unmarshal([]byte(rec.MessagesJSON), &s.messages); err != nil {
			return nil, fmt.Errorf("decode messages for %s: %w", rec.SessionID, err)
		}
	}
	if rec.LockedAt != nil {
		s.Pending = &domain.PendingPayment{
			URL:       rec.PaymentURL,
			Reference: rec.PaymentReference,
			OrderID:   rec.OrderID,
			LockedAt:  *rec.LockedAt,
		}
	}
	return s, nil
}
