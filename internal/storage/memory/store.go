// Package memory is an in-process storage.Store used when no database is
// configured and by unit tests.
//
// A unit of work holds the store's write lock for its whole duration and
// records an undo entry per mutation, so a failed unit is rolled back before
// any other caller can observe it.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hongminglow/qrpay/internal/models"
	"github.com/hongminglow/qrpay/internal/storage"
)

var _ storage.Store = (*Store)(nil)

// Store keeps every table in maps guarded by one lock.
type Store struct {
	mu       sync.RWMutex
	users    map[string]models.User
	emails   map[string]string
	phones   map[string]string
	txs      map[string]models.Transaction
	offers   map[string]models.PaymentSession
	otps     map[string]models.OtpCode
	sessions map[string]models.Session

	faults int
}

// New returns an empty store.
func New() *Store {
	return &Store{
		users:    make(map[string]models.User),
		emails:   make(map[string]string),
		phones:   make(map[string]string),
		txs:      make(map[string]models.Transaction),
		offers:   make(map[string]models.PaymentSession),
		otps:     make(map[string]models.OtpCode),
		sessions: make(map[string]models.Session),
	}
}

// FailCommits makes the next n units of work roll back and report
// storage.ErrTransient after their body has run.
func (s *Store) FailCommits(n int) {
	s.mu.Lock()
	s.faults = n
	s.mu.Unlock()
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() {}

type txKey struct{}

type journal struct {
	owner *Store
	undo  []func()
}

func (s *Store) journal(ctx context.Context) *journal {
	if j, ok := ctx.Value(txKey{}).(*journal); ok && j.owner == s {
		return j
	}
	return nil
}

// WithTx runs fn with the write lock held. Nested calls join the outer unit.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.journal(ctx) != nil {
		return fn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	j := &journal{owner: s}
	err := fn(context.WithValue(ctx, txKey{}, j))
	if err == nil && s.faults > 0 {
		s.faults--
		err = fmt.Errorf("%w: injected commit failure", storage.ErrTransient)
	}
	if err != nil {
		for i := len(j.undo) - 1; i >= 0; i-- {
			j.undo[i]()
		}
	}
	return err
}

// InTx reports whether ctx holds this store's write lock.
func (s *Store) InTx(ctx context.Context) bool {
	return s.journal(ctx) != nil
}

// read runs fn under the read lock unless ctx already holds the write lock.
func (s *Store) read(ctx context.Context, fn func()) {
	if s.journal(ctx) != nil {
		fn()
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn()
}

// write runs fn under the write lock unless ctx already holds it. Inside a
// unit of work, undo entries are kept for rollback; outside one, the single
// statement commits immediately and undo entries are discarded.
func (s *Store) write(ctx context.Context, fn func(onUndo func(func())) error) error {
	if j := s.journal(ctx); j != nil {
		return fn(func(u func()) { j.undo = append(j.undo, u) })
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var undo []func()
	err := fn(func(u func()) { undo = append(undo, u) })
	if err != nil {
		for i := len(undo) - 1; i >= 0; i-- {
			undo[i]()
		}
	}
	return err
}

func (s *Store) CreateUser(ctx context.Context, user models.User) (models.User, error) {
	err := s.write(ctx, func(onUndo func(func())) error {
		email := strings.ToLower(user.Email)
		if _, ok := s.users[user.ID]; ok {
			return storage.ErrAlreadyExists
		}
		if _, ok := s.emails[email]; ok {
			return storage.ErrAlreadyExists
		}
		if _, ok := s.phones[user.Phone]; ok {
			return storage.ErrAlreadyExists
		}
		user.UpdatedAt = user.CreatedAt
		s.users[user.ID] = user
		s.emails[email] = user.ID
		s.phones[user.Phone] = user.ID
		onUndo(func() {
			delete(s.users, user.ID)
			delete(s.emails, email)
			delete(s.phones, user.Phone)
		})
		return nil
	})
	if err != nil {
		return models.User{}, err
	}
	return user, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (models.User, error) {
	var (
		u  models.User
		ok bool
	)
	s.read(ctx, func() { u, ok = s.users[id] })
	if !ok {
		return models.User{}, storage.ErrNotFound
	}
	return u, nil
}

func (s *Store) FindByEmail(ctx context.Context, email string) (models.User, error) {
	var (
		u  models.User
		ok bool
	)
	s.read(ctx, func() {
		var id string
		if id, ok = s.emails[strings.ToLower(email)]; ok {
			u, ok = s.users[id]
		}
	})
	if !ok {
		return models.User{}, storage.ErrNotFound
	}
	return u, nil
}

// LockUsers returns a snapshot of the users. The unit-of-work lock already
// excludes every other writer, so no per-row lock is needed.
func (s *Store) LockUsers(ctx context.Context, ids ...string) (map[string]models.User, error) {
	if s.journal(ctx) == nil {
		return nil, fmt.Errorf("lock users: called outside a transaction")
	}
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	out := make(map[string]models.User, len(sorted))
	for _, id := range sorted {
		u, ok := s.users[id]
		if !ok {
			return nil, storage.ErrNotFound
		}
		out[id] = u
	}
	return out, nil
}

func (s *Store) UpdateBalance(ctx context.Context, id string, balance int64, at time.Time) error {
	return s.write(ctx, func(onUndo func(func())) error {
		prev, ok := s.users[id]
		if !ok {
			return storage.ErrNotFound
		}
		if balance < 0 {
			return fmt.Errorf("update balance: negative balance %d for %s", balance, id)
		}
		next := prev
		next.Balance = balance
		next.UpdatedAt = at
		s.users[id] = next
		onUndo(func() { s.users[id] = prev })
		return nil
	})
}

func (s *Store) SetTwoFactor(ctx context.Context, id string, enabled bool, at time.Time) error {
	return s.write(ctx, func(onUndo func(func())) error {
		prev, ok := s.users[id]
		if !ok {
			return storage.ErrNotFound
		}
		next := prev
		next.TwoFactorEnabled = enabled
		next.UpdatedAt = at
		s.users[id] = next
		onUndo(func() { s.users[id] = prev })
		return nil
	})
}

func (s *Store) UpdateProfile(ctx context.Context, id, fullName, phone string, at time.Time) error {
	return s.write(ctx, func(onUndo func(func())) error {
		prev, ok := s.users[id]
		if !ok {
			return storage.ErrNotFound
		}
		if owner, taken := s.phones[phone]; taken && owner != id {
			return storage.ErrAlreadyExists
		}
		next := prev
		next.FullName = fullName
		next.Phone = phone
		next.UpdatedAt = at
		s.users[id] = next
		delete(s.phones, prev.Phone)
		s.phones[phone] = id
		onUndo(func() {
			delete(s.phones, phone)
			s.phones[prev.Phone] = id
			s.users[id] = prev
		})
		return nil
	})
}

func (s *Store) SearchUsers(ctx context.Context, query, excludeID string, limit int) ([]models.User, error) {
	query = strings.ToLower(query)
	var found []models.User
	s.read(ctx, func() {
		for _, u := range s.users {
			if u.ID == excludeID || !u.Active {
				continue
			}
			if strings.Contains(strings.ToLower(u.FullName), query) ||
				strings.Contains(strings.ToLower(u.Email), query) ||
				strings.Contains(strings.ToLower(u.Phone), query) {
				found = append(found, u)
			}
		}
	})
	sort.Slice(found, func(i, j int) bool {
		if found[i].FullName == found[j].FullName {
			return found[i].ID < found[j].ID
		}
		return found[i].FullName < found[j].FullName
	})
	if limit >= 0 && len(found) > limit {
		found = found[:limit]
	}
	return found, nil
}
