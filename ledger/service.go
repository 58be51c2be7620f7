/*
service.go - Service facade for the ledger core

PURPOSE:
  Service is the single entry point request handlers call. Each public
  method is one atomic operation: it runs inside exactly one store
  transaction opened by withTransaction, and any error rolls back every
  write made during the call.

COLLABORATORS:
  Store:    persistence (memory, sqlite, postgres, mysql)
  Locker:   serializes cash-register appends across goroutines or
            instances (LocalLocker by default, Redis lock in clusters)
  Observer: receives one observation per operation (metrics)
  Logger:   logrus field logger

USAGE:
  svc := ledger.NewService(store,
      ledger.WithLogger(log),
      ledger.WithObserver(metrics.NewCollector(reg)))
  bal, err := svc.Credit(ctx, "u-1", decimal.NewFromInt(500), "opening")

SEE ALSO:
  - store.go: Store and Tx contracts
  - lock.go: Locker implementations
*/
package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Observer is notified once per completed operation.
// Outcome is "ok" or the error Kind.
type Observer interface {
	ObserveOperation(op, outcome string, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) ObserveOperation(string, string, time.Duration) {}

// registerLockKey guards the tail of the cash register log.
const registerLockKey = "ledger:register:tail"

// Service exposes every ledger operation.
type Service struct {
	store    Store
	locker   Locker
	observer Observer
	log      logrus.FieldLogger
	now      func() time.Time
	newID    func() string
}

type Option func(*Service)

func WithLocker(l Locker) Option { return func(s *Service) { s.locker = l } }

func WithObserver(o Observer) Option { return func(s *Service) { s.observer = o } }

func WithLogger(l logrus.FieldLogger) Option { return func(s *Service) { s.log = l } }

// WithClock overrides the time source. Tests use it to drive deadlines.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:    store,
		locker:   NewLocalLocker(),
		observer: nopObserver{},
		log:      logrus.StandardLogger(),
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// withTransaction runs fn as one atomic operation.
func (s *Service) withTransaction(ctx context.Context, op string, fn func(tx Tx) error) error {
	start := time.Now()
	err := s.store.WithTx(ctx, fn)

	outcome := "ok"
	if err != nil {
		outcome = Kind(err)
	}
	s.observer.ObserveOperation(op, outcome, time.Since(start))

	switch {
	case err == nil:
	case IsClientError(err):
		s.log.WithFields(logrus.Fields{"op": op, "kind": outcome}).Debug(err.Error())
	default:
		s.log.WithFields(logrus.Fields{"op": op}).WithError(err).Error("ledger operation failed")
	}
	return err
}

// withRegister runs fn as one atomic operation while holding the register
// tail lock. The lock is taken before the transaction opens.
func (s *Service) withRegister(ctx context.Context, op string, fn func(tx Tx) error) error {
	unlock, err := s.locker.Lock(ctx, registerLockKey)
	if err != nil {
		return err
	}
	defer unlock()
	return s.withTransaction(ctx, op, fn)
}

// =============================================================================
// USERS
// =============================================================================

// CreateUser registers a participant. An empty ID gets a generated one.
func (s *Service) CreateUser(ctx context.Context, u User) (User, error) {
	if !u.Role.Valid() {
		return User{}, invalidInput("unknown role %q", u.Role)
	}
	if u.Name == "" {
		return User{}, invalidInput("user name is required")
	}
	if u.ID == "" {
		u.ID = UserID(s.newID())
	}
	u.CreatedAt = s.now()

	err := s.withTransaction(ctx, "user.create", func(tx Tx) error {
		existing, err := tx.GetUser(ctx, u.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			return invalidInput("user %s already exists", u.ID)
		}
		return tx.InsertUser(ctx, u)
	})
	if err != nil {
		return User{}, err
	}
	return u, nil
}

func (s *Service) GetUser(ctx context.Context, id UserID) (User, error) {
	var u User
	err := s.withTransaction(ctx, "user.get", func(tx Tx) error {
		found, err := requireUser(ctx, tx, id)
		if err != nil {
			return err
		}
		u = *found
		return nil
	})
	return u, err
}

func (s *Service) ListUsers(ctx context.Context) ([]User, error) {
	var users []User
	err := s.withTransaction(ctx, "user.list", func(tx Tx) error {
		var err error
		users, err = tx.ListUsers(ctx)
		return err
	})
	return users, err
}

func requireUser(ctx context.Context, tx Tx, id UserID) (*User, error) {
	u, err := tx.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, notFound("user", id)
	}
	return u, nil
}
