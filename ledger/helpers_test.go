package ledger_test

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/supply-ledger/ledger"
	"github.com/warp/supply-ledger/ledger/store"
)

// testClock is a settable time source shared by a test and its Service.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	t     *testing.T
	ctx   context.Context
	svc   *ledger.Service
	store *store.Memory
	clock *testClock
}

func newFixture(t *testing.T, opts ...ledger.Option) *fixture {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	clock := &testClock{now: time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)}
	mem := store.NewMemory()
	opts = append([]ledger.Option{ledger.WithLogger(log), ledger.WithClock(clock.Now)}, opts...)
	return &fixture{
		t:     t,
		ctx:   context.Background(),
		svc:   ledger.NewService(mem, opts...),
		store: mem,
		clock: clock,
	}
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func (f *fixture) user(id string, role ledger.Role) ledger.UserID {
	f.t.Helper()
	u, err := f.svc.CreateUser(f.ctx, ledger.User{ID: ledger.UserID(id), Name: id, Role: role})
	require.NoError(f.t, err)
	return u.ID
}

func (f *fixture) funded(id string, role ledger.Role, amount string) ledger.UserID {
	f.t.Helper()
	uid := f.user(id, role)
	_, err := f.svc.Credit(f.ctx, uid, d(amount), "funding")
	require.NoError(f.t, err)
	return uid
}

func (f *fixture) balance(id ledger.UserID) decimal.Decimal {
	f.t.Helper()
	b, err := f.svc.Balance(f.ctx, id)
	require.NoError(f.t, err)
	return b
}

func (f *fixture) registerBalance() decimal.Decimal {
	f.t.Helper()
	b, err := f.svc.RegisterBalance(f.ctx)
	require.NoError(f.t, err)
	return b
}

// entry returns the stock entry for (material, owner), or a zero entry.
func (f *fixture) entry(m ledger.MaterialType, owner ledger.Owner) ledger.StockEntry {
	f.t.Helper()
	entries, err := f.svc.Entries(f.ctx, m)
	require.NoError(f.t, err)
	for _, e := range entries {
		if e.Owner == owner {
			return e
		}
	}
	return ledger.StockEntry{Material: m, Owner: owner}
}

// document registers a raw or oil document with debt equal to the total.
func (f *fixture) document(family ledger.DocumentFamily, m ledger.MaterialType, supplier string, owner ledger.UserID, weight, price string) ledger.ReceptionDocument {
	f.t.Helper()
	doc, err := f.svc.RegisterDocument(f.ctx, ledger.DocumentInput{
		Family:     family,
		Material:   m,
		SupplierID: ledger.SupplierID(supplier),
		OwnerID:    owner,
		NetWeight:  d(weight),
		UnitPrice:  d(price),
	})
	require.NoError(f.t, err)
	return doc
}

// paidDocument registers a raw document and settles it in full.
func (f *fixture) paidDocument(m ledger.MaterialType, owner ledger.UserID, weight string) ledger.ReceptionDocument {
	f.t.Helper()
	doc := f.document(ledger.FamilyRaw, m, "sup-paid-"+string(owner), owner, weight, "0")
	require.Equal(f.t, ledger.DocPaid, doc.Status)
	return doc
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.Truef(t, d(want).Equal(got), "want %s, got %s", want, got)
}

func assertKind(t *testing.T, want string, err error) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, want, ledger.Kind(err), err.Error())
}
