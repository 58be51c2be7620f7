package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/warp/supply-ledger/ledger"
)

// tx implements ledger.Tx. Every statement goes through the *sql.Tx; the
// parent *sql.DB is never touched inside a transaction.
type tx struct {
	tx *sql.Tx
	d  Dialect
}

type scanner interface {
	Scan(dest ...any) error
}

func (t *tx) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.tx.ExecContext(ctx, t.d.rebind(query), args...)
}

func (t *tx) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return t.tx.QueryContext(ctx, t.d.rebind(query), args...)
}

func (t *tx) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(ctx, t.d.rebind(query), args...)
}

// one scans a single row, returning (nil, nil) when there is none.
func one[T any](row *sql.Row, scan func(scanner) (T, error)) (*T, error) {
	v, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func many[T any](rows *sql.Rows, err error, scan func(scanner) (T, error)) ([]T, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// affected fails when an UPDATE or DELETE matched no row.
func affected(res sql.Result, err error, what string) error {
	if err != nil {
		return fmt.Errorf("sqlstore: %s: %w", what, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlstore: %s: %w", what, err)
	}
	if n == 0 {
		return fmt.Errorf("sqlstore: %s: no such row", what)
	}
	return nil
}

func wrap(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("sqlstore: %s: %w", fmt.Sprintf(format, args...), err)
}

// conflict wraps an insert error, mapping a unique violation to sentinel.
func (t *tx) conflict(err, sentinel error, format string, args ...any) error {
	if err != nil && t.d.uniqueViolation != nil && t.d.uniqueViolation(err) {
		return fmt.Errorf("sqlstore: %s: %w", fmt.Sprintf(format, args...), sentinel)
	}
	return wrap(err, format, args...)
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(n sql.NullTime) *time.Time {
	if !n.Valid {
		return nil
	}
	t := n.Time
	return &t
}

// =============================================================================
// USERS
// =============================================================================

const userCols = `id, name, role, created_at`

func scanUser(s scanner) (ledger.User, error) {
	var u ledger.User
	err := s.Scan(&u.ID, &u.Name, &u.Role, &u.CreatedAt)
	return u, err
}

func (t *tx) GetUser(ctx context.Context, id ledger.UserID) (*ledger.User, error) {
	u, err := one(t.queryRow(ctx, `SELECT `+userCols+` FROM users WHERE id = ?`, id), scanUser)
	return u, wrap(err, "get user %s", id)
}

func (t *tx) InsertUser(ctx context.Context, u ledger.User) error {
	_, err := t.exec(ctx, `INSERT INTO users (`+userCols+`) VALUES (?, ?, ?, ?)`,
		u.ID, u.Name, u.Role, u.CreatedAt)
	return wrap(err, "insert user %s", u.ID)
}

func (t *tx) ListUsers(ctx context.Context) ([]ledger.User, error) {
	rows, err := t.query(ctx, `SELECT `+userCols+` FROM users ORDER BY id`)
	out, err := many(rows, err, scanUser)
	return out, wrap(err, "list users")
}

// =============================================================================
// BALANCES
// =============================================================================

func scanBalance(s scanner) (ledger.Balance, error) {
	var b ledger.Balance
	err := s.Scan(&b.UserID, &b.Amount, &b.UpdatedAt)
	return b, err
}

func (t *tx) GetBalance(ctx context.Context, id ledger.UserID) (*ledger.Balance, error) {
	b, err := one(t.queryRow(ctx, `SELECT user_id, amount, updated_at FROM balances WHERE user_id = ?`, id), scanBalance)
	return b, wrap(err, "get balance %s", id)
}

func (t *tx) LockBalance(ctx context.Context, id ledger.UserID) (*ledger.Balance, error) {
	b, err := one(t.queryRow(ctx, `SELECT user_id, amount, updated_at FROM balances WHERE user_id = ?`+t.d.forUpdate, id), scanBalance)
	return b, wrap(err, "lock balance %s", id)
}

func (t *tx) InsertBalance(ctx context.Context, b ledger.Balance) error {
	_, err := t.exec(ctx, t.d.insertIgnore(`balances (user_id, amount, updated_at) VALUES (?, ?, ?)`),
		b.UserID, b.Amount, b.UpdatedAt)
	return wrap(err, "insert balance %s", b.UserID)
}

func (t *tx) UpdateBalance(ctx context.Context, b ledger.Balance) error {
	res, err := t.exec(ctx, `UPDATE balances SET amount = ?, updated_at = ? WHERE user_id = ?`,
		b.Amount, b.UpdatedAt, b.UserID)
	return affected(res, err, "update balance "+string(b.UserID))
}

const movementCols = `id, user_id, kind, delta, balance_after, reference, note, created_at`

func scanMovement(s scanner) (ledger.BalanceMovement, error) {
	var m ledger.BalanceMovement
	err := s.Scan(&m.ID, &m.UserID, &m.Kind, &m.Delta, &m.BalanceAfter, &m.Reference, &m.Note, &m.CreatedAt)
	return m, err
}

func (t *tx) InsertMovement(ctx context.Context, m ledger.BalanceMovement) error {
	_, err := t.exec(ctx, `INSERT INTO balance_movements (`+movementCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.UserID, m.Kind, m.Delta, m.BalanceAfter, m.Reference, m.Note, m.CreatedAt)
	return wrap(err, "insert movement for %s", m.UserID)
}

func (t *tx) ListMovements(ctx context.Context, id ledger.UserID, limit int) ([]ledger.BalanceMovement, error) {
	q := `SELECT ` + movementCols + ` FROM balance_movements WHERE user_id = ? ORDER BY pos DESC`
	args := []any{id}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := t.query(ctx, q, args...)
	out, err := many(rows, err, scanMovement)
	return out, wrap(err, "list movements for %s", id)
}

// =============================================================================
// STOCK
// =============================================================================

const stockCols = `id, material, owner_id, total_in, available, updated_at`

func scanStock(s scanner) (ledger.StockEntry, error) {
	var (
		e     ledger.StockEntry
		owner string
	)
	err := s.Scan(&e.ID, &e.Material, &owner, &e.TotalIn, &e.Available, &e.UpdatedAt)
	e.Owner = ledger.OwnerFromKey(owner)
	return e, err
}

func (t *tx) GetStockEntry(ctx context.Context, material ledger.MaterialType, owner ledger.Owner) (*ledger.StockEntry, error) {
	e, err := one(t.queryRow(ctx, `SELECT `+stockCols+` FROM stock_entries WHERE material = ? AND owner_id = ?`,
		material, owner.Key()), scanStock)
	return e, wrap(err, "get stock %s/%s", material, owner)
}

func (t *tx) LockStockEntry(ctx context.Context, material ledger.MaterialType, owner ledger.Owner) (*ledger.StockEntry, error) {
	e, err := one(t.queryRow(ctx, `SELECT `+stockCols+` FROM stock_entries WHERE material = ? AND owner_id = ?`+t.d.forUpdate,
		material, owner.Key()), scanStock)
	return e, wrap(err, "lock stock %s/%s", material, owner)
}

func (t *tx) InsertStockEntry(ctx context.Context, e ledger.StockEntry) error {
	_, err := t.exec(ctx, t.d.insertIgnore(`stock_entries (`+stockCols+`) VALUES (?, ?, ?, ?, ?, ?)`),
		e.ID, e.Material, e.Owner.Key(), e.TotalIn, e.Available, e.UpdatedAt)
	return wrap(err, "insert stock %s/%s", e.Material, e.Owner)
}

func (t *tx) UpdateStockEntry(ctx context.Context, e ledger.StockEntry) error {
	res, err := t.exec(ctx, `UPDATE stock_entries SET total_in = ?, available = ?, updated_at = ? WHERE material = ? AND owner_id = ?`,
		e.TotalIn, e.Available, e.UpdatedAt, e.Material, e.Owner.Key())
	return affected(res, err, fmt.Sprintf("update stock %s/%s", e.Material, e.Owner))
}

func (t *tx) ListStockEntries(ctx context.Context, material ledger.MaterialType) ([]ledger.StockEntry, error) {
	rows, err := t.query(ctx, `SELECT `+stockCols+` FROM stock_entries WHERE material = ? ORDER BY owner_id`, material)
	out, err := many(rows, err, scanStock)
	return out, wrap(err, "list stock %s", material)
}

// =============================================================================
// ADVANCES
// =============================================================================

const advanceCols = `id, supplier_id, payer_id, amount, used_amount, remaining_amount, status,
	deadline_hours, reference, note, cancel_reason, last_document_id, created_at, arrived_at, closed_at`

func scanAdvance(s scanner) (ledger.AdvancePayment, error) {
	var (
		a               ledger.AdvancePayment
		arrived, closed sql.NullTime
	)
	err := s.Scan(&a.ID, &a.SupplierID, &a.PayerID, &a.Amount, &a.UsedAmount, &a.RemainingAmount, &a.Status,
		&a.DeadlineHours, &a.Reference, &a.Note, &a.CancelReason, &a.LastDocumentID, &a.CreatedAt, &arrived, &closed)
	a.ArrivedAt = timePtr(arrived)
	a.ClosedAt = timePtr(closed)
	return a, err
}

func (t *tx) GetAdvance(ctx context.Context, id ledger.AdvanceID) (*ledger.AdvancePayment, error) {
	a, err := one(t.queryRow(ctx, `SELECT `+advanceCols+` FROM advances WHERE id = ?`, id), scanAdvance)
	return a, wrap(err, "get advance %s", id)
}

func (t *tx) LockAdvance(ctx context.Context, id ledger.AdvanceID) (*ledger.AdvancePayment, error) {
	a, err := one(t.queryRow(ctx, `SELECT `+advanceCols+` FROM advances WHERE id = ?`+t.d.forUpdate, id), scanAdvance)
	return a, wrap(err, "lock advance %s", id)
}

func (t *tx) LockLiveAdvance(ctx context.Context, supplier ledger.SupplierID) (*ledger.AdvancePayment, error) {
	a, err := one(t.queryRow(ctx, `SELECT `+advanceCols+` FROM advances
		WHERE supplier_id = ? AND status IN (?, ?) ORDER BY pos`+t.d.forUpdate,
		supplier, ledger.AdvancePending, ledger.AdvanceArrived), scanAdvance)
	return a, wrap(err, "lock live advance of %s", supplier)
}

func (t *tx) InsertAdvance(ctx context.Context, a ledger.AdvancePayment) error {
	_, err := t.exec(ctx, `INSERT INTO advances (`+advanceCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.SupplierID, a.PayerID, a.Amount, a.UsedAmount, a.RemainingAmount, a.Status,
		a.DeadlineHours, a.Reference, a.Note, a.CancelReason, a.LastDocumentID, a.CreatedAt,
		nullTime(a.ArrivedAt), nullTime(a.ClosedAt))
	return t.conflict(err, ledger.ErrSupplierHasUnsettledAdvance, "insert advance %s for %s", a.ID, a.SupplierID)
}

func (t *tx) UpdateAdvance(ctx context.Context, a ledger.AdvancePayment) error {
	res, err := t.exec(ctx, `UPDATE advances SET used_amount = ?, remaining_amount = ?, status = ?,
		cancel_reason = ?, last_document_id = ?, arrived_at = ?, closed_at = ? WHERE id = ?`,
		a.UsedAmount, a.RemainingAmount, a.Status, a.CancelReason, a.LastDocumentID,
		nullTime(a.ArrivedAt), nullTime(a.ClosedAt), a.ID)
	return affected(res, err, "update advance "+string(a.ID))
}

func (t *tx) ListAdvances(ctx context.Context, f ledger.AdvanceFilter) ([]ledger.AdvancePayment, error) {
	q := `SELECT ` + advanceCols + ` FROM advances WHERE 1 = 1`
	var args []any
	if f.SupplierID != "" {
		q += ` AND supplier_id = ?`
		args = append(args, f.SupplierID)
	}
	if f.Status != "" {
		q += ` AND status = ?`
		args = append(args, f.Status)
	}
	if !f.CreatedBefore.IsZero() {
		q += ` AND created_at < ?`
		args = append(args, f.CreatedBefore)
	}
	rows, err := t.query(ctx, q+` ORDER BY pos`, args...)
	out, err := many(rows, err, scanAdvance)
	return out, wrap(err, "list advances")
}

func (t *tx) InsertAdvanceConsumption(ctx context.Context, c ledger.AdvanceConsumption) error {
	_, err := t.exec(ctx, `INSERT INTO advance_consumptions (id, advance_id, document_id, amount, created_at)
		VALUES (?, ?, ?, ?, ?)`, c.ID, c.AdvanceID, c.DocumentID, c.Amount, c.CreatedAt)
	return wrap(err, "insert consumption of %s", c.AdvanceID)
}

func (t *tx) ListAdvanceConsumptions(ctx context.Context, id ledger.AdvanceID) ([]ledger.AdvanceConsumption, error) {
	rows, err := t.query(ctx, `SELECT id, advance_id, document_id, amount, created_at
		FROM advance_consumptions WHERE advance_id = ? ORDER BY pos`, id)
	out, err := many(rows, err, func(s scanner) (ledger.AdvanceConsumption, error) {
		var c ledger.AdvanceConsumption
		err := s.Scan(&c.ID, &c.AdvanceID, &c.DocumentID, &c.Amount, &c.CreatedAt)
		return c, err
	})
	return out, wrap(err, "list consumptions of %s", id)
}

// =============================================================================
// DOCUMENTS AND SETTLEMENTS
// =============================================================================

const documentCols = `id, family, material, supplier_id, owner_id, net_weight, unit_price, total_price,
	debt_to_supplier, remaining_quantity, status, stocked_in, created_at, updated_at`

func scanDocument(s scanner) (ledger.ReceptionDocument, error) {
	var d ledger.ReceptionDocument
	err := s.Scan(&d.ID, &d.Family, &d.Material, &d.SupplierID, &d.OwnerID, &d.NetWeight, &d.UnitPrice, &d.TotalPrice,
		&d.DebtToSupplier, &d.RemainingQuantity, &d.Status, &d.StockedIn, &d.CreatedAt, &d.UpdatedAt)
	return d, err
}

func (t *tx) GetDocument(ctx context.Context, id ledger.DocumentID) (*ledger.ReceptionDocument, error) {
	d, err := one(t.queryRow(ctx, `SELECT `+documentCols+` FROM documents WHERE id = ?`, id), scanDocument)
	return d, wrap(err, "get document %s", id)
}

func (t *tx) LockDocument(ctx context.Context, id ledger.DocumentID) (*ledger.ReceptionDocument, error) {
	d, err := one(t.queryRow(ctx, `SELECT `+documentCols+` FROM documents WHERE id = ?`+t.d.forUpdate, id), scanDocument)
	return d, wrap(err, "lock document %s", id)
}

func (t *tx) InsertDocument(ctx context.Context, d ledger.ReceptionDocument) error {
	_, err := t.exec(ctx, `INSERT INTO documents (`+documentCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.Family, d.Material, d.SupplierID, d.OwnerID, d.NetWeight, d.UnitPrice, d.TotalPrice,
		d.DebtToSupplier, d.RemainingQuantity, d.Status, d.StockedIn, d.CreatedAt, d.UpdatedAt)
	return wrap(err, "insert document %s", d.ID)
}

func (t *tx) UpdateDocument(ctx context.Context, d ledger.ReceptionDocument) error {
	res, err := t.exec(ctx, `UPDATE documents SET debt_to_supplier = ?, remaining_quantity = ?, status = ?,
		stocked_in = ?, updated_at = ? WHERE id = ?`,
		d.DebtToSupplier, d.RemainingQuantity, d.Status, d.StockedIn, d.UpdatedAt, d.ID)
	return affected(res, err, "update document "+string(d.ID))
}

const settlementCols = `id, document_id, payer_id, total_paid, created_at, updated_at`

func scanSettlement(s scanner) (ledger.Settlement, error) {
	var st ledger.Settlement
	err := s.Scan(&st.ID, &st.DocumentID, &st.PayerID, &st.TotalPaid, &st.CreatedAt, &st.UpdatedAt)
	return st, err
}

func (t *tx) GetSettlement(ctx context.Context, id ledger.SettlementID) (*ledger.Settlement, error) {
	st, err := one(t.queryRow(ctx, `SELECT `+settlementCols+` FROM settlements WHERE id = ?`, id), scanSettlement)
	return st, wrap(err, "get settlement %s", id)
}

func (t *tx) GetSettlementByDocument(ctx context.Context, id ledger.DocumentID) (*ledger.Settlement, error) {
	st, err := one(t.queryRow(ctx, `SELECT `+settlementCols+` FROM settlements WHERE document_id = ?`, id), scanSettlement)
	return st, wrap(err, "get settlement of document %s", id)
}

func (t *tx) InsertSettlement(ctx context.Context, st ledger.Settlement) error {
	_, err := t.exec(ctx, `INSERT INTO settlements (`+settlementCols+`) VALUES (?, ?, ?, ?, ?, ?)`,
		st.ID, st.DocumentID, st.PayerID, st.TotalPaid, st.CreatedAt, st.UpdatedAt)
	return t.conflict(err, ledger.ErrDuplicateSettlement, "insert settlement %s for %s", st.ID, st.DocumentID)
}

func (t *tx) UpdateSettlement(ctx context.Context, st ledger.Settlement) error {
	res, err := t.exec(ctx, `UPDATE settlements SET total_paid = ?, updated_at = ? WHERE id = ?`,
		st.TotalPaid, st.UpdatedAt, st.ID)
	return affected(res, err, "update settlement "+string(st.ID))
}

const paymentCols = `id, settlement_id, payer_id, amount, source, advance_id, created_at`

func (t *tx) InsertPayment(ctx context.Context, p ledger.Payment) error {
	_, err := t.exec(ctx, `INSERT INTO payments (`+paymentCols+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.SettlementID, p.PayerID, p.Amount, p.Source, p.AdvanceID, p.CreatedAt)
	return wrap(err, "insert payment for %s", p.SettlementID)
}

func (t *tx) ListPayments(ctx context.Context, id ledger.SettlementID) ([]ledger.Payment, error) {
	rows, err := t.query(ctx, `SELECT `+paymentCols+` FROM payments WHERE settlement_id = ? ORDER BY pos`, id)
	out, err := many(rows, err, func(s scanner) (ledger.Payment, error) {
		var p ledger.Payment
		err := s.Scan(&p.ID, &p.SettlementID, &p.PayerID, &p.Amount, &p.Source, &p.AdvanceID, &p.CreatedAt)
		return p, err
	})
	return out, wrap(err, "list payments of %s", id)
}

// =============================================================================
// DELIVERIES AND TRANSFERS
// =============================================================================

const deliveryCols = `id, kind, material, owner_id, document_id, created_by, recipient_id,
	requested_quantity, delivered_quantity, status, created_at, updated_at`

func scanDelivery(s scanner) (ledger.Delivery, error) {
	var (
		d     ledger.Delivery
		owner string
	)
	err := s.Scan(&d.ID, &d.Kind, &d.Material, &owner, &d.DocumentID, &d.CreatedBy, &d.RecipientID,
		&d.RequestedQuantity, &d.DeliveredQuantity, &d.Status, &d.CreatedAt, &d.UpdatedAt)
	d.Owner = ledger.OwnerFromKey(owner)
	return d, err
}

func (t *tx) GetDelivery(ctx context.Context, id ledger.DeliveryID) (*ledger.Delivery, error) {
	d, err := one(t.queryRow(ctx, `SELECT `+deliveryCols+` FROM deliveries WHERE id = ?`, id), scanDelivery)
	return d, wrap(err, "get delivery %s", id)
}

func (t *tx) LockDelivery(ctx context.Context, id ledger.DeliveryID) (*ledger.Delivery, error) {
	d, err := one(t.queryRow(ctx, `SELECT `+deliveryCols+` FROM deliveries WHERE id = ?`+t.d.forUpdate, id), scanDelivery)
	return d, wrap(err, "lock delivery %s", id)
}

func (t *tx) InsertDelivery(ctx context.Context, d ledger.Delivery) error {
	_, err := t.exec(ctx, `INSERT INTO deliveries (`+deliveryCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.Kind, d.Material, d.Owner.Key(), d.DocumentID, d.CreatedBy, d.RecipientID,
		d.RequestedQuantity, d.DeliveredQuantity, d.Status, d.CreatedAt, d.UpdatedAt)
	return wrap(err, "insert delivery %s", d.ID)
}

func (t *tx) UpdateDelivery(ctx context.Context, d ledger.Delivery) error {
	res, err := t.exec(ctx, `UPDATE deliveries SET delivered_quantity = ?, status = ?, updated_at = ? WHERE id = ?`,
		d.DeliveredQuantity, d.Status, d.UpdatedAt, d.ID)
	return affected(res, err, "update delivery "+string(d.ID))
}

func (t *tx) ListDeliveries(ctx context.Context, document ledger.DocumentID) ([]ledger.Delivery, error) {
	rows, err := t.query(ctx, `SELECT `+deliveryCols+` FROM deliveries WHERE document_id = ? ORDER BY pos`, document)
	out, err := many(rows, err, scanDelivery)
	return out, wrap(err, "list deliveries of %s", document)
}

const transferCols = `id, from_id, to_id, amount, method, reason, source, register_entry_id, created_at`

func (t *tx) InsertTransfer(ctx context.Context, tr ledger.Transfer) error {
	_, err := t.exec(ctx, `INSERT INTO transfers (`+transferCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tr.ID, tr.FromID, tr.ToID, tr.Amount, tr.Method, tr.Reason, tr.Source, tr.RegisterEntryID, tr.CreatedAt)
	return wrap(err, "insert transfer %s", tr.ID)
}

func (t *tx) ListTransfers(ctx context.Context, user ledger.UserID) ([]ledger.Transfer, error) {
	rows, err := t.query(ctx, `SELECT `+transferCols+` FROM transfers WHERE from_id = ? OR to_id = ? ORDER BY pos`, user, user)
	out, err := many(rows, err, func(s scanner) (ledger.Transfer, error) {
		var tr ledger.Transfer
		err := s.Scan(&tr.ID, &tr.FromID, &tr.ToID, &tr.Amount, &tr.Method, &tr.Reason, &tr.Source, &tr.RegisterEntryID, &tr.CreatedAt)
		return tr, err
	})
	return out, wrap(err, "list transfers of %s", user)
}

// =============================================================================
// CASH REGISTER
// =============================================================================

// The head row (id = 1) is seeded by the initial migration.
func (t *tx) GetRegisterHead(ctx context.Context) (ledger.RegisterHead, error) {
	var h ledger.RegisterHead
	err := t.queryRow(ctx, `SELECT last_seq, balance FROM register_head WHERE id = 1`).Scan(&h.LastSeq, &h.Balance)
	return h, wrap(err, "get register head")
}

func (t *tx) LockRegisterHead(ctx context.Context) (ledger.RegisterHead, error) {
	var h ledger.RegisterHead
	err := t.queryRow(ctx, `SELECT last_seq, balance FROM register_head WHERE id = 1`+t.d.forUpdate).Scan(&h.LastSeq, &h.Balance)
	return h, wrap(err, "lock register head")
}

func (t *tx) UpdateRegisterHead(ctx context.Context, h ledger.RegisterHead) error {
	res, err := t.exec(ctx, `UPDATE register_head SET last_seq = ?, balance = ? WHERE id = 1`, h.LastSeq, h.Balance)
	return affected(res, err, "update register head")
}

const registerCols = `id, seq, balance_after, amount, entry_type, method, reason, reference, created_at`

func scanRegister(s scanner) (ledger.RegisterEntry, error) {
	var e ledger.RegisterEntry
	err := s.Scan(&e.ID, &e.Seq, &e.BalanceAfter, &e.Amount, &e.Type, &e.Method, &e.Reason, &e.Reference, &e.CreatedAt)
	return e, err
}

func (t *tx) InsertRegisterEntry(ctx context.Context, e ledger.RegisterEntry) error {
	_, err := t.exec(ctx, `INSERT INTO register_entries (`+registerCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Seq, e.BalanceAfter, e.Amount, e.Type, e.Method, e.Reason, e.Reference, e.CreatedAt)
	return wrap(err, "insert register entry %d", e.Seq)
}

func (t *tx) GetRegisterEntry(ctx context.Context, id ledger.RegisterEntryID) (*ledger.RegisterEntry, error) {
	e, err := one(t.queryRow(ctx, `SELECT `+registerCols+` FROM register_entries WHERE id = ?`, id), scanRegister)
	return e, wrap(err, "get register entry %s", id)
}

func (t *tx) UpdateRegisterEntry(ctx context.Context, e ledger.RegisterEntry) error {
	res, err := t.exec(ctx, `UPDATE register_entries SET balance_after = ?, amount = ?, entry_type = ?,
		method = ?, reason = ?, reference = ? WHERE id = ?`,
		e.BalanceAfter, e.Amount, e.Type, e.Method, e.Reason, e.Reference, e.ID)
	return affected(res, err, "update register entry "+string(e.ID))
}

func (t *tx) DeleteRegisterEntry(ctx context.Context, id ledger.RegisterEntryID) error {
	res, err := t.exec(ctx, `DELETE FROM register_entries WHERE id = ?`, id)
	return affected(res, err, "delete register entry "+string(id))
}

func (t *tx) ListRegisterEntries(ctx context.Context) ([]ledger.RegisterEntry, error) {
	rows, err := t.query(ctx, `SELECT `+registerCols+` FROM register_entries ORDER BY seq`)
	out, err := many(rows, err, scanRegister)
	return out, wrap(err, "list register entries")
}

// =============================================================================
// FUND REQUESTS
// =============================================================================

const fundCols = `id, requester_id, amount, reason, status, decided_by, decision_note, transfer_id, created_at, decided_at`

func scanFund(s scanner) (ledger.FundRequest, error) {
	var (
		r       ledger.FundRequest
		decided sql.NullTime
	)
	err := s.Scan(&r.ID, &r.RequesterID, &r.Amount, &r.Reason, &r.Status, &r.DecidedBy, &r.DecisionNote,
		&r.TransferID, &r.CreatedAt, &decided)
	r.DecidedAt = timePtr(decided)
	return r, err
}

func (t *tx) LockFundRequest(ctx context.Context, id ledger.FundRequestID) (*ledger.FundRequest, error) {
	r, err := one(t.queryRow(ctx, `SELECT `+fundCols+` FROM fund_requests WHERE id = ?`+t.d.forUpdate, id), scanFund)
	return r, wrap(err, "lock fund request %s", id)
}

func (t *tx) InsertFundRequest(ctx context.Context, r ledger.FundRequest) error {
	_, err := t.exec(ctx, `INSERT INTO fund_requests (`+fundCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.RequesterID, r.Amount, r.Reason, r.Status, r.DecidedBy, r.DecisionNote, r.TransferID,
		r.CreatedAt, nullTime(r.DecidedAt))
	return wrap(err, "insert fund request %s", r.ID)
}

func (t *tx) UpdateFundRequest(ctx context.Context, r ledger.FundRequest) error {
	res, err := t.exec(ctx, `UPDATE fund_requests SET status = ?, decided_by = ?, decision_note = ?,
		transfer_id = ?, decided_at = ? WHERE id = ?`,
		r.Status, r.DecidedBy, r.DecisionNote, r.TransferID, nullTime(r.DecidedAt), r.ID)
	return affected(res, err, "update fund request "+string(r.ID))
}

func (t *tx) ListFundRequests(ctx context.Context, status ledger.FundRequestStatus) ([]ledger.FundRequest, error) {
	q := `SELECT ` + fundCols + ` FROM fund_requests`
	var args []any
	if status != "" {
		q += ` WHERE status = ?`
		args = append(args, status)
	}
	rows, err := t.query(ctx, q+` ORDER BY pos`, args...)
	out, err := many(rows, err, scanFund)
	return out, wrap(err, "list fund requests")
}

var _ ledger.Tx = (*tx)(nil)
