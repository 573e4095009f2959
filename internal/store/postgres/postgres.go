package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"koperasi/backend/internal/domain"
	"koperasi/backend/internal/store"
)

//go:embed schema.sql
var schema string

type Store struct {
	db *sqlx.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sqlx.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// WithinTx runs fn in a SERIALIZABLE transaction. Serialization failures and
// deadlocks surface as store.ErrConcurrentModification so callers can retry.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	sqlTx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return mapError(err)
	}
	defer func() { _ = sqlTx.Rollback() }()

	if err := fn(ctx, &pgTx{reader: reader{q: sqlTx}, tx: sqlTx}); err != nil {
		return mapError(err)
	}
	return mapError(sqlTx.Commit())
}

func (s *Store) Snapshot(ctx context.Context, fn func(ctx context.Context, r store.Reader) error) error {
	sqlTx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return mapError(err)
	}
	defer func() { _ = sqlTx.Rollback() }()

	return mapError(fn(ctx, reader{q: sqlTx}))
}

type productRow struct {
	ID               string              `db:"id"`
	SKU              string              `db:"sku"`
	Name             string              `db:"name"`
	OwnershipType    string              `db:"ownership_type"`
	UnitCost         decimal.NullDecimal `db:"unit_cost"`
	AverageCost      decimal.NullDecimal `db:"average_cost"`
	SellPrice        decimal.Decimal     `db:"sell_price"`
	StockOnHand      int64               `db:"stock_on_hand"`
	ReorderThreshold int64               `db:"reorder_threshold"`
	Version          int64               `db:"version"`
	CreatedAt        time.Time           `db:"created_at"`
	UpdatedAt        time.Time           `db:"updated_at"`
}

const productColumns = `id, sku, name, ownership_type, unit_cost, average_cost, sell_price,
	stock_on_hand, reorder_threshold, version, created_at, updated_at`

func (r productRow) toDomain() domain.Product {
	return domain.Product{
		ID:               r.ID,
		SKU:              r.SKU,
		Name:             r.Name,
		OwnershipType:    domain.OwnershipType(r.OwnershipType),
		UnitCost:         nullableDecimal(r.UnitCost),
		AverageCost:      nullableDecimal(r.AverageCost),
		SellPrice:        r.SellPrice,
		StockOnHand:      r.StockOnHand,
		ReorderThreshold: r.ReorderThreshold,
		Version:          r.Version,
		CreatedAt:        r.CreatedAt.UTC(),
		UpdatedAt:        r.UpdatedAt.UTC(),
	}
}

type batchRow struct {
	ID                string          `db:"id"`
	Seq               int64           `db:"seq"`
	ConsignorID       string          `db:"consignor_id"`
	ProductID         string          `db:"product_id"`
	QuantityReceived  int64           `db:"quantity_received"`
	QuantitySold      int64           `db:"quantity_sold"`
	QuantityRemaining int64           `db:"quantity_remaining"`
	FeeKind           string          `db:"fee_kind"`
	FeeRate           decimal.Decimal `db:"fee_rate"`
	FeeAmountPerUnit  decimal.Decimal `db:"fee_amount_per_unit"`
	ReceivedAt        time.Time       `db:"received_at"`
	ExpiresAt         sql.NullTime    `db:"expires_at"`
	Status            string          `db:"status"`
	Version           int64           `db:"version"`
	CreatedAt         time.Time       `db:"created_at"`
}

const batchColumns = `id, seq, consignor_id, product_id, quantity_received, quantity_sold,
	quantity_remaining, fee_kind, fee_rate, fee_amount_per_unit, received_at, expires_at,
	status, version, created_at`

func (r batchRow) toDomain() domain.ConsignmentBatch {
	b := domain.ConsignmentBatch{
		ID:                r.ID,
		Seq:               r.Seq,
		ConsignorID:       r.ConsignorID,
		ProductID:         r.ProductID,
		QuantityReceived:  r.QuantityReceived,
		QuantitySold:      r.QuantitySold,
		QuantityRemaining: r.QuantityRemaining,
		FeeModel: domain.FeeModel{
			Kind:          domain.FeeKind(r.FeeKind),
			Rate:          r.FeeRate,
			AmountPerUnit: r.FeeAmountPerUnit,
		},
		ReceivedAt: r.ReceivedAt.UTC(),
		Status:     domain.BatchStatus(r.Status),
		Version:    r.Version,
		CreatedAt:  r.CreatedAt.UTC(),
	}
	if r.ExpiresAt.Valid {
		at := r.ExpiresAt.Time.UTC()
		b.ExpiresAt = &at
	}
	return b
}

type movementRow struct {
	Seq           int64               `db:"seq"`
	ID            string              `db:"id"`
	ProductID     string              `db:"product_id"`
	Kind          string              `db:"kind"`
	Quantity      int64               `db:"quantity"`
	UnitCost      decimal.NullDecimal `db:"unit_cost"`
	BatchID       sql.NullString      `db:"batch_id"`
	ReferenceType string              `db:"reference_type"`
	ReferenceID   string              `db:"reference_id"`
	OccurredAt    time.Time           `db:"occurred_at"`
	RecordedAt    time.Time           `db:"recorded_at"`
}

const movementColumns = `seq, id, product_id, kind, quantity, unit_cost, batch_id,
	reference_type, reference_id, occurred_at, recorded_at`

func (r movementRow) toDomain() domain.StockMovement {
	return domain.StockMovement{
		ID:            r.ID,
		Seq:           r.Seq,
		ProductID:     r.ProductID,
		Kind:          domain.MovementKind(r.Kind),
		Quantity:      r.Quantity,
		UnitCost:      nullableDecimal(r.UnitCost),
		BatchID:       r.BatchID.String,
		ReferenceType: domain.ReferenceType(r.ReferenceType),
		ReferenceID:   r.ReferenceID,
		OccurredAt:    r.OccurredAt.UTC(),
		RecordedAt:    r.RecordedAt.UTC(),
	}
}

// lineSet stores transaction lines, allocations included, as one JSONB column.
type lineSet []domain.TransactionLine

func (l lineSet) Value() (driver.Value, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]domain.TransactionLine(l))
}

func (l *lineSet) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*l = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("lineSet: unsupported source %T", src)
	}
	var lines []domain.TransactionLine
	if err := json.Unmarshal(raw, &lines); err != nil {
		return err
	}
	if len(lines) == 0 {
		lines = nil
	}
	*l = lines
	return nil
}

type transactionRow struct {
	ID             string          `db:"id"`
	Type           string          `db:"type"`
	IdempotencyKey sql.NullString  `db:"idempotency_key"`
	PaymentMethod  string          `db:"payment_method"`
	Amount         decimal.Decimal `db:"amount"`
	Note           string          `db:"note"`
	ActorUsername  string          `db:"actor_username"`
	OccurredAt     time.Time       `db:"occurred_at"`
	CreatedAt      time.Time       `db:"created_at"`
	Lines          lineSet         `db:"lines"`
}

const transactionColumns = `id, type, idempotency_key, payment_method, amount, note,
	actor_username, occurred_at, created_at, lines`

func (r transactionRow) toDomain() domain.Transaction {
	return domain.Transaction{
		ID:             r.ID,
		Type:           domain.TransactionType(r.Type),
		IdempotencyKey: r.IdempotencyKey.String,
		PaymentMethod:  r.PaymentMethod,
		Amount:         r.Amount,
		Note:           r.Note,
		ActorUsername:  r.ActorUsername,
		OccurredAt:     r.OccurredAt.UTC(),
		CreatedAt:      r.CreatedAt.UTC(),
		Lines:          []domain.TransactionLine(r.Lines),
	}
}

// reader serves the Reader side from either a snapshot or a write transaction.
type reader struct {
	q sqlx.QueryerContext
}

func (r reader) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	var row productRow
	err := sqlx.GetContext(ctx, r.q, &row, `SELECT `+productColumns+` FROM products WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", store.ErrProductNotFound, id)
		}
		return nil, err
	}
	p := row.toDomain()
	return &p, nil
}

func (r reader) GetProductBySKU(ctx context.Context, sku string) (*domain.Product, error) {
	var row productRow
	err := sqlx.GetContext(ctx, r.q, &row, `SELECT `+productColumns+` FROM products WHERE sku = $1`, sku)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: sku %s", store.ErrProductNotFound, sku)
		}
		return nil, err
	}
	p := row.toDomain()
	return &p, nil
}

func (r reader) ListProducts(ctx context.Context) ([]domain.Product, error) {
	var rows []productRow
	if err := sqlx.SelectContext(ctx, r.q, &rows, `SELECT `+productColumns+` FROM products ORDER BY name, id`); err != nil {
		return nil, err
	}
	products := make([]domain.Product, 0, len(rows))
	for _, row := range rows {
		products = append(products, row.toDomain())
	}
	return products, nil
}

func (r reader) GetBatch(ctx context.Context, id string) (*domain.ConsignmentBatch, error) {
	var row batchRow
	err := sqlx.GetContext(ctx, r.q, &row, `SELECT `+batchColumns+` FROM consignment_batches WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	b := row.toDomain()
	return &b, nil
}

func (r reader) ListBatches(ctx context.Context, productID string, statuses ...domain.BatchStatus) ([]domain.ConsignmentBatch, error) {
	wanted := make([]string, 0, len(statuses))
	for _, st := range statuses {
		wanted = append(wanted, string(st))
	}
	var rows []batchRow
	err := sqlx.SelectContext(ctx, r.q, &rows, `
		SELECT `+batchColumns+`
		FROM consignment_batches
		WHERE ($1::text = '' OR product_id = $1)
		  AND (cardinality($2::text[]) = 0 OR status = ANY($2::text[]))
		ORDER BY received_at, seq, id
	`, productID, wanted)
	if err != nil {
		return nil, err
	}
	return batchesFromRows(rows), nil
}

func (r reader) ListMovements(ctx context.Context, productID string, from time.Time, to time.Time) ([]domain.StockMovement, error) {
	var rows []movementRow
	err := sqlx.SelectContext(ctx, r.q, &rows, `
		SELECT `+movementColumns+`
		FROM stock_movements
		WHERE ($1::text = '' OR product_id = $1)
		  AND ($2::timestamptz IS NULL OR occurred_at >= $2)
		  AND ($3::timestamptz IS NULL OR occurred_at < $3)
		ORDER BY seq
	`, productID, nullTime(from), nullTime(to))
	if err != nil {
		return nil, err
	}
	movements := make([]domain.StockMovement, 0, len(rows))
	for _, row := range rows {
		movements = append(movements, row.toDomain())
	}
	return movements, nil
}

func (r reader) FindTransactionByID(ctx context.Context, id string) (*domain.Transaction, error) {
	return r.findTransaction(ctx, "id", id)
}

func (r reader) FindTransactionByIdempotency(ctx context.Context, key string) (*domain.Transaction, error) {
	return r.findTransaction(ctx, "idempotency_key", key)
}

func (r reader) findTransaction(ctx context.Context, column string, value string) (*domain.Transaction, error) {
	if value == "" {
		return nil, store.ErrNotFound
	}
	var row transactionRow
	err := sqlx.GetContext(ctx, r.q, &row, `SELECT `+transactionColumns+` FROM transactions WHERE `+column+` = $1`, value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	t := row.toDomain()
	return &t, nil
}

func (r reader) ListTransactions(ctx context.Context, from time.Time, to time.Time) ([]domain.Transaction, error) {
	var rows []transactionRow
	err := sqlx.SelectContext(ctx, r.q, &rows, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE ($1::timestamptz IS NULL OR occurred_at >= $1)
		  AND ($2::timestamptz IS NULL OR occurred_at < $2)
		ORDER BY occurred_at, created_at, id
	`, nullTime(from), nullTime(to))
	if err != nil {
		return nil, err
	}
	txs := make([]domain.Transaction, 0, len(rows))
	for _, row := range rows {
		txs = append(txs, row.toDomain())
	}
	return txs, nil
}

type pgTx struct {
	reader
	tx *sqlx.Tx
}

func (t *pgTx) LockProducts(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	var rows []productRow
	err := sqlx.SelectContext(ctx, t.tx, &rows, `
		SELECT `+productColumns+`
		FROM products
		WHERE id = ANY($1)
		ORDER BY id
		FOR UPDATE
	`, sorted)
	if err != nil {
		return nil, err
	}

	locked := make(map[string]domain.Product, len(rows))
	for _, row := range rows {
		locked[row.ID] = row.toDomain()
	}
	for _, id := range sorted {
		if _, ok := locked[id]; !ok {
			return nil, fmt.Errorf("%w: %s", store.ErrProductNotFound, id)
		}
	}
	return locked, nil
}

func (t *pgTx) CreateProduct(ctx context.Context, p domain.Product) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO products (id, sku, name, ownership_type, unit_cost, average_cost, sell_price,
			stock_on_hand, reorder_threshold, version, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,0,now(),now())
	`, p.ID, p.SKU, p.Name, string(p.OwnershipType), nullDecimal(p.UnitCost), nullDecimal(p.AverageCost),
		p.SellPrice, p.StockOnHand, p.ReorderThreshold)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: product %s or sku %s already exists", store.ErrInvalidTransaction, p.ID, p.SKU)
		}
		return err
	}
	return nil
}

func (t *pgTx) UpdateProduct(ctx context.Context, p domain.Product) error {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE products
		SET name = $3, unit_cost = $4, average_cost = $5, sell_price = $6,
			stock_on_hand = $7, reorder_threshold = $8, updated_at = now(), version = version + 1
		WHERE id = $1 AND version = $2
	`, p.ID, p.Version, p.Name, nullDecimal(p.UnitCost), nullDecimal(p.AverageCost), p.SellPrice,
		p.StockOnHand, p.ReorderThreshold)
	if err != nil {
		return err
	}
	return expectOneRow(result, "product", p.ID)
}

func (t *pgTx) LockBatches(ctx context.Context, productID string) ([]domain.ConsignmentBatch, error) {
	var rows []batchRow
	err := sqlx.SelectContext(ctx, t.tx, &rows, `
		SELECT `+batchColumns+`
		FROM consignment_batches
		WHERE product_id = $1 AND status <> 'DEPLETED' AND quantity_remaining > 0
		ORDER BY received_at, seq, id
		FOR UPDATE
	`, productID)
	if err != nil {
		return nil, err
	}
	return batchesFromRows(rows), nil
}

func (t *pgTx) CreateBatch(ctx context.Context, b domain.ConsignmentBatch) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO consignment_batches (id, consignor_id, product_id, quantity_received, quantity_sold,
			quantity_remaining, fee_kind, fee_rate, fee_amount_per_unit, received_at, expires_at,
			status, version, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,0,now())
	`, b.ID, b.ConsignorID, b.ProductID, b.QuantityReceived, b.QuantitySold, b.QuantityRemaining,
		string(b.FeeModel.Kind), b.FeeModel.Rate, b.FeeModel.AmountPerUnit, b.ReceivedAt,
		nullTimePtr(b.ExpiresAt), string(b.Status))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: batch %s already exists", store.ErrInvalidTransaction, b.ID)
		}
		return err
	}
	return nil
}

func (t *pgTx) UpdateBatch(ctx context.Context, b domain.ConsignmentBatch) error {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE consignment_batches
		SET quantity_sold = $3, quantity_remaining = $4, status = $5, version = version + 1
		WHERE id = $1 AND version = $2
	`, b.ID, b.Version, b.QuantitySold, b.QuantityRemaining, string(b.Status))
	if err != nil {
		return err
	}
	return expectOneRow(result, "batch", b.ID)
}

func (t *pgTx) AppendMovement(ctx context.Context, m domain.StockMovement) error {
	var batchID any
	if m.BatchID != "" {
		batchID = m.BatchID
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO stock_movements (id, product_id, kind, quantity, unit_cost, batch_id,
			reference_type, reference_id, occurred_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, m.ID, m.ProductID, string(m.Kind), m.Quantity, nullDecimal(m.UnitCost), batchID,
		string(m.ReferenceType), m.ReferenceID, m.OccurredAt)
	return err
}

func (t *pgTx) CreateTransaction(ctx context.Context, tr domain.Transaction) error {
	var idem any
	if tr.IdempotencyKey != "" {
		idem = tr.IdempotencyKey
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO transactions (id, type, idempotency_key, payment_method, amount, note,
			actor_username, occurred_at, created_at, lines)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, tr.ID, string(tr.Type), idem, tr.PaymentMethod, tr.Amount, tr.Note, tr.ActorUsername,
		tr.OccurredAt, createdAt(tr.CreatedAt), lineSet(tr.Lines))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			if pgErr.ConstraintName == "transactions_idempotency_key_key" {
				return fmt.Errorf("%w: idempotency key %s", store.ErrConcurrentModification, tr.IdempotencyKey)
			}
			return fmt.Errorf("%w: transaction %s already exists", store.ErrInvalidTransaction, tr.ID)
		}
		return err
	}
	return nil
}

func batchesFromRows(rows []batchRow) []domain.ConsignmentBatch {
	batches := make([]domain.ConsignmentBatch, 0, len(rows))
	for _, row := range rows {
		batches = append(batches, row.toDomain())
	}
	return batches
}

func expectOneRow(result sql.Result, kind string, id string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected != 1 {
		return fmt.Errorf("%w: %s %s", store.ErrConcurrentModification, kind, id)
	}
	return nil
}

// mapError turns serialization failures and deadlocks into
// store.ErrConcurrentModification and leaves every other error untouched.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01":
			return fmt.Errorf("%w: %s", store.ErrConcurrentModification, pgErr.Message)
		}
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullableDecimal(v decimal.NullDecimal) *decimal.Decimal {
	if !v.Valid {
		return nil
	}
	d := v.Decimal
	return &d
}

func nullDecimal(v *decimal.Decimal) decimal.NullDecimal {
	if v == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *v, Valid: true}
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func createdAt(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
