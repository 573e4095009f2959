package ledger

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/shopspring/decimal"

	"koperasi/backend/internal/domain"
	"koperasi/backend/internal/store"
	"koperasi/backend/internal/xid"
)

// Writer is the slice of a unit of work the ledger appends through.
type Writer interface {
	AppendMovement(ctx context.Context, movement domain.StockMovement) error
}

// Querier is the slice of a store.Reader the ledger reads through.
type Querier interface {
	ListMovements(ctx context.Context, productID string, from time.Time, to time.Time) ([]domain.StockMovement, error)
}

type Reference struct {
	Type domain.ReferenceType
	ID   string
}

type Entry struct {
	ProductID  string
	Kind       domain.MovementKind
	Quantity   int64
	UnitCost   *decimal.Decimal
	BatchID    string
	Reference  Reference
	OccurredAt time.Time
}

// Ledger appends stock movements. It checks the entry itself, never the
// resulting stock level; callers guard against overselling before recording.
type Ledger struct {
	now func() time.Time
}

func New() *Ledger {
	return &Ledger{now: func() time.Time { return time.Now().UTC() }}
}

func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

func (l *Ledger) Record(ctx context.Context, w Writer, e Entry) (domain.StockMovement, error) {
	if err := validate(e); err != nil {
		return domain.StockMovement{}, err
	}

	occurredAt := e.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = l.now()
	}

	movement := domain.StockMovement{
		ID:            xid.New("mov"),
		ProductID:     e.ProductID,
		Kind:          e.Kind,
		Quantity:      e.Quantity,
		BatchID:       e.BatchID,
		ReferenceType: e.Reference.Type,
		ReferenceID:   e.Reference.ID,
		OccurredAt:    occurredAt.UTC(),
	}
	if e.UnitCost != nil {
		movement.UnitCost = domain.DecimalPtr(*e.UnitCost)
	}

	if err := w.AppendMovement(ctx, movement); err != nil {
		return domain.StockMovement{}, fmt.Errorf("append movement: %w", err)
	}
	return movement, nil
}

func validate(e Entry) error {
	if e.ProductID == "" {
		return fmt.Errorf("%w: movement without product", store.ErrInvalidTransaction)
	}
	if e.Reference.Type == "" || e.Reference.ID == "" {
		return fmt.Errorf("%w: movement without reference", store.ErrInvalidTransaction)
	}
	if e.Quantity == 0 {
		return fmt.Errorf("%w: zero quantity for %s", store.ErrInvalidQuantity, e.ProductID)
	}

	switch e.Kind {
	case domain.MovementPurchaseIn, domain.MovementConsignmentIn:
		if e.Quantity < 0 {
			return fmt.Errorf("%w: %s must be positive, got %d", store.ErrInvalidQuantity, e.Kind, e.Quantity)
		}
	case domain.MovementSaleOut:
		if e.Quantity > 0 {
			return fmt.Errorf("%w: %s must be negative, got %d", store.ErrInvalidQuantity, e.Kind, e.Quantity)
		}
	case domain.MovementAdjustment:
	default:
		return fmt.Errorf("%w: unknown movement kind %q", store.ErrInvalidTransaction, e.Kind)
	}
	return nil
}

// EntriesFor loads the movements of productID in [from, to) in append order.
// Zero bounds are open.
func EntriesFor(ctx context.Context, q Querier, productID string, from time.Time, to time.Time) (Sequence, error) {
	movements, err := q.ListMovements(ctx, productID, from, to)
	if err != nil {
		return Sequence{}, err
	}
	return Sequence{entries: movements}, nil
}

// Sequence is a finite, restartable view over loaded movements.
type Sequence struct {
	entries []domain.StockMovement
}

func (s Sequence) All() iter.Seq[domain.StockMovement] {
	return func(yield func(domain.StockMovement) bool) {
		for _, m := range s.entries {
			if !yield(m) {
				return
			}
		}
	}
}

// Replay yields every movement together with the running balance after it.
func (s Sequence) Replay() iter.Seq2[domain.StockMovement, int64] {
	return func(yield func(domain.StockMovement, int64) bool) {
		var balance int64
		for _, m := range s.entries {
			balance += m.Quantity
			if !yield(m, balance) {
				return
			}
		}
	}
}

func (s Sequence) Len() int {
	return len(s.entries)
}

func (s Sequence) Balance() int64 {
	var balance int64
	for m := range s.All() {
		balance += m.Quantity
	}
	return balance
}

// BalanceByBatch sums movements per batch; entries without a batch are skipped.
func (s Sequence) BalanceByBatch() map[string]int64 {
	result := make(map[string]int64)
	for m := range s.All() {
		if m.BatchID == "" {
			continue
		}
		result[m.BatchID] += m.Quantity
	}
	return result
}

func (s Sequence) Entries() []domain.StockMovement {
	out := make([]domain.StockMovement, len(s.entries))
	copy(out, s.entries)
	return out
}
