package orders

import (
	"github.com/wbobeirne/run-lnd-store/internal/types"
)

// StockLedger derives per-size availability from the live order set. It is
// the sole authority on sellability and deliberately caches nothing: a
// reservation made between two queries must show up in the second.
type StockLedger struct {
	db       *Database
	ceilings map[types.Size]int
}

func NewStockLedger(db *Database, ceilings map[types.Size]int) *StockLedger {
	return &StockLedger{db: db, ceilings: ceilings}
}

// Ceiling returns the configured stock ceiling for a size.
func (l *StockLedger) Ceiling(size types.Size) int {
	return l.ceilings[size]
}

// GetStock computes availability for every size. Each active order takes
// one unit off its size; an active-but-unpaid order additionally marks the
// size pending. Available never goes below zero even if a race oversold.
func (l *StockLedger) GetStock() (map[types.Size]*types.StockInfo, error) {
	stock := make(map[types.Size]*types.StockInfo, len(types.Sizes))
	for _, size := range types.Sizes {
		stock[size] = &types.StockInfo{
			Size:      size,
			Label:     types.SizeLabels[size],
			Total:     l.ceilings[size],
			Available: l.ceilings[size],
		}
	}

	orders, err := l.db.GetActiveOrders()
	if err != nil {
		return nil, err
	}
	for _, order := range orders {
		info, ok := stock[order.Size]
		if !ok {
			continue
		}
		if info.Available > 0 {
			info.Available--
		}
		info.Pending = info.Pending || !order.HasPaid
	}

	return stock, nil
}
