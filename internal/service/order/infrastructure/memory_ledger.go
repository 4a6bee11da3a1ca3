// internal/service/order/infrastructure/memory_ledger.go
package infrastructure

import (
	"context"
	"sync"

	"fulfillment/internal/service/order/domain"
)

// MemoryStockLedger 是进程内的 StockLedger 实现，检查与修改在同一把锁内完成。
type MemoryStockLedger struct {
	mu      sync.Mutex
	entries map[string]*domain.StockEntry
}

func NewMemoryStockLedger() *MemoryStockLedger {
	return &MemoryStockLedger{entries: make(map[string]*domain.StockEntry)}
}

func (l *MemoryStockLedger) TryReserve(ctx context.Context, productID string, amount int) (*domain.StockEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[productID]
	if !ok {
		return nil, domain.ErrProductNotFound
	}
	if entry.CountInStock < amount {
		return nil, domain.ErrInsufficientStock
	}
	entry.CountInStock -= amount
	entry.Selled += amount
	snapshot := *entry
	return &snapshot, nil
}

func (l *MemoryStockLedger) TryRelease(ctx context.Context, productID string, amount int) (*domain.StockEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[productID]
	if !ok {
		return nil, domain.ErrProductNotFound
	}
	if entry.Selled < amount {
		return nil, domain.ErrInsufficientCommitted
	}
	entry.Selled -= amount
	entry.CountInStock += amount
	snapshot := *entry
	return &snapshot, nil
}

func (l *MemoryStockLedger) SeedStock(ctx context.Context, entry domain.StockEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[entry.ProductID] = &entry
	return nil
}

func (l *MemoryStockLedger) GetStock(ctx context.Context, productID string) (*domain.StockEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.entries[productID]
	if !ok {
		return nil, domain.ErrProductNotFound
	}
	snapshot := *entry
	return &snapshot, nil
}
