package infrastructure

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"fulfillment/internal/service/order/domain"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// openTestDB 打开一个内存 SQLite 库；只保留一个连接，否则每个连接各自是一个空库。
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := db.AutoMigrate(&ProductStockModel{}, &OrderModel{}); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	return db
}

func TestGormStockLedger_ReserveAndReleaseGuards(t *testing.T) {
	ctx := context.Background()
	ledger := NewGormStockLedger(openTestDB(t))
	if err := ledger.SeedStock(ctx, domain.StockEntry{ProductID: "A", CountInStock: 10}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	entry, err := ledger.TryReserve(ctx, "A", 4)
	if err != nil {
		t.Fatalf("Expected reservation to succeed, got: %v", err)
	}
	if entry.CountInStock != 6 || entry.Selled != 4 {
		t.Errorf("Expected 6/4 after reserve, got %d/%d", entry.CountInStock, entry.Selled)
	}

	if _, err := ledger.TryReserve(ctx, "A", 7); !errors.Is(err, domain.ErrInsufficientStock) {
		t.Errorf("Expected ErrInsufficientStock, got: %v", err)
	}
	if _, err := ledger.TryRelease(ctx, "A", 5); !errors.Is(err, domain.ErrInsufficientCommitted) {
		t.Errorf("Expected ErrInsufficientCommitted, got: %v", err)
	}
	if _, err := ledger.TryReserve(ctx, "missing", 1); !errors.Is(err, domain.ErrProductNotFound) {
		t.Errorf("Expected ErrProductNotFound, got: %v", err)
	}
	if _, err := ledger.TryRelease(ctx, "missing", 1); !errors.Is(err, domain.ErrProductNotFound) {
		t.Errorf("Expected ErrProductNotFound on release, got: %v", err)
	}

	entry, err = ledger.TryRelease(ctx, "A", 4)
	if err != nil {
		t.Fatalf("Expected release to succeed, got: %v", err)
	}
	if entry.CountInStock != 10 || entry.Selled != 0 {
		t.Errorf("Expected 10/0 after release, got %d/%d", entry.CountInStock, entry.Selled)
	}
}

func TestGormStockLedger_ConcurrentReservesNeverOversell(t *testing.T) {
	ctx := context.Background()
	ledger := NewGormStockLedger(openTestDB(t))
	ledger.SeedStock(ctx, domain.StockEntry{ProductID: "A", CountInStock: 10})

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ledger.TryReserve(ctx, "A", 1)
			switch {
			case err == nil:
				mu.Lock()
				successes++
				mu.Unlock()
			case !errors.Is(err, domain.ErrInsufficientStock):
				t.Errorf("Unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if successes != 10 {
		t.Errorf("Expected exactly 10 reservations, got %d", successes)
	}
	entry, err := ledger.GetStock(ctx, "A")
	if err != nil {
		t.Fatalf("get stock: %v", err)
	}
	if entry.CountInStock != 0 || entry.Selled != 10 {
		t.Errorf("Expected 0/10, got %d/%d", entry.CountInStock, entry.Selled)
	}
}

func TestGormStockLedger_SeedOverwrites(t *testing.T) {
	ctx := context.Background()
	ledger := NewGormStockLedger(openTestDB(t))
	ledger.SeedStock(ctx, domain.StockEntry{ProductID: "A", CountInStock: 10})
	if err := ledger.SeedStock(ctx, domain.StockEntry{ProductID: "A", CountInStock: 3, Selled: 2}); err != nil {
		t.Fatalf("Expected re-seed to succeed, got: %v", err)
	}
	entry, _ := ledger.GetStock(ctx, "A")
	if entry.CountInStock != 3 || entry.Selled != 2 {
		t.Errorf("Expected 3/2 after re-seed, got %d/%d", entry.CountInStock, entry.Selled)
	}
	if _, err := ledger.GetStock(ctx, "missing"); !errors.Is(err, domain.ErrProductNotFound) {
		t.Errorf("Expected ErrProductNotFound, got: %v", err)
	}
}

func TestGormOrderRepository_RecencyAndDelete(t *testing.T) {
	ctx := context.Background()
	repo := NewGormOrderRepository(openTestDB(t))
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"o-1", "o-2", "o-3"} {
		user := "u1"
		if id == "o-2" {
			user = "u2"
		}
		order := &domain.Order{
			ID:        id,
			UserID:    user,
			Items:     []domain.OrderItem{{ProductID: "A", Amount: i + 1}},
			State:     domain.StateCommitted,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
			UpdatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := repo.Create(ctx, order); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}

	all, err := repo.FindAll(ctx)
	if err != nil {
		t.Fatalf("find all: %v", err)
	}
	if len(all) != 3 || all[0].ID != "o-3" || all[2].ID != "o-1" {
		t.Errorf("Expected newest first, got %v", orderIDs(all))
	}
	mine, _ := repo.FindByUser(ctx, "u1")
	if len(mine) != 2 || mine[0].ID != "o-3" {
		t.Errorf("Expected u1 orders newest first, got %v", orderIDs(mine))
	}

	got, err := repo.FindByID(ctx, "o-2")
	if err != nil {
		t.Fatalf("find by id: %v", err)
	}
	if len(got.Items) != 1 || got.Items[0].Amount != 2 {
		t.Errorf("Expected stored items to round-trip, got %+v", got.Items)
	}

	if err := repo.DeleteByID(ctx, "o-2"); err != nil {
		t.Fatalf("Expected delete to succeed, got: %v", err)
	}
	if err := repo.DeleteByID(ctx, "o-2"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Errorf("Expected ErrOrderNotFound on second delete, got: %v", err)
	}
	if _, err := repo.FindByID(ctx, "o-2"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Errorf("Expected ErrOrderNotFound after delete, got: %v", err)
	}
}

func orderIDs(orders []*domain.Order) []string {
	ids := make([]string, 0, len(orders))
	for _, o := range orders {
		ids = append(ids, o.ID)
	}
	return ids
}
