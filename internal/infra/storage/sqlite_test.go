package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"options_go/internal/domain"
	"options_go/internal/event"
)

func setupTestDB(t *testing.T) *Storage {
	dbName := filepath.Join(t.TempDir(), "test.db")
	db, err := gorm.Open(sqlite.Open(dbName), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}

	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("failed to load location: %v", err)
	}
	s, err := newStorage(db, ny)
	if err != nil {
		t.Fatalf("failed to migrate test db: %v", err)
	}

	t.Cleanup(func() {
		s.Close()
	})

	return s
}

var spyCall = domain.Contract{
	Symbol:     "SPY",
	Right:      domain.RightCall,
	Expiry:     "20260105",
	Strike:     decimal.NewFromInt(450),
	Multiplier: 100,
}

func TestRecordOrder(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 5, 15, 0, 0, 0, time.UTC)

	o := domain.NewOrder("A1", domain.OrderRequest{
		Contract: spyCall,
		Side:     domain.SideBuy,
		Kind:     domain.OrderKindMarket,
		Quantity: 5,
	}, domain.RoleEntry, now)

	// 1. Create
	if err := s.RecordOrder(ctx, *o); err != nil {
		t.Fatalf("RecordOrder failed: %v", err)
	}

	// 2. Update
	o.ApplyStatus(domain.OrderStatus{OrderID: "A1", Status: domain.StatusFilled, FilledQty: 5, FillPrice: decimal.RequireFromString("1.25")}, now)
	if err := s.RecordOrder(ctx, *o); err != nil {
		t.Fatalf("RecordOrder update failed: %v", err)
	}

	fetched, err := s.GetOrder("A1")
	if err != nil {
		t.Fatalf("GetOrder failed: %v", err)
	}
	if fetched.State != string(domain.OrderStateFilled) || fetched.Filled != 5 {
		t.Errorf("Expected FILLED with 5, got %s with %d", fetched.State, fetched.Filled)
	}
	if !fetched.AvgFillPrice.Equal(decimal.RequireFromString("1.25")) {
		t.Errorf("Expected avg fill 1.25, got %s", fetched.AvgFillPrice)
	}
	if !fetched.Strike.Equal(decimal.NewFromInt(450)) {
		t.Errorf("Expected strike 450, got %s", fetched.Strike)
	}
}

func TestFillsAndRealizedPnL(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	// 20:30 New York on Jan 5 is already Jan 6 in UTC.
	day := time.Date(2026, 1, 6, 1, 30, 0, 0, time.UTC)

	fills := []domain.Fill{
		{OrderID: "B1", Contract: spyCall, Side: domain.SideBuy, Role: domain.RoleEntry, Quantity: 4, Price: decimal.RequireFromString("1.00"), At: day},
		{OrderID: "B1", Contract: spyCall, Side: domain.SideBuy, Role: domain.RoleEntry, Quantity: 6, Price: decimal.RequireFromString("1.50"), At: day.Add(time.Second)},
		{OrderID: "S1", Contract: spyCall, Side: domain.SideSell, Role: domain.RoleExit, Quantity: 9, Price: decimal.RequireFromString("2.00"), At: day.Add(time.Minute)},
		{OrderID: "P1", Contract: spyCall, Side: domain.SideSell, Role: domain.RoleStopLoss, Quantity: 1, Price: decimal.RequireFromString("1.00"), At: day.Add(2 * time.Minute)},
	}
	for _, f := range fills {
		if err := s.RecordFill(ctx, f); err != nil {
			t.Fatalf("RecordFill failed: %v", err)
		}
	}

	got, err := s.FillsOn("2026-01-05")
	if err != nil {
		t.Fatalf("FillsOn failed: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("Expected 4 fills on the exchange day, got %d", len(got))
	}
	if got[0].OrderID != "B1" || got[3].OrderID != "P1" {
		t.Errorf("Expected fills oldest first, got %s..%s", got[0].OrderID, got[3].OrderID)
	}

	// avg cost 1.30; (2.00-1.30)*9*100 + (1.00-1.30)*1*100 = 630 - 30
	pnl, err := s.RealizedPnL("2026-01-05")
	if err != nil {
		t.Fatalf("RealizedPnL failed: %v", err)
	}
	if !pnl.Equal(decimal.NewFromInt(600)) {
		t.Errorf("Expected realized 600, got %s", pnl)
	}
}

func TestSaveEvent(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		ev := &event.ConnectionEvent{Connected: i%2 == 1}
		ev.SetSeq(uint64(i))
		ev.Stamp()
		if err := s.SaveEvent(ctx, ev); err != nil {
			t.Fatalf("SaveEvent failed: %v", err)
		}
	}

	recs, err := s.RecentEvents(2)
	if err != nil {
		t.Fatalf("RecentEvents failed: %v", err)
	}
	if len(recs) != 2 || recs[0].Seq != 3 {
		t.Fatalf("Expected newest 2 events, got %+v", recs)
	}
	if recs[0].Type != string(event.TypeConnection) {
		t.Errorf("Expected CONNECTION, got %s", recs[0].Type)
	}
}

func TestConfigMap(t *testing.T) {
	s := setupTestDB(t)

	if err := s.SaveConfig("expiration.manual", "20260107"); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}
	if err := s.SaveConfig("expiration.manual", ""); err != nil {
		t.Fatalf("SaveConfig overwrite failed: %v", err)
	}

	m, err := s.LoadConfigMap()
	if err != nil {
		t.Fatalf("LoadConfigMap failed: %v", err)
	}
	if v, ok := m["expiration.manual"]; !ok || v != "" {
		t.Errorf("Expected overwritten empty value, got %q", v)
	}
}
