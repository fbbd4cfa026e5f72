package services

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ffxiv-tools/marketboard-backend/internal/models"
	"github.com/ffxiv-tools/marketboard-backend/internal/servers"
	"github.com/ffxiv-tools/marketboard-backend/internal/storage"
)

type fetchCall struct {
	UniversalisID int
	World         string
}

// fakeSource is a scriptable MarketDataSource that records every call and
// tracks the peak number of in-flight fetches.
type fakeSource struct {
	mu    sync.Mutex
	calls []fetchCall

	inflight    atomic.Int32
	maxInflight atomic.Int32

	delay time.Duration
	fn    func(universalisID int, world string) (*MarketQuote, error)
}

func (f *fakeSource) Fetch(ctx context.Context, universalisID int, world string) (*MarketQuote, error) {
	cur := f.inflight.Add(1)
	defer f.inflight.Add(-1)
	for {
		max := f.maxInflight.Load()
		if cur <= max || f.maxInflight.CompareAndSwap(max, cur) {
			break
		}
	}

	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	f.calls = append(f.calls, fetchCall{UniversalisID: universalisID, World: world})
	fn := f.fn
	f.mu.Unlock()

	if fn != nil {
		return fn(universalisID, world)
	}
	return quoteWithPrice(100), nil
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func quoteWithPrice(price int) *MarketQuote {
	return &MarketQuote{
		PricePerUnit:   &price,
		SaleVelocity:   models.TradeVelocity{Overall: 1, NQ: 1, HQ: 1},
		AvgPrice:       models.TradeAverages{Overall: float64(price), NQ: float64(price), HQ: float64(price)},
		LastUploadTime: time.UnixMilli(1597591027779),
	}
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	if err := db.AutoMigrate(&models.Item{}); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}
	// Concurrent writes against one sqlite file trip SQLITE_BUSY; a single
	// connection serializes them
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("Failed to get underlying connection: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	return db
}

func newTestService(t *testing.T, source MarketDataSource, ttl time.Duration, concurrency int) (*ItemService, *storage.ItemStore) {
	t.Helper()
	store := storage.NewItemStore(newTestDB(t))
	set, err := servers.New(servers.DefaultDatacenters(), "Cerberus")
	if err != nil {
		t.Fatalf("Failed to build server set: %v", err)
	}
	spec, ok := models.SpecFor(models.CategoryPhantasmagoria)
	if !ok {
		t.Fatal("No spec for phantasmagoria")
	}
	return NewItemService(store, source, set, spec, ttl, concurrency), store
}

func mustCreateItem(t *testing.T, store *storage.ItemStore, name string, universalisID int, info models.MarketInfo) *models.Item {
	t.Helper()
	price := 20
	item := &models.Item{
		Category:       models.CategoryPhantasmagoria,
		Name:           name,
		UniversalisID:  universalisID,
		MarketInfo:     info,
		TomestonePrice: &price,
	}
	if err := store.Create(item); err != nil {
		t.Fatalf("Failed to create item %s: %v", name, err)
	}
	return item
}

func snapshotAgedBy(age time.Duration, price int) *models.PriceSnapshot {
	return &models.PriceSnapshot{
		Price:     &price,
		UpdatedAt: time.Now().Add(-age),
	}
}

func mustReload(t *testing.T, store *storage.ItemStore, name string) models.Item {
	t.Helper()
	items, err := store.FindByName(models.CategoryPhantasmagoria, name)
	if err != nil || len(items) != 1 {
		t.Fatalf("Failed to reload %s: err=%v matches=%d", name, err, len(items))
	}
	return items[0]
}

func TestGetItemsRefreshesOnlyStaleCells(t *testing.T) {
	source := &fakeSource{}
	svc, store := newTestService(t, source, 24*time.Hour, 4)

	// One cell just past the TTL, one just inside it
	mustCreateItem(t, store, "Stale Item", 100, models.MarketInfo{
		"Cerberus": snapshotAgedBy(24*time.Hour+time.Minute, 50),
	})
	mustCreateItem(t, store, "Fresh Item", 200, models.MarketInfo{
		"Cerberus": snapshotAgedBy(24*time.Hour-time.Minute, 60),
	})

	items, err := svc.GetItems(context.Background(), "Cerberus")
	if err != nil {
		t.Fatalf("GetItems failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("Expected 2 items, got %d", len(items))
	}

	if source.callCount() != 1 {
		t.Fatalf("Expected exactly 1 fetch, got %d", source.callCount())
	}
	source.mu.Lock()
	call := source.calls[0]
	source.mu.Unlock()
	if call.UniversalisID != 100 || call.World != "Cerberus" {
		t.Errorf("Refreshed the wrong cell: %+v", call)
	}

	reloaded := mustReload(t, store, "Stale Item")
	if *reloaded.MarketInfo["Cerberus"].Price != 100 {
		t.Error("Stale cell should hold the refreshed price")
	}
	reloaded = mustReload(t, store, "Fresh Item")
	if *reloaded.MarketInfo["Cerberus"].Price != 60 {
		t.Error("Fresh cell must not be rewritten")
	}
}

func TestGetItemsRefreshesStaleAndMissingCells(t *testing.T) {
	source := &fakeSource{}
	svc, store := newTestService(t, source, 24*time.Hour, 4)

	// Cerberus is 25 hours old, Moogle has never been fetched
	mustCreateItem(t, store, "Multifaceted Alumen", 27830, models.MarketInfo{
		"Cerberus": snapshotAgedBy(25*time.Hour, 50),
	})

	items, err := svc.GetItems(context.Background(), "Cerberus", "Moogle")
	if err != nil {
		t.Fatalf("GetItems failed: %v", err)
	}
	if source.callCount() != 2 {
		t.Fatalf("Expected 2 fetches, got %d", source.callCount())
	}

	info := items[0].MarketInfo
	if info["Cerberus"] == nil || info["Moogle"] == nil {
		t.Fatalf("Both worlds should be populated, got %v", info)
	}
	if *info["Cerberus"].Price != 100 || *info["Moogle"].Price != 100 {
		t.Error("Both cells should hold refreshed prices")
	}
}

func TestGetItemsDefaultsToDefaultWorld(t *testing.T) {
	source := &fakeSource{}
	svc, store := newTestService(t, source, 24*time.Hour, 4)
	mustCreateItem(t, store, "Tempest Adhesive", 27935, nil)

	if _, err := svc.GetItems(context.Background()); err != nil {
		t.Fatalf("GetItems failed: %v", err)
	}

	if source.callCount() != 1 {
		t.Fatalf("Expected 1 fetch, got %d", source.callCount())
	}
	source.mu.Lock()
	world := source.calls[0].World
	source.mu.Unlock()
	if world != "Cerberus" {
		t.Errorf("Empty world list should refresh the default world, got %s", world)
	}
}

func TestGetItemsInvalidWorldFailsBeforeAnyWork(t *testing.T) {
	source := &fakeSource{}
	svc, store := newTestService(t, source, 24*time.Hour, 4)
	mustCreateItem(t, store, "Stale Item", 100, nil)

	_, err := svc.GetItems(context.Background(), "NotAServer")
	if !models.IsInvalidArgument(err) {
		t.Fatalf("Expected InvalidArgumentError, got %v", err)
	}
	if source.callCount() != 0 {
		t.Errorf("Expected zero fetches, got %d", source.callCount())
	}
}

func TestGetItemsSurvivesFailingCells(t *testing.T) {
	source := &fakeSource{
		fn: func(universalisID int, world string) (*MarketQuote, error) {
			if universalisID == 100 {
				return nil, errors.New("connection reset")
			}
			return quoteWithPrice(400), nil
		},
	}
	svc, store := newTestService(t, source, 24*time.Hour, 4)

	mustCreateItem(t, store, "Flaky Item", 100, models.MarketInfo{
		"Cerberus": snapshotAgedBy(48*time.Hour, 50),
	})
	mustCreateItem(t, store, "Healthy Item", 200, models.MarketInfo{
		"Cerberus": snapshotAgedBy(48*time.Hour, 60),
	})

	items, err := svc.GetItems(context.Background(), "Cerberus")
	if err != nil {
		t.Fatalf("A failing cell must not abort the read: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("Expected 2 items, got %d", len(items))
	}

	byName := map[string]models.Item{}
	for _, item := range items {
		byName[item.Name] = item
	}
	if *byName["Flaky Item"].MarketInfo["Cerberus"].Price != 50 {
		t.Error("Failed cell should serve its last-known price")
	}
	if *byName["Healthy Item"].MarketInfo["Cerberus"].Price != 400 {
		t.Error("Healthy cell should be refreshed")
	}
}

func TestGetItemsProjection(t *testing.T) {
	source := &fakeSource{}
	svc, store := newTestService(t, source, 24*time.Hour, 4)

	mustCreateItem(t, store, "Multifaceted Alumen", 27830, models.MarketInfo{
		"Cerberus": snapshotAgedBy(time.Hour, 50),
		"Moogle":   snapshotAgedBy(time.Hour, 70),
	})

	items, err := svc.GetItems(context.Background(), "Cerberus")
	if err != nil {
		t.Fatalf("GetItems failed: %v", err)
	}

	item := items[0]
	if _, ok := item.MarketInfo["Cerberus"]; !ok {
		t.Error("Requested world missing from projection")
	}
	if _, ok := item.MarketInfo["Moogle"]; ok {
		t.Error("Unrequested world leaked into projection")
	}
	if item.Name == "" || item.UniversalisID == 0 {
		t.Error("Identity fields missing from projection")
	}
	if item.TomestonePrice == nil {
		t.Error("Category field missing from projection")
	}
}

func TestUpdateItemSkipsNotFoundWorlds(t *testing.T) {
	source := &fakeSource{
		fn: func(universalisID int, world string) (*MarketQuote, error) {
			if world == "Moogle" {
				return nil, &models.ItemNotFoundError{UniversalisID: universalisID}
			}
			return quoteWithPrice(500), nil
		},
	}
	svc, store := newTestService(t, source, 24*time.Hour, 4)
	item := mustCreateItem(t, store, "Multifaceted Alumen", 27830, models.MarketInfo{
		"Cerberus": snapshotAgedBy(48*time.Hour, 50),
	})

	updated, err := svc.UpdateItem(context.Background(), item, "Cerberus", "Moogle")
	if err != nil {
		t.Fatalf("ItemNotFound on one world must not fail the update: %v", err)
	}

	if *updated.MarketInfo["Cerberus"].Price != 500 {
		t.Error("Other worlds should still be updated")
	}
	if _, ok := updated.MarketInfo["Moogle"]; ok {
		t.Error("Not-found world must keep its prior (absent) state")
	}

	reloaded := mustReload(t, store, "Multifaceted Alumen")
	if *reloaded.MarketInfo["Cerberus"].Price != 500 {
		t.Error("Update should be persisted")
	}
}

func TestUpdateItemHardFailureWritesNothing(t *testing.T) {
	source := &fakeSource{
		fn: func(universalisID int, world string) (*MarketQuote, error) {
			if world == "Moogle" {
				return nil, &models.MalformedResponseError{UniversalisID: universalisID, Err: errors.New("bad json")}
			}
			return quoteWithPrice(500), nil
		},
	}
	svc, store := newTestService(t, source, 24*time.Hour, 4)
	item := mustCreateItem(t, store, "Multifaceted Alumen", 27830, models.MarketInfo{
		"Cerberus": snapshotAgedBy(48*time.Hour, 50),
	})

	if _, err := svc.UpdateItem(context.Background(), item, "Cerberus", "Moogle"); err == nil {
		t.Fatal("Expected a hard failure to propagate")
	}

	// Nothing may be committed, not even the world that succeeded
	reloaded := mustReload(t, store, "Multifaceted Alumen")
	if *reloaded.MarketInfo["Cerberus"].Price != 50 {
		t.Error("A hard failure must abort the entire write")
	}
}

func TestUpdateItemRejectsUnsavedItems(t *testing.T) {
	source := &fakeSource{}
	svc, _ := newTestService(t, source, 24*time.Hour, 4)

	price := 20
	item := &models.Item{
		Category:       models.CategoryPhantasmagoria,
		Name:           "Never Saved",
		UniversalisID:  1,
		TomestonePrice: &price,
	}

	_, err := svc.UpdateItem(context.Background(), item, "Cerberus")
	if !models.IsInvalidArgument(err) {
		t.Fatalf("Expected InvalidArgumentError, got %v", err)
	}
	if source.callCount() != 0 {
		t.Errorf("Expected zero fetches for an unsaved item, got %d", source.callCount())
	}
}

func TestUpdateItemRejectsInvalidWorld(t *testing.T) {
	source := &fakeSource{}
	svc, store := newTestService(t, source, 24*time.Hour, 4)
	item := mustCreateItem(t, store, "Multifaceted Alumen", 27830, nil)

	_, err := svc.UpdateItem(context.Background(), item, "NotAServer")
	if !models.IsInvalidArgument(err) {
		t.Fatalf("Expected InvalidArgumentError, got %v", err)
	}
	if source.callCount() != 0 {
		t.Errorf("Expected zero fetches, got %d", source.callCount())
	}
}

func TestAddItemIsIdempotent(t *testing.T) {
	source := &fakeSource{}
	svc, store := newTestService(t, source, 24*time.Hour, 4)

	price := 20
	attrs := models.CatalogAttributes{UniversalisID: 27830, TomestonePrice: &price}

	res, err := svc.AddItem(context.Background(), "Multifaceted Alumen", attrs)
	if err != nil {
		t.Fatalf("First AddItem failed: %v", err)
	}
	if res != AddResultAdded {
		t.Errorf("First add = %s, want %s", res, AddResultAdded)
	}

	res, err = svc.AddItem(context.Background(), "Multifaceted Alumen", attrs)
	if err != nil {
		t.Fatalf("Second AddItem failed: %v", err)
	}
	if res != AddResultAlreadyPresent {
		t.Errorf("Second add = %s, want %s", res, AddResultAlreadyPresent)
	}

	count, err := store.Count(models.CategoryPhantasmagoria)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected exactly 1 document, got %d", count)
	}
	if source.callCount() != 1 {
		t.Errorf("The no-op branch must not fetch, got %d calls", source.callCount())
	}
}

func TestAddItemSeedsDefaultWorld(t *testing.T) {
	source := &fakeSource{}
	svc, store := newTestService(t, source, 24*time.Hour, 4)

	price := 20
	before := time.Now()
	if _, err := svc.AddItem(context.Background(), "Multifaceted Alumen", models.CatalogAttributes{
		UniversalisID: 27830, TomestonePrice: &price,
	}); err != nil {
		t.Fatalf("AddItem failed: %v", err)
	}

	item := mustReload(t, store, "Multifaceted Alumen")
	snap := item.MarketInfo["Cerberus"]
	if snap == nil {
		t.Fatal("AddItem should seed the default world's cell")
	}
	if snap.UpdatedAt.Before(before) || snap.UpdatedAt.After(time.Now()) {
		t.Error("Seeded cell must be stamped with the local refresh time")
	}
}

func TestAddItemFetchFailureIsHard(t *testing.T) {
	source := &fakeSource{
		fn: func(universalisID int, world string) (*MarketQuote, error) {
			return nil, &models.ItemNotFoundError{UniversalisID: universalisID}
		},
	}
	svc, store := newTestService(t, source, 24*time.Hour, 4)

	price := 20
	_, err := svc.AddItem(context.Background(), "Bad Id Item", models.CatalogAttributes{
		UniversalisID: 999999, TomestonePrice: &price,
	})
	if !models.IsItemNotFound(err) {
		t.Fatalf("Expected the not-found error to escape at seed time, got %v", err)
	}

	count, _ := store.Count(models.CategoryPhantasmagoria)
	if count != 0 {
		t.Error("An item that cannot be priced must not be created")
	}
}

func TestAddItemValidatesAttributes(t *testing.T) {
	source := &fakeSource{}
	svc, _ := newTestService(t, source, 24*time.Hour, 4)

	price := 20
	if _, err := svc.AddItem(context.Background(), "No Id", models.CatalogAttributes{TomestonePrice: &price}); !models.IsInvalidArgument(err) {
		t.Errorf("Expected InvalidArgumentError for missing universalis id, got %v", err)
	}
	if _, err := svc.AddItem(context.Background(), "No Tomestone", models.CatalogAttributes{UniversalisID: 5}); !models.IsInvalidArgument(err) {
		t.Errorf("Expected InvalidArgumentError for missing category attributes, got %v", err)
	}
	if source.callCount() != 0 {
		t.Errorf("Validation failures must not fetch, got %d calls", source.callCount())
	}
}

func TestUpdateAllItemsIgnoresStaleness(t *testing.T) {
	source := &fakeSource{}
	svc, store := newTestService(t, source, 24*time.Hour, 4)

	mustCreateItem(t, store, "Fresh One", 100, models.MarketInfo{
		"Moogle": snapshotAgedBy(time.Minute, 50),
	})
	mustCreateItem(t, store, "Fresh Two", 200, models.MarketInfo{
		"Moogle": snapshotAgedBy(time.Minute, 60),
	})

	items, err := svc.UpdateAllItems(context.Background(), "Moogle")
	if err != nil {
		t.Fatalf("UpdateAllItems failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("Expected 2 items, got %d", len(items))
	}
	if source.callCount() != 2 {
		t.Errorf("Bulk update must refresh fresh cells too, got %d fetches", source.callCount())
	}
	for _, item := range items {
		if *item.MarketInfo["Moogle"].Price != 100 {
			t.Errorf("Item %s not refreshed", item.Name)
		}
	}
}

func TestRefreshConcurrencyIsCapped(t *testing.T) {
	source := &fakeSource{delay: 20 * time.Millisecond}
	svc, store := newTestService(t, source, 24*time.Hour, 3)

	for i := 0; i < 12; i++ {
		mustCreateItem(t, store, fmtItemName(i), 1000+i, nil)
	}

	if _, err := svc.GetItems(context.Background(), "Cerberus"); err != nil {
		t.Fatalf("GetItems failed: %v", err)
	}

	if source.callCount() != 12 {
		t.Errorf("Expected 12 fetches, got %d", source.callCount())
	}
	if max := source.maxInflight.Load(); max > 3 {
		t.Errorf("In-flight fetches peaked at %d, cap is 3", max)
	}
}

func fmtItemName(i int) string {
	return "Load Test Item " + string(rune('A'+i))
}
