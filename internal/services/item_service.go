package services

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/ffxiv-tools/marketboard-backend/internal/metrics"
	"github.com/ffxiv-tools/marketboard-backend/internal/models"
	"github.com/ffxiv-tools/marketboard-backend/internal/servers"
	"github.com/ffxiv-tools/marketboard-backend/internal/storage"
)

const (
	// DefaultPriceTTL is how old a price cell can be before a read
	// refreshes it
	DefaultPriceTTL = 24 * time.Hour

	defaultRefreshConcurrency = 8
)

// AddResult reports what AddItem did
type AddResult string

const (
	AddResultAdded          AddResult = "added"
	AddResultAlreadyPresent AddResult = "already_present"
)

// ItemService is the read-through price cache for one item category. A
// cell is one (item, world) pair; reads refresh exactly the cells that
// are stale and return the full collection.
//
// Known consistency gap: two concurrent reads that observe the same stale
// cell will both fetch and both write, last write wins. There is no
// optimistic concurrency token on items.
type ItemService struct {
	store   *storage.ItemStore
	source  MarketDataSource
	servers *servers.Set
	spec    models.CategorySpec
	ttl     time.Duration

	// Caps concurrent upstream fetches across all operations of this
	// service
	fetchSem *semaphore.Weighted
}

// NewItemService creates the price cache engine for one category. A ttl
// of zero uses DefaultPriceTTL; refreshConcurrency <= 0 uses the default
// cap.
func NewItemService(store *storage.ItemStore, source MarketDataSource, serverSet *servers.Set, spec models.CategorySpec, ttl time.Duration, refreshConcurrency int) *ItemService {
	if ttl <= 0 {
		ttl = DefaultPriceTTL
	}
	if refreshConcurrency <= 0 {
		refreshConcurrency = defaultRefreshConcurrency
	}

	return &ItemService{
		store:    store,
		source:   source,
		servers:  serverSet,
		spec:     spec,
		ttl:      ttl,
		fetchSem: semaphore.NewWeighted(int64(refreshConcurrency)),
	}
}

// Category returns the category this service tracks
func (s *ItemService) Category() models.Category {
	return s.spec.Category
}

// isFresh checks whether a cell's snapshot is within the staleness
// threshold. A nil snapshot (never fetched) is never fresh.
func (s *ItemService) isFresh(snap *models.PriceSnapshot) bool {
	if snap == nil {
		return false
	}
	return time.Since(snap.UpdatedAt) < s.ttl
}

// staleWorlds returns the requested worlds whose cells are absent or past
// the TTL for this item
func (s *ItemService) staleWorlds(item *models.Item, worlds []string) []string {
	if item.MarketInfo == nil {
		return worlds
	}
	var stale []string
	for _, world := range worlds {
		if !s.isFresh(item.MarketInfo[world]) {
			stale = append(stale, world)
		}
	}
	return stale
}

// fetchWorld calls the market data source under the service-wide
// concurrency cap
func (s *ItemService) fetchWorld(ctx context.Context, universalisID int, world string) (*MarketQuote, error) {
	if err := s.fetchSem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer s.fetchSem.Release(1)
	return s.source.Fetch(ctx, universalisID, world)
}

func snapshotFromQuote(quote *MarketQuote, now time.Time) *models.PriceSnapshot {
	return &models.PriceSnapshot{
		Price:          quote.PricePerUnit,
		SaleVelocity:   quote.SaleVelocity,
		AvgPrice:       quote.AvgPrice,
		LastUploadTime: quote.LastUploadTime,
		UpdatedAt:      now,
	}
}

// GetItems returns every item in the category with current-enough market
// info for the requested worlds, refreshing stale cells first. An empty
// world list means the default world.
//
// Refresh failures settle independently: an item whose refresh fails is
// logged and returned with its last-known (possibly stale) data, so one
// flaky upstream cell cannot abort a multi-item read. Invalid world names
// fail the whole call before any work happens.
func (s *ItemService) GetItems(ctx context.Context, worlds ...string) ([]models.Item, error) {
	worlds, err := s.servers.Validate(worlds)
	if err != nil {
		return nil, err
	}

	items, err := s.store.FindByCategory(s.spec.Category)
	if err != nil {
		return nil, fmt.Errorf("loading %s items: %w", s.spec.Category, err)
	}

	type worklistEntry struct {
		index  int
		worlds []string
	}
	var worklist []worklistEntry
	for i := range items {
		if stale := s.staleWorlds(&items[i], worlds); len(stale) > 0 {
			worklist = append(worklist, worklistEntry{index: i, worlds: stale})
			metrics.StaleCellsFound.Add(float64(len(stale)))
		}
	}

	if len(worklist) > 0 {
		start := time.Now()
		var wg sync.WaitGroup
		for _, entry := range worklist {
			wg.Add(1)
			go func(entry worklistEntry) {
				defer wg.Done()
				item := &items[entry.index]
				if _, err := s.UpdateItem(ctx, item, entry.worlds...); err != nil {
					log.Printf("Refresh failed for %s (worlds %v), serving last-known data: %v",
						item.Name, entry.worlds, err)
				}
			}(entry)
		}
		wg.Wait()
		metrics.RefreshBatchDuration.Observe(time.Since(start).Seconds())

		// Re-read the refreshed documents so the response reflects what was
		// actually committed, including writes from concurrent refreshes
		ids := make([]string, len(worklist))
		for i, entry := range worklist {
			ids[i] = items[entry.index].ID
		}
		refreshed, err := s.store.FindByIDs(ids)
		if err != nil {
			return nil, fmt.Errorf("reloading refreshed %s items: %w", s.spec.Category, err)
		}
		byID := make(map[string]models.Item, len(refreshed))
		for _, item := range refreshed {
			byID[item.ID] = item
		}
		for _, entry := range worklist {
			if item, ok := byID[items[entry.index].ID]; ok {
				items[entry.index] = item
			}
		}
	}

	projected := make([]models.Item, len(items))
	for i := range items {
		projected[i] = items[i].Projected(worlds, s.spec.Columns)
	}
	return projected, nil
}

// UpdateItem refreshes the item's market info for the given worlds (empty
// means the default world) and writes the item back exactly once.
//
// The item must already be persisted. Per-world fetches run concurrently;
// a world Universalis has no data for is logged and skipped so a bad id
// cannot poison the cache, while any other failure aborts the whole
// update with nothing written.
func (s *ItemService) UpdateItem(ctx context.Context, item *models.Item, worlds ...string) (*models.Item, error) {
	if item.IsNew() {
		return nil, models.NewInvalidArgument("item %q has not been persisted", item.Name)
	}
	worlds, err := s.servers.Validate(worlds)
	if err != nil {
		return nil, err
	}

	type worldResult struct {
		world string
		quote *MarketQuote
		err   error
	}
	results := make([]worldResult, len(worlds))

	var wg sync.WaitGroup
	for i, world := range worlds {
		wg.Add(1)
		go func(i int, world string) {
			defer wg.Done()
			quote, err := s.fetchWorld(ctx, item.UniversalisID, world)
			results[i] = worldResult{world: world, quote: quote, err: err}
		}(i, world)
	}
	wg.Wait()

	// Commit into a fresh map so a failed update never leaves the item
	// half-written
	next := item.MarketInfo.Clone()
	now := time.Now()
	for _, res := range results {
		if res.err != nil {
			if models.IsItemNotFound(res.err) {
				metrics.CellRefreshFailuresTotal.WithLabelValues("not_found").Inc()
				log.Printf("Universalis has no data for %s (id %d) on %s, keeping prior snapshot",
					item.Name, item.UniversalisID, res.world)
				continue
			}
			if models.IsMalformedResponse(res.err) {
				metrics.CellRefreshFailuresTotal.WithLabelValues("malformed").Inc()
			} else {
				metrics.CellRefreshFailuresTotal.WithLabelValues("network").Inc()
			}
			return nil, fmt.Errorf("refreshing %s on %s: %w", item.Name, res.world, res.err)
		}
		next[res.world] = snapshotFromQuote(res.quote, now)
		metrics.CellRefreshesTotal.Inc()
	}

	item.MarketInfo = next
	if err := s.store.Save(item); err != nil {
		return nil, fmt.Errorf("saving %s: %w", item.Name, err)
	}
	return item, nil
}

// AddItem creates the item if no item with its name exists in the
// category, fetching initial market info for the default world. An exact
// name match is a no-op. More than one match means the uniqueness
// invariant is broken and is reported as a data integrity failure.
func (s *ItemService) AddItem(ctx context.Context, name string, attrs models.CatalogAttributes) (AddResult, error) {
	existing, err := s.store.FindByName(s.spec.Category, name)
	if err != nil {
		return "", fmt.Errorf("looking up %q: %w", name, err)
	}
	if len(existing) > 1 {
		return "", &models.DataIntegrityError{
			Msg: fmt.Sprintf("searching for %q returned %d results", name, len(existing)),
		}
	}
	if len(existing) == 1 {
		return AddResultAlreadyPresent, nil
	}

	if name == "" {
		return "", models.NewInvalidArgument("item name is required")
	}
	if attrs.UniversalisID == 0 {
		return "", models.NewInvalidArgument("item %q has no universalis id", name)
	}

	item := &models.Item{
		Category:      s.spec.Category,
		Name:          name,
		UniversalisID: attrs.UniversalisID,
	}
	if err := s.spec.Populate(item, attrs); err != nil {
		return "", err
	}

	// Seed the default world's cell; a fetch failure here is hard, an
	// item we cannot price should not be created
	world := s.servers.DefaultWorld()
	quote, err := s.fetchWorld(ctx, item.UniversalisID, world)
	if err != nil {
		return "", fmt.Errorf("fetching initial market info for %q: %w", name, err)
	}
	item.MarketInfo = models.MarketInfo{world: snapshotFromQuote(quote, time.Now())}

	if err := s.store.Create(item); err != nil {
		return "", fmt.Errorf("creating %q: %w", name, err)
	}
	metrics.CellRefreshesTotal.Inc()
	return AddResultAdded, nil
}

// UpdateAllItems refreshes every item in the category for the given
// worlds regardless of staleness. Operator-triggered; the first hard
// failure aborts the batch.
func (s *ItemService) UpdateAllItems(ctx context.Context, worlds ...string) ([]models.Item, error) {
	worlds, err := s.servers.Validate(worlds)
	if err != nil {
		return nil, err
	}

	items, err := s.store.FindByCategory(s.spec.Category)
	if err != nil {
		return nil, fmt.Errorf("loading %s items: %w", s.spec.Category, err)
	}

	g, ctx := errgroup.WithContext(ctx)
	for i := range items {
		i := i
		g.Go(func() error {
			_, err := s.UpdateItem(ctx, &items[i], worlds...)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return items, nil
}
