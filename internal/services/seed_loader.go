package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"

	"github.com/ffxiv-tools/marketboard-backend/internal/models"
	"github.com/ffxiv-tools/marketboard-backend/internal/storage"
)

// SettledResult is the outcome of one attempted catalog entry. Batch
// seeding reports every entry's outcome instead of aborting on the first
// failure.
type SettledResult struct {
	Name   string    `json:"name"`
	Status string    `json:"status"` // "fulfilled" or "rejected"
	Result AddResult `json:"result,omitempty"`
	Error  string    `json:"error,omitempty"`
}

const (
	SettledFulfilled = "fulfilled"
	SettledRejected  = "rejected"
)

// SeedLoader reconciles a declarative item catalog against the store,
// inserting whatever is missing via the engine's add path.
type SeedLoader struct {
	store *storage.ItemStore
	svc   *ItemService
}

func NewSeedLoader(store *storage.ItemStore, svc *ItemService) *SeedLoader {
	return &SeedLoader{store: store, svc: svc}
}

// AddAllItems reads the catalog file, determines which entries are not
// yet persisted, and adds each missing one concurrently. One settled
// result is returned per attempted entry; a failing entry never aborts
// the others. Entries already in the store are not attempted and produce
// no result.
func (l *SeedLoader) AddAllItems(ctx context.Context, catalogPath string) ([]SettledResult, error) {
	data, err := os.ReadFile(catalogPath)
	if err != nil {
		return nil, fmt.Errorf("reading catalog %s: %w", catalogPath, err)
	}

	var catalog models.Catalog
	if err := json.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("parsing catalog %s: %w", catalogPath, err)
	}

	presentNames, err := l.store.Names(l.svc.Category())
	if err != nil {
		return nil, fmt.Errorf("listing persisted %s items: %w", l.svc.Category(), err)
	}
	present := make(map[string]bool, len(presentNames))
	for _, name := range presentNames {
		present[name] = true
	}

	var missing []string
	for name := range catalog {
		if !present[name] {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)

	if len(missing) == 0 {
		log.Printf("Seed loader: %s catalog already fully persisted (%d entries)",
			l.svc.Category(), len(catalog))
		return []SettledResult{}, nil
	}
	log.Printf("Seed loader: adding %d missing %s items", len(missing), l.svc.Category())

	results := make([]SettledResult, len(missing))
	var wg sync.WaitGroup
	for i, name := range missing {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			res, err := l.svc.AddItem(ctx, name, catalog[name])
			if err != nil {
				log.Printf("Seed loader: failed to add %q: %v", name, err)
				results[i] = SettledResult{Name: name, Status: SettledRejected, Error: err.Error()}
				return
			}
			results[i] = SettledResult{Name: name, Status: SettledFulfilled, Result: res}
		}(i, name)
	}
	wg.Wait()

	return results, nil
}
