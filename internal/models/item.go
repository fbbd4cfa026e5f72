package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Category identifies which kind of tracked item a document is. Each
// category carries its own extension fields on Item.
type Category string

const (
	CategoryPhantasmagoria Category = "phantasmagoria"
	CategoryGatherable     Category = "gatherable"
	CategoryAethersand     Category = "aethersand"
)

// AllCategories returns all tracked item categories
func AllCategories() []Category {
	return []Category{
		CategoryPhantasmagoria,
		CategoryGatherable,
		CategoryAethersand,
	}
}

// ParseCategory maps a route/path string to a Category
func ParseCategory(s string) (Category, bool) {
	switch Category(s) {
	case CategoryPhantasmagoria, CategoryGatherable, CategoryAethersand:
		return Category(s), true
	default:
		return "", false
	}
}

// TradeVelocity holds the overall/NQ/HQ sale velocity triple reported by
// Universalis. All values are >= 0.
type TradeVelocity struct {
	Overall float64 `json:"overall"`
	NQ      float64 `json:"nq"`
	HQ      float64 `json:"hq"`
}

// TradeAverages holds the overall/NQ/HQ average price triple
type TradeAverages struct {
	Overall float64 `json:"overall"`
	NQ      float64 `json:"nq"`
	HQ      float64 `json:"hq"`
}

// PriceSnapshot is the cached market state for one (item, world) cell.
// Price is nil when the item had zero active listings (confirmed
// unsellable). UpdatedAt is stamped by the refresh engine only and is the
// sole field driving staleness; LastUploadTime is upstream's advisory
// timestamp.
type PriceSnapshot struct {
	Price          *int          `json:"price"`
	SaleVelocity   TradeVelocity `json:"saleVelocity"`
	AvgPrice       TradeAverages `json:"avgPrice"`
	LastUploadTime time.Time     `json:"lastUploadTime"`
	UpdatedAt      time.Time     `json:"updatedAt"`
}

// MarketInfo maps a world name to its price snapshot. A missing key means
// the cell was never fetched, which is staleness, not an error.
type MarketInfo map[string]*PriceSnapshot

// Clone returns a shallow copy safe to extend without mutating the
// original map. Refreshes build the next map and commit it in one write.
func (m MarketInfo) Clone() MarketInfo {
	next := make(MarketInfo, len(m))
	for world, snap := range m {
		next[world] = snap
	}
	return next
}

// ScripRewards holds collectability thresholds and scrip payouts for a
// gatherable item
type ScripRewards struct {
	HighCollectability int `json:"HighCollectability"`
	HighReward         int `json:"HighReward"`
	MidCollectability  int `json:"MidCollectability"`
	MidReward          int `json:"MidReward"`
	LowCollectability  int `json:"LowCollectability"`
	LowReward          int `json:"LowReward"`
}

// GatheringTask describes how a gatherable item is obtained
type GatheringTask struct {
	AetherialReduce []int         `json:"aetherialReduce,omitempty"`
	WhiteScrips     *ScripRewards `json:"whiteScrips,omitempty"`
	YellowScrips    *ScripRewards `json:"yellowScrips,omitempty"`
}

// Item is a tracked market item. Name and UniversalisID are each unique
// within a category. MarketInfo entries only ever mutate cell-by-cell
// through the refresh engine; the document itself is created once and
// never deleted.
type Item struct {
	ID            string     `json:"id" gorm:"primaryKey"`
	Category      Category   `json:"category" gorm:"not null;index;uniqueIndex:idx_items_category_name;uniqueIndex:idx_items_category_universalis_id"`
	Name          string     `json:"name" gorm:"not null;uniqueIndex:idx_items_category_name"`
	UniversalisID int        `json:"universalisId" gorm:"not null;uniqueIndex:idx_items_category_universalis_id"`
	MarketInfo    MarketInfo `json:"marketInfo" gorm:"serializer:json"`

	// Category extension fields. Only the owning category's fields are set.
	TomestonePrice *int           `json:"tomestonePrice,omitempty"`
	Task           *GatheringTask `json:"task,omitempty" gorm:"serializer:json"`
	Patch          *float64       `json:"patch,omitempty"`
	Icon           string         `json:"icon,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate assigns a uuid primary key
func (i *Item) BeforeCreate(tx *gorm.DB) error {
	if i.ID == "" {
		i.ID = uuid.NewString()
	}
	return nil
}

// IsNew reports whether the item has never been persisted. IDs are only
// assigned on create, so an empty ID means an unsaved document.
func (i *Item) IsNew() bool {
	return i.ID == ""
}

// Projected returns a copy restricted to the requested worlds' market info
// plus identity fields and the category columns listed by the caller's
// CategorySpec. Worlds the item has no data for are simply absent.
func (i Item) Projected(worlds []string, columns []string) Item {
	out := Item{
		ID:            i.ID,
		Category:      i.Category,
		Name:          i.Name,
		UniversalisID: i.UniversalisID,
		MarketInfo:    make(MarketInfo, len(worlds)),
		CreatedAt:     i.CreatedAt,
		UpdatedAt:     i.UpdatedAt,
	}
	for _, world := range worlds {
		if snap, ok := i.MarketInfo[world]; ok {
			out.MarketInfo[world] = snap
		}
	}
	for _, column := range columns {
		switch column {
		case ColumnTomestonePrice:
			out.TomestonePrice = i.TomestonePrice
		case ColumnTask:
			out.Task = i.Task
		case ColumnPatch:
			out.Patch = i.Patch
		case ColumnIcon:
			out.Icon = i.Icon
		}
	}
	return out
}
