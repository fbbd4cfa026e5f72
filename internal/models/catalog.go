package models

// CatalogAttributes is one seed catalog entry's static attributes. The
// catalog is a JSON object of item name -> attributes; which extension
// fields are required depends on the category being seeded.
type CatalogAttributes struct {
	UniversalisID  int            `json:"universalisId"`
	TomestonePrice *int           `json:"tomestonePrice,omitempty"`
	Task           *GatheringTask `json:"task,omitempty"`
	Patch          *float64       `json:"patch,omitempty"`
	Icon           string         `json:"icon,omitempty"`
}

// Catalog maps item names to their static attributes
type Catalog map[string]CatalogAttributes

// Projection column names for category extension fields
const (
	ColumnTomestonePrice = "tomestonePrice"
	ColumnTask           = "task"
	ColumnPatch          = "patch"
	ColumnIcon           = "icon"
)

// CategorySpec is the per-category extension point: the read projection's
// extra columns and a populate function mapping catalog attributes onto
// the typed Item fields. One engine implementation serves every category
// through this.
type CategorySpec struct {
	Category Category
	Columns  []string
	Populate func(item *Item, attrs CatalogAttributes) error
}

// SpecFor returns the CategorySpec for a category
func SpecFor(category Category) (CategorySpec, bool) {
	switch category {
	case CategoryPhantasmagoria:
		return CategorySpec{
			Category: CategoryPhantasmagoria,
			Columns:  []string{ColumnTomestonePrice},
			Populate: func(item *Item, attrs CatalogAttributes) error {
				if attrs.TomestonePrice == nil {
					return NewInvalidArgument("item %q has no tomestone price", item.Name)
				}
				item.TomestonePrice = attrs.TomestonePrice
				return nil
			},
		}, true
	case CategoryGatherable:
		return CategorySpec{
			Category: CategoryGatherable,
			Columns:  []string{ColumnTask, ColumnPatch},
			Populate: func(item *Item, attrs CatalogAttributes) error {
				if attrs.Task == nil {
					return NewInvalidArgument("item %q has no gathering task", item.Name)
				}
				if attrs.Patch == nil {
					return NewInvalidArgument("item %q has no patch number", item.Name)
				}
				item.Task = attrs.Task
				item.Patch = attrs.Patch
				return nil
			},
		}, true
	case CategoryAethersand:
		return CategorySpec{
			Category: CategoryAethersand,
			Columns:  []string{ColumnIcon},
			Populate: func(item *Item, attrs CatalogAttributes) error {
				item.Icon = attrs.Icon
				return nil
			},
		}, true
	default:
		return CategorySpec{}, false
	}
}
