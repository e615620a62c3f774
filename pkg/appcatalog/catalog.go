package appcatalog

import (
	"encoding/json"
	"sort"

	"apps-console/pkg/apps"
)

const (
	// GenericChart is the free-form chart every catalog carries; it is installed through the
	// generic form rather than listed.
	GenericChart = "ix-chart"
	// DefaultIcon is shown for items without an icon.
	DefaultIcon = "/assets/images/ix-original.png"
	// DefaultCatalog and DefaultTrain locate the generic chart when no catalog lists it.
	DefaultCatalog = "OFFICIAL"
	DefaultTrain   = "charts"
)

// Kind selects the install/edit form for a chart.
type Kind int

const (
	// KindSchema charts are configured from their version schema.
	KindSchema Kind = iota
	// KindGeneric is the free-form chart configured with raw values.
	KindGeneric
)

// KindOf classifies a chart by name.
func KindOf(chartName string) Kind {
	if chartName == GenericChart {
		return KindGeneric
	}
	return KindSchema
}

func (k Kind) String() string {
	if k == KindGeneric {
		return "generic"
	}
	return "schema"
}

func (k Kind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// CatalogRef identifies the catalog an item comes from.
type CatalogRef struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Item is an installable application at its latest version.
type Item struct {
	Name          string          `json:"name"`
	Catalog       CatalogRef      `json:"catalog"`
	Train         string          `json:"train"`
	IconURL       string          `json:"icon_url"`
	LatestVersion string          `json:"latest_version"`
	Info          string          `json:"info"`
	Schema        json.RawMessage `json:"schema,omitempty"`
	Kind          Kind            `json:"kind"`
}

// Assemble flattens catalogs into one item per chart at its latest version. Generic chart
// entries are returned separately.
func Assemble(catalogs []apps.Catalog) (items []Item, generic []Item) {
	items = []Item{}
	for _, catalog := range catalogs {
		ref := CatalogRef{ID: catalog.ID, Label: catalog.Label}
		for train, charts := range catalog.Trains {
			for id, chart := range charts {
				item, ok := buildItem(ref, train, id, chart)
				if !ok {
					continue
				}
				if item.Kind == KindGeneric {
					generic = append(generic, item)
					continue
				}
				items = append(items, item)
			}
		}
	}
	sortItems(items)
	sortItems(generic)
	return items, generic
}

func buildItem(ref CatalogRef, train, id string, chart apps.ChartItem) (Item, bool) {
	labels := make([]string, 0, len(chart.Versions))
	for label := range chart.Versions {
		labels = append(labels, label)
	}
	if len(labels) == 0 {
		return Item{}, false
	}
	SortVersions(labels)
	latest := labels[0]
	details := chart.Versions[latest]

	name := chart.Name
	if name == "" {
		name = id
	}
	icon := chart.IconURL
	if icon == "" {
		icon = DefaultIcon
	}
	return Item{
		Name:          name,
		Catalog:       ref,
		Train:         train,
		IconURL:       icon,
		LatestVersion: latest,
		Info:          details.AppReadme,
		Schema:        details.Schema,
		Kind:          KindOf(id),
	}, true
}

func sortItems(items []Item) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].Catalog.ID != items[j].Catalog.ID {
			return items[i].Catalog.ID < items[j].Catalog.ID
		}
		if items[i].Name != items[j].Name {
			return items[i].Name < items[j].Name
		}
		return items[i].Train < items[j].Train
	})
}
