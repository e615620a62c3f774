package appcatalog

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"apps-console/pkg/apps"
)

// ErrItemNotFound is returned for names no loaded catalog lists.
var ErrItemNotFound = errors.New("catalog item not found")

// Service provides operations for the application catalog.
type Service struct {
	apps *apps.Service
	log  *logrus.Entry

	mu      sync.RWMutex
	items   []Item
	generic []Item
}

// NewService creates a new catalog service. Nothing is fetched until Load.
func NewService(a *apps.Service, log *logrus.Entry) *Service {
	return &Service{
		apps:  a,
		log:   log.WithField("component", "catalog"),
		items: []Item{},
	}
}

// Load fetches the catalogs and rebuilds the item list. On failure the list is left empty.
func (s *Service) Load(ctx context.Context) error {
	catalogs, err := s.apps.Catalogs(ctx)
	if err != nil {
		s.mu.Lock()
		s.items, s.generic = []Item{}, nil
		s.mu.Unlock()
		return errors.Wrap(err, "could not load catalogs")
	}
	items, generic := Assemble(catalogs)

	s.mu.Lock()
	s.items, s.generic = items, generic
	s.mu.Unlock()
	s.log.Debugf("Loaded %d catalog items from %d catalogs", len(items), len(catalogs))
	return nil
}

// Items returns the applications available for installation.
func (s *Service) Items() []Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Item, len(s.items))
	copy(out, s.items)
	return out
}

// ItemByName returns an application by its chart name.
func (s *Service) ItemByName(name string) (Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, item := range s.items {
		if item.Name == name {
			return item, nil
		}
	}
	return Item{}, errors.Wrapf(ErrItemNotFound, "%q", name)
}

// Generic returns the generic chart entry of the first catalog listing one.
func (s *Service) Generic() Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.generic) > 0 {
		return s.generic[0]
	}
	return GenericItem()
}

// InstallForm returns the form for installing name.
func (s *Service) InstallForm(name string) (Form, error) {
	if KindOf(name) == KindGeneric {
		return NewForm(s.Generic())
	}
	item, err := s.ItemByName(name)
	if err != nil {
		return nil, err
	}
	return NewForm(item)
}

// LaunchForm returns the generic form opened by the toolbar's launch action.
func (s *Service) LaunchForm() Form {
	return &GenericForm{item: s.Generic()}
}

// EditForm returns the form for editing a release of chartName with the given kind. Schema
// releases whose chart is no longer listed get a form without questions.
func (s *Service) EditForm(kind Kind, chartName string) (Form, error) {
	if kind == KindGeneric {
		return &GenericForm{item: s.Generic()}, nil
	}
	item, err := s.ItemByName(chartName)
	if err != nil {
		s.log.WithField("chart", chartName).Debug("chart not in catalog, editing without schema")
		return NewSchemaForm(Item{Name: chartName, Kind: KindSchema})
	}
	return NewForm(item)
}
