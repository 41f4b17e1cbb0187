// Package directory provides read-only access to the Locrits known to the
// backend.
package directory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/locrit/platform/internal/model"
)

// ErrUnknownLocrit is returned when a Locrit ID is not in the directory.
var ErrUnknownLocrit = errors.New("unknown locrit")

// Directory lists Locrits.
type Directory interface {
	List(ctx context.Context) ([]model.Locrit, error)
	Get(ctx context.Context, id string) (*model.Locrit, error)
}

// Static is a fixed in-memory directory.
type Static struct {
	locrits map[string]model.Locrit
}

// NewStatic builds a directory from locrits. Later entries win on duplicate IDs.
func NewStatic(locrits ...model.Locrit) *Static {
	s := &Static{locrits: make(map[string]model.Locrit, len(locrits))}
	for _, l := range locrits {
		s.locrits[l.ID] = l
	}
	return s
}

// LoadFile reads a YAML list of locrits.
//
//	locrits:
//	  - id: pixie
//	    name: Pixie
//	    description: creative storyteller
func LoadFile(path string) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading locrits file: %w", err)
	}

	var doc struct {
		Locrits []locritPayload `yaml:"locrits"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing locrits file: %w", err)
	}

	locrits := make([]model.Locrit, 0, len(doc.Locrits))
	for i, p := range doc.Locrits {
		l, err := p.toLocrit()
		if err != nil {
			return nil, fmt.Errorf("locrit %d: %w", i, err)
		}
		locrits = append(locrits, l)
	}
	return NewStatic(locrits...), nil
}

// List returns the locrits sorted by name.
func (s *Static) List(ctx context.Context) ([]model.Locrit, error) {
	out := make([]model.Locrit, 0, len(s.locrits))
	for _, l := range s.locrits {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Get returns the locrit with the given ID.
func (s *Static) Get(ctx context.Context, id string) (*model.Locrit, error) {
	l, ok := s.locrits[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownLocrit, id)
	}
	return &l, nil
}
