package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/locrit/platform/internal/model"
	"github.com/locrit/platform/pkg/logger"
)

// locritPayload is the loosely typed Locrit shape sent by the backend.
// Everything is optional until validated by toLocrit.
type locritPayload struct {
	ID            *string          `json:"id" yaml:"id"`
	Name          *string          `json:"name" yaml:"name"`
	Description   *string          `json:"description" yaml:"description"`
	PublicAddress *string          `json:"public_address" yaml:"public_address"`
	IsOnline      *bool            `json:"is_online" yaml:"is_online"`
	IsActive      *bool            `json:"active" yaml:"active"`
	Settings      *settingsPayload `json:"settings" yaml:"settings"`
}

type settingsPayload struct {
	Model       *string  `json:"model" yaml:"model"`
	Temperature *float64 `json:"temperature" yaml:"temperature"`
}

func (p locritPayload) toLocrit() (model.Locrit, error) {
	var l model.Locrit

	name := strings.TrimSpace(deref(p.Name))
	if name == "" {
		return l, errors.New("name is required")
	}
	id := strings.TrimSpace(deref(p.ID))
	if id == "" {
		// the backend keys locrits by name when it has no separate ID
		id = name
	}

	l.ID = id
	l.Name = name
	l.Description = deref(p.Description)
	l.PublicAddress = deref(p.PublicAddress)
	if p.IsOnline != nil {
		l.IsOnline = *p.IsOnline
	}
	l.IsActive = true
	if p.IsActive != nil {
		l.IsActive = *p.IsActive
	}
	if p.Settings != nil {
		l.Settings = &model.LocritSettings{
			Model:       deref(p.Settings.Model),
			Temperature: p.Settings.Temperature,
		}
		if t := l.Settings.Temperature; t != nil && (*t < 0 || *t > 2) {
			return l, fmt.Errorf("temperature %.2f out of range", *t)
		}
	}
	return l, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// HTTPDirectory reads locrits from the Locrit backend REST API.
type HTTPDirectory struct {
	baseURL string
	client  *http.Client
	logger  *logger.Logger
}

// NewHTTPDirectory creates a directory backed by GET {baseURL}/api/locrits.
func NewHTTPDirectory(baseURL string, log *logger.Logger) *HTTPDirectory {
	return &HTTPDirectory{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
		logger:  log.Component("directory"),
	}
}

// List fetches all locrits, dropping entries that fail validation.
func (d *HTTPDirectory) List(ctx context.Context) ([]model.Locrit, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+"/api/locrits", nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching locrits: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching locrits: unexpected status %d", resp.StatusCode)
	}

	var body struct {
		Locrits []locritPayload `json:"locrits"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decoding locrits: %w", err)
	}

	locrits := make([]model.Locrit, 0, len(body.Locrits))
	for i, p := range body.Locrits {
		l, err := p.toLocrit()
		if err != nil {
			d.logger.Warn("dropping invalid locrit", zap.Int("index", i), zap.Error(err))
			continue
		}
		locrits = append(locrits, l)
	}
	return locrits, nil
}

// Get fetches a single locrit.
func (d *HTTPDirectory) Get(ctx context.Context, id string) (*model.Locrit, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+"/api/locrits/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching locrit: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrUnknownLocrit, id)
	default:
		return nil, fmt.Errorf("fetching locrit: unexpected status %d", resp.StatusCode)
	}

	var p locritPayload
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, fmt.Errorf("decoding locrit: %w", err)
	}
	l, err := p.toLocrit()
	if err != nil {
		return nil, fmt.Errorf("invalid locrit %s: %w", id, err)
	}
	return &l, nil
}
