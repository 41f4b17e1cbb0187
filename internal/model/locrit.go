package model

// Locrit is a configurable AI agent known to the directory.
type Locrit struct {
	ID            string          `json:"id" yaml:"id"`
	Name          string          `json:"name" yaml:"name"`
	Description   string          `json:"description" yaml:"description"`
	PublicAddress string          `json:"public_address,omitempty" yaml:"public_address"`
	IsOnline      bool            `json:"is_online" yaml:"is_online"`
	IsActive      bool            `json:"is_active" yaml:"is_active"`
	Settings      *LocritSettings `json:"settings,omitempty" yaml:"settings"`
}

// LocritSettings holds the optional model settings of a Locrit.
type LocritSettings struct {
	Model       string   `json:"model,omitempty" yaml:"model"`
	Temperature *float64 `json:"temperature,omitempty" yaml:"temperature"`
}

// ListLocritsResponse is the response for listing locrits.
type ListLocritsResponse struct {
	Locrits []Locrit `json:"locrits"`
	Total   int      `json:"total"`
}
