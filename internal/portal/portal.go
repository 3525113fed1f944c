package portal

import (
	"context"
	"errors"
)

// ErrRemote wraps every failed call to the portal.
var ErrRemote = errors.New("portal call failed")

// Item is a portal content item returned by search.
type Item struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Title        string   `json:"title"`
	Owner        string   `json:"owner"`
	Type         string   `json:"type"`
	URL          string   `json:"url"`
	TypeKeywords []string `json:"typeKeywords"`
	Modified     int64    `json:"modified"`
}

// IsHostedFeatureService excludes views and registered services.
func (i Item) IsHostedFeatureService() bool {
	var service, hosted bool
	for _, kw := range i.TypeKeywords {
		switch kw {
		case "Feature Service":
			service = true
		case "Hosted Service":
			hosted = true
		}
	}
	return service && hosted
}

type Layer struct {
	ID           int
	Name         string
	LastEditDate int64
}

// Metadata describes the sub-layers of a feature service.
type Metadata struct {
	Modified int64
	Layers   []Layer
	Tables   []Layer
}

// LastEdit returns the newest edit timestamp across layers and tables, or 0.
func (m Metadata) LastEdit() int64 {
	var latest int64
	for _, l := range m.Layers {
		if l.LastEditDate > latest {
			latest = l.LastEditDate
		}
	}
	for _, t := range m.Tables {
		if t.LastEditDate > latest {
			latest = t.LastEditDate
		}
	}
	return latest
}

// Export identifies the portal-side artifact produced by an export call.
type Export struct {
	ExportItemID  string `json:"exportItemId"`
	JobID         string `json:"jobId"`
	ServiceItemID string `json:"serviceItemId"`
}

type Portal interface {
	Search(ctx context.Context, tag, itemType string, limit int) ([]Item, error)
	Metadata(ctx context.Context, item Item) (Metadata, error)
	Export(ctx context.Context, item Item, title, format string) (Export, error)
	Download(ctx context.Context, itemID, dir, fileName string) error
	Delete(ctx context.Context, itemID string) error
}
