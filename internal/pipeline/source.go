package pipeline

import (
	"context"
	"path/filepath"

	"github.com/rotisserie/eris"

	"github.com/sells-group/takeoff/internal/cad"
	"github.com/sells-group/takeoff/internal/model"
	"github.com/sells-group/takeoff/internal/normalize"
)

// Source produces the measurable items of one drawing.
type Source interface {
	// Name identifies the drawing in run records and warnings.
	Name() string
	// Load returns the drawing's items; ids carry idPrefix.
	Load(ctx context.Context, idPrefix string) (*normalize.Result, error)
}

// DrawingSource reads a local drawing file and normalizes it.
type DrawingSource struct {
	Path         string
	UnitOverride string
	ExpandBlocks bool
	Workers      int
}

func (s DrawingSource) Name() string {
	return filepath.Base(s.Path)
}

func (s DrawingSource) Load(ctx context.Context, idPrefix string) (*normalize.Result, error) {
	d, err := cad.ReadFile(s.Path)
	if err != nil {
		return nil, err
	}
	return normalize.Drawing(ctx, d, normalize.Options{
		Workers:      s.Workers,
		ExpandBlocks: s.ExpandBlocks,
		UnitOverride: s.UnitOverride,
		IDPrefix:     idPrefix,
	})
}

// ItemFetcher returns already-normalized items from a remote extraction
// service.
type ItemFetcher interface {
	Items(ctx context.Context, documentID string) ([]model.MeasurableItem, error)
}

// RemoteSource loads items extracted by a remote service. Remote items are
// already in meters.
type RemoteSource struct {
	Client     ItemFetcher
	DocumentID string
}

func (s RemoteSource) Name() string {
	return s.DocumentID
}

func (s RemoteSource) Load(ctx context.Context, idPrefix string) (*normalize.Result, error) {
	if s.Client == nil {
		return nil, eris.New("pipeline: remote source without client")
	}
	items, err := s.Client.Items(ctx, s.DocumentID)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: fetch items for %s", s.DocumentID)
	}

	res := &normalize.Result{
		Drawing: s.DocumentID,
		Scale:   model.Scale{Factor: 1, Unit: "m", Source: model.ScaleHeader, Confident: true},
	}
	for _, it := range items {
		if !it.Kind.Valid() || it.ValueSI < 0 {
			res.Skipped++
			res.Warnings = append(res.Warnings, "remote item "+it.ID+" has an invalid kind or value")
			continue
		}
		it.ID = idPrefix + it.ID
		if it.Source == "" {
			it.Source = s.DocumentID
		}
		res.Items = append(res.Items, it)
	}
	// The service returns items only, so positions bound the drawing.
	res.Bounds = normalize.PositionBounds(res.Items)
	return res, nil
}
