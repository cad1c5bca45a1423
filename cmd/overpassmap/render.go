package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/NERVsystems/overpassmap/pkg/core"
	"github.com/NERVsystems/overpassmap/pkg/filter"
	"github.com/NERVsystems/overpassmap/pkg/pipeline"
	"github.com/NERVsystems/overpassmap/pkg/render/leaflet"
)

// renderMap runs raw through p and writes the resulting page to w. Failed
// runs still produce a page carrying the error message, and the error is
// returned.
func renderMap(ctx context.Context, p *pipeline.Pipeline, raw, icons string, w io.Writer) error {
	page := leaflet.NewPage("Overpass map", icons)

	model, err := filter.ParseQuery(raw)
	if err == nil {
		_, err = p.Run(ctx, model, page)
	}
	if err != nil {
		page.SetMessage(core.UserMessage(err))
	}

	if _, werr := page.WriteTo(w); werr != nil {
		return fmt.Errorf("write page: %w", werr)
	}
	return err
}

func renderToFile(ctx context.Context, p *pipeline.Pipeline, raw, path, icons string) error {
	if path == "-" {
		return renderMap(ctx, p, raw, icons, os.Stdout)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	runErr := renderMap(ctx, p, raw, icons, f)
	if err := f.Close(); err != nil && runErr == nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return runErr
}
