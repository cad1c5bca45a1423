// Package pipeline runs a filter model through area resolution, query
// synthesis, fetching, reconstruction and rendering.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/NERVsystems/overpassmap/pkg/core"
	"github.com/NERVsystems/overpassmap/pkg/filter"
	"github.com/NERVsystems/overpassmap/pkg/geometry"
	"github.com/NERVsystems/overpassmap/pkg/monitoring"
	"github.com/NERVsystems/overpassmap/pkg/osm"
	"github.com/NERVsystems/overpassmap/pkg/overpass"
	"github.com/NERVsystems/overpassmap/pkg/render"
	"github.com/NERVsystems/overpassmap/pkg/tracing"
)

// Stage names used for spans and metrics.
const (
	StageValidate    = "validate"
	StageResolve     = "resolve"
	StageBuild       = "build"
	StageFetch       = "fetch"
	StageReconstruct = "reconstruct"
	StageRender      = "render"
)

// Resolver maps a place name to an Overpass area id.
type Resolver interface {
	Resolve(ctx context.Context, place string) (int64, error)
}

// Fetcher executes an Overpass query.
type Fetcher interface {
	Fetch(ctx context.Context, query string) (*osm.Response, error)
}

// Pipeline holds the collaborators of one map request. It keeps no state
// between runs and may be shared by concurrent requests.
type Pipeline struct {
	Resolver      Resolver
	Fetcher       Fetcher
	Reconstructor geometry.Reconstructor
	Builder       *overpass.QueryBuilder
	Logger        *slog.Logger
}

// Result describes a completed run.
type Result struct {
	Model    filter.Model
	AreaID   int64
	Query    string
	Features []geometry.Feature
}

func (p *Pipeline) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default().With("component", "pipeline")
}

func (p *Pipeline) builder() *overpass.QueryBuilder {
	if p.Builder != nil {
		return p.Builder
	}
	return overpass.NewQueryBuilder()
}

// Run executes every stage and draws the features on m.
func (p *Pipeline) Run(ctx context.Context, model filter.Model, m render.Map) (*Result, error) {
	ctx, span := tracing.StartSpan(ctx, "pipeline.run",
		trace.WithAttributes(
			attribute.String(tracing.AttrElementType, string(model.ElementType())),
			attribute.Int(tracing.AttrCriteriaCount, len(model.Criteria())),
		),
	)
	defer span.End()

	res, err := p.run(ctx, model, m)
	if err != nil {
		code := core.CodeOf(err)
		monitoring.RecordPipelineRun(string(code))
		span.RecordError(err)
		span.SetAttributes(tracing.ErrorAttributes(string(code), err)...)
		span.SetStatus(codes.Error, string(code))
		return res, err
	}

	monitoring.RecordPipelineRun("")
	span.SetAttributes(attribute.Int(tracing.AttrFeatureCount, len(res.Features)))
	span.SetStatus(codes.Ok, "")
	return res, nil
}

func (p *Pipeline) run(ctx context.Context, model filter.Model, m render.Map) (*Result, error) {
	logger := p.logger()

	query, err := p.Prepare(ctx, model)
	if err != nil {
		return nil, err
	}
	res := &Result{Model: query.Model, AreaID: query.AreaID, Query: query.Text}

	var resp *osm.Response
	err = stage(ctx, StageFetch, func(ctx context.Context) error {
		if p.Fetcher == nil {
			return core.NewError(core.ErrInternalError, "no Overpass fetcher configured")
		}
		var err error
		resp, err = p.Fetcher.Fetch(ctx, res.Query)
		if err == nil && resp != nil {
			tracing.SetAttributes(ctx, attribute.Int(tracing.AttrElementCount, len(resp.Elements)))
		}
		return err
	})
	if err != nil {
		return res, err
	}

	err = stage(ctx, StageReconstruct, func(ctx context.Context) error {
		r := p.Reconstructor
		if r.Logger == nil {
			r.Logger = logger
		}
		var err error
		res.Features, err = r.Reconstruct(resp.Elements)
		tracing.SetAttributes(ctx, attribute.Int(tracing.AttrFeatureCount, len(res.Features)))
		return err
	})
	if err != nil {
		return res, err
	}

	_ = stage(ctx, StageRender, func(ctx context.Context) error {
		render.Render(m, res.Features, res.Model.Display())
		return nil
	})

	logger.Info("rendered map",
		"area_id", res.AreaID,
		"elements", len(resp.Elements),
		"features", len(res.Features))
	return res, nil
}

// Query is a synthesized query together with the model it was built from.
type Query struct {
	Model  filter.Model
	AreaID int64
	Text   string
}

// Prepare validates the model, resolves its place if needed and builds the
// Overpass query without fetching anything.
func (p *Pipeline) Prepare(ctx context.Context, model filter.Model) (*Query, error) {
	if err := stage(ctx, StageValidate, func(context.Context) error {
		return model.Validate()
	}); err != nil {
		return nil, err
	}

	if place, ok := model.Place(); ok {
		err := stage(ctx, StageResolve, func(ctx context.Context) error {
			if p.Resolver == nil {
				return core.NewError(core.ErrInternalError, "no area resolver configured")
			}
			id, err := p.Resolver.Resolve(ctx, place)
			if err != nil {
				return err
			}
			model = model.WithArea(id)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	areaID, _ := model.AreaID()
	var text string
	_ = stage(ctx, StageBuild, func(context.Context) error {
		text = p.builder().Build(model)
		return nil
	})

	return &Query{Model: model, AreaID: areaID, Text: text}, nil
}

// stage runs fn inside a span and records its duration.
func stage(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := tracing.StartSpan(ctx, "pipeline."+name,
		trace.WithAttributes(tracing.StageAttributes(name)...),
	)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	monitoring.RecordStage(name, time.Since(start))

	if err != nil {
		code := string(core.CodeOf(err))
		tracing.RecordError(ctx, err, trace.WithAttributes(tracing.ErrorAttributes(code, err)...))
		tracing.SetStatus(ctx, codes.Error, code)
		return err
	}
	tracing.SetStatus(ctx, codes.Ok, "")
	return nil
}
