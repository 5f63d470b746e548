package handlers

import (
	"context"

	"slidecast/internal/pkg/logger"
	"slidecast/internal/worker/processor"
)

// Renderer runs one normalized request to a streamable output.
type Renderer interface {
	Render(ctx context.Context, req processor.NormalizedRequest) (*processor.Output, error)
}

// Admitter bounds concurrent renders; worker.Pool implements it.
type Admitter interface {
	Do(ctx context.Context, fn func(ctx context.Context) error) error
	Active() int
	Size() int
}

// Check is one dependency probed by GET /health?deep=true.
type Check struct {
	Name string
	Ping func(ctx context.Context) error
}

type Deps struct {
	Renderer Renderer
	Pool     Admitter
	Limits   processor.Limits
	Checks   []Check
	// OnRejected, when set, is called for every render turned away as busy.
	OnRejected func()
	Log        *logger.Logger
}

type Handler struct {
	renderer   Renderer
	pool       Admitter
	limits     processor.Limits
	checks     []Check
	onRejected func()
	log        *logger.Logger
}

func New(d Deps) *Handler {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	return &Handler{
		renderer:   d.Renderer,
		pool:       d.Pool,
		limits:     d.Limits,
		checks:     d.Checks,
		onRejected: d.OnRejected,
		log:        log.WithComponent("http"),
	}
}
