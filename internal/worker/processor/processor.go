package processor

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"slidecast/internal/pkg/errors"
	"slidecast/internal/pkg/logger"
	"slidecast/internal/worker/renderer"
	"slidecast/internal/worker/util"
)

type Deps struct {
	Renderer   renderer.Client
	Workspaces *Workspaces
	HTTPClient *http.Client
	Cache      AssetCache
	Observer   Observer
	Log        *logger.Logger

	FetchTimeout      time.Duration
	FetchMaxBytes     int64
	EncodeConcurrency int
	EncodeTimeout     time.Duration
	ConcatTimeout     time.Duration
}

// Processor runs render jobs. It holds no per-job state; every call to
// Render owns its own workspace and artifacts.
type Processor struct {
	workspaces *Workspaces
	observer   Observer
	log        *logger.Logger

	inputHandler    *InputHandler
	rendererAdapter *RendererAdapter
}

func New(d Deps) *Processor {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	log = log.WithComponent("processor")

	ws := d.Workspaces
	if ws == nil {
		ws = NewWorkspaces("", log)
	}
	obs := d.Observer
	if obs == nil {
		obs = Observers(nil)
	}

	return &Processor{
		workspaces:      ws,
		observer:        obs,
		log:             log,
		inputHandler:    NewInputHandler(d.HTTPClient, d.FetchTimeout, d.FetchMaxBytes, d.Cache, log),
		rendererAdapter: NewRendererAdapter(d.Renderer, d.EncodeConcurrency, d.EncodeTimeout, d.ConcatTimeout),
	}
}

// Render runs every stage up to and including concatenation. On success the
// returned Output owns the workspace and the caller must Stream or Close it.
// On failure the workspace is already gone.
func (p *Processor) Render(ctx context.Context, req NormalizedRequest) (out *Output, err error) {
	j := p.newJob(req)
	ctx = logger.ContextWithJobID(ctx, j.id)
	log := p.log.FromContext(ctx)

	j.transition(ctx, StateReceived, 0)
	j.transition(ctx, StateValidated, 0)

	defer func() {
		if r := recover(); r != nil {
			_ = p.failJob(ctx, j, errors.Internal(fmt.Sprintf("render panicked: %v", r)))
			panic(r)
		}
	}()

	log.Info("render started",
		"slides", len(req.Slides),
		"width", req.Width,
		"height", req.Height,
		"fps", req.FPS,
	)

	// 1. Workspace
	ws, err := p.workspaces.Open(j.id)
	if err != nil {
		return nil, p.failJob(ctx, j, err)
	}
	j.ws = ws
	j.transition(ctx, StateWorkspaceOpen, 0)

	arts := make([]SlideArtifact, len(req.Slides))
	for i, s := range req.Slides {
		arts[i].Index = s.Index
	}

	// 2. Images
	j.transition(ctx, StateFetching, 0)
	if err := p.inputHandler.Materialize(ctx, ws, req.Slides, arts); err != nil {
		return nil, p.failJob(ctx, j, err)
	}
	log.Debug("images staged", "count", len(arts))

	// 3. Captions
	j.transition(ctx, StateOverlaying, 0)
	if err := PrepareOverlays(ws, req.Slides, arts); err != nil {
		return nil, p.failJob(ctx, j, err)
	}

	// 4. Clips
	err = p.rendererAdapter.RenderClips(ctx, ws, req, arts, func(index int) {
		j.transition(ctx, StateEncoding, index)
	})
	if err != nil {
		return nil, p.failJob(ctx, j, err)
	}
	log.Debug("clips encoded", "count", len(arts))

	// 5. Concat
	j.transition(ctx, StateConcatenating, 0)
	outputPath := filepath.Join(ws.Root, util.SafeName(j.id)+".mp4")
	if err := p.rendererAdapter.Concat(ctx, ws, arts, outputPath); err != nil {
		return nil, p.failJob(ctx, j, err)
	}
	st, err := os.Stat(outputPath)
	if err != nil {
		return nil, p.failJob(ctx, j, errors.WrapWithCode(err, errors.CodeConcat, "render.concat", "engine produced no output"))
	}

	log.Info("render completed",
		"clips", len(arts),
		"output_bytes", st.Size(),
		"duration_ms", time.Since(j.received).Milliseconds(),
	)

	return &Output{
		JobID:       j.id,
		Path:        outputPath,
		Size:        st.Size(),
		Clips:       len(arts),
		DurationSec: req.TotalDuration(),
		job:         j,
	}, nil
}

// failJob logs the failure, releases the workspace and returns cause tagged
// with the job id.
func (p *Processor) failJob(ctx context.Context, j *job, cause error) error {
	log := p.log.FromContext(ctx)

	var se *errors.Error
	if errors.As(cause, &se) {
		se.WithField("job_id", j.id)
		args := []any{"code", string(se.Code), "op", se.Op, "error", cause.Error()}
		if idx, ok := errors.GetSlide(cause); ok {
			args = append(args, "slide", idx)
		}
		log.Error("render failed", args...)
	} else {
		log.Error("render failed", "error", cause.Error())
	}

	j.close(ctx, cause, 0)
	return cause
}

func (p *Processor) newJob(req NormalizedRequest) *job {
	now := time.Now()
	return &job{
		id:       util.NewJobID(),
		req:      req,
		received: now,
		stateAt:  now,
		observer: p.observer,
	}
}

// job tracks one render from receipt to Closed.
type job struct {
	id       string
	req      NormalizedRequest
	ws       *Workspace
	received time.Time
	observer Observer

	mu      sync.Mutex
	state   State
	stateAt time.Time

	closeOnce sync.Once
}

func (j *job) transition(ctx context.Context, next State, slide int) {
	j.emit(ctx, next, func(ev *Event) { ev.Slide = slide })
}

func (j *job) emit(ctx context.Context, next State, fill func(*Event)) {
	now := time.Now()
	j.mu.Lock()
	ev := Event{
		JobID:    j.id,
		State:    next,
		Previous: j.state,
		Elapsed:  now.Sub(j.stateAt),
		Since:    now.Sub(j.received),
		Request:  j.req,
	}
	j.state = next
	j.stateAt = now
	j.mu.Unlock()

	if fill != nil {
		fill(&ev)
	}
	j.observer.Observe(context.WithoutCancel(ctx), ev)
}

// close deletes the workspace and emits Closed. Only the first call has any
// effect.
func (j *job) close(ctx context.Context, cause error, outputBytes int64) {
	j.closeOnce.Do(func() {
		j.ws.Close()
		j.emit(ctx, StateClosed, func(ev *Event) {
			ev.Err = cause
			ev.OutputBytes = outputBytes
		})
	})
}
