package repositories

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"slidecast/internal/models"
	"slidecast/internal/pkg/errors"
	"slidecast/internal/pkg/logger"
	"slidecast/internal/worker/processor"
)

// RenderJobStore is the part of RenderJobRepository the audit observer uses.
type RenderJobStore interface {
	Start(ctx context.Context, j *models.RenderJob) error
	Finish(ctx context.Context, j *models.RenderJob) error
}

// maxErrorText bounds error_text; engine stderr tails can be long.
const maxErrorText = 2000

// AuditObserver records a row when a job is validated and completes it when
// the job closes. Store failures are logged; they never fail a render.
type AuditObserver struct {
	store   RenderJobStore
	timeout time.Duration
	log     *logger.Logger
}

func NewAuditObserver(store RenderJobStore, log *logger.Logger) *AuditObserver {
	if log == nil {
		log = logger.NewDefault()
	}
	return &AuditObserver{store: store, timeout: 2 * time.Second, log: log.WithComponent("audit")}
}

func (a *AuditObserver) Observe(ctx context.Context, ev processor.Event) {
	switch ev.State {
	case processor.StateValidated:
		a.write(ctx, "start", func(ctx context.Context) error {
			return a.store.Start(ctx, startedJob(ctx, ev))
		})
	case processor.StateClosed:
		a.write(ctx, "finish", func(ctx context.Context) error {
			return a.store.Finish(ctx, finishedJob(ev))
		})
	}
}

func (a *AuditObserver) write(ctx context.Context, op string, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		a.log.FromContext(ctx).Warn("audit write failed", "op", op, "error", err.Error())
	}
}

func startedJob(ctx context.Context, ev processor.Event) *models.RenderJob {
	requestID, _ := ctx.Value(logger.RequestIDKey).(string)
	return &models.RenderJob{
		ID:          ev.JobID,
		RequestID:   requestID,
		Status:      models.RenderStatusRunning,
		SlideCount:  len(ev.Request.Slides),
		Width:       ev.Request.Width,
		Height:      ev.Request.Height,
		FPS:         ev.Request.FPS,
		DurationSec: ev.Request.TotalDuration(),
		StartedAt:   time.Now().Add(-ev.Since).UTC(),
	}
}

func finishedJob(ev processor.Event) *models.RenderJob {
	now := time.Now().UTC()
	j := &models.RenderJob{
		ID:          ev.JobID,
		Status:      models.RenderStatusSucceeded,
		OutputBytes: ev.OutputBytes,
		FinishedAt:  &now,
	}
	if ev.Failed() {
		code := string(errors.GetCode(ev.Err))
		text := truncateText(ev.Err.Error(), maxErrorText)
		j.Status = models.RenderStatusFailed
		j.ErrorCode = &code
		j.ErrorText = &text
		j.OutputBytes = 0
	}
	return j
}

// truncateText cuts s to at most n bytes on a character boundary. Invalid
// UTF-8 from engine output is replaced, since TEXT columns reject it.
func truncateText(s string, n int) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
