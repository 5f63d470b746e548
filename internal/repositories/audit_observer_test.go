package repositories

import (
	"context"
	stderrors "errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"slidecast/internal/models"
	"slidecast/internal/pkg/errors"
	"slidecast/internal/pkg/logger"
	"slidecast/internal/worker/processor"
)

type fakeStore struct {
	mu       sync.Mutex
	started  []*models.RenderJob
	finished []*models.RenderJob
	err      error
}

func (s *fakeStore) Start(_ context.Context, j *models.RenderJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = append(s.started, j)
	return s.err
}

func (s *fakeStore) Finish(_ context.Context, j *models.RenderJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finished = append(s.finished, j)
	return s.err
}

func testRequest() processor.NormalizedRequest {
	return processor.NormalizedRequest{
		Width: 1280, Height: 720, FPS: 25,
		Slides: []processor.NormalizedSlide{
			{Index: 1, DurationSec: 4},
			{Index: 2, DurationSec: 15},
		},
	}
}

func TestAuditObserverRecordsSuccess(t *testing.T) {
	store := &fakeStore{}
	obs := NewAuditObserver(store, logger.Discard())
	ctx := logger.ContextWithRequestID(context.Background(), "req-1")

	for _, st := range []processor.State{
		processor.StateReceived, processor.StateValidated, processor.StateFetching,
		processor.StateEncoding, processor.StateStreaming,
	} {
		obs.Observe(ctx, processor.Event{JobID: "job1", State: st, Request: testRequest(), Since: time.Second})
	}
	obs.Observe(ctx, processor.Event{JobID: "job1", State: processor.StateClosed, OutputBytes: 4096})

	if len(store.started) != 1 || len(store.finished) != 1 {
		t.Fatalf("started %d finished %d, want 1 and 1", len(store.started), len(store.finished))
	}

	s := store.started[0]
	if s.ID != "job1" || s.RequestID != "req-1" || s.Status != models.RenderStatusRunning {
		t.Errorf("started = %+v", s)
	}
	if s.SlideCount != 2 || s.Width != 1280 || s.Height != 720 || s.FPS != 25 || s.DurationSec != 19 {
		t.Errorf("started shape = %+v", s)
	}

	f := store.finished[0]
	if f.Status != models.RenderStatusSucceeded || f.OutputBytes != 4096 || f.ErrorCode != nil || f.FinishedAt == nil {
		t.Errorf("finished = %+v", f)
	}
}

func TestAuditObserverRecordsFailure(t *testing.T) {
	store := &fakeStore{}
	obs := NewAuditObserver(store, logger.Discard())

	cause := errors.WrapWithCode(stderrors.New(strings.Repeat("x", 5000)), errors.CodeEncode, "render.encode", "failed")
	obs.Observe(context.Background(), processor.Event{JobID: "job2", State: processor.StateClosed, Err: cause, OutputBytes: 10})

	if len(store.finished) != 1 {
		t.Fatalf("finished %d, want 1", len(store.finished))
	}
	f := store.finished[0]
	if f.Status != models.RenderStatusFailed {
		t.Errorf("Status = %q", f.Status)
	}
	if f.ErrorCode == nil || *f.ErrorCode != string(errors.CodeEncode) {
		t.Errorf("ErrorCode = %v", f.ErrorCode)
	}
	if f.ErrorText == nil || len(*f.ErrorText) != maxErrorText {
		t.Errorf("ErrorText not truncated")
	}
	if f.OutputBytes != 0 {
		t.Errorf("OutputBytes = %d, want 0 for a failed job", f.OutputBytes)
	}
}

func TestAuditObserverKeepsErrorTextValidUTF8(t *testing.T) {
	store := &fakeStore{}
	obs := NewAuditObserver(store, logger.Discard())

	stderr := "x" + strings.Repeat("é", 3000) + "\xff"
	cause := errors.WrapWithCode(stderrors.New(stderr), errors.CodeEncode, "render.encode", "failed")
	obs.Observe(context.Background(), processor.Event{JobID: "job3", State: processor.StateClosed, Err: cause})

	if len(store.finished) != 1 || store.finished[0].ErrorText == nil {
		t.Fatalf("finished = %+v", store.finished)
	}
	text := *store.finished[0].ErrorText
	if !utf8.ValidString(text) {
		t.Error("error text is not valid UTF-8")
	}
	if len(text) > maxErrorText || len(text) < maxErrorText-utf8.UTFMax {
		t.Errorf("len(error text) = %d, want just under %d", len(text), maxErrorText)
	}
}

func TestTruncateText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{"short", "abc", 10, "abc"},
		{"exact", "abcd", 4, "abcd"},
		{"ascii", "abcdef", 4, "abcd"},
		{"mid rune", "aé", 2, "a"},
		{"whole rune", "aéb", 3, "aé"},
		{"invalid bytes", "a\xffb", 10, "a\uFFFDb"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := truncateText(tt.in, tt.n); got != tt.want {
				t.Errorf("truncateText(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
			}
		})
	}
}

func TestAuditObserverSwallowsStoreErrors(t *testing.T) {
	store := &fakeStore{err: stderrors.New("connection refused")}
	obs := NewAuditObserver(store, logger.Discard())

	obs.Observe(context.Background(), processor.Event{JobID: "j", State: processor.StateValidated})
	obs.Observe(context.Background(), processor.Event{JobID: "j", State: processor.StateClosed})

	if len(store.started) != 1 || len(store.finished) != 1 {
		t.Errorf("store calls = %d/%d, want 1/1", len(store.started), len(store.finished))
	}
}

func TestPgErrorHelpers(t *testing.T) {
	if IsUniqueViolation(stderrors.New("plain")) || IsUndefinedTable(nil) {
		t.Error("non-postgres errors must not match")
	}
}
