package processor

import (
	"bytes"
	"context"
	stderrors "errors"
	"io"
	"os"
	"reflect"
	"testing"

	v1 "slidecast/internal/contracts/render/v1"
	"slidecast/internal/pkg/errors"
)

func normalize(t *testing.T, req v1.RenderRequest) NormalizedRequest {
	t.Helper()
	nr, err := Normalize(req, Limits{MaxSlides: 50})
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	return nr
}

func TestRenderClampsDurationsAndStreams(t *testing.T) {
	srv := newImageServer(t)
	rig := newTestRig(t, 1, nil)

	req := normalize(t, v1.RenderRequest{
		Width: 1280, Height: 720, FPS: 30,
		Slides: []v1.Slide{
			{ImageURL: srv.URL + "/a.png", Text: "Hello", DurationSec: ptr(3)},
			{ImageURL: srv.URL + "/b.png", Text: "World", DurationSec: ptr(20)},
		},
	})

	out, err := rig.proc.Render(context.Background(), req)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if out.Clips != 2 || out.DurationSec != 19 {
		t.Errorf("Clips = %d DurationSec = %v, want 2 and 19", out.Clips, out.DurationSec)
	}

	var buf bytes.Buffer
	n, err := out.Stream(context.Background(), &buf)
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	want := "[img_001.png 4s][img_002.png 15s]"
	if buf.String() != want {
		t.Errorf("body = %q, want %q", buf.String(), want)
	}
	if n != int64(len(want)) || out.Size != n {
		t.Errorf("streamed %d bytes, Size %d, want %d", n, out.Size, len(want))
	}

	if rig.engine.captions[1] != "Hello" || rig.engine.captions[2] != "World" {
		t.Errorf("captions = %v", rig.engine.captions)
	}
	assertNoWorkspaces(t, rig.base)
}

func TestRenderEmitsLifecycle(t *testing.T) {
	srv := newImageServer(t)
	rig := newTestRig(t, 1, nil)

	req := normalize(t, v1.RenderRequest{Slides: []v1.Slide{
		{ImageURL: srv.URL + "/a.png"},
		{ImageURL: srv.URL + "/b.png"},
	}})

	out, err := rig.proc.Render(context.Background(), req)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if _, err := out.Stream(context.Background(), io.Discard); err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	out.Close(context.Background(), nil)

	want := []State{
		StateReceived, StateValidated, StateWorkspaceOpen, StateFetching,
		StateOverlaying, StateEncoding, StateEncoding, StateConcatenating,
		StateStreaming, StateClosed,
	}
	if got := rig.events.states(); !reflect.DeepEqual(got, want) {
		t.Errorf("states = %v\nwant %v", got, want)
	}

	closed := rig.events.closed()
	if len(closed) != 1 {
		t.Fatalf("closed events = %d, want 1", len(closed))
	}
	if closed[0].Failed() || closed[0].OutputBytes != out.Size || closed[0].JobID != out.JobID {
		t.Errorf("closed event = %+v", closed[0])
	}
}

func TestRenderFetchFailureAbortsJob(t *testing.T) {
	srv := newImageServer(t, "/two.png")
	rig := newTestRig(t, 1, nil)

	req := normalize(t, v1.RenderRequest{Slides: []v1.Slide{
		{ImageURL: srv.URL + "/one.png"},
		{ImageURL: srv.URL + "/two.png"},
		{ImageURL: srv.URL + "/three.png"},
	}})

	out, err := rig.proc.Render(context.Background(), req)
	if out != nil {
		t.Fatal("expected no output")
	}
	if !errors.IsCode(err, errors.CodeFetch) {
		t.Fatalf("code = %s, want %s (err %v)", errors.GetCode(err), errors.CodeFetch, err)
	}
	if idx, ok := errors.GetSlide(err); !ok || idx != 2 {
		t.Errorf("slide = %d,%v, want 2", idx, ok)
	}
	if n := rig.engine.clipCount(); n != 0 {
		t.Errorf("engine invoked %d times, want 0", n)
	}
	if srv.hitCount("/three.png") != 0 {
		t.Error("slide 3 fetched after slide 2 failed")
	}

	closed := rig.events.closed()
	if len(closed) != 1 || !closed[0].Failed() {
		t.Errorf("closed events = %+v, want one failed", closed)
	}
	assertNoWorkspaces(t, rig.base)
}

func TestRenderEncodeFailureStopsRemainingSlides(t *testing.T) {
	srv := newImageServer(t)
	rig := newTestRig(t, 1, nil)
	rig.engine.failSlide = 2

	req := normalize(t, v1.RenderRequest{Slides: []v1.Slide{
		{ImageURL: srv.URL + "/1.png"},
		{ImageURL: srv.URL + "/2.png"},
		{ImageURL: srv.URL + "/3.png"},
	}})

	_, err := rig.proc.Render(context.Background(), req)
	if !errors.IsCode(err, errors.CodeEncode) {
		t.Fatalf("code = %s, want %s (err %v)", errors.GetCode(err), errors.CodeEncode, err)
	}
	if idx, _ := errors.GetSlide(err); idx != 2 {
		t.Errorf("slide = %d, want 2", idx)
	}
	if n := rig.engine.clipCount(); n != 2 {
		t.Errorf("engine invoked %d times, want 2", n)
	}
	assertNoWorkspaces(t, rig.base)
}

func TestRenderConcatFailure(t *testing.T) {
	srv := newImageServer(t)
	rig := newTestRig(t, 2, nil)
	rig.engine.failConc = true

	req := normalize(t, v1.RenderRequest{Slides: []v1.Slide{{ImageURL: srv.URL + "/1.png"}}})

	_, err := rig.proc.Render(context.Background(), req)
	if !errors.IsCode(err, errors.CodeConcat) {
		t.Fatalf("code = %s, want %s", errors.GetCode(err), errors.CodeConcat)
	}
	assertNoWorkspaces(t, rig.base)
}

func TestRenderUsesAssetCache(t *testing.T) {
	srv := newImageServer(t)
	cache := &mapCache{}
	rig := newTestRig(t, 1, cache)

	req := normalize(t, v1.RenderRequest{Slides: []v1.Slide{
		{ImageURL: srv.URL + "/same.png"},
		{ImageURL: srv.URL + "/same.png"},
	}})

	for i := 0; i < 2; i++ {
		out, err := rig.proc.Render(context.Background(), req)
		if err != nil {
			t.Fatalf("Render() #%d error = %v", i, err)
		}
		out.Close(context.Background(), nil)
	}

	if got := srv.hitCount("/same.png"); got != 1 {
		t.Errorf("origin hit %d times, want 1", got)
	}
	if got := cache.gets.Load(); got != 4 {
		t.Errorf("cache reads = %d, want 4", got)
	}
	assertNoWorkspaces(t, rig.base)
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, stderrors.New("broken pipe") }

func TestStreamWriterFailureStillCleansUp(t *testing.T) {
	srv := newImageServer(t)
	rig := newTestRig(t, 1, nil)

	req := normalize(t, v1.RenderRequest{Slides: []v1.Slide{{ImageURL: srv.URL + "/1.png"}}})
	out, err := rig.proc.Render(context.Background(), req)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}

	if _, err := out.Stream(context.Background(), failingWriter{}); err == nil {
		t.Fatal("expected stream error")
	}
	if _, err := os.Stat(out.Path); !os.IsNotExist(err) {
		t.Errorf("output still on disk: %v", err)
	}

	out.Close(context.Background(), nil)
	closed := rig.events.closed()
	if len(closed) != 1 || !closed[0].Failed() {
		t.Errorf("closed events = %+v, want one failed", closed)
	}
	assertNoWorkspaces(t, rig.base)
}

func TestRenderRespectsCanceledContext(t *testing.T) {
	srv := newImageServer(t)
	rig := newTestRig(t, 1, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	req := normalize(t, v1.RenderRequest{Slides: []v1.Slide{{ImageURL: srv.URL + "/1.png"}}})
	_, err := rig.proc.Render(ctx, req)
	if !errors.IsCode(err, errors.CodeCanceled) {
		t.Errorf("code = %s, want %s", errors.GetCode(err), errors.CodeCanceled)
	}
	if len(rig.events.closed()) != 1 {
		t.Error("canceled job did not emit Closed")
	}
	assertNoWorkspaces(t, rig.base)
}

func TestRenderJobsAreIsolated(t *testing.T) {
	srv := newImageServer(t)
	rig := newTestRig(t, 1, nil)

	req := normalize(t, v1.RenderRequest{Slides: []v1.Slide{{ImageURL: srv.URL + "/1.png"}}})
	a, err := rig.proc.Render(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	b, err := rig.proc.Render(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}

	if a.JobID == b.JobID || a.Path == b.Path {
		t.Errorf("jobs share identity: %s %s", a.Path, b.Path)
	}
	a.Close(context.Background(), nil)
	if _, err := os.Stat(b.Path); err != nil {
		t.Errorf("closing one job removed another's output: %v", err)
	}
	b.Close(context.Background(), nil)
	assertNoWorkspaces(t, rig.base)
}
