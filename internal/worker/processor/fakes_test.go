package processor

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"slidecast/internal/pkg/logger"
	"slidecast/internal/worker/renderer"
)

// fakeEngine writes a marker per clip naming the staged image and the
// duration, and concatenates clips by reading the manifest, so the output
// file spells out which slides were joined and in what order.
type fakeEngine struct {
	mu        sync.Mutex
	clips     []renderer.ClipSpec
	captions  map[int]string
	failSlide int
	failConc  bool
	delay     func(spec renderer.ClipSpec) time.Duration
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{captions: make(map[int]string)}
}

func (e *fakeEngine) RenderClip(ctx context.Context, spec renderer.ClipSpec) error {
	idx := indexFromName(spec.OutputPath)

	e.mu.Lock()
	e.clips = append(e.clips, spec)
	if b, err := os.ReadFile(spec.TextPath); err == nil {
		e.captions[idx] = string(b)
	}
	e.mu.Unlock()

	if e.delay != nil {
		select {
		case <-time.After(e.delay(spec)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if idx == e.failSlide {
		return fmt.Errorf("exit status 1: simulated encoder failure")
	}
	marker := fmt.Sprintf("[%s %gs]", filepath.Base(spec.ImagePath), spec.DurationSec)
	return os.WriteFile(spec.OutputPath, []byte(marker), 0o644)
}

func (e *fakeEngine) Concat(ctx context.Context, spec renderer.ConcatSpec) error {
	if e.failConc {
		return fmt.Errorf("exit status 1: Non-monotonous DTS")
	}
	manifest, err := os.ReadFile(spec.ManifestPath)
	if err != nil {
		return err
	}
	var out bytes.Buffer
	for _, line := range strings.Split(strings.TrimSpace(string(manifest)), "\n") {
		p := strings.TrimSuffix(strings.TrimPrefix(line, "file '"), "'")
		p = strings.ReplaceAll(p, `'\''`, "'")
		b, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		out.Write(b)
	}
	return os.WriteFile(spec.OutputPath, out.Bytes(), 0o644)
}

func (e *fakeEngine) clipCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.clips)
}

func indexFromName(path string) int {
	var idx int
	base := filepath.Base(path)
	_, _ = fmt.Sscanf(base[strings.LastIndex(base, "_")+1:], "%d", &idx)
	return idx
}

// imageServer serves a small PNG for every path except those listed in
// missing, which get a 404. hits counts requests per path.
type imageServer struct {
	*httptest.Server
	mu      sync.Mutex
	hits    map[string]int
	missing map[string]bool
}

func newImageServer(t *testing.T, missing ...string) *imageServer {
	t.Helper()
	s := &imageServer{hits: make(map[string]int), missing: make(map[string]bool)}
	for _, m := range missing {
		s.missing[m] = true
	}

	var buf bytes.Buffer
	img := image.NewRGBA(image.Rect(0, 0, 8, 6))
	for x := 0; x < 8; x++ {
		for y := 0; y < 6; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 30), G: uint8(y * 40), B: 200, A: 255})
		}
	}
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	pngBytes := buf.Bytes()

	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.hits[r.URL.Path]++
		s.mu.Unlock()
		if s.missing[r.URL.Path] {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(pngBytes)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *imageServer) hitCount(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

// eventLog records every observed transition.
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) Observe(_ context.Context, ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) states() []State {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]State, 0, len(l.events))
	for _, ev := range l.events {
		out = append(out, ev.State)
	}
	return out
}

func (l *eventLog) closed() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Event
	for _, ev := range l.events {
		if ev.State == StateClosed {
			out = append(out, ev)
		}
	}
	return out
}

// mapCache is an in-memory AssetCache.
type mapCache struct {
	mu   sync.Mutex
	data map[string][]byte
	gets atomic.Int32
}

func (c *mapCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.gets.Add(1)
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.data[key]
	return b, ok, nil
}

func (c *mapCache) Set(_ context.Context, key string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.data == nil {
		c.data = make(map[string][]byte)
	}
	c.data[key] = data
	return nil
}

type testRig struct {
	proc   *Processor
	engine *fakeEngine
	events *eventLog
	base   string
}

func newTestRig(t *testing.T, concurrency int, cache AssetCache) *testRig {
	t.Helper()
	return newTestRigWith(t, func(d *Deps) {
		d.EncodeConcurrency = concurrency
		d.Cache = cache
	})
}

// newTestRigWith builds a rig whose Deps can be adjusted by tune before the
// processor is created.
func newTestRigWith(t *testing.T, tune func(d *Deps)) *testRig {
	t.Helper()
	base := t.TempDir()
	engine := newFakeEngine()
	events := &eventLog{}
	log := logger.Discard()

	d := Deps{
		Renderer:          engine,
		Workspaces:        NewWorkspaces(base, log),
		Observer:          events,
		Log:               log,
		FetchTimeout:      5 * time.Second,
		EncodeConcurrency: 1,
		EncodeTimeout:     5 * time.Second,
		ConcatTimeout:     5 * time.Second,
	}
	if tune != nil {
		tune(&d)
	}
	return &testRig{proc: New(d), engine: engine, events: events, base: base}
}

// assertNoWorkspaces fails when anything is left in the workspace base.
func assertNoWorkspaces(t *testing.T, base string) {
	t.Helper()
	entries, err := os.ReadDir(base)
	if err != nil {
		t.Fatalf("read base: %v", err)
	}
	if len(entries) != 0 {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Fatalf("expected no workspace directories, found %v", names)
	}
}

func ptr(f float64) *float64 { return &f }
