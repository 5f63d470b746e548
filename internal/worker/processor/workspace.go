package processor

import (
	"os"
	"path/filepath"
	"sync"

	"slidecast/internal/pkg/errors"
	"slidecast/internal/pkg/logger"
	"slidecast/internal/worker/util"
)

const (
	framesDirName = "frames"
	clipsDirName  = "clips"
)

// Workspaces creates one private directory tree per render job under base.
type Workspaces struct {
	base string
	log  *logger.Logger
}

func NewWorkspaces(base string, log *logger.Logger) *Workspaces {
	if base == "" {
		base = os.TempDir()
	}
	if log == nil {
		log = logger.NewDefault()
	}
	return &Workspaces{base: base, log: log.WithComponent("workspace")}
}

// Base is the directory workspaces are created in.
func (m *Workspaces) Base() string { return m.base }

// Workspace is owned by exactly one job. Close removes it; later calls are
// no-ops.
type Workspace struct {
	Root      string
	FramesDir string
	ClipsDir  string

	log       *logger.Logger
	closeOnce sync.Once
}

// Open creates <base>/slidecast-<jobID>-<random>/{frames,clips}. The random
// suffix from MkdirTemp guarantees a fresh directory even if an id repeats.
func (m *Workspaces) Open(jobID string) (*Workspace, error) {
	root, err := os.MkdirTemp(m.base, "slidecast-"+util.SafeName(jobID)+"-")
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.CodeWorkspace, "workspace.open", "failed to create workspace")
	}

	ws := &Workspace{
		Root:      root,
		FramesDir: filepath.Join(root, framesDirName),
		ClipsDir:  filepath.Join(root, clipsDirName),
		log:       m.log.WithJobID(jobID),
	}
	for _, dir := range []string{ws.FramesDir, ws.ClipsDir} {
		if err := os.Mkdir(dir, 0o755); err != nil {
			ws.Close()
			return nil, errors.WrapWithCode(err, errors.CodeWorkspace, "workspace.open", "failed to create workspace subdirectory")
		}
	}

	ws.log.Debug("workspace opened", "root", root)
	return ws, nil
}

// Close deletes the workspace tree. Failures are logged, never returned.
func (w *Workspace) Close() {
	if w == nil {
		return
	}
	w.closeOnce.Do(func() {
		if err := os.RemoveAll(w.Root); err != nil {
			w.log.Warn("workspace cleanup failed", "root", w.Root, "error", err.Error())
			return
		}
		w.log.Debug("workspace removed", "root", w.Root)
	})
}
