package plugin

import (
	"encoding/json"
	"log/slog"
	"os"
	"sync"
)

// Gatekeeper reports whether a feature-flag key is active for the current
// user. Results are assumed stable within one admission run.
type Gatekeeper interface {
	Enabled(key string) bool
}

// StaticGatekeeper answers from a fixed map. Unknown keys are inactive.
type StaticGatekeeper map[string]bool

// Enabled implements Gatekeeper.
func (g StaticGatekeeper) Enabled(key string) bool { return g[key] }

// FileGatekeeper answers from a JSON object of key -> bool loaded once on
// first use. A missing or malformed file degrades to "all keys inactive",
// logged and absorbed.
type FileGatekeeper struct {
	path   string
	logger *slog.Logger

	once  sync.Once
	flags map[string]bool
}

// Compile-time interface check.
var _ Gatekeeper = (*FileGatekeeper)(nil)

// NewFileGatekeeper creates a gatekeeper backed by the JSON file at path.
func NewFileGatekeeper(path string, logger *slog.Logger) *FileGatekeeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileGatekeeper{path: path, logger: logger}
}

// Enabled implements Gatekeeper.
func (g *FileGatekeeper) Enabled(key string) bool {
	g.once.Do(g.load)
	return g.flags[key]
}

func (g *FileGatekeeper) load() {
	g.flags = make(map[string]bool)

	data, err := os.ReadFile(g.path) //nolint:gosec // path comes from configuration
	if err != nil {
		if !os.IsNotExist(err) {
			g.logger.Warn("gatekeeper file unreadable, all keys inactive",
				"path", g.path,
				"error", err,
			)
		}
		return
	}

	if err := json.Unmarshal(data, &g.flags); err != nil {
		g.flags = make(map[string]bool)
		g.logger.Warn("malformed gatekeeper file, all keys inactive",
			"path", g.path,
			"error", err,
		)
	}
}
