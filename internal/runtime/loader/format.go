package loader

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/drblury/funcflow/internal/runtime/jsoncodec"
)

// Format is the packaging of a function module.
type Format int

const (
	// FormatClassic modules are loaded synchronously.
	FormatClassic Format = iota
	// FormatESModule modules are loaded asynchronously and require a
	// minimum host runtime version.
	FormatESModule
)

func (f Format) String() string {
	if f == FormatESModule {
		return "esmodule"
	}
	return "classic"
}

const (
	manifestFile       = "package.json"
	manifestTypeModule = "module"
)

type packageManifest struct {
	Type string `json:"type"`
}

// DetectFormat classifies the module at path. The .mjs extension always
// means an ES module and .cjs never does; any other file follows the "type"
// field of the nearest package.json found walking up from its directory.
func DetectFormat(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mjs":
		return FormatESModule, nil
	case ".cjs":
		return FormatClassic, nil
	}

	dir, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return FormatClassic, err
	}
	manifest, found, err := nearestManifest(dir)
	if err != nil || !found {
		return FormatClassic, err
	}
	if manifest.Type == manifestTypeModule {
		return FormatESModule, nil
	}
	return FormatClassic, nil
}

func nearestManifest(dir string) (packageManifest, bool, error) {
	for {
		candidate := filepath.Join(dir, manifestFile)
		data, err := os.ReadFile(candidate)
		switch {
		case err == nil:
			var m packageManifest
			if err := jsoncodec.Unmarshal(data, &m); err != nil {
				return packageManifest{}, false, fmt.Errorf("parse %s: %w", candidate, err)
			}
			return m, true, nil
		case !errors.Is(err, fs.ErrNotExist):
			return packageManifest{}, false, fmt.Errorf("read %s: %w", candidate, err)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return packageManifest{}, false, nil
		}
		dir = parent
	}
}
