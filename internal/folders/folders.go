// Package folders maps logical model folder names to directories on disk.
package folders

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

const (
	// DefaultFolder is used when the caller names no folder.
	DefaultFolder = "checkpoints"
	// DiffusionModels is the folder whose second configured path is preferred.
	DiffusionModels = "diffusion_models"
)

var ErrInvalidFolder = errors.New("invalid folder name")

// Resolver looks up the directories registered for a logical folder name.
type Resolver interface {
	// FolderPaths returns the ordered directories for name and whether name
	// is a known folder. Known folders have at least one path.
	FolderPaths(name string) ([]string, bool)
	// ModelsDir is the root that unknown folder names are created under.
	ModelsDir() string
}

// Dir picks the directory a model in folder should be written to.
func Dir(r Resolver, folder string) (string, error) {
	if folder == "" || folder == "." || folder == ".." || strings.ContainsAny(folder, `/\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidFolder, folder)
	}

	paths, ok := r.FolderPaths(folder)
	if !ok || len(paths) == 0 {
		return filepath.Join(r.ModelsDir(), folder), nil
	}

	if folder == DiffusionModels && len(paths) > 1 {
		return paths[1], nil
	}

	return paths[0], nil
}

var defaultFolders = map[string][]string{
	"checkpoints":      {"checkpoints"},
	"configs":          {"configs"},
	"loras":            {"loras"},
	"vae":              {"vae"},
	"text_encoders":    {"text_encoders", "clip"},
	"clip":             {"clip", "text_encoders"},
	"unet":             {"unet", "diffusion_models"},
	"diffusion_models": {"unet", "diffusion_models"},
	"clip_vision":      {"clip_vision"},
	"style_models":     {"style_models"},
	"embeddings":       {"embeddings"},
	"diffusers":        {"diffusers"},
	"vae_approx":       {"vae_approx"},
	"controlnet":       {"controlnet", "t2i_adapter"},
	"gligen":           {"gligen"},
	"upscale_models":   {"upscale_models"},
	"hypernetworks":    {"hypernetworks"},
	"photomaker":       {"photomaker"},
	"classifiers":      {"classifiers"},
}

// Static is a Resolver backed by a fixed table rooted at a models directory.
type Static struct {
	modelsDir string
	folders   map[string][]string
}

// NewStatic builds the default folder table under modelsDir. Entries in
// overrides replace the default paths of a folder or add new folders.
func NewStatic(modelsDir string, overrides map[string][]string) *Static {
	s := &Static{
		modelsDir: modelsDir,
		folders:   make(map[string][]string, len(defaultFolders)+len(overrides)),
	}

	for name, subdirs := range defaultFolders {
		paths := make([]string, 0, len(subdirs))
		for _, sub := range subdirs {
			paths = append(paths, filepath.Join(modelsDir, sub))
		}

		s.folders[name] = paths
	}

	for name, paths := range overrides {
		if len(paths) == 0 {
			continue
		}

		s.folders[name] = append([]string(nil), paths...)
	}

	return s
}

// ParseOverrides turns "name" -> "dir1<list sep>dir2" pairs into folder paths.
func ParseOverrides(raw map[string]string) map[string][]string {
	out := make(map[string][]string, len(raw))

	for name, list := range raw {
		var paths []string

		for _, p := range filepath.SplitList(list) {
			if p = strings.TrimSpace(p); p != "" {
				paths = append(paths, p)
			}
		}

		if len(paths) > 0 {
			out[strings.TrimSpace(name)] = paths
		}
	}

	return out
}

func (s *Static) FolderPaths(name string) ([]string, bool) {
	paths, ok := s.folders[name]
	if !ok {
		return nil, false
	}

	return append([]string(nil), paths...), true
}

func (s *Static) ModelsDir() string {
	return s.modelsDir
}

// AllDirs returns every distinct configured directory, sorted.
func (s *Static) AllDirs() []string {
	seen := make(map[string]struct{})

	for _, paths := range s.folders {
		for _, p := range paths {
			seen[filepath.Clean(p)] = struct{}{}
		}
	}

	dirs := make([]string, 0, len(seen))
	for d := range seen {
		dirs = append(dirs, d)
	}

	sort.Strings(dirs)

	return dirs
}
