package action

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/stm32pio/internal/config"
	perrors "github.com/p-blackswan/stm32pio/internal/errors"
	"github.com/p-blackswan/stm32pio/internal/patch"
	"github.com/p-blackswan/stm32pio/internal/tool"
)

// scaffoldDirs are created by "platformio project init" and superseded by
// the generator's directories once the project is patched.
var scaffoldDirs = []string{"include", "src"}

func (e *Executor) clean(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	s := cfg.Settings()
	if s.CleanupUseGit {
		return e.runTool(ctx, tool.GitCleanCommand(cfg.Dir()), nil, log)
	}

	keep := s.CleanupIgnore
	if len(keep) == 0 {
		iocPath, err := cfg.IOCFile()
		if err != nil {
			return fmt.Errorf("%w: no %s configured and no description file to keep: %v",
				perrors.ErrPrecondition, config.KeyCleanupIgnore, err)
		}
		keep = []string{filepath.Base(iocPath)}
	}

	removed, err := RemoveExcept(cfg.Dir(), keep)
	log.Info().Int("removed", removed).Strs("kept", keep).Msg("cleaned project directory")
	return err
}

// RemoveExcept deletes everything under root except the paths in keep.
// Entries are relative to root, or absolute paths inside root; absolute paths
// elsewhere keep nothing. Directories leading to a kept path are descended
// into rather than removed. It returns the number of removed entries.
func RemoveExcept(root string, keep []string) (int, error) {
	set := make(map[string]bool, len(keep))
	for _, k := range keep {
		if filepath.IsAbs(k) {
			rel, err := filepath.Rel(root, k)
			if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
				continue
			}
			k = rel
		}
		k = strings.TrimPrefix(path.Clean(filepath.ToSlash(k)), "./")
		if k != "" && k != "." {
			set[k] = true
		}
	}
	return removeExcept(root, "", set)
}

func removeExcept(root, rel string, keep map[string]bool) (int, error) {
	entries, err := os.ReadDir(filepath.Join(root, filepath.FromSlash(rel)))
	if err != nil {
		return 0, err
	}
	var (
		removed int
		errs    []error
	)
	for _, e := range entries {
		r := path.Join(rel, e.Name())
		if keep[r] {
			continue
		}
		if e.IsDir() && keptBelow(r, keep) {
			n, err := removeExcept(root, r, keep)
			removed += n
			if err != nil {
				errs = append(errs, err)
			}
			continue
		}
		if err := os.RemoveAll(filepath.Join(root, filepath.FromSlash(r))); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

func keptBelow(dir string, keep map[string]bool) bool {
	prefix := dir + "/"
	for k := range keep {
		if strings.HasPrefix(k, prefix) {
			return true
		}
	}
	return false
}

// removeScaffoldDirs deletes PlatformIO's include/src directories when they
// hold nothing but its placeholder README. Directories the patch points at
// are never touched, which matters on case-insensitive filesystems where
// "src" and "Src" are the same directory.
func removeScaffoldDirs(dir, patchContent string, log zerolog.Logger) {
	targets, _ := patch.Directories([]byte(patchContent), dir)
	for _, name := range scaffoldDirs {
		p := filepath.Join(dir, name)
		fi, err := os.Stat(p)
		if err != nil || !fi.IsDir() || sameAsAny(fi, targets) {
			continue
		}
		entries, err := os.ReadDir(p)
		if err != nil || !onlyReadme(entries) {
			continue
		}
		if err := os.RemoveAll(p); err != nil {
			log.Warn().Err(err).Str("dir", name).Msg("could not remove scaffold directory")
			continue
		}
		log.Debug().Str("dir", name).Msg("removed scaffold directory")
	}
}

func sameAsAny(fi os.FileInfo, paths []string) bool {
	for _, p := range paths {
		if other, err := os.Stat(p); err == nil && os.SameFile(fi, other) {
			return true
		}
	}
	return false
}

func onlyReadme(entries []os.DirEntry) bool {
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(strings.ToUpper(e.Name()), "README") {
			return false
		}
	}
	return true
}
