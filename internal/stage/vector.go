package stage

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/p-blackswan/stm32pio/internal/config"
	perrors "github.com/p-blackswan/stm32pio/internal/errors"
	"github.com/p-blackswan/stm32pio/internal/inifile"
	"github.com/p-blackswan/stm32pio/internal/patch"
)

const chainLen = int(Built) + 1

// Vector is the completion state of every chained stage.
//
// raw holds each stage's own test. The reported value of a stage is its raw
// test AND the reported value of its predecessor, so a stage never reads as
// complete while an earlier one does not.
type Vector struct {
	raw          [chainLen]bool
	resolveErr   error
	inconsistent bool
}

// Get reports whether s and every stage before it are complete.
func (v Vector) Get(s Stage) bool {
	if !s.InChain() || v.resolveErr != nil {
		return false
	}
	for _, prev := range Chain {
		if !v.raw[prev] {
			return false
		}
		if prev == s {
			return true
		}
	}
	return false
}

// Raw reports the result of the test for s alone.
func (v Vector) Raw(s Stage) bool {
	if !s.InChain() {
		return false
	}
	return v.raw[s]
}

// Inconsistent reports whether a later stage tested complete while an earlier
// one did not.
func (v Vector) Inconsistent() bool { return v.inconsistent }

// Err explains a Current of InitError or an inconsistent vector.
func (v Vector) Err() error {
	if v.resolveErr != nil {
		return v.resolveErr
	}
	if v.inconsistent {
		return perrors.ErrInconsistentState
	}
	return nil
}

// Current is the highest stage whose own test and all predecessor tests pass.
// It is InitError when the description file cannot be resolved and Undefined
// when the vector is inconsistent or nothing is complete.
func (v Vector) Current() Stage {
	if v.resolveErr != nil {
		return InitError
	}
	if v.inconsistent {
		return Undefined
	}
	cur := Undefined
	for _, s := range Chain {
		if !v.raw[s] {
			break
		}
		cur = s
	}
	return cur
}

// Map returns the reported value of every chained stage keyed by name.
func (v Vector) Map() map[string]bool {
	out := make(map[string]bool, len(Chain))
	for _, s := range Chain {
		out[s.String()] = v.Get(s)
	}
	return out
}

func (v Vector) String() string {
	var b strings.Builder
	for _, s := range Chain {
		if v.Get(s) {
			b.WriteString("[*]  ")
		} else {
			b.WriteString("[ ]  ")
		}
		b.WriteString(s.Description())
		b.WriteByte('\n')
	}
	return b.String()
}

// FromRaw builds a vector out of precomputed test results. Stages absent
// from raw are false.
func FromRaw(raw map[Stage]bool) Vector {
	var v Vector
	for s, ok := range raw {
		if s.InChain() {
			v.raw[s] = ok
		}
	}
	v.inconsistent = breaksChain(v.raw)
	return v
}

// Compute runs every stage test against the live project directory.
func Compute(cfg *config.Config) Vector {
	var v Vector
	dir := cfg.Dir()

	_, err := cfg.IOCFile()
	switch {
	case err == nil:
		v.raw[Empty] = true
	case errors.Is(err, perrors.ErrNoDescription) && blankDir(dir):
	default:
		v.resolveErr = err
	}

	v.raw[Initialized] = nonEmptyFile(cfg.Path())
	v.raw[Generated] = hasSources(filepath.Join(dir, config.IncludeDir)) &&
		hasSources(filepath.Join(dir, config.SourceDir))

	doc, err := inifile.ParseFile(filepath.Join(dir, config.PlatformIOFile))
	if err == nil {
		v.raw[PIOInitialized] = hasEnvSection(doc)
		v.raw[Patched] = isPatched(doc, cfg.Settings().PlatformIOPatch, dir)
	}

	v.raw[Built] = isBuilt(dir, cfg.Settings().Board)

	v.inconsistent = breaksChain(v.raw)
	return v
}

func breaksChain(raw [chainLen]bool) bool {
	gap := false
	for _, s := range Chain {
		if !raw[s] {
			gap = true
		} else if gap {
			return true
		}
	}
	return false
}

// blankDir is true when dir holds nothing but hidden entries and the
// configuration file.
func blankDir(dir string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	for _, e := range entries {
		name := e.Name()
		if name == config.FileName || strings.HasPrefix(name, ".") {
			continue
		}
		return false
	}
	return true
}

func nonEmptyFile(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.Mode().IsRegular() && fi.Size() > 0
}

var sourceExts = map[string]bool{
	".c": true, ".h": true, ".cpp": true, ".hpp": true, ".cc": true, ".s": true,
}

func hasSources(dir string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if !e.IsDir() && sourceExts[strings.ToLower(filepath.Ext(e.Name()))] {
			return true
		}
	}
	return false
}

func hasEnvSection(doc *inifile.Document) bool {
	for _, name := range doc.Sections() {
		if strings.HasPrefix(name, "env:") {
			return true
		}
	}
	return false
}

func isPatched(doc *inifile.Document, patchContent, dir string) bool {
	ok, err := patch.Applied(doc, []byte(patchContent))
	if err != nil || !ok {
		return false
	}
	dirs, err := patch.Directories([]byte(patchContent), dir)
	if err != nil {
		return false
	}
	for _, d := range dirs {
		fi, err := os.Stat(d)
		if err != nil || !fi.IsDir() {
			return false
		}
	}
	return true
}

func isBuilt(dir, board string) bool {
	build := filepath.Join(dir, filepath.FromSlash(config.BuildDir))
	if board != "" {
		build = filepath.Join(build, board)
	}
	entries, err := os.ReadDir(build)
	return err == nil && len(entries) > 0
}
