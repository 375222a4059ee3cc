// Package patch merges one INI document onto another.
//
// It is used to reconcile the directory layout of a PlatformIO project file
// with the layout the code generator produces. Applying a patch drops every
// comment line from the target; this is irreversible.
package patch

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	perrors "github.com/p-blackswan/stm32pio/internal/errors"
	"github.com/p-blackswan/stm32pio/internal/inifile"
)

// Apply merges patch onto target and returns the rewritten target text.
// Every key in the patch overwrites or is inserted into the same section of
// the target; missing sections are appended in the patch's key order.
func Apply(target, patch []byte) ([]byte, error) {
	doc, err := inifile.Parse(target)
	if err != nil {
		return nil, &perrors.PatchTargetError{Err: err}
	}
	p, err := parsePatch(patch)
	if err != nil {
		return nil, err
	}
	merge(doc, p)
	return doc.Bytes(), nil
}

// ApplyFile patches the file at path in place.
func ApplyFile(path string, patch []byte) error {
	doc, err := inifile.ParseFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("read patch target: %w", err)
		}
		return &perrors.PatchTargetError{Path: path, Err: err}
	}
	p, err := parsePatch(patch)
	if err != nil {
		return err
	}
	merge(doc, p)
	if err := doc.WriteFile(path); err != nil {
		return fmt.Errorf("write patched %s: %w", filepath.Base(path), err)
	}
	return nil
}

// Applied reports whether every section/key of patch is present in target
// with an identical value. A malformed target is reported as not applied.
func Applied(target *inifile.Document, patch []byte) (bool, error) {
	p, err := parsePatch(patch)
	if err != nil {
		return false, err
	}
	for _, name := range p.Sections() {
		ps, _ := p.Section(name)
		for _, key := range ps.Keys() {
			want, _ := ps.Get(key)
			got, ok := target.Get(name, key)
			if !ok || got != want {
				return false, nil
			}
		}
	}
	return true, nil
}

// Directories returns the values of patch keys that name a directory
// (keys ending in "_dir"), relative to base when not absolute.
func Directories(patch []byte, base string) ([]string, error) {
	p, err := parsePatch(patch)
	if err != nil {
		return nil, err
	}
	var dirs []string
	for _, name := range p.Sections() {
		ps, _ := p.Section(name)
		for _, key := range ps.Keys() {
			if !strings.HasSuffix(key, "_dir") {
				continue
			}
			v, _ := ps.Get(key)
			if v == "" {
				continue
			}
			if !filepath.IsAbs(v) {
				v = filepath.Join(base, v)
			}
			dirs = append(dirs, v)
		}
	}
	return dirs, nil
}

func parsePatch(patch []byte) (*inifile.Document, error) {
	p, err := inifile.Parse(patch)
	if err != nil {
		return nil, fmt.Errorf("parse patch content: %w", err)
	}
	return p, nil
}

func merge(doc, p *inifile.Document) {
	for _, name := range p.Sections() {
		ps, _ := p.Section(name)
		ts := doc.AddSection(name)
		for _, key := range ps.Keys() {
			v, _ := ps.Get(key)
			ts.Set(key, v)
		}
	}
}
