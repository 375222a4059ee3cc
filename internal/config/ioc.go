package config

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	perrors "github.com/p-blackswan/stm32pio/internal/errors"
)

// IOCExtension is the extension of hardware-description files.
const IOCExtension = ".ioc"

// ResolveIOC finds the hardware-description file of dir. An explicit path
// must exist. Otherwise the configured name is used if it exists, else the
// directory must contain exactly one *.ioc file.
func ResolveIOC(dir, explicit, configured string) (string, error) {
	if explicit != "" {
		if isFile(explicit) {
			return explicit, nil
		}
		return "", &perrors.ResolutionError{Dir: dir, Candidates: []string{explicit}, Err: os.ErrNotExist}
	}
	if configured != "" {
		p := configured
		if !filepath.IsAbs(p) {
			p = filepath.Join(dir, filepath.FromSlash(p))
		}
		if isFile(p) {
			return p, nil
		}
	}

	candidates, err := FindIOCFiles(dir)
	if err != nil {
		return "", &perrors.ResolutionError{Dir: dir, Err: err}
	}
	switch len(candidates) {
	case 0:
		return "", &perrors.ResolutionError{Dir: dir, Err: perrors.ErrNoDescription}
	case 1:
		return filepath.Join(dir, candidates[0]), nil
	default:
		return "", &perrors.ResolutionError{Dir: dir, Candidates: candidates, Err: perrors.ErrAmbiguous}
	}
}

// FindIOCFiles lists the names of *.ioc files at the top level of dir.
func FindIOCFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), IOCExtension) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

func isFile(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.Mode().IsRegular()
}
