// Package config resolves the layered configuration of a project.
//
// Three layers are merged per key, rightmost wins: compiled-in defaults, the
// persisted stm32pio.ini in the project directory, and overrides (environment
// variables first, then caller-supplied values). Empty values never override.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	perrors "github.com/p-blackswan/stm32pio/internal/errors"
	"github.com/p-blackswan/stm32pio/internal/inifile"
)

// FileName is the name of the persisted per-project configuration file.
const FileName = "stm32pio.ini"

// Sections.
const (
	SectionApp     = "app"
	SectionProject = "project"
)

// Keys.
const (
	KeyPlatformIOCmd = "platformio_cmd"
	KeyCubeMXCmd     = "cubemx_cmd"
	KeyJavaCmd       = "java_cmd"

	KeyScript        = "cubemx_script_content"
	KeyPatch         = "platformio_ini_patch_content"
	KeyBoard         = "board"
	KeyIOCFile       = "ioc_file"
	KeyCleanupIgnore = "cleanup_ignore"
	KeyCleanupUseGit = "cleanup_use_git"
	KeyInspectIOC    = "inspect_ioc"
	KeyLastError     = "last_error"
)

// Placeholders usable in values. They are expanded only when a value is
// consumed (e.g. composing the generator script) and written back in place
// of absolute paths on save so the file stays portable.
const (
	PlaceholderProjectDir = "${project_dir_absolute_path}"
	PlaceholderIOCFile    = "${ioc_file_absolute_path}"
)

var validate = validator.New()

// Layer is one configuration layer: section -> key -> value.
type Layer map[string]map[string]string

// Set stores value under section/key.
func (l Layer) Set(section, key, value string) {
	if l[section] == nil {
		l[section] = make(map[string]string)
	}
	l[section][key] = value
}

// Get returns the value under section/key.
func (l Layer) Get(section, key string) (string, bool) {
	v, ok := l[section][key]
	return v, ok
}

// Clone returns a deep copy of l.
func (l Layer) Clone() Layer {
	out := make(Layer, len(l))
	for s, kv := range l {
		for k, v := range kv {
			out.Set(s, k, v)
		}
	}
	return out
}

// Merge combines layers left to right. For every key the rightmost non-empty
// value wins; an empty value means "unset" and falls through.
func Merge(layers ...Layer) Layer {
	out := make(Layer)
	for _, l := range layers {
		for s, kv := range l {
			for k, v := range kv {
				if v == "" {
					continue
				}
				out.Set(s, k, v)
			}
		}
	}
	return out
}

// Options controls Load.
type Options struct {
	// Dir is the project directory. Relative paths are made absolute.
	Dir string
	// IOCFile is an explicitly chosen hardware-description file.
	IOCFile string
	// Env is the environment override layer; nil means none.
	Env *Env
	// Overrides are caller-supplied values, the highest-precedence layer.
	Overrides Layer
}

// Config is the resolved configuration of one project. It is never mutated
// in place; the With* methods return modified copies.
//
// values is the effective view every getter reads. saved is what Write
// persists: defaults, the file and layers added with With, but neither the
// environment nor the overrides given to Load.
type Config struct {
	dir         string
	explicitIOC string
	values      Layer
	saved       Layer
}

// Settings is the typed view of a Config.
type Settings struct {
	PlatformIOCmd   string `validate:"required"`
	CubeMXCmd       string `validate:"required"`
	JavaCmd         string
	CubeMXScript    string `validate:"required"`
	PlatformIOPatch string `validate:"required"`
	Board           string
	IOCFile         string
	CleanupIgnore   []string
	CleanupUseGit   bool
	InspectIOC      bool
	LastError       string
}

// Load resolves the configuration of the project in opts.Dir. A missing
// stm32pio.ini is not an error; nothing is written until Write is called.
func Load(opts Options) (*Config, error) {
	dir, err := filepath.Abs(opts.Dir)
	if err != nil {
		return nil, fmt.Errorf("resolve project directory: %w", err)
	}
	fi, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("project directory: %w", err)
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("project directory %s is not a directory", dir)
	}

	file, err := ReadFileLayer(filepath.Join(dir, FileName))
	if err != nil {
		return nil, err
	}

	var env Layer
	if opts.Env != nil {
		env = opts.Env.Layer()
	}

	explicit := Layer{}
	var explicitIOC string
	if opts.IOCFile != "" {
		explicitIOC = opts.IOCFile
		if !filepath.IsAbs(explicitIOC) {
			explicitIOC = filepath.Join(dir, explicitIOC)
		}
		explicit.Set(SectionProject, KeyIOCFile, relativeTo(dir, explicitIOC))
	}

	c := &Config{
		dir:         dir,
		explicitIOC: explicitIOC,
		values:      Merge(Defaults(), file, env, opts.Overrides, explicit),
		saved:       Merge(Defaults(), file, explicit),
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// ReadFileLayer parses a persisted configuration file into a Layer. A
// missing file yields an empty layer.
func ReadFileLayer(path string) (Layer, error) {
	doc, err := inifile.ParseFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Layer{}, nil
		}
		return nil, fmt.Errorf("load %s: %w", filepath.Base(path), err)
	}
	l := Layer{}
	for _, name := range doc.Sections() {
		s, _ := doc.Section(name)
		for _, key := range s.Keys() {
			v, _ := s.Get(key)
			if v == "" {
				continue
			}
			l.Set(name, key, v)
		}
	}
	return l, nil
}

// Dir returns the absolute project directory.
func (c *Config) Dir() string { return c.dir }

// Path returns the path of the persisted configuration file.
func (c *Config) Path() string { return filepath.Join(c.dir, FileName) }

// Get returns the resolved value of section/key, or "" when unset.
func (c *Config) Get(section, key string) string {
	v, _ := c.values.Get(section, key)
	return v
}

// Values returns a copy of the resolved layer.
func (c *Config) Values() Layer { return c.values.Clone() }

// With returns a copy of c with l merged on top. Unlike the overrides given
// to Load, l is persisted by Write.
func (c *Config) With(l Layer) *Config {
	return &Config{dir: c.dir, explicitIOC: c.explicitIOC, values: Merge(c.values, l), saved: Merge(c.saved, l)}
}

// WithLastError returns a copy of c recording msg as the last error.
func (c *Config) WithLastError(msg string) *Config {
	values, saved := c.values.Clone(), c.saved.Clone()
	values.Set(SectionProject, KeyLastError, msg)
	saved.Set(SectionProject, KeyLastError, msg)
	return &Config{dir: c.dir, explicitIOC: c.explicitIOC, values: values, saved: saved}
}

// WithoutLastError returns a copy of c with the last error cleared.
func (c *Config) WithoutLastError() *Config {
	values, saved := c.values.Clone(), c.saved.Clone()
	delete(values[SectionProject], KeyLastError)
	delete(saved[SectionProject], KeyLastError)
	return &Config{dir: c.dir, explicitIOC: c.explicitIOC, values: values, saved: saved}
}

// Settings returns the typed view of the configuration. Placeholders in
// path-valued keys are expanded; the generator script is expanded separately
// by Expand when it is composed.
func (c *Config) Settings() Settings {
	ignore := splitLines(c.Get(SectionProject, KeyCleanupIgnore))
	for i, v := range ignore {
		ignore[i] = c.expandPath(v)
	}
	return Settings{
		PlatformIOCmd:   c.expandPath(c.Get(SectionApp, KeyPlatformIOCmd)),
		CubeMXCmd:       c.expandPath(c.Get(SectionApp, KeyCubeMXCmd)),
		JavaCmd:         c.expandPath(c.Get(SectionApp, KeyJavaCmd)),
		CubeMXScript:    c.Get(SectionProject, KeyScript),
		PlatformIOPatch: c.Get(SectionProject, KeyPatch),
		Board:           c.Get(SectionProject, KeyBoard),
		IOCFile:         c.expandDir(c.Get(SectionProject, KeyIOCFile)),
		CleanupIgnore:   ignore,
		CleanupUseGit:   parseBool(c.Get(SectionProject, KeyCleanupUseGit), false),
		InspectIOC:      parseBool(c.Get(SectionProject, KeyInspectIOC), true),
		LastError:       c.Get(SectionProject, KeyLastError),
	}
}

// Validate checks that the settings every action depends on are present.
func (c *Config) Validate() error {
	if err := validate.Struct(c.Settings()); err != nil {
		return fmt.Errorf("%w: %v", perrors.ErrInvalidConfig, err)
	}
	return nil
}

// IOCFile resolves the hardware-description file. It is re-evaluated on
// every call because the directory may change between calls.
func (c *Config) IOCFile() (string, error) {
	return ResolveIOC(c.dir, c.explicitIOC, c.expandDir(c.Get(SectionProject, KeyIOCFile)))
}

func (c *Config) expandDir(v string) string {
	return strings.ReplaceAll(v, PlaceholderProjectDir, c.dir)
}

// expandPath resolves the description file only when v refers to it.
func (c *Config) expandPath(v string) string {
	if strings.Contains(v, PlaceholderIOCFile) {
		if iocPath, err := c.IOCFile(); err == nil {
			v = strings.ReplaceAll(v, PlaceholderIOCFile, iocPath)
		}
	}
	return c.expandDir(v)
}

// Expand replaces placeholders in s with absolute paths.
func (c *Config) Expand(s, iocPath string) string {
	s = strings.ReplaceAll(s, PlaceholderProjectDir, c.dir)
	if iocPath != "" {
		s = strings.ReplaceAll(s, PlaceholderIOCFile, iocPath)
	}
	return s
}

// Write merges the configuration onto whatever is currently persisted and
// atomically replaces the file. Keys and sections only present in the file
// are kept. Absolute paths are rewritten as placeholders.
func (c *Config) Write() error {
	path := c.Path()
	doc, err := inifile.ParseFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("load %s before save: %w", FileName, err)
		}
		doc = inifile.New()
	}

	iocPath, _ := c.IOCFile()
	values := c.saved.Clone()
	if _, ok := values.Get(SectionProject, KeyIOCFile); !ok && iocPath != "" {
		values.Set(SectionProject, KeyIOCFile, relativeTo(c.dir, iocPath))
	}

	for _, section := range orderedSections(values) {
		for _, key := range orderedKeys(section, values[section]) {
			v := values[section][key]
			if key == KeyIOCFile && section == SectionProject {
				v = relativeTo(c.dir, v)
			} else {
				v = c.portable(v, iocPath)
			}
			doc.Set(section, key, v)
		}
	}
	if _, ok := values.Get(SectionProject, KeyLastError); !ok {
		doc.Delete(SectionProject, KeyLastError)
	}

	if err := doc.WriteFile(path); err != nil {
		return fmt.Errorf("save %s: %w", FileName, err)
	}
	return nil
}

// PersistedLastError returns the last error currently recorded in the file.
func PersistedLastError(dir string) string {
	l, err := ReadFileLayer(filepath.Join(dir, FileName))
	if err != nil {
		return ""
	}
	v, _ := l.Get(SectionProject, KeyLastError)
	return v
}

func (c *Config) portable(v, iocPath string) string {
	if iocPath != "" {
		v = replacePath(v, iocPath, PlaceholderIOCFile)
	}
	return replacePath(v, c.dir, PlaceholderProjectDir)
}

// replacePath replaces occurrences of path in s that end on a path component
// boundary, so "/p/proj" is not matched inside "/p/proj2".
func replacePath(s, path, repl string) string {
	if path == "" {
		return s
	}
	var b strings.Builder
	for {
		i := strings.Index(s, path)
		if i < 0 {
			b.WriteString(s)
			return b.String()
		}
		end := i + len(path)
		b.WriteString(s[:i])
		if end == len(s) || !isNameChar(s[end]) {
			b.WriteString(repl)
		} else {
			b.WriteString(s[i:end])
		}
		s = s[end:]
	}
}

func isNameChar(ch byte) bool {
	switch {
	case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9':
		return true
	}
	return ch == '_' || ch == '-' || ch == '.'
}

func relativeTo(dir, path string) string {
	if !filepath.IsAbs(path) {
		return path
	}
	rel, err := filepath.Rel(dir, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return filepath.ToSlash(rel)
}

func orderedSections(l Layer) []string {
	out := []string{SectionApp, SectionProject}
	var extra []string
	for s := range l {
		if s != SectionApp && s != SectionProject {
			extra = append(extra, s)
		}
	}
	sort.Strings(extra)
	var present []string
	for _, s := range append(out, extra...) {
		if len(l[s]) > 0 {
			present = append(present, s)
		}
	}
	return present
}

func orderedKeys(section string, kv map[string]string) []string {
	var keys []string
	seen := make(map[string]bool)
	for _, k := range keyOrder[section] {
		if _, ok := kv[k]; ok {
			keys = append(keys, k)
			seen[k] = true
		}
	}
	var extra []string
	for k := range kv {
		if !seen[k] {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	return append(keys, extra...)
}

func splitLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

func parseBool(s string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "on":
		return true
	case "no", "off":
		return false
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return def
}
