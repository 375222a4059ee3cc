// Package inifile reads and writes configparser-compatible INI documents.
//
// A Document keeps sections and keys in file order. Entries that are never
// modified are written back exactly as they were read; comment lines are
// dropped on read and therefore never written. Values are always literal:
// no interpolation of any kind is performed.
package inifile

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	perrors "github.com/p-blackswan/stm32pio/internal/errors"
)

// Document is an ordered section -> ordered key -> value structure.
type Document struct {
	sections []*Section
	byName   map[string]*Section
	newline  string
}

// Section is a named group of entries.
type Section struct {
	name   string
	header string
	items  []*entry
}

// entry is either a key/value pair or a preserved blank line (key == "").
type entry struct {
	key   string
	value string
	raw   []string
}

// New returns an empty document.
func New() *Document {
	return &Document{byName: make(map[string]*Section), newline: "\n"}
}

// Parse parses data into a Document. Parse failures are returned as
// *errors.ConfigParseError.
func Parse(data []byte) (*Document, error) {
	d := New()
	text := string(data)
	if strings.Contains(text, "\r\n") {
		d.newline = "\r\n"
		text = strings.ReplaceAll(text, "\r\n", "\n")
	}
	text = strings.TrimPrefix(text, "\ufeff")

	var (
		cur    *Section
		last   *entry
		// blank lines seen after last; they belong to its value when an
		// indented line follows
		blanks []string
	)
	flushBlanks := func() {
		if cur != nil {
			for _, b := range blanks {
				cur.items = append(cur.items, &entry{raw: []string{b}})
			}
		}
		blanks = nil
	}
	lines := strings.Split(text, "\n")
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}
	for i, line := range lines {
		lineNo := i + 1
		trimmed := strings.TrimSpace(line)

		if trimmed == "" {
			if last != nil {
				blanks = append(blanks, line)
			} else if cur != nil {
				cur.items = append(cur.items, &entry{raw: []string{line}})
			}
			continue
		}
		if trimmed[0] == '#' || trimmed[0] == ';' {
			continue
		}
		if last != nil && (line[0] == ' ' || line[0] == '\t') {
			for _, b := range blanks {
				last.value += "\n"
				last.raw = append(last.raw, b)
			}
			blanks = nil
			last.value += "\n" + trimmed
			last.raw = append(last.raw, line)
			continue
		}
		flushBlanks()
		last = nil

		if trimmed[0] == '[' {
			if !strings.HasSuffix(trimmed, "]") {
				return nil, &perrors.ConfigParseError{Line: lineNo, Msg: "unterminated section header"}
			}
			name := strings.TrimSpace(trimmed[1 : len(trimmed)-1])
			if name == "" {
				return nil, &perrors.ConfigParseError{Line: lineNo, Msg: "empty section name"}
			}
			if _, dup := d.byName[name]; dup {
				return nil, &perrors.ConfigParseError{Line: lineNo, Msg: fmt.Sprintf("duplicate section %q", name)}
			}
			cur = &Section{name: name, header: line}
			d.sections = append(d.sections, cur)
			d.byName[name] = cur
			last = nil
			continue
		}

		if cur == nil {
			return nil, &perrors.ConfigParseError{Line: lineNo, Msg: "key outside of a section"}
		}
		idx := strings.IndexAny(line, "=:")
		if idx < 0 {
			return nil, &perrors.ConfigParseError{Line: lineNo, Msg: "missing '=' or ':' delimiter"}
		}
		key := normalizeKey(line[:idx])
		if key == "" {
			return nil, &perrors.ConfigParseError{Line: lineNo, Msg: "empty key"}
		}
		if cur.find(key) >= 0 {
			return nil, &perrors.ConfigParseError{Line: lineNo, Msg: fmt.Sprintf("duplicate key %q in section %q", key, cur.name)}
		}
		last = &entry{key: key, value: strings.TrimSpace(line[idx+1:]), raw: []string{line}}
		cur.items = append(cur.items, last)
	}
	flushBlanks()
	return d, nil
}

// ParseFile reads and parses the file at path.
func ParseFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	d, err := Parse(data)
	if err != nil {
		if pe, ok := err.(*perrors.ConfigParseError); ok {
			pe.Path = path
		}
		return nil, err
	}
	return d, nil
}

// Sections returns section names in document order.
func (d *Document) Sections() []string {
	names := make([]string, len(d.sections))
	for i, s := range d.sections {
		names[i] = s.name
	}
	return names
}

// Section returns the named section.
func (d *Document) Section(name string) (*Section, bool) {
	s, ok := d.byName[name]
	return s, ok
}

// AddSection returns the named section, appending an empty one at the end
// of the document when it does not exist yet.
func (d *Document) AddSection(name string) *Section {
	if s, ok := d.byName[name]; ok {
		return s
	}
	if n := len(d.sections); n > 0 {
		prev := d.sections[n-1]
		if k := len(prev.items); k == 0 || prev.items[k-1].key != "" {
			prev.items = append(prev.items, &entry{raw: []string{""}})
		}
	}
	s := &Section{name: name}
	d.sections = append(d.sections, s)
	d.byName[name] = s
	return s
}

// Get returns the value stored under section/key.
func (d *Document) Get(section, key string) (string, bool) {
	s, ok := d.byName[section]
	if !ok {
		return "", false
	}
	return s.Get(key)
}

// Set inserts or overwrites section/key, creating the section if needed.
func (d *Document) Set(section, key, value string) {
	d.AddSection(section).Set(key, value)
}

// Delete removes section/key and reports whether it existed.
func (d *Document) Delete(section, key string) bool {
	s, ok := d.byName[section]
	if !ok {
		return false
	}
	return s.Delete(key)
}

// Bytes serializes the document.
func (d *Document) Bytes() []byte {
	var buf bytes.Buffer
	for _, s := range d.sections {
		if s.header != "" {
			buf.WriteString(s.header)
		} else {
			buf.WriteString("[" + s.name + "]")
		}
		buf.WriteString(d.newline)
		for _, e := range s.items {
			lines := e.raw
			if lines == nil {
				lines = render(e.key, e.value)
			}
			for _, l := range lines {
				buf.WriteString(l)
				buf.WriteString(d.newline)
			}
		}
	}
	return buf.Bytes()
}

// WriteFile atomically replaces path with the serialized document.
func (d *Document) WriteFile(path string) error {
	return WriteAtomic(path, d.Bytes())
}

// WriteAtomic writes data to a temporary file next to path and renames it
// into place.
func WriteAtomic(path string, data []byte) error {
	perm := os.FileMode(0o644)
	if fi, err := os.Stat(path); err == nil {
		perm = fi.Mode().Perm()
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

// Name returns the section name.
func (s *Section) Name() string { return s.name }

// Keys returns the section's keys in order.
func (s *Section) Keys() []string {
	keys := make([]string, 0, len(s.items))
	for _, e := range s.items {
		if e.key != "" {
			keys = append(keys, e.key)
		}
	}
	return keys
}

// Len returns the number of keys in the section.
func (s *Section) Len() int { return len(s.Keys()) }

// Get returns the value stored under key.
func (s *Section) Get(key string) (string, bool) {
	if i := s.find(normalizeKey(key)); i >= 0 {
		return s.items[i].value, true
	}
	return "", false
}

// Set overwrites key in place or appends it after the last existing key.
// Setting a key to its current value leaves its original text untouched.
func (s *Section) Set(key, value string) {
	key = normalizeKey(key)
	if i := s.find(key); i >= 0 {
		if s.items[i].value != value {
			s.items[i].value = value
			s.items[i].raw = nil
		}
		return
	}
	e := &entry{key: key, value: value}
	at := len(s.items)
	for at > 0 && s.items[at-1].key == "" {
		at--
	}
	s.items = append(s.items, nil)
	copy(s.items[at+1:], s.items[at:])
	s.items[at] = e
}

// Delete removes key and reports whether it existed.
func (s *Section) Delete(key string) bool {
	i := s.find(normalizeKey(key))
	if i < 0 {
		return false
	}
	s.items = append(s.items[:i], s.items[i+1:]...)
	return true
}

func (s *Section) find(key string) int {
	for i, e := range s.items {
		if e.key != "" && e.key == key {
			return i
		}
	}
	return -1
}

func normalizeKey(k string) string {
	return strings.ToLower(strings.TrimSpace(k))
}

// render formats a key the way configparser writes it: continuation lines
// of a multi-line value are indented with a tab.
func render(key, value string) []string {
	parts := strings.Split(value, "\n")
	out := make([]string, 0, len(parts))
	if parts[0] == "" {
		out = append(out, key+" =")
	} else {
		out = append(out, key+" = "+parts[0])
	}
	for _, p := range parts[1:] {
		if p == "" {
			out = append(out, "")
			continue
		}
		out = append(out, "\t"+p)
	}
	return out
}
