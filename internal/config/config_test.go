package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/p-blackswan/stm32pio/internal/errors"
	"github.com/p-blackswan/stm32pio/internal/inifile"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestMerge_RightmostNonEmptyWins(t *testing.T) {
	a := Layer{}
	a.Set("project", "board", "a")
	a.Set("project", "only_a", "1")
	b := Layer{}
	b.Set("project", "board", "b")
	c := Layer{}
	c.Set("project", "board", "")

	got := Merge(a, b, c)
	assert.Equal(t, "b", got["project"]["board"])
	assert.Equal(t, "1", got["project"]["only_a"])
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(Options{Dir: dir})
	require.NoError(t, err)

	s := cfg.Settings()
	assert.Equal(t, "platformio", s.PlatformIOCmd)
	assert.Equal(t, DefaultScript, s.CubeMXScript)
	assert.Equal(t, DefaultPatch, s.PlatformIOPatch)
	assert.True(t, s.InspectIOC)
	assert.False(t, s.CleanupUseGit)

	_, err = os.Stat(filepath.Join(dir, FileName))
	assert.True(t, os.IsNotExist(err), "Load must not write the file")
}

func TestLoad_Precedence(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, FileName, "[app]\nplatformio_cmd = pio-from-file\n\n[project]\nboard = from_file\n")
	t.Setenv("STM32PIO_BOARD", "from_env")
	t.Setenv("STM32PIO_PLATFORMIO_CMD", "")

	env, err := LoadEnv()
	require.NoError(t, err)
	over := Layer{}
	over.Set(SectionProject, KeyBoard, "from_override")

	cfg, err := Load(Options{Dir: dir, Env: env, Overrides: over})
	require.NoError(t, err)
	assert.Equal(t, "from_override", cfg.Settings().Board)
	assert.Equal(t, "pio-from-file", cfg.Settings().PlatformIOCmd)

	cfg, err = Load(Options{Dir: dir, Env: env})
	require.NoError(t, err)
	assert.Equal(t, "from_env", cfg.Settings().Board)
}

func TestLoad_EmptyFileValueFallsThrough(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, FileName, "[app]\nplatformio_cmd =\n")

	cfg, err := Load(Options{Dir: dir})
	require.NoError(t, err)
	assert.Equal(t, "platformio", cfg.Settings().PlatformIOCmd)
}

func TestLoad_MalformedFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, FileName, "board = x\n")

	_, err := Load(Options{Dir: dir})
	var pe *perrors.ConfigParseError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, filepath.Join(dir, FileName), pe.Path)
}

func TestLoad_NotADirectory(t *testing.T) {
	path := writeFile(t, t.TempDir(), "file", "")
	_, err := Load(Options{Dir: path})
	assert.Error(t, err)
}

func TestValidate_MissingRequired(t *testing.T) {
	cfg := &Config{dir: t.TempDir(), values: Layer{}}
	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, perrors.ErrInvalidConfig))
}

func TestEnv_Layer(t *testing.T) {
	t.Setenv("STM32PIO_CUBEMX_CMD", "/opt/cubemx")
	env, err := LoadEnv()
	require.NoError(t, err)
	assert.Equal(t, "info", env.LogLevel)

	l := env.Layer()
	v, _ := l.Get(SectionApp, KeyCubeMXCmd)
	assert.Equal(t, "/opt/cubemx", v)
}

func TestExpand(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(Options{Dir: dir})
	require.NoError(t, err)

	ioc := filepath.Join(dir, "app.ioc")
	got := cfg.Expand(DefaultScript, ioc)
	assert.Equal(t, "config load "+ioc+"\ngenerate code "+cfg.Dir()+"\nexit", got)
}

func TestWrite_PortableAndPreservesUnknownKeys(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "app.ioc", "")
	writeFile(t, dir, FileName, "[project]\nuser_note = keep me\n\n[custom]\nx = 1\n")

	cfg, err := Load(Options{Dir: dir})
	require.NoError(t, err)
	over := Layer{}
	over.Set(SectionProject, KeyBoard, "nucleo_f031k6")
	over.Set(SectionApp, KeyCubeMXCmd, filepath.Join(cfg.Dir(), "tools", "cubemx"))
	cfg = cfg.With(over)

	// a user edit that happens after Load must survive the save
	doc, err := inifile.ParseFile(cfg.Path())
	require.NoError(t, err)
	doc.Set("custom", "y", "2")
	require.NoError(t, doc.WriteFile(cfg.Path()))

	require.NoError(t, cfg.Write())

	saved, err := inifile.ParseFile(cfg.Path())
	require.NoError(t, err)
	v, _ := saved.Get("project", "user_note")
	assert.Equal(t, "keep me", v)
	v, _ = saved.Get("custom", "y")
	assert.Equal(t, "2", v)
	v, _ = saved.Get("project", "board")
	assert.Equal(t, "nucleo_f031k6", v)
	v, _ = saved.Get("project", "ioc_file")
	assert.Equal(t, "app.ioc", v)
	v, _ = saved.Get("app", "cubemx_cmd")
	assert.Equal(t, PlaceholderProjectDir+"/tools/cubemx", filepath.ToSlash(v))
	v, _ = saved.Get("project", "cubemx_script_content")
	assert.Equal(t, DefaultScript, v)

	reloaded, err := Load(Options{Dir: dir})
	require.NoError(t, err)
	assert.Equal(t, "nucleo_f031k6", reloaded.Settings().Board)
}

func TestWrite_LastError(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(Options{Dir: dir})
	require.NoError(t, err)

	require.NoError(t, cfg.WithLastError("generate: boom").Write())
	assert.Equal(t, "generate: boom", PersistedLastError(dir))

	reloaded, err := Load(Options{Dir: dir})
	require.NoError(t, err)
	assert.Equal(t, "generate: boom", reloaded.Settings().LastError)

	require.NoError(t, reloaded.WithoutLastError().Write())
	assert.Equal(t, "", PersistedLastError(dir))
}

func TestWrite_RefusesToClobberMalformedFile(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(Options{Dir: dir})
	require.NoError(t, err)
	writeFile(t, dir, FileName, "garbage\n")

	assert.Error(t, cfg.Write())
	data, _ := os.ReadFile(filepath.Join(dir, FileName))
	assert.Equal(t, "garbage\n", string(data))
}

func TestSettings_CleanupIgnoreLines(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, FileName, "[project]\ncleanup_ignore = app.ioc\n\t.git\n\tnotes.txt\ncleanup_use_git = yes\n")
	cfg, err := Load(Options{Dir: dir})
	require.NoError(t, err)

	s := cfg.Settings()
	assert.Equal(t, []string{"app.ioc", ".git", "notes.txt"}, s.CleanupIgnore)
	assert.True(t, s.CleanupUseGit)
}

func TestResolveIOC(t *testing.T) {
	t.Run("single candidate", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "app.ioc", "")
		got, err := ResolveIOC(dir, "", "")
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dir, "app.ioc"), got)
	})

	t.Run("configured name wins over search", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "a.ioc", "")
		writeFile(t, dir, "b.ioc", "")
		got, err := ResolveIOC(dir, "", "b.ioc")
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dir, "b.ioc"), got)
	})

	t.Run("missing configured name falls back", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "real.ioc", "")
		got, err := ResolveIOC(dir, "", "gone.ioc")
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dir, "real.ioc"), got)
	})

	t.Run("ambiguous", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "a.ioc", "")
		writeFile(t, dir, "b.IOC", "")
		_, err := ResolveIOC(dir, "", "")
		var re *perrors.ResolutionError
		require.True(t, errors.As(err, &re))
		assert.True(t, errors.Is(err, perrors.ErrAmbiguous))
		assert.Equal(t, []string{"a.ioc", "b.IOC"}, re.Candidates)
	})

	t.Run("none", func(t *testing.T) {
		_, err := ResolveIOC(t.TempDir(), "", "")
		assert.True(t, errors.Is(err, perrors.ErrNoDescription))
	})

	t.Run("explicit must exist", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "app.ioc", "")
		_, err := ResolveIOC(dir, filepath.Join(dir, "other.ioc"), "")
		assert.True(t, errors.Is(err, os.ErrNotExist))
	})
}

func TestLoad_ExplicitIOCIsPersistedRelative(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.ioc", "")
	writeFile(t, dir, "b.ioc", "")

	cfg, err := Load(Options{Dir: dir, IOCFile: "b.ioc"})
	require.NoError(t, err)
	got, err := cfg.IOCFile()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(cfg.Dir(), "b.ioc"), got)
	assert.Equal(t, "b.ioc", cfg.Settings().IOCFile)
}

func TestWrite_ReloadExpandsPathPlaceholders(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "app.ioc", "")
	cfg, err := Load(Options{Dir: dir})
	require.NoError(t, err)

	cubemx := filepath.Join(cfg.Dir(), "tools", "STM32CubeMX")
	iocPath := filepath.Join(cfg.Dir(), "app.ioc")
	over := Layer{}
	over.Set(SectionApp, KeyCubeMXCmd, cubemx)
	over.Set(SectionApp, KeyJavaCmd, filepath.Join(cfg.Dir(), "jre", "bin", "java"))
	over.Set(SectionProject, KeyCleanupIgnore, iocPath+"\nnotes.txt")
	require.NoError(t, cfg.With(over).Write())

	raw, err := ReadFileLayer(cfg.Path())
	require.NoError(t, err)
	v, _ := raw.Get(SectionProject, KeyCleanupIgnore)
	assert.Equal(t, PlaceholderIOCFile+"\nnotes.txt", v)

	reloaded, err := Load(Options{Dir: dir})
	require.NoError(t, err)
	s := reloaded.Settings()
	assert.Equal(t, cubemx, s.CubeMXCmd)
	assert.Equal(t, filepath.Join(cfg.Dir(), "jre", "bin", "java"), s.JavaCmd)
	assert.Equal(t, []string{iocPath, "notes.txt"}, s.CleanupIgnore)
	assert.Equal(t, "platformio", s.PlatformIOCmd)
}

func TestWrite_SiblingPathsKeptVerbatim(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(Options{Dir: dir})
	require.NoError(t, err)

	sibling := cfg.Dir() + "2/tools/cubemx"
	over := Layer{}
	over.Set(SectionApp, KeyCubeMXCmd, sibling)
	over.Set(SectionApp, KeyPlatformIOCmd, cfg.Dir()+".bak/pio")
	require.NoError(t, cfg.With(over).Write())

	raw, err := ReadFileLayer(cfg.Path())
	require.NoError(t, err)
	v, _ := raw.Get(SectionApp, KeyCubeMXCmd)
	assert.Equal(t, sibling, v)
	v, _ = raw.Get(SectionApp, KeyPlatformIOCmd)
	assert.Equal(t, cfg.Dir()+".bak/pio", v)
}

func TestReplacePath(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"/p/proj", "X"},
		{"/p/proj/tools/cubemx", "X/tools/cubemx"},
		{"-I/p/proj/Inc -I/p/proj2/Inc", "-IX/Inc -I/p/proj2/Inc"},
		{"/p/proj_old", "/p/proj_old"},
		{"/p/proj.ioc", "/p/proj.ioc"},
		{"a /p/proj b", "a X b"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, replacePath(tt.in, "/p/proj", "X"), tt.in)
	}
}

func TestWrite_EnvAndLoadOverridesStayInMemory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "app.ioc", "")
	t.Setenv("STM32PIO_PLATFORMIO_CMD", "/x/pio")
	env, err := LoadEnv()
	require.NoError(t, err)
	over := Layer{}
	over.Set(SectionProject, KeyBoard, "from_open")

	cfg, err := Load(Options{Dir: dir, Env: env, Overrides: over})
	require.NoError(t, err)
	assert.Equal(t, "/x/pio", cfg.Settings().PlatformIOCmd)
	require.NoError(t, cfg.WithLastError("generate: boom").Write())

	t.Setenv("STM32PIO_PLATFORMIO_CMD", "")
	env, err = LoadEnv()
	require.NoError(t, err)
	reloaded, err := Load(Options{Dir: dir, Env: env})
	require.NoError(t, err)
	s := reloaded.Settings()
	assert.Equal(t, "platformio", s.PlatformIOCmd)
	assert.Equal(t, "", s.Board)
	assert.Equal(t, "generate: boom", s.LastError)
}
