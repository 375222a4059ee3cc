package project

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/stm32pio/internal/action"
	"github.com/p-blackswan/stm32pio/internal/config"
	perrors "github.com/p-blackswan/stm32pio/internal/errors"
	"github.com/p-blackswan/stm32pio/internal/stage"
	"github.com/p-blackswan/stm32pio/internal/tool"
)

var okRunner = tool.RunnerFunc(func(context.Context, tool.Invocation) (tool.Result, error) {
	return tool.Result{}, nil
})

func newDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.ioc"), []byte("Mcu.UserName=STM32F031K6Tx\n"), 0o644))
	return dir
}

func open(t *testing.T, dir string, runner tool.Runner) *Project {
	t.Helper()
	p, err := Open(Options{Dir: dir, Runner: runner, Logger: zerolog.Nop()})
	require.NoError(t, err)
	return p
}

func boardLayer(board string) config.Layer {
	l := config.Layer{}
	l.Set(config.SectionProject, config.KeyBoard, board)
	return l
}

func TestOpen_MissingDirectory(t *testing.T) {
	_, err := Open(Options{Dir: filepath.Join(t.TempDir(), "nope"), Logger: zerolog.Nop()})
	assert.Error(t, err)
}

func TestStage_FreshEveryCall(t *testing.T) {
	dir := newDir(t)
	p := open(t, dir, okRunner)
	defer p.Close()

	assert.Equal(t, stage.Empty, p.Stage().Current())

	require.NoError(t, p.Run(context.Background(), action.InitConfig, nil))
	assert.Equal(t, stage.Initialized, p.Stage().Current())

	require.NoError(t, os.Remove(filepath.Join(dir, config.FileName)))
	assert.Equal(t, stage.Empty, p.Stage().Current())
}

func TestRun_BusyWhileAnotherActionRuns(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	runner := tool.RunnerFunc(func(context.Context, tool.Invocation) (tool.Result, error) {
		once.Do(func() { close(started) })
		<-release
		return tool.Result{}, nil
	})
	p := open(t, newDir(t), runner)
	defer p.Close()

	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background(), action.Generate, nil) }()
	<-started

	cur, ok := p.Running()
	assert.True(t, ok)
	assert.Equal(t, action.Generate, cur)

	err := p.Run(context.Background(), action.InitBuild, nil)
	assert.True(t, errors.Is(err, perrors.ErrBusy))
	_, err = p.Validate(context.Background())
	assert.True(t, errors.Is(err, perrors.ErrBusy))

	close(release)
	<-done
	_, ok = p.Running()
	assert.False(t, ok)
}

func TestRun_RecordsLastResult(t *testing.T) {
	p := open(t, newDir(t), okRunner)
	defer p.Close()

	_, ok := p.LastResult()
	assert.False(t, ok)

	require.NoError(t, p.Run(context.Background(), action.InitConfig, nil))
	res, ok := p.LastResult()
	require.True(t, ok)
	assert.True(t, res.OK())
	assert.Equal(t, action.InitConfig, res.Action)

	require.Error(t, p.Run(context.Background(), action.Patch, nil))
	res, _ = p.LastResult()
	assert.False(t, res.OK())
	assert.Equal(t, action.Patch, res.Action)
}

func TestRunAll_StopsAtFirstFailure(t *testing.T) {
	p := open(t, newDir(t), okRunner)
	defer p.Close()

	// the runner produces no files, so generate fails its post-check
	err := p.RunAll(context.Background(), action.Pipeline(false)...)
	require.Error(t, err)
	res, _ := p.LastResult()
	assert.Equal(t, action.Generate, res.Action)
	assert.Equal(t, stage.Initialized, p.Stage().Current())
}

func TestWith_PersistsOverridesOnRelease(t *testing.T) {
	dir := newDir(t)
	err := With(Options{Dir: dir, Runner: okRunner, Logger: zerolog.Nop()}, func(p *Project) error {
		err := p.Run(context.Background(), action.InitBuild, boardLayer("nucleo_f031k6"))
		assert.True(t, p.Dirty())
		return err
	})
	require.Error(t, err, "the fake runner writes no platformio.ini")

	saved, err := config.ReadFileLayer(filepath.Join(dir, config.FileName))
	require.NoError(t, err)
	board, _ := saved.Get(config.SectionProject, config.KeyBoard)
	assert.Equal(t, "nucleo_f031k6", board)
	last, _ := saved.Get(config.SectionProject, config.KeyLastError)
	assert.Contains(t, last, "init-build", "the failure survives the save on release")
}

func TestClose_NothingToPersist(t *testing.T) {
	dir := newDir(t)
	p := open(t, dir, okRunner)
	p.Close()
	p.Close()

	_, err := os.Stat(filepath.Join(dir, config.FileName))
	assert.True(t, os.IsNotExist(err))
	assert.Error(t, p.Run(context.Background(), action.InitConfig, nil), "closed projects refuse actions")
}

func TestClean_DoesNotResurrectConfig(t *testing.T) {
	dir := newDir(t)
	err := With(Options{Dir: dir, Runner: okRunner, Logger: zerolog.Nop()}, func(p *Project) error {
		require.NoError(t, p.Run(context.Background(), action.InitConfig, boardLayer("nucleo_f031k6")))
		require.NoError(t, os.MkdirAll(filepath.Join(dir, "Src"), 0o755))
		return p.Clean(context.Background())
	})
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "app.ioc", entries[0].Name())
}

func TestSave(t *testing.T) {
	dir := newDir(t)
	p := open(t, dir, okRunner)
	defer p.Close()

	require.NoError(t, p.Config().WithLastError("build: boom").Write())
	require.NoError(t, p.Save())
	assert.Equal(t, "", config.PersistedLastError(dir))
	assert.False(t, p.Dirty())
	assert.Equal(t, stage.Initialized, p.Stage().Current())
}
