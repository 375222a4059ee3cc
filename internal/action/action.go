// Package action runs the operations that move a project through its stages.
package action

import (
	"fmt"
	"strings"

	perrors "github.com/p-blackswan/stm32pio/internal/errors"
	"github.com/p-blackswan/stm32pio/internal/stage"
)

// Name identifies an action.
type Name string

const (
	InitConfig Name = "init-config"
	Generate   Name = "generate"
	InitBuild  Name = "init-build"
	Patch      Name = "patch"
	Build      Name = "build"
	Clean      Name = "clean"
	Validate   Name = "validate"
)

// All lists every action in stage order, followed by the ones that do not
// produce a stage.
var All = []Name{InitConfig, Generate, InitBuild, Patch, Build, Clean, Validate}

var targets = map[Name]stage.Stage{
	InitConfig: stage.Initialized,
	Generate:   stage.Generated,
	InitBuild:  stage.PIOInitialized,
	Patch:      stage.Patched,
	Build:      stage.Built,
}

// Target returns the stage a successful run of n is expected to complete.
func (n Name) Target() (stage.Stage, bool) {
	s, ok := targets[n]
	return s, ok
}

// Parse returns the action called s.
func Parse(s string) (Name, error) {
	for _, n := range All {
		if string(n) == s {
			return n, nil
		}
	}
	return "", fmt.Errorf("%w: %q (known: %s)", perrors.ErrUnknownAction, s, strings.Join(names(), ", "))
}

// Pipeline is the sequence that takes a fresh directory holding only a
// description file to a patched, optionally built, project.
func Pipeline(withBuild bool) []Name {
	p := []Name{InitConfig, Generate, InitBuild, Patch}
	if withBuild {
		p = append(p, Build)
	}
	return p
}

func names() []string {
	out := make([]string, len(All))
	for i, n := range All {
		out[i] = string(n)
	}
	return out
}
