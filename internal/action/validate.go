package action

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/p-blackswan/stm32pio/internal/config"
	"github.com/p-blackswan/stm32pio/internal/tool"
)

// Check is the result of probing one dependency of the project.
type Check struct {
	Name    string `json:"name" yaml:"name"`
	Command string `json:"command,omitempty" yaml:"command,omitempty"`
	Err     error  `json:"-" yaml:"-"`
}

// OK reports whether the probe succeeded.
func (c Check) OK() bool { return c.Err == nil }

// Validate probes the configuration and every external tool it names. It
// changes nothing in the project directory.
func (e *Executor) Validate(ctx context.Context, cfg *config.Config) ([]Check, error) {
	log := e.logger.With().Str("action", string(Validate)).Logger()
	s := cfg.Settings()

	checks := []Check{{Name: "config", Err: cfg.Validate()}}

	if s.JavaCmd != "" {
		inv := tool.JavaVersionCommand(s)
		checks = append(checks, Check{Name: tool.Java, Command: inv.String(), Err: e.runTool(ctx, inv, nil, log)})
	}

	script, err := os.CreateTemp("", "stm32pio-validate-*.txt")
	if err == nil {
		_, err = script.WriteString("exit\n")
		script.Close()
		defer os.Remove(script.Name())
	}
	if err != nil {
		checks = append(checks, Check{Name: tool.CubeMX, Err: fmt.Errorf("create probe script: %w", err)})
	} else {
		inv := tool.CubeMXCommand(s, "", script.Name())
		checks = append(checks, Check{Name: tool.CubeMX, Command: inv.String(), Err: e.runTool(ctx, inv, tool.CubeMXFailureMarkers, log)})
	}

	inv := tool.PlatformIOVersionCommand(s)
	checks = append(checks, Check{Name: tool.PlatformIO, Command: inv.String(), Err: e.runTool(ctx, inv, nil, log)})

	var errs []error
	for _, c := range checks {
		if c.Err != nil {
			log.Warn().Err(c.Err).Str("check", c.Name).Msg("validation failed")
			errs = append(errs, fmt.Errorf("%s: %w", c.Name, c.Err))
		} else {
			log.Info().Str("check", c.Name).Msg("ok")
		}
	}
	return checks, errors.Join(errs...)
}
