package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix prefixes every environment variable read by LoadEnv.
const EnvPrefix = "STM32PIO"

// Env holds overrides taken from the environment.
type Env struct {
	LogLevel      string `envconfig:"LOG_LEVEL" default:"info"`
	Board         string `envconfig:"BOARD"`
	PlatformIOCmd string `envconfig:"PLATFORMIO_CMD"`
	CubeMXCmd     string `envconfig:"CUBEMX_CMD"`
	JavaCmd       string `envconfig:"JAVA_CMD"`
}

// LoadEnv reads STM32PIO_* environment variables.
func LoadEnv() (*Env, error) {
	var env Env
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}
	return &env, nil
}

// Layer converts the environment overrides into a configuration layer.
func (e *Env) Layer() Layer {
	l := Layer{}
	l.Set(SectionApp, KeyPlatformIOCmd, e.PlatformIOCmd)
	l.Set(SectionApp, KeyCubeMXCmd, e.CubeMXCmd)
	l.Set(SectionApp, KeyJavaCmd, e.JavaCmd)
	l.Set(SectionProject, KeyBoard, e.Board)
	return l
}
