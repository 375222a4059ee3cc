// Package ioc inspects STM32CubeMX hardware-description (.ioc) files.
//
// An .ioc file is a Java properties file. Inspection never fails an action;
// findings are returned as warnings for the caller to log.
package ioc

import (
	"fmt"
	"strings"

	"github.com/magiconair/properties"
)

// Well-known keys.
const (
	KeyToolchain  = "ProjectManager.TargetToolchain"
	KeyMCU        = "Mcu.UserName"
	KeyMCUFamily  = "Mcu.Family"
	KeyProject    = "ProjectManager.ProjectName"
	KeyDeviceID   = "ProjectManager.DeviceId"
	KeyCubeMXVer  = "MxCube.Version"
	KeyDBVersion  = "MxDb.Version"
	KeyKeepUser   = "ProjectManager.KeepUserCode"
	KeyCoupleFile = "ProjectManager.CoupleFile"
)

// RequiredToolchain is the toolchain PlatformIO-compatible generation needs.
const RequiredToolchain = "Other Toolchains (GPDSC)"

// Info is what inspection extracts from a description file.
type Info struct {
	Project       string
	MCU           string
	Family        string
	DeviceID      string
	Toolchain     string
	CubeMXVersion string
	Warnings      []string
}

// Load reads the description file at path. ${...} sequences in values are
// kept literally.
func Load(path string) (*properties.Properties, error) {
	l := &properties.Loader{Encoding: properties.UTF8, DisableExpansion: true}
	p, err := l.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return p, nil
}

// Inspect loads path and reports settings incompatible with a PlatformIO
// build.
func Inspect(path string) (*Info, error) {
	p, err := Load(path)
	if err != nil {
		return nil, err
	}
	return inspect(p), nil
}

func inspect(p *properties.Properties) *Info {
	info := &Info{
		Project:       p.GetString(KeyProject, ""),
		MCU:           p.GetString(KeyMCU, ""),
		Family:        p.GetString(KeyMCUFamily, ""),
		DeviceID:      p.GetString(KeyDeviceID, ""),
		Toolchain:     p.GetString(KeyToolchain, ""),
		CubeMXVersion: p.GetString(KeyCubeMXVer, ""),
	}
	switch {
	case info.Toolchain == "":
		info.Warnings = append(info.Warnings, fmt.Sprintf("%s is not set, expected %q", KeyToolchain, RequiredToolchain))
	case info.Toolchain != RequiredToolchain:
		info.Warnings = append(info.Warnings, fmt.Sprintf("%s is %q, expected %q", KeyToolchain, info.Toolchain, RequiredToolchain))
	}
	if v, ok := p.Get(KeyCoupleFile); ok && strings.EqualFold(v, "true") {
		info.Warnings = append(info.Warnings, fmt.Sprintf("%s is true: peripheral sources will be split into pairs of .c/.h files", KeyCoupleFile))
	}
	if v, ok := p.Get(KeyKeepUser); ok && strings.EqualFold(v, "false") {
		info.Warnings = append(info.Warnings, fmt.Sprintf("%s is false: user code will be overwritten on every generation", KeyKeepUser))
	}
	return info
}

// BoardHint returns a lower-case MCU name usable as a starting point when
// searching PlatformIO boards, or "" when unknown.
func (i *Info) BoardHint() string {
	name := i.MCU
	if name == "" {
		name = i.DeviceID
	}
	if name == "" {
		return ""
	}
	if idx := strings.IndexByte(name, 'x'); idx > 0 {
		name = name[:idx]
	}
	return strings.ToLower(name)
}
