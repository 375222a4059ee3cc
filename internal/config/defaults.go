package config

import "runtime"

// DefaultScript is the generator script template: load the description
// file, generate code into the project directory, exit.
const DefaultScript = "config load " + PlaceholderIOCFile + "\n" +
	"generate code " + PlaceholderProjectDir + "\n" +
	"exit"

// DefaultPatch points PlatformIO at the directories the generator writes.
const DefaultPatch = "[platformio]\n" +
	"include_dir = Inc\n" +
	"src_dir = Src"

// keyOrder fixes the order keys are written in a fresh file.
var keyOrder = map[string][]string{
	SectionApp: {KeyPlatformIOCmd, KeyCubeMXCmd, KeyJavaCmd},
	SectionProject: {
		KeyScript, KeyPatch, KeyBoard, KeyIOCFile,
		KeyCleanupIgnore, KeyCleanupUseGit, KeyInspectIOC, KeyLastError,
	},
}

// Defaults returns the compiled-in layer.
func Defaults() Layer {
	l := Layer{}
	l.Set(SectionApp, KeyPlatformIOCmd, "platformio")
	l.Set(SectionApp, KeyCubeMXCmd, defaultCubeMXCmd(runtime.GOOS))
	l.Set(SectionProject, KeyScript, DefaultScript)
	l.Set(SectionProject, KeyPatch, DefaultPatch)
	l.Set(SectionProject, KeyCleanupUseGit, "false")
	l.Set(SectionProject, KeyInspectIOC, "true")
	return l
}

func defaultCubeMXCmd(goos string) string {
	switch goos {
	case "windows":
		return "C:/Program Files/STMicroelectronics/STM32Cube/STM32CubeMX/STM32CubeMX.exe"
	case "darwin":
		return "/Applications/STMicroelectronics/STM32CubeMX.app/Contents/MacOs/STM32CubeMX"
	default:
		return "STM32CubeMX"
	}
}

// Project layout produced by the two external tools.
const (
	PlatformIOFile = "platformio.ini"
	IncludeDir     = "Inc"
	SourceDir      = "Src"
	PIODir         = ".pio"
	BuildDir       = ".pio/build"
)
