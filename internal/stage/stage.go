// Package stage infers how far a project has progressed by inspecting its
// directory and configuration.
//
// Every query re-reads the filesystem. Callers that need caching keep their
// own cache and invalidate it explicitly.
package stage

import "fmt"

// Stage is a project milestone. The chain Undefined..Built is totally
// ordered; Loading and InitError are out-of-band markers.
type Stage int

const (
	Undefined Stage = iota
	Empty
	Initialized
	Generated
	PIOInitialized
	Patched
	Built

	Loading
	InitError
)

// Chain lists the ordered stages a completion vector covers.
var Chain = []Stage{Empty, Initialized, Generated, PIOInitialized, Patched, Built}

var names = map[Stage]string{
	Undefined:      "UNDEFINED",
	Empty:          "EMPTY",
	Initialized:    "INITIALIZED",
	Generated:      "GENERATED",
	PIOInitialized: "PIO_INITIALIZED",
	Patched:        "PATCHED",
	Built:          "BUILT",
	Loading:        "LOADING",
	InitError:      "INIT_ERROR",
}

var descriptions = map[Stage]string{
	Undefined:      "The project is messed up",
	Empty:          ".ioc file is present",
	Initialized:    "stm32pio initialized",
	Generated:      "CubeMX code generated",
	PIOInitialized: "PlatformIO project initialized",
	Patched:        "PlatformIO project patched",
	Built:          "PlatformIO project built",
	Loading:        "Loading...",
	InitError:      "Project initialization error",
}

func (s Stage) String() string {
	if n, ok := names[s]; ok {
		return n
	}
	return fmt.Sprintf("Stage(%d)", int(s))
}

// Description is a human-readable line for s.
func (s Stage) Description() string {
	return descriptions[s]
}

// InChain reports whether s belongs to the ordered chain.
func (s Stage) InChain() bool {
	return s >= Empty && s <= Built
}

// Parse returns the stage named name.
func Parse(name string) (Stage, error) {
	for s, n := range names {
		if n == name {
			return s, nil
		}
	}
	return Undefined, fmt.Errorf("unknown stage %q", name)
}

// MarshalText encodes s by name.
func (s Stage) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
