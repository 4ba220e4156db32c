// Package accel decides whether matching runs on the accelerated
// (data-parallel) backend or on the standard one.
package accel

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/sys/cpu"
)

// ErrUnavailable is returned when the accelerated path is required but the
// host cannot run it.
var ErrUnavailable = errors.New("accelerated path unavailable")

// Mode is the user's path preference.
type Mode string

const (
	// Auto picks the accelerated path whenever the probe allows it.
	Auto Mode = "auto"
	// Standard always uses the standard path.
	Standard Mode = "standard"
	// Accelerated requires the accelerated path and fails without it.
	Accelerated Mode = "accelerated"
)

// ParseMode parses a mode name; the empty string means Auto.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return Auto, nil
	case Auto, Standard, Accelerated:
		return m, nil
	default:
		return "", errors.Errorf("unknown path mode %q (want auto, standard or accelerated)", s)
	}
}

// Path is the execution path chosen for a matcher.
type Path int

const (
	// StandardPath runs extraction and matching sequentially.
	StandardPath Path = iota
	// AcceleratedPath fans extraction and matching out over parallel workers.
	AcceleratedPath
)

func (p Path) String() string {
	if p == AcceleratedPath {
		return "accelerated"
	}
	return "standard"
}

// Select maps a mode and the probe result to a path.
func Select(mode Mode, available bool) (Path, error) {
	switch mode {
	case Standard:
		return StandardPath, nil
	case Accelerated:
		if !available {
			return StandardPath, ErrUnavailable
		}
		return AcceleratedPath, nil
	case Auto, "":
		if available {
			return AcceleratedPath, nil
		}
		return StandardPath, nil
	default:
		return StandardPath, errors.Errorf("unknown path mode %q", mode)
	}
}

// Probe reports whether the accelerated path can run on this host.
type Probe interface {
	Available() bool
	Describe() string
}

// CPUProbe accepts hosts with vector instructions (AVX2 on amd64, ASIMD on
// arm64) and more than one usable CPU.
type CPUProbe struct{}

// Available implements Probe.
func (CPUProbe) Available() bool {
	if runtime.GOMAXPROCS(0) < 2 {
		return false
	}
	switch runtime.GOARCH {
	case "amd64":
		return cpu.X86.HasAVX2
	case "arm64":
		return cpu.ARM64.HasASIMD
	default:
		return false
	}
}

// Describe implements Probe.
func (CPUProbe) Describe() string {
	return fmt.Sprintf("%s/%d cpus avx2=%t asimd=%t",
		runtime.GOARCH, runtime.GOMAXPROCS(0), cpu.X86.HasAVX2, cpu.ARM64.HasASIMD)
}

// StaticProbe reports a fixed answer. Useful for tests and for forcing a
// decision from configuration.
type StaticProbe bool

// Available implements Probe.
func (p StaticProbe) Available() bool { return bool(p) }

// Describe implements Probe.
func (p StaticProbe) Describe() string { return fmt.Sprintf("static available=%t", bool(p)) }
