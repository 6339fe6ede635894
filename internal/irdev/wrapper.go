package irdev

import (
	"fmt"
	"strings"

	evdev "github.com/holoplot/go-evdev"
)

// InputDevice is an interface wrapper around evdev.InputDevice for testing
type InputDevice interface {
	ReadOne() (*evdev.InputEvent, error)
	Close() error
	Name() string
	Path() string
}

// RealInputDevice wraps the actual struct
type RealInputDevice struct {
	dev *evdev.InputDevice
}

func (r *RealInputDevice) ReadOne() (*evdev.InputEvent, error) { return r.dev.ReadOne() }
func (r *RealInputDevice) Close() error                        { return r.dev.Close() }
func (r *RealInputDevice) Name() string {
	name, _ := r.dev.Name()
	return name
}
func (r *RealInputDevice) Path() string { return r.dev.Path() }

// EvdevOps interface defines the static functions we use
type EvdevOps interface {
	ListDevicePaths() ([]evdev.InputPath, error)
	Open(path string) (InputDevice, error)
}

type RealEvdevOps struct{}

func (r *RealEvdevOps) ListDevicePaths() ([]evdev.InputPath, error) {
	return evdev.ListDevicePaths()
}

func (r *RealEvdevOps) Open(path string) (InputDevice, error) {
	dev, err := evdev.Open(path)
	if err != nil {
		return nil, err
	}
	return &RealInputDevice{dev: dev}, nil
}

var evOps EvdevOps = &RealEvdevOps{}

// ResolveInputDevice accepts a device node path or an input device name
// such as "gpio_ir_recv" and returns the node path.
func ResolveInputDevice(device string) (string, error) {
	if strings.HasPrefix(device, "/") {
		return device, nil
	}
	paths, err := evOps.ListDevicePaths()
	if err != nil {
		return "", fmt.Errorf("list input devices: %w", err)
	}
	for _, p := range paths {
		if p.Name == device {
			return p.Path, nil
		}
	}
	return "", fmt.Errorf("no input device named %q", device)
}
