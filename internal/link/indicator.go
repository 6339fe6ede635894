package link

import (
	"fmt"
	"os"
	"path/filepath"
)

const ledClassDir = "/sys/class/leds"

type FileOps interface {
	WriteFile(name string, data []byte, perm os.FileMode) error
}

type RealFileOps struct{}

func (r *RealFileOps) WriteFile(name string, data []byte, perm os.FileMode) error {
	return os.WriteFile(name, data, perm)
}

var fsOps FileOps = &RealFileOps{}

// SysfsLED drives /sys/class/leds/<name>/brightness.
type SysfsLED struct {
	path string
}

func NewSysfsLED(name string) *SysfsLED {
	return &SysfsLED{path: filepath.Join(ledClassDir, name, "brightness")}
}

func (l *SysfsLED) Set(on bool) error {
	v := "0"
	if on {
		v = "1"
	}
	if err := fsOps.WriteFile(l.path, []byte(v), 0644); err != nil {
		return fmt.Errorf("led %s: %w", l.path, err)
	}
	return nil
}

type NopIndicator struct{}

func (NopIndicator) Set(bool) error { return nil }
