// Package config holds the gridsync configuration and its loader.
//
// Values are layered: built-in defaults, then a YAML file, then
// environment variables prefixed with GRIDSYNC_. In variable names a double
// underscore separates sections, so GRIDSYNC_REMOTE__Y_OFFSET sets
// remote.y_offset.
package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

var ErrInvalid = errors.New("config: invalid")

// MaxGridSize caps grid.size; the start-up clear unit holds size³ lines.
const MaxGridSize = 64

type Config struct {
	Grid    Grid    `koanf:"grid"`
	Remote  Remote  `koanf:"remote"`
	Sensors Sensors `koanf:"sensors"`
	Journal Journal `koanf:"journal"`
	Metrics Metrics `koanf:"metrics"`
	Log     Log     `koanf:"log"`
}

type Grid struct {
	Size         int           `koanf:"size"`
	CellSize     float64       `koanf:"cell_size"`
	ScanInterval time.Duration `koanf:"scan_interval"`
	ClearOnStart bool          `koanf:"clear_on_start"`
}

type Remote struct {
	Endpoint        string        `koanf:"endpoint"`
	Dimension       string        `koanf:"dimension"`
	YOffset         int           `koanf:"y_offset"`
	Materials       Materials     `koanf:"materials"`
	DialTimeout     time.Duration `koanf:"dial_timeout"`
	SendTimeout     time.Duration `koanf:"send_timeout"`
	TeardownTimeout time.Duration `koanf:"teardown_timeout"`
}

type Materials struct {
	Present  string `koanf:"present"`
	Absent   string `koanf:"absent"`
	Boundary string `koanf:"boundary"`
}

type Sensors struct {
	Source string `koanf:"source"`
	Cube   Cube   `koanf:"cube"`
	Serial Serial `koanf:"serial"`
}

type Cube struct {
	Center []float64 `koanf:"center"`
	Size   float64   `koanf:"size"`
	Speed  float64   `koanf:"speed"`
}

type Serial struct {
	Port       string        `koanf:"port"`
	BaudRate   int           `koanf:"baud_rate"`
	DataBits   int           `koanf:"data_bits"`
	StopBits   int           `koanf:"stop_bits"`
	Parity     string        `koanf:"parity"`
	StaleAfter time.Duration `koanf:"stale_after"`
}

type Journal struct {
	Path string `koanf:"path"`
}

type Metrics struct {
	Listen string `koanf:"listen"`
}

type Log struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

const (
	SourceCube   = "cube"
	SourceSerial = "serial"
	SourceNone   = "none"
)

func Default() Config {
	return Config{
		Grid: Grid{
			Size:         10,
			CellSize:     1.0,
			ScanInterval: time.Second,
			ClearOnStart: true,
		},
		Remote: Remote{
			Endpoint:  "ws://localhost:8887",
			Dimension: "afevoid",
			YOffset:   70,
			Materials: Materials{
				Present:  "minecraft:green_wool",
				Absent:   "minecraft:air",
				Boundary: "minecraft:sea_lantern",
			},
			DialTimeout:     5 * time.Second,
			SendTimeout:     5 * time.Second,
			TeardownTimeout: 5 * time.Second,
		},
		Sensors: Sensors{
			Source: SourceCube,
			Cube: Cube{
				Center: []float64{5, 5, 5},
				Size:   5,
				Speed:  30,
			},
			Serial: Serial{
				BaudRate:   115200,
				DataBits:   8,
				StopBits:   1,
				Parity:     "N",
				StaleAfter: 3 * time.Second,
			},
		},
		Log: Log{
			Level:  "info",
			Format: "text",
		},
	}
}

func (c Config) Validate() error {
	var errs []string
	if c.Grid.Size < 1 || c.Grid.Size > MaxGridSize {
		errs = append(errs, fmt.Sprintf("grid.size must be between 1 and %d, got %d", MaxGridSize, c.Grid.Size))
	}
	if c.Grid.CellSize <= 0 {
		errs = append(errs, fmt.Sprintf("grid.cell_size must be positive, got %v", c.Grid.CellSize))
	}
	if c.Grid.ScanInterval <= 0 {
		errs = append(errs, fmt.Sprintf("grid.scan_interval must be positive, got %s", c.Grid.ScanInterval))
	}
	if c.Remote.Endpoint == "" {
		errs = append(errs, "remote.endpoint is required")
	}
	if strings.TrimSpace(c.Remote.Dimension) == "" || strings.ContainsAny(c.Remote.Dimension, " \n") {
		errs = append(errs, fmt.Sprintf("remote.dimension must be a single token, got %q", c.Remote.Dimension))
	}
	for name, m := range map[string]string{
		"present":  c.Remote.Materials.Present,
		"absent":   c.Remote.Materials.Absent,
		"boundary": c.Remote.Materials.Boundary,
	} {
		if strings.TrimSpace(m) == "" || strings.ContainsAny(m, " \n") {
			errs = append(errs, fmt.Sprintf("remote.materials.%s must be a single token, got %q", name, m))
		}
	}
	switch c.Sensors.Source {
	case SourceCube:
		if len(c.Sensors.Cube.Center) != 3 {
			errs = append(errs, fmt.Sprintf("sensors.cube.center needs 3 values, got %d", len(c.Sensors.Cube.Center)))
		}
		if c.Sensors.Cube.Size <= 0 {
			errs = append(errs, "sensors.cube.size must be positive")
		}
	case SourceSerial:
		if c.Sensors.Serial.Port == "" {
			errs = append(errs, "sensors.serial.port is required for the serial source")
		}
	case SourceNone:
	default:
		errs = append(errs, fmt.Sprintf("unknown sensors.source %q", c.Sensors.Source))
	}
	if len(errs) > 0 {
		sort.Strings(errs)
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(errs, "; "))
	}
	return nil
}
