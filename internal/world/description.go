// Package world holds the world description format: the document tree, its
// YAML and XML codecs, validation, and lookup of description files.
package world

import (
	"encoding/xml"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/invopop/jsonschema"
)

const (
	DefaultStepSize       = 0.001
	DefaultRealTimeFactor = 1.0
	DefaultMass           = 1.0
	CurrentVersion        = "1.4"
)

// DefaultGravity points down the Z axis.
var DefaultGravity = Vector3{0, 0, -9.8}

// Description is the root of a parsed world document. World is nil when the
// document has no world definition.
type Description struct {
	XMLName xml.Name `yaml:"-" json:"-" xml:"sdf"`
	Version string   `yaml:"version,omitempty" json:"version,omitempty" xml:"version,attr,omitempty"`
	World   *World   `yaml:"world,omitempty" json:"world,omitempty" xml:"world,omitempty"`
}

// World defines one simulated world.
type World struct {
	Name    string   `yaml:"name,omitempty" json:"name,omitempty" xml:"name,attr,omitempty"`
	Gravity *Vector3 `yaml:"gravity,omitempty" json:"gravity,omitempty" xml:"gravity,omitempty"`
	Physics Physics  `yaml:"physics,omitempty" json:"physics,omitempty" xml:"physics"`
	Models  []Model  `yaml:"models,omitempty" json:"models,omitempty" xml:"model"`
}

// Physics tunes the world's stepping.
type Physics struct {
	StepSize       float64 `yaml:"stepSize,omitempty" json:"stepSize,omitempty" xml:"max_step_size,omitempty"`
	RealTimeFactor float64 `yaml:"realTimeFactor,omitempty" json:"realTimeFactor,omitempty" xml:"real_time_factor,omitempty"`
}

// StepDuration is the step size truncated to whole nanoseconds.
func (p Physics) StepDuration() time.Duration {
	return time.Duration(p.StepSize * float64(time.Second))
}

// Model is a rigid body placed in the world.
type Model struct {
	Name     string   `yaml:"name" json:"name" xml:"name,attr"`
	Static   bool     `yaml:"static,omitempty" json:"static,omitempty" xml:"static,omitempty"`
	Pose     Pose     `yaml:"pose,omitempty" json:"pose,omitempty" xml:"pose,omitempty"`
	Velocity *Vector3 `yaml:"velocity,omitempty" json:"velocity,omitempty" xml:"velocity,omitempty"`
	Mass     float64  `yaml:"mass,omitempty" json:"mass,omitempty" xml:"mass,omitempty"`
}

// Vector3 is written as three space separated numbers.
type Vector3 [3]float64

func (v Vector3) Vec() mgl64.Vec3 {
	return mgl64.Vec3(v)
}

func FromVec(v mgl64.Vec3) Vector3 {
	return Vector3(v)
}

func (v Vector3) MarshalText() ([]byte, error) {
	return []byte(formatFloats(v[:])), nil
}

func (v *Vector3) UnmarshalText(text []byte) error {
	values, err := parseFloats(string(text), 3)
	if err != nil {
		return fmt.Errorf("vector: %w", err)
	}
	copy(v[:], values)
	return nil
}

func (Vector3) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:        "string",
		Pattern:     `^\s*\S+\s+\S+\s+\S+\s*$`,
		Description: "three space separated numbers: x y z",
	}
}

// Pose is a position and roll/pitch/yaw rotation, written as six numbers.
type Pose struct {
	Position mgl64.Vec3
	Rotation mgl64.Vec3
}

func (p Pose) IsZero() bool {
	return p.Position == (mgl64.Vec3{}) && p.Rotation == (mgl64.Vec3{})
}

func (p Pose) MarshalText() ([]byte, error) {
	values := append(p.Position[:], p.Rotation[:]...)
	return []byte(formatFloats(values)), nil
}

func (p *Pose) UnmarshalText(text []byte) error {
	values, err := parseFloats(string(text), 6)
	if err != nil {
		return fmt.Errorf("pose: %w", err)
	}
	copy(p.Position[:], values[:3])
	copy(p.Rotation[:], values[3:])
	return nil
}

func (Pose) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:        "string",
		Pattern:     `^\s*(\S+\s+){5}\S+\s*$`,
		Description: "six space separated numbers: x y z roll pitch yaw",
	}
}

func formatFloats(values []float64) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return strings.Join(parts, " ")
}

func parseFloats(text string, n int) ([]float64, error) {
	fields := strings.Fields(text)
	if len(fields) != n {
		return nil, fmt.Errorf("expected %d numbers, got %d", n, len(fields))
	}
	values := make([]float64, n)
	for i, field := range fields {
		v, err := strconv.ParseFloat(field, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", field)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("non-finite number %q", field)
		}
		values[i] = v
	}
	return values, nil
}

// ErrNoWorld is returned by Validate when the document has no world root.
var ErrNoWorld = errors.New("no world element")

// Validate checks the description and fills defaults in place.
func (d *Description) Validate() error {
	if d == nil || d.World == nil {
		return ErrNoWorld
	}
	if d.Version == "" {
		d.Version = CurrentVersion
	}
	w := d.World
	if w.Physics.StepSize < 0 {
		return fmt.Errorf("physics step size %g must be positive", w.Physics.StepSize)
	}
	if w.Physics.StepSize == 0 {
		w.Physics.StepSize = DefaultStepSize
	}
	if ns := w.Physics.StepSize * float64(time.Second); ns < 1 || ns >= math.MaxInt64 {
		return fmt.Errorf("physics step size %g is not representable in nanoseconds", w.Physics.StepSize)
	}
	if w.Physics.RealTimeFactor < 0 {
		return fmt.Errorf("real time factor %g must not be negative", w.Physics.RealTimeFactor)
	}
	if w.Physics.RealTimeFactor == 0 {
		w.Physics.RealTimeFactor = DefaultRealTimeFactor
	}
	if w.Gravity == nil {
		gravity := DefaultGravity
		w.Gravity = &gravity
	}
	seen := make(map[string]struct{}, len(w.Models))
	for i := range w.Models {
		m := &w.Models[i]
		m.Name = strings.TrimSpace(m.Name)
		if m.Name == "" {
			return fmt.Errorf("model %d has no name", i)
		}
		if _, dup := seen[m.Name]; dup {
			return fmt.Errorf("duplicate model name %q", m.Name)
		}
		seen[m.Name] = struct{}{}
		if m.Mass < 0 {
			return fmt.Errorf("model %q has negative mass", m.Name)
		}
		if m.Mass == 0 {
			m.Mass = DefaultMass
		}
	}
	return nil
}

// ModelNames lists model names in document order.
func (d *Description) ModelNames() []string {
	if d == nil || d.World == nil {
		return nil
	}
	names := make([]string, len(d.World.Models))
	for i, m := range d.World.Models {
		names[i] = m.Name
	}
	return names
}

// Clone deep-copies the description.
func (d *Description) Clone() *Description {
	if d == nil {
		return nil
	}
	out := &Description{Version: d.Version}
	if d.World != nil {
		w := *d.World
		if d.World.Gravity != nil {
			g := *d.World.Gravity
			w.Gravity = &g
		}
		w.Models = make([]Model, len(d.World.Models))
		for i, m := range d.World.Models {
			if m.Velocity != nil {
				v := *m.Velocity
				m.Velocity = &v
			}
			w.Models[i] = m
		}
		out.World = &w
	}
	return out
}
