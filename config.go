package pathtracer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/gekko3d/pathtracer/rt/core"
	"github.com/gekko3d/pathtracer/rt/kernel"

	"github.com/go-gl/mathgl/mgl32"
)

type CameraConfig struct {
	Position  mgl32.Vec3 `json:"position"`
	Direction mgl32.Vec3 `json:"direction"`
	// VFov is the vertical field of view in degrees.
	VFov          float32 `json:"vfov"`
	Aperture      float32 `json:"aperture,omitempty"`
	FocusDistance float32 `json:"focus_distance,omitempty"`
}

// MaterialConfig is one material table entry. Type selects the variant;
// Fuzz only applies to metal, IOR only to dielectric.
type MaterialConfig struct {
	Type     string     `json:"type"`
	Albedo   mgl32.Vec3 `json:"albedo"`
	Emission mgl32.Vec3 `json:"emission,omitempty"`
	Fuzz     float32    `json:"fuzz,omitempty"`
	IOR      float32    `json:"ior,omitempty"`
}

type SphereConfig struct {
	Center   mgl32.Vec3 `json:"center"`
	Radius   float32    `json:"radius"`
	Material uint32     `json:"material"`
}

type Config struct {
	Width  uint32 `json:"width"`
	Height uint32 `json:"height"`

	Camera    CameraConfig     `json:"camera"`
	Materials []MaterialConfig `json:"materials"`
	Spheres   []SphereConfig   `json:"spheres"`

	MaxDepth       uint32     `json:"max_depth"`
	JitterStrength float32    `json:"jitter_strength"`
	Seed           uint32     `json:"seed"`
	SkyTop         mgl32.Vec3 `json:"sky_top"`
	SkyBottom      mgl32.Vec3 `json:"sky_bottom"`
	Background     mgl32.Vec3 `json:"background"`

	// Workers bounds the software backend's worker pool. Zero means
	// GOMAXPROCS.
	Workers int `json:"workers"`
}

func DefaultConfig() Config {
	c := Config{
		Width:  1280,
		Height: 720,
		Camera: CameraConfig{
			Direction:     mgl32.Vec3{0, 0, -1},
			VFov:          90,
			FocusDistance: 1,
		},
		MaxDepth:       kernel.DefaultMaxDepth,
		JitterStrength: 1,
		SkyTop:         mgl32.Vec3{0.5, 0.7, 1.0},
		SkyBottom:      mgl32.Vec3{1, 1, 1},
	}
	def := core.DefaultScene()
	for _, m := range def.Materials {
		c.Materials = append(c.Materials, materialConfig(m))
	}
	for _, s := range def.Spheres {
		c.Spheres = append(c.Spheres, SphereConfig{Center: s.Center, Radius: s.Radius, Material: s.Material})
	}
	return c
}

func materialConfig(m core.Material) MaterialConfig {
	mc := MaterialConfig{Type: m.Kind.String(), Albedo: m.Albedo, Emission: m.Emission}
	switch m.Kind {
	case core.MaterialMetal:
		mc.Fuzz = m.Fuzz()
	case core.MaterialDielectric:
		mc.IOR = m.IOR()
	}
	return mc
}

// LoadConfig reads a JSON config. Fields absent from the file keep their
// DefaultConfig values; a file that lists spheres replaces the default scene
// entirely.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	return ParseConfig(data)
}

func ParseConfig(data []byte) (Config, error) {
	c := DefaultConfig()
	c.Materials, c.Spheres = nil, nil

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&c); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if c.Materials == nil && c.Spheres == nil {
		def := DefaultConfig()
		c.Materials, c.Spheres = def.Materials, def.Spheres
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	if c.Width == 0 || c.Height == 0 {
		return fmt.Errorf("config: extent %dx%d must be non-zero", c.Width, c.Height)
	}
	if c.Camera.VFov <= 0 || c.Camera.VFov >= 180 {
		return fmt.Errorf("config: vfov %g must be in (0, 180)", c.Camera.VFov)
	}
	if c.JitterStrength < 0 || c.JitterStrength > 1 {
		return fmt.Errorf("config: jitter_strength %g must be in [0, 1]", c.JitterStrength)
	}
	_, err := c.Scene()
	return err
}

// Scene builds the validated scene described by the config.
func (c *Config) Scene() (*core.Scene, error) {
	s := core.NewScene()
	for i, mc := range c.Materials {
		m, err := mc.Material()
		if err != nil {
			return nil, &core.SceneError{Sphere: -1, Material: i, Reason: err.Error()}
		}
		s.AddMaterial(m)
	}
	for _, sc := range c.Spheres {
		s.AddSphere(sc.Center, sc.Radius, sc.Material)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return s, nil
}

func (mc MaterialConfig) Material() (core.Material, error) {
	kind, err := core.ParseMaterialKind(mc.Type)
	if err != nil {
		return core.Material{}, err
	}
	var m core.Material
	switch kind {
	case core.MaterialDiffuse:
		m = core.Diffuse(mc.Albedo)
	case core.MaterialMetal:
		m = core.Metal(mc.Albedo, mc.Fuzz)
	case core.MaterialDielectric:
		ior := mc.IOR
		if ior == 0 {
			ior = 1.5
		}
		m = core.Dielectric(ior)
	}
	return m.WithEmission(mc.Emission), nil
}

// NewCamera builds the initial camera.
func (c *Config) NewCamera() core.Camera {
	cam := core.NewCamera(c.Camera.Position, c.Camera.Direction, mgl32.DegToRad(c.Camera.VFov))
	cam.Aperture = c.Camera.Aperture
	if c.Camera.FocusDistance > 0 {
		cam.FocusDistance = c.Camera.FocusDistance
	}
	return cam
}
