package world

import (
	"fmt"
	"os"
	"strings"

	"github.com/radstorm/storm-server-go/internal/storm"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Point is an [x, y, z] triple in scenario files.
type Point [3]float64

// Vec converts p to a world position.
func (p Point) Vec() storm.Vec3 {
	return storm.Vec3{X: p[0], Y: p[1], Z: p[2]}
}

// Scenario is a world fixture loaded from YAML.
type Scenario struct {
	Name          string          `yaml:"name"`
	MapSize       *uint8          `yaml:"map_size,omitempty"`
	Players       []PlayerSpec    `yaml:"players"`
	Structures    []StructureSpec `yaml:"structures"`
	OxygenVolumes []OxygenSpec    `yaml:"oxygen_volumes"`
	Deadzones     []DeadzoneSpec  `yaml:"deadzones"`
}

type PlayerSpec struct {
	Name     string `yaml:"name"`
	Position Point  `yaml:"position"`
	HP       int    `yaml:"hp"`
	Admin    bool   `yaml:"admin"`
}

// StructureSpec describes a placed structure. Kind is "radiator", "heater"
// or "plain"; plain structures have no runtime object.
type StructureSpec struct {
	ItemID   uint16  `yaml:"item_id"`
	Kind     string  `yaml:"kind"`
	Position Point   `yaml:"position"`
	Radius   float64 `yaml:"radius"`
	Powered  *bool   `yaml:"powered,omitempty"`
}

type OxygenSpec struct {
	Center Point   `yaml:"center"`
	Radius float64 `yaml:"radius"`
}

type DeadzoneSpec struct {
	Center Point   `yaml:"center"`
	Radius float64 `yaml:"radius"`
}

// LoadScenario reads and validates a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	sc, err := ParseScenario(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return sc, nil
}

// ParseScenario decodes and validates scenario YAML.
func ParseScenario(b []byte) (*Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(b, &sc); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

// Validate checks the scenario for contradictions.
func (sc *Scenario) Validate() error {
	seen := make(map[string]bool, len(sc.Players))
	for i, p := range sc.Players {
		name := strings.ToLower(strings.TrimSpace(p.Name))
		if name == "" {
			return fmt.Errorf("players[%d]: name is required", i)
		}
		if seen[name] {
			return fmt.Errorf("players[%d]: duplicate name %q", i, p.Name)
		}
		seen[name] = true
	}
	for i, s := range sc.Structures {
		switch strings.ToLower(s.Kind) {
		case "radiator", "heater", "plain", "":
		default:
			return fmt.Errorf("structures[%d]: unknown kind %q", i, s.Kind)
		}
		if s.Radius < 0 {
			return fmt.Errorf("structures[%d]: radius must not be negative", i)
		}
	}
	for i, v := range sc.OxygenVolumes {
		if v.Radius <= 0 {
			return fmt.Errorf("oxygen_volumes[%d]: radius must be positive", i)
		}
	}
	for i, d := range sc.Deadzones {
		if d.Radius <= 0 {
			return fmt.Errorf("deadzones[%d]: radius must be positive", i)
		}
	}
	return nil
}

// Build creates a world populated from the scenario.
func (sc *Scenario) Build(logger *zap.Logger) (*World, error) {
	w := New(logger)
	if sc.MapSize != nil {
		w.SetMapSize(*sc.MapSize)
	}
	for _, p := range sc.Players {
		if _, err := w.JoinWithHP(p.Name, p.Position.Vec(), p.Admin, p.HP); err != nil {
			return nil, err
		}
	}
	for _, s := range sc.Structures {
		powered := true
		if s.Powered != nil {
			powered = *s.Powered
		}
		var obj any
		switch strings.ToLower(s.Kind) {
		case "radiator":
			obj = NewSafezoneRadiator(s.Radius, powered)
		case "heater":
			obj = &Heater{Radius: s.Radius, On: powered}
		}
		w.Place(s.ItemID, s.Position.Vec(), obj)
	}
	for _, v := range sc.OxygenVolumes {
		w.AddOxygenVolume(OxygenVolume{Center: v.Center.Vec(), Radius: v.Radius})
	}
	for _, d := range sc.Deadzones {
		if err := w.RegisterHazardRegion(NewDeadzone(d.Center.Vec(), d.Radius)); err != nil {
			return nil, err
		}
	}
	w.logger.Info("scenario loaded",
		zap.String("name", sc.Name),
		zap.Int("players", len(sc.Players)),
		zap.Int("structures", len(sc.Structures)),
	)
	return w, nil
}
