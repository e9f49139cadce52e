package tuning

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Tuning holds every knob the simulation reads. Load fills it from Defaults
// first, so a partial YAML file only overrides what it names.
type Tuning struct {
	GridWidth  int `yaml:"grid_width"`
	GridHeight int `yaml:"grid_height"`

	// Ticks before an unfinished run is aborted.
	HardTimeoutTicks int `yaml:"hard_timeout_ticks"`

	// Keep learned pathfinding state across Reset.
	PersistLearningOnReset bool `yaml:"persist_learning_on_reset"`

	Obstacles ObstacleTuning `yaml:"obstacles"`
	Assign    AssignTuning   `yaml:"assign"`
	Movement  MovementTuning `yaml:"movement"`
	Stall     StallTuning    `yaml:"stall"`
}

type ObstacleTuning struct {
	TemporaryLifespan     int     `yaml:"temporary_lifespan"`
	SemiPermanentLifespan int     `yaml:"semi_permanent_lifespan"`
	ShareChance           float64 `yaml:"share_chance"`
}

type AssignTuning struct {
	ClusterRadius int `yaml:"cluster_radius"`
	// Consecutive failures before a robot/item pair is ruled out.
	FailureCeiling int `yaml:"failure_ceiling"`
	// Per-cycle chance the failure table is forgiven.
	FailureClearChance float64 `yaml:"failure_clear_chance"`
}

type MovementTuning struct {
	// Non-progressing ticks next to the drop point before a forced delivery.
	ForceDeliverAdjacentTicks int `yaml:"force_deliver_adjacent_ticks"`
	// Stuck ticks before a carrying robot sidesteps toward the drop point.
	EmergencyStepTicks int `yaml:"emergency_step_ticks"`
	// Stuck ticks before a carrying robot releases its load.
	ReleaseLoadTicks int `yaml:"release_load_ticks"`
}

type StallTuning struct {
	ReleaseTicks       int `yaml:"release_ticks"`
	RelocateOneTicks   int `yaml:"relocate_one_ticks"`
	RelocateAllTicks   int `yaml:"relocate_all_ticks"`
	ForceCompleteTicks int `yaml:"force_complete_ticks"`
}

// Defaults returns the tuning the simulation ships with.
func Defaults() Tuning {
	return Tuning{
		GridWidth:        20,
		GridHeight:       20,
		HardTimeoutTicks: 200,
		Obstacles: ObstacleTuning{
			TemporaryLifespan:     10,
			SemiPermanentLifespan: 30,
			ShareChance:           0.1,
		},
		Assign: AssignTuning{
			ClusterRadius:      5,
			FailureCeiling:     3,
			FailureClearChance: 0.1,
		},
		Movement: MovementTuning{
			ForceDeliverAdjacentTicks: 3,
			EmergencyStepTicks:        10,
			ReleaseLoadTicks:          30,
		},
		Stall: StallTuning{
			ReleaseTicks:       15,
			RelocateOneTicks:   20,
			RelocateAllTicks:   35,
			ForceCompleteTicks: 50,
		},
	}
}

// Load reads a YAML tuning file over the defaults.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning: %w", err)
	}
	return t, nil
}
