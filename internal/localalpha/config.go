package localalpha

import (
	"fmt"
	"math"

	"github.com/flowgraph/planner/internal/graph"
)

const sumTolerance = 1e-3

// KindWeights is a (intrinsic, neighbor, hierarchy) probability distribution
// for one node kind's Hierarchical Heat Diffusion blend.
type KindWeights struct {
	Intrinsic float64 `yaml:"intrinsic" mapstructure:"intrinsic"`
	Neighbor  float64 `yaml:"neighbor" mapstructure:"neighbor"`
	Hierarchy float64 `yaml:"hierarchy" mapstructure:"hierarchy"`
}

func (w KindWeights) sum() float64 { return w.Intrinsic + w.Neighbor + w.Hierarchy }

// HeatWeights is the (intrinsic, context, path) blend for plain Heat
// Diffusion over tools.
type HeatWeights struct {
	Intrinsic float64 `yaml:"intrinsic" mapstructure:"intrinsic"`
	Context   float64 `yaml:"context" mapstructure:"context"`
	Path      float64 `yaml:"path" mapstructure:"path"`
}

func (w HeatWeights) sum() float64 { return w.Intrinsic + w.Context + w.Path }

// Config is the flat, validated configuration for LocalAlpha.
type Config struct {
	AlphaMin float64 `yaml:"alpha_min" mapstructure:"alpha_min"`
	AlphaMax float64 `yaml:"alpha_max" mapstructure:"alpha_max"`

	ColdStartObservations int     `yaml:"cold_start_observations" mapstructure:"cold_start_observations"`
	ColdStartPrior        float64 `yaml:"cold_start_prior" mapstructure:"cold_start_prior"`
	ColdStartTarget       float64 `yaml:"cold_start_target" mapstructure:"cold_start_target"`

	Heat HeatWeights `yaml:"heat" mapstructure:"heat"`

	HierarchyWeights map[graph.NodeKind]KindWeights `yaml:"hierarchy_weights" mapstructure:"hierarchy_weights"`

	MetaToCapability   float64 `yaml:"meta_to_capability" mapstructure:"meta_to_capability"`
	CapabilityToTool   float64 `yaml:"capability_to_tool" mapstructure:"capability_to_tool"`
	MaxHierarchyDepth  int     `yaml:"max_hierarchy_depth" mapstructure:"max_hierarchy_depth"`

	HeatCacheTTLSeconds int `yaml:"heat_cache_ttl_seconds" mapstructure:"heat_cache_ttl_seconds"`
}

// DefaultConfig returns the built-in alpha constants.
func DefaultConfig() Config {
	return Config{
		AlphaMin:              0.5,
		AlphaMax:              1.0,
		ColdStartObservations: 5,
		ColdStartPrior:        1.0,
		ColdStartTarget:       0.7,
		Heat: HeatWeights{
			Intrinsic: 0.4,
			Context:   0.3,
			Path:      0.3,
		},
		HierarchyWeights: map[graph.NodeKind]KindWeights{
			graph.KindTool:       {Intrinsic: 0.5, Neighbor: 0.3, Hierarchy: 0.2},
			graph.KindCapability: {Intrinsic: 0.3, Neighbor: 0.4, Hierarchy: 0.3},
			graph.KindMeta:       {Intrinsic: 0.2, Neighbor: 0.2, Hierarchy: 0.6},
		},
		MetaToCapability:    0.7,
		CapabilityToTool:    0.5,
		MaxHierarchyDepth:   3,
		HeatCacheTTLSeconds: 60,
	}
}

// Validate checks bounds and that every probability-distribution group sums
// to 1.0 within sumTolerance.
func (c Config) Validate() error {
	if c.AlphaMin <= 0 || c.AlphaMax > 1 || c.AlphaMin >= c.AlphaMax {
		return fmt.Errorf("localalpha: alpha bounds invalid: min=%v max=%v", c.AlphaMin, c.AlphaMax)
	}
	if c.ColdStartObservations <= 0 {
		return fmt.Errorf("localalpha: cold_start_observations must be positive")
	}
	if math.Abs(c.Heat.sum()-1.0) > sumTolerance {
		return fmt.Errorf("localalpha: heat weights sum to %v, want 1.0±%v", c.Heat.sum(), sumTolerance)
	}
	for kind, w := range c.HierarchyWeights {
		if math.Abs(w.sum()-1.0) > sumTolerance {
			return fmt.Errorf("localalpha: hierarchy weights for kind %q sum to %v, want 1.0±%v", kind, w.sum(), sumTolerance)
		}
	}
	if c.MaxHierarchyDepth <= 0 {
		return fmt.Errorf("localalpha: max_hierarchy_depth must be positive")
	}
	return nil
}
