// Package dagscoring holds the "DAG scoring" YAML configuration:
// limits, weights, thresholds, caps, and per-group defaults consumed by
// Suggester and Predictor. Loaded from YAML with defaults filled in, and
// validated at startup.
package dagscoring

import "fmt"

// WeightRange is a linearly-interpolated weight bounded between a value at
// avgAlpha=0.5 (graph-trusting) and avgAlpha=1.0 (semantic-trusting).
type WeightRange struct {
	Min float64 `yaml:"min" mapstructure:"min"`
	Max float64 `yaml:"max" mapstructure:"max"`
}

// Interpolate returns the weight at a given avgAlpha in [0.5, 1.0], rising
// from Min at avgAlpha=0.5 to Max at avgAlpha=1.0.
func (r WeightRange) Interpolate(avgAlpha float64) float64 {
	t := (avgAlpha - 0.5) / 0.5
	if t < 0 {
		t = 0
	}
	if t > 1 {
		t = 1
	}
	return r.Min + t*(r.Max-r.Min)
}

// InterpolateInverse falls from Max at avgAlpha=0.5 to Min at avgAlpha=1.0.
// The hybrid final-score weight uses this direction: a high avgAlpha means
// the graph had little to say about these candidates, so the plan leans on
// global centrality and path evidence instead of the per-candidate score.
func (r WeightRange) InterpolateInverse(avgAlpha float64) float64 {
	return r.Max + r.Min - r.Interpolate(avgAlpha)
}

// Thresholds are the named decision cutoffs.
type Thresholds struct {
	SuggestionReject       float64 `yaml:"suggestion_reject" mapstructure:"suggestion_reject"`
	SuggestionFloor        float64 `yaml:"suggestion_floor" mapstructure:"suggestion_floor"`
	Dependency             float64 `yaml:"dependency" mapstructure:"dependency"`
	Replan                 float64 `yaml:"replan" mapstructure:"replan"`
	ToolSearch             float64 `yaml:"tool_search" mapstructure:"tool_search"`
	ContextSearch          float64 `yaml:"context_search" mapstructure:"context_search"`
	IntentSearch           float64 `yaml:"intent_search" mapstructure:"intent_search"`
	AlternativeSuccessRate float64 `yaml:"alternative_success_rate" mapstructure:"alternative_success_rate"`
}

// Weights are the avgAlpha-interpolated confidence contribution ranges.
// Hybrid interpolates inversely to PageRank and Path; the three must sum to
// <=1 at every alpha.
type Weights struct {
	Hybrid   WeightRange `yaml:"hybrid" mapstructure:"hybrid"`
	PageRank WeightRange `yaml:"pagerank" mapstructure:"pagerank"`
	Path     WeightRange `yaml:"path" mapstructure:"path"`
}

// CapabilityConfig configures capability injection.
type CapabilityConfig struct {
	OverlapThreshold       float64 `yaml:"overlap_threshold" mapstructure:"overlap_threshold"`
	ConfidenceMin          float64 `yaml:"confidence_min" mapstructure:"confidence_min"`
	ConfidenceMax          float64 `yaml:"confidence_max" mapstructure:"confidence_max"`
	BoundaryClusterBoost   float64 `yaml:"boundary_cluster_boost" mapstructure:"boundary_cluster_boost"`
}

// CommunityConfig configures Predictor's community predictions.
type CommunityConfig struct {
	MaxMembers     int     `yaml:"max_members" mapstructure:"max_members"`
	BaseConfidence float64 `yaml:"base_confidence" mapstructure:"base_confidence"`
	Cap            float64 `yaml:"cap" mapstructure:"cap"`
}

// CooccurrenceConfig configures Predictor's co-occurrence predictions.
type CooccurrenceConfig struct {
	EdgeWeightCap   float64 `yaml:"edge_weight_cap" mapstructure:"edge_weight_cap"`
	CountBoostCap   float64 `yaml:"count_boost_cap" mapstructure:"count_boost_cap"`
	RecencyBoostCap float64 `yaml:"recency_boost_cap" mapstructure:"recency_boost_cap"`
	Cap             float64 `yaml:"cap" mapstructure:"cap"`
}

// EpisodicConfig tunes the episodic-memory confidence adjustment.
type EpisodicConfig struct {
	FailureExcludeThreshold float64 `yaml:"failure_exclude_threshold" mapstructure:"failure_exclude_threshold"`
	SuccessBoostCap         float64 `yaml:"success_boost_cap" mapstructure:"success_boost_cap"`
	FailurePenaltyCap       float64 `yaml:"failure_penalty_cap" mapstructure:"failure_penalty_cap"`
}

// AlternativesConfig tunes alternative-capability suggestions.
type AlternativesConfig struct {
	ScoreMultiplier float64 `yaml:"score_multiplier" mapstructure:"score_multiplier"`
}

// Defaults holds general settings; CandidateLimit is the number of hybrid
// search results Suggester requests.
type Defaults struct {
	CandidateLimit int `yaml:"candidate_limit" mapstructure:"candidate_limit"`
}

// Config is the full DAG-scoring configuration.
type Config struct {
	Thresholds    Thresholds         `yaml:"thresholds" mapstructure:"thresholds"`
	Weights       Weights            `yaml:"weights" mapstructure:"weights"`
	Capability    CapabilityConfig   `yaml:"capability" mapstructure:"capability"`
	Community     CommunityConfig    `yaml:"community" mapstructure:"community"`
	Cooccurrence  CooccurrenceConfig `yaml:"cooccurrence" mapstructure:"cooccurrence"`
	Episodic      EpisodicConfig     `yaml:"episodic" mapstructure:"episodic"`
	Alternatives  AlternativesConfig `yaml:"alternatives" mapstructure:"alternatives"`
	Defaults      Defaults           `yaml:"defaults" mapstructure:"defaults"`
}

// DefaultConfig returns the built-in scoring constants.
func DefaultConfig() Config {
	return Config{
		Thresholds: Thresholds{
			SuggestionReject:       0.60,
			SuggestionFloor:        0.65,
			Dependency:             0.50,
			Replan:                 0.50,
			ToolSearch:             0.30,
			ContextSearch:          0.30,
			IntentSearch:           0.30,
			AlternativeSuccessRate: 0.70,
		},
		Weights: Weights{
			Hybrid:   WeightRange{Min: 0.55, Max: 0.85},
			PageRank: WeightRange{Min: 0.05, Max: 0.30},
			Path:     WeightRange{Min: 0.10, Max: 0.15},
		},
		Capability: CapabilityConfig{
			OverlapThreshold:     0.3,
			ConfidenceMin:        0.4,
			ConfidenceMax:        0.85,
			BoundaryClusterBoost: 0.25,
		},
		Community: CommunityConfig{
			MaxMembers:     5,
			BaseConfidence: 0.40,
			Cap:            0.95,
		},
		Cooccurrence: CooccurrenceConfig{
			EdgeWeightCap:   0.60,
			CountBoostCap:   0.20,
			RecencyBoostCap: 0.10,
			Cap:             0.95,
		},
		Episodic: EpisodicConfig{
			FailureExcludeThreshold: 0.50,
			SuccessBoostCap:         0.15,
			FailurePenaltyCap:       0.15,
		},
		Alternatives: AlternativesConfig{
			ScoreMultiplier: 0.9,
		},
		Defaults: Defaults{
			CandidateLimit: 10,
		},
	}
}

// PathConfidence maps a dependency path's hop count to a fixed,
// non-increasing confidence.
func PathConfidence(hops int) float64 {
	switch {
	case hops <= 1:
		return 0.95
	case hops == 2:
		return 0.80
	case hops == 3:
		return 0.65
	default:
		return 0.50
	}
}

// Validate checks bounds and that per-alpha interpolated weights never sum
// above 1.
func (c Config) Validate() error {
	if c.Thresholds.SuggestionReject >= c.Thresholds.SuggestionFloor {
		return fmt.Errorf("dagscoring: suggestion_reject must be < suggestion_floor")
	}
	for _, alpha := range []float64{0.5, 0.75, 1.0} {
		sum := c.Weights.Hybrid.InterpolateInverse(alpha) + c.Weights.PageRank.Interpolate(alpha) + c.Weights.Path.Interpolate(alpha)
		if sum > 1.0+1e-9 {
			return fmt.Errorf("dagscoring: weights sum to %v at alpha=%v, want <=1", sum, alpha)
		}
	}
	if c.Capability.OverlapThreshold < 0 || c.Capability.OverlapThreshold > 1 {
		return fmt.Errorf("dagscoring: capability.overlap_threshold out of [0,1]")
	}
	if c.Capability.ConfidenceMin >= c.Capability.ConfidenceMax {
		return fmt.Errorf("dagscoring: capability confidence range invalid")
	}
	if c.Defaults.CandidateLimit <= 0 {
		return fmt.Errorf("dagscoring: defaults.candidate_limit must be positive")
	}
	return nil
}
