package domain

// FusionPolicy holds the retrieval tuning knobs. The numbers are policy, not
// physics: they were revised more than once in production without touching
// the algorithm, so they stay configurable rather than hard-coded.
//
// Weights for absent signals are simply not realized (no renormalization),
// and a memory confirmed by several signals never ranks below what its
// strongest signal would score alone.
type FusionPolicy struct {
	LexicalOnlyWeight    float64 `yaml:"lexical_only_weight"`
	SemanticOnlyWeight   float64 `yaml:"semantic_only_weight"`
	CrossModalOnlyWeight float64 `yaml:"cross_modal_only_weight"`

	PairLexicalWeight  float64 `yaml:"pair_lexical_weight"`
	PairSemanticWeight float64 `yaml:"pair_semantic_weight"`

	TriLexicalWeight    float64 `yaml:"tri_lexical_weight"`
	TriSemanticWeight   float64 `yaml:"tri_semantic_weight"`
	TriCrossModalWeight float64 `yaml:"tri_cross_modal_weight"`

	// Per-signal candidate floors. Cross-modal similarity runs
	// systematically lower-magnitude than text-text similarity, hence the
	// lower floor.
	SemanticFloor   float64 `yaml:"semantic_floor"`
	CrossModalFloor float64 `yaml:"cross_modal_floor"`

	// FusedFloor discards noise after fusion, before truncation.
	FusedFloor float64 `yaml:"fused_floor"`

	// CandidateMultiplier scales the requested limit for the non-lexical
	// candidate pools.
	CandidateMultiplier int `yaml:"candidate_multiplier"`

	DefaultLimit int `yaml:"default_limit"`
	MaxLimit     int `yaml:"max_limit"`
}

func DefaultFusionPolicy() FusionPolicy {
	return FusionPolicy{
		LexicalOnlyWeight:    0.60,
		SemanticOnlyWeight:   0.80,
		CrossModalOnlyWeight: 0.75,

		PairLexicalWeight:  0.40,
		PairSemanticWeight: 0.60,

		TriLexicalWeight:    0.30,
		TriSemanticWeight:   0.35,
		TriCrossModalWeight: 0.35,

		SemanticFloor:   0.40,
		CrossModalFloor: 0.25,
		FusedFloor:      0.30,

		CandidateMultiplier: 2,
		DefaultLimit:        20,
		MaxLimit:            50,
	}
}

// Normalize fills zero or out-of-range fields from the defaults so a partial
// YAML overlay cannot disable a floor by accident.
func (p FusionPolicy) Normalize() FusionPolicy {
	def := DefaultFusionPolicy()
	out := p

	fill := func(v *float64, d float64) {
		if *v <= 0 || *v > 1 {
			*v = d
		}
	}
	fill(&out.LexicalOnlyWeight, def.LexicalOnlyWeight)
	fill(&out.SemanticOnlyWeight, def.SemanticOnlyWeight)
	fill(&out.CrossModalOnlyWeight, def.CrossModalOnlyWeight)
	fill(&out.PairLexicalWeight, def.PairLexicalWeight)
	fill(&out.PairSemanticWeight, def.PairSemanticWeight)
	fill(&out.TriLexicalWeight, def.TriLexicalWeight)
	fill(&out.TriSemanticWeight, def.TriSemanticWeight)
	fill(&out.TriCrossModalWeight, def.TriCrossModalWeight)
	fill(&out.SemanticFloor, def.SemanticFloor)
	fill(&out.CrossModalFloor, def.CrossModalFloor)
	fill(&out.FusedFloor, def.FusedFloor)

	if out.CandidateMultiplier <= 0 {
		out.CandidateMultiplier = def.CandidateMultiplier
	}
	if out.DefaultLimit <= 0 {
		out.DefaultLimit = def.DefaultLimit
	}
	if out.MaxLimit < out.DefaultLimit {
		out.MaxLimit = def.MaxLimit
	}
	return out
}

// SignalFloor returns the candidate floor for one signal; lexical candidates
// are owner-filtered and scored inside the repository, no floor applies.
func (p FusionPolicy) SignalFloor(signal Signal) float64 {
	switch signal {
	case SignalSemantic:
		return p.SemanticFloor
	case SignalCrossModal:
		return p.CrossModalFloor
	default:
		return 0
	}
}
