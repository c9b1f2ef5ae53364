package usecase

import (
	"math"
	"sort"

	"github.com/ndmitriev/recollect/internal/core/domain"
)

// fusedCandidate accumulates whichever signals matched one memory. Raw
// scores keep the maximum seen per signal; a signal hitting the same memory
// twice is still one signal.
type fusedCandidate struct {
	memory     *domain.Memory
	signals    []domain.Signal
	lexical    float64
	semantic   float64
	crossModal float64
}

func (c *fusedCandidate) addSignal(signal domain.Signal, score float64) {
	if !c.hasSignal(signal) {
		c.signals = append(c.signals, signal)
	}
	switch signal {
	case domain.SignalLexical:
		if score > c.lexical {
			c.lexical = score
		}
	case domain.SignalSemantic:
		if score > c.semantic {
			c.semantic = score
		}
	case domain.SignalCrossModal:
		if score > c.crossModal {
			c.crossModal = score
		}
	}
}

func (c *fusedCandidate) hasSignal(signal domain.Signal) bool {
	for _, s := range c.signals {
		if s == signal {
			return true
		}
	}
	return false
}

// fuseScore combines whichever signals matched into one relevance number.
// Absent signals contribute zero and their weight is not redistributed.
// A confirming signal may only raise a memory, never sink it: the combined
// score is clamped to at least the best single-signal score, so a weak
// lexical hit next to a strong semantic hit cannot drag the memory below
// what the semantic signal alone would have scored.
func fuseScore(policy domain.FusionPolicy, c *fusedCandidate) float64 {
	hasLex := c.hasSignal(domain.SignalLexical)
	hasSem := c.hasSignal(domain.SignalSemantic)
	hasXM := c.hasSignal(domain.SignalCrossModal)

	var combined float64
	switch {
	case hasXM && (hasLex || hasSem):
		combined = policy.TriLexicalWeight*c.lexical +
			policy.TriSemanticWeight*c.semantic +
			policy.TriCrossModalWeight*c.crossModal
	case hasLex && hasSem:
		combined = policy.PairLexicalWeight*c.lexical + policy.PairSemanticWeight*c.semantic
	case hasLex:
		return policy.LexicalOnlyWeight * c.lexical
	case hasSem:
		return policy.SemanticOnlyWeight * c.semantic
	case hasXM:
		return policy.CrossModalOnlyWeight * c.crossModal
	default:
		return 0
	}

	if hasLex {
		combined = math.Max(combined, policy.LexicalOnlyWeight*c.lexical)
	}
	if hasSem {
		combined = math.Max(combined, policy.SemanticOnlyWeight*c.semantic)
	}
	if hasXM {
		combined = math.Max(combined, policy.CrossModalOnlyWeight*c.crossModal)
	}
	return combined
}

// rankFused scores, floors, orders and truncates the fused candidates.
// Ordering is part of the contract: fused score descending, ties broken by
// newest memory first, then by id so the order is total.
func rankFused(policy domain.FusionPolicy, fused map[string]*fusedCandidate, limit int) []domain.SearchResult {
	out := make([]domain.SearchResult, 0, len(fused))
	for id, c := range fused {
		score := fuseScore(policy, c)
		if score < policy.FusedFloor {
			continue
		}
		mem := c.memory
		out = append(out, domain.SearchResult{
			MemoryID:   id,
			Kind:       mem.Kind,
			Score:      score,
			Signals:    orderedSignals(c),
			Lexical:    c.lexical,
			Semantic:   c.semantic,
			CrossModal: c.crossModal,
			Text:       mem.DisplayText(),
			Caption:    mem.Caption,
			ImagePath:  mem.ImagePath,
			CreatedAt:  mem.CreatedAt,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].MemoryID < out[j].MemoryID
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// orderedSignals reports contributing signals in a fixed order so repeated
// queries produce byte-identical output.
func orderedSignals(c *fusedCandidate) []domain.Signal {
	out := make([]domain.Signal, 0, len(c.signals))
	for _, s := range []domain.Signal{domain.SignalLexical, domain.SignalSemantic, domain.SignalCrossModal} {
		if c.hasSignal(s) {
			out = append(out, s)
		}
	}
	return out
}
