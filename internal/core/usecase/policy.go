package usecase

import "time"

// RetrievalPolicy holds the tunable thresholds of the retrieval core.
type RetrievalPolicy struct {
	StructuredWeight float64
	VectorWeight     float64

	FuzzyThreshold  float64
	AmbiguityMargin float64

	OrientationMargin   float64
	AmbiguousConfidence float64

	EnclosingRelevance float64
	PartialMetricScale float64
	IncompleteAggScale float64

	PathTimeout      time.Duration
	StructuredTopK   int
	VectorTopK       int
	KeywordTopK      int
	MaxEvidenceItems int
}

func DefaultRetrievalPolicy() RetrievalPolicy {
	return RetrievalPolicy{
		StructuredWeight:    0.7,
		VectorWeight:        0.3,
		FuzzyThreshold:      0.75,
		AmbiguityMargin:     0.05,
		OrientationMargin:   0.10,
		AmbiguousConfidence: 0.5,
		EnclosingRelevance:  0.7,
		PartialMetricScale:  0.6,
		IncompleteAggScale:  0.7,
		PathTimeout:         3 * time.Second,
		StructuredTopK:      20,
		VectorTopK:          8,
		KeywordTopK:         8,
		MaxEvidenceItems:    20,
	}
}

func (p RetrievalPolicy) withDefaults() RetrievalPolicy {
	def := DefaultRetrievalPolicy()
	if p.StructuredWeight <= 0 && p.VectorWeight <= 0 {
		p.StructuredWeight = def.StructuredWeight
		p.VectorWeight = def.VectorWeight
	}
	if p.FuzzyThreshold <= 0 || p.FuzzyThreshold > 1 {
		p.FuzzyThreshold = def.FuzzyThreshold
	}
	if p.AmbiguityMargin < 0 {
		p.AmbiguityMargin = def.AmbiguityMargin
	}
	if p.OrientationMargin <= 0 {
		p.OrientationMargin = def.OrientationMargin
	}
	if p.AmbiguousConfidence <= 0 || p.AmbiguousConfidence > 1 {
		p.AmbiguousConfidence = def.AmbiguousConfidence
	}
	if p.EnclosingRelevance <= 0 || p.EnclosingRelevance > 1 {
		p.EnclosingRelevance = def.EnclosingRelevance
	}
	if p.PartialMetricScale <= 0 || p.PartialMetricScale > 1 {
		p.PartialMetricScale = def.PartialMetricScale
	}
	if p.IncompleteAggScale <= 0 || p.IncompleteAggScale > 1 {
		p.IncompleteAggScale = def.IncompleteAggScale
	}
	if p.PathTimeout <= 0 {
		p.PathTimeout = def.PathTimeout
	}
	if p.StructuredTopK <= 0 {
		p.StructuredTopK = def.StructuredTopK
	}
	if p.VectorTopK <= 0 {
		p.VectorTopK = def.VectorTopK
	}
	if p.KeywordTopK <= 0 {
		p.KeywordTopK = def.KeywordTopK
	}
	if p.MaxEvidenceItems <= 0 {
		p.MaxEvidenceItems = def.MaxEvidenceItems
	}
	return p
}
