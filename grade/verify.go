package grade

import (
	"github.com/sweetpotato0/ragline/document"
)

// technicalTerms are short tokens that still carry meaning and survive the
// minimum-length filter.
var technicalTerms = map[string]struct{}{
	"ai": {}, "ml": {}, "api": {}, "cpu": {}, "gpu": {}, "sql": {},
	"aws": {}, "gcp": {}, "db": {}, "os": {}, "ui": {}, "ux": {},
	"llm": {}, "rag": {}, "k8s": {}, "http": {}, "json": {}, "css": {},
}

// Verification is the grounding check result for a composed answer.
type Verification struct {
	IsValid    bool    `json:"isValid"`
	Feedback   string  `json:"feedback"`
	Confidence float64 `json:"confidence"`
}

// Verifier checks that a composed answer is grounded in its evidence.
type Verifier struct {
	threshold  float64
	minTermLen int
}

// NewVerifier creates a verifier with the given confidence threshold and
// minimum token length.
func NewVerifier(threshold float64, minTermLen int) *Verifier {
	if threshold <= 0 {
		threshold = 0.5
	}
	if minTermLen <= 0 {
		minTermLen = 4
	}
	return &Verifier{threshold: threshold, minTermLen: minTermLen}
}

// Verify computes the share of answer tokens covered by the evidence union.
func (v *Verifier) Verify(answer string, evidence []document.Candidate) Verification {
	answerTokens := v.significantTokens(answer)

	evidenceTokens := make(map[string]struct{})
	for _, ev := range evidence {
		for tok := range tokenSet(ev.Content) {
			evidenceTokens[tok] = struct{}{}
		}
	}

	matched := 0
	for tok := range answerTokens {
		if _, ok := evidenceTokens[tok]; ok {
			matched++
		}
	}
	denom := len(answerTokens)
	if denom < 1 {
		denom = 1
	}
	confidence := float64(matched) / float64(denom)

	return Verification{
		IsValid:    confidence >= v.threshold,
		Confidence: confidence,
		Feedback:   v.feedback(confidence),
	}
}

func (v *Verifier) significantTokens(answer string) map[string]struct{} {
	out := make(map[string]struct{})
	for tok := range tokenSet(answer) {
		if len(tok) < v.minTermLen {
			if _, ok := technicalTerms[tok]; !ok {
				continue
			}
		}
		out[tok] = struct{}{}
	}
	return out
}

func (v *Verifier) feedback(confidence float64) string {
	switch {
	case confidence >= 0.8:
		return "Answer is strongly supported by the retrieved evidence."
	case confidence >= v.threshold:
		return "Answer is supported by the retrieved evidence."
	case confidence >= 0.7*v.threshold:
		return "Answer has moderate evidence support; consider refining the query."
	default:
		return "Insufficient evidence support for the answer."
	}
}
