package match

import (
	"math"
	"sort"

	"github.com/sells-group/takeoff/internal/model"
	"github.com/sells-group/takeoff/internal/textutil"
)

// Weights of the two coverage directions in the local semantic score.
const (
	layerCoverageWeight = 0.7
	descCoverageWeight  = 0.3
)

// layerTokens returns the meaningful words of a layer name. Short discipline
// prefixes ("fa", "el") are dropped unless nothing else remains.
func layerTokens(layer string) []string {
	all := textutil.Tokens(layer)
	var long []string
	for _, t := range all {
		if len(t) > 2 {
			long = append(long, t)
		}
	}
	if len(long) == 0 {
		return all
	}
	return long
}

// Semantic scores how well a layer name describes a BoQ description, in
// [0,1]: 0.7 × the share of layer words related to the description plus
// 0.3 × the share of description words related to the layer. Related means
// same word, same stem, or one synonym group.
func Semantic(syn *textutil.Synonyms, descTokens, layerToks []string) float64 {
	if len(descTokens) == 0 || len(layerToks) == 0 {
		return 0
	}
	cover := func(from, against []string) float64 {
		hit := 0
		for _, a := range from {
			for _, b := range against {
				if syn.Related(a, b) {
					hit++
					break
				}
			}
		}
		return float64(hit) / float64(len(from))
	}
	return layerCoverageWeight*cover(layerToks, descTokens) + descCoverageWeight*cover(descTokens, layerToks)
}

// nearbyShare is the fraction of description words found among a layer's
// nearby label tokens.
func nearbyShare(syn *textutil.Synonyms, descTokens, nearby []string) float64 {
	if len(descTokens) == 0 || len(nearby) == 0 {
		return 0
	}
	hit := 0
	for _, d := range descTokens {
		for _, n := range nearby {
			if syn.Related(d, n) {
				hit++
				break
			}
		}
	}
	return float64(hit) / float64(len(descTokens))
}

// learnedBonus grows with usage and saturates at weight.
func learnedBonus(weight float64, usage int) float64 {
	if usage <= 0 {
		return 0
	}
	u := float64(usage)
	return weight * u / (u + 1)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// textual is the name-based evidence of a candidate before type fit.
func textual(c model.Candidate) float64 {
	return clamp01(c.Semantic + c.NearbyBonus + c.LearnedBonus)
}

// rank orders candidates by score, then learned usage, then absolute
// quantity, then layer name.
func rank(cands []model.Candidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.LearnedUsage != b.LearnedUsage {
			return a.LearnedUsage > b.LearnedUsage
		}
		if av, bv := math.Abs(a.Value), math.Abs(b.Value); av != bv {
			return av > bv
		}
		if a.Layer != b.Layer {
			return a.Layer < b.Layer
		}
		return a.Kind < b.Kind
	})
}
