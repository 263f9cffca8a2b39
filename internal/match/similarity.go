package match

import (
	"math"
	"sort"
	"strings"

	"github.com/leadpipe/leadpipe/internal/model"
)

// Field weights for the fuzzy score. Missing fields contribute zero to their
// term; the weights are not renormalized, so a record with only a name can
// score at most WeightName.
const (
	WeightName    = 0.40
	WeightAddress = 0.30
	WeightPhone   = 0.15
	WeightEmail   = 0.15

	// Website equality is a small additive bonus on top of the weighted sum;
	// the total is clamped to 1.0.
	WebsiteBonus = 0.05
)

// Result holds the similarity signals between two business records.
type Result struct {
	// Exact is true when normalized name and normalized address are identical
	// and both are non-empty.
	Exact bool
	// Fuzzy is the weighted combination of the per-field signals, in [0,1].
	Fuzzy float64
	// NameScore is the raw token-set similarity on the name, kept so callers
	// can break ties between equal fuzzy totals toward the stronger name match.
	NameScore float64
}

// Compare computes the similarity between two business records. It is
// symmetric: Compare(a, b) == Compare(b, a).
func Compare(a, b *model.Business) Result {
	nameA, nameB := NormalizeName(a.Name), NormalizeName(b.Name)
	addrA, addrB := NormalizeAddress(a.Street), NormalizeAddress(b.Street)

	nameScore := tokenSetSimilarity(nameA, nameB)

	score := WeightName * nameScore
	score += WeightAddress * editSimilarity(addrA, addrB)
	if p1, p2 := NormalizePhone(a.Phone), NormalizePhone(b.Phone); p1 != "" && p1 == p2 {
		score += WeightPhone
	}
	if e1, e2 := normalizeEmail(a.Email), normalizeEmail(b.Email); e1 != "" && e1 == e2 {
		score += WeightEmail
	}
	if w1, w2 := NormalizeWebsite(a.Website), NormalizeWebsite(b.Website); w1 != "" && w1 == w2 {
		score += WebsiteBonus
	}
	if score > 1 {
		score = 1
	}

	return Result{
		Exact:     nameA != "" && addrA != "" && nameA == nameB && addrA == addrB,
		Fuzzy:     score,
		NameScore: nameScore,
	}
}

// Less orders two results for tie-breaking: lower fuzzy score first, and equal
// totals break toward the lower raw name similarity.
func Less(a, b Result) bool {
	if a.Fuzzy != b.Fuzzy {
		return a.Fuzzy < b.Fuzzy
	}
	return a.NameScore < b.NameScore
}

// SortPairsByStrength orders stored candidate pairs strongest match first, so
// listings surface the likeliest duplicates at the top. The sort is stable:
// pairs with identical scores keep their stored order.
func SortPairsByStrength(pairs []model.CandidatePair) {
	sort.SliceStable(pairs, func(i, j int) bool {
		ri := Result{Fuzzy: pairs[i].Score, NameScore: pairs[i].NameScore}
		rj := Result{Fuzzy: pairs[j].Score, NameScore: pairs[j].NameScore}
		return Less(rj, ri)
	})
}

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// tokenSetSimilarity is the Jaccard similarity between the token sets of two
// normalized strings.
func tokenSetSimilarity(a, b string) float64 {
	ta, tb := strings.Fields(a), strings.Fields(b)
	if len(ta) == 0 && len(tb) == 0 {
		return 0
	}
	set := make(map[string]struct{}, len(ta))
	for _, t := range ta {
		set[t] = struct{}{}
	}
	union := make(map[string]struct{}, len(ta)+len(tb))
	for _, t := range ta {
		union[t] = struct{}{}
	}
	intersection := 0
	for _, t := range tb {
		if _, ok := set[t]; ok {
			// Count each shared token once.
			delete(set, t)
			intersection++
		}
		union[t] = struct{}{}
	}
	return float64(intersection) / float64(len(union))
}

// editSimilarity converts Levenshtein distance to a similarity in [0,1].
func editSimilarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	dist := levenshtein(a, b)
	denom := len([]rune(a))
	if l := len([]rune(b)); l > denom {
		denom = l
	}
	return math.Max(0, 1-float64(dist)/float64(denom))
}

func levenshtein(a, b string) int {
	ar, br := []rune(a), []rune(b)
	if len(ar) < len(br) {
		ar, br = br, ar
	}
	if len(br) == 0 {
		return len(ar)
	}
	prev := make([]int, len(br)+1)
	for j := range prev {
		prev[j] = j
	}
	curr := make([]int, len(br)+1)
	for i, ca := range ar {
		curr[0] = i + 1
		for j, cb := range br {
			ins := curr[j] + 1
			del := prev[j+1] + 1
			sub := prev[j]
			if ca != cb {
				sub++
			}
			curr[j+1] = minInt(ins, minInt(del, sub))
		}
		prev, curr = curr, prev
	}
	return prev[len(br)]
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
