package match

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/leadpipe/leadpipe/internal/model"
)

func TestCompareExactMatch(t *testing.T) {
	a := &model.Business{
		Name:    "Acme Corp",
		Street:  "123 Main Street",
		Phone:   "(555) 123-4567",
		Email:   "info@acme.com",
		Website: "https://www.acme.com",
	}
	b := &model.Business{
		Name:    "ACME Corp.",
		Street:  "123 Main St",
		Phone:   "+1 555 123 4567",
		Email:   "INFO@acme.com",
		Website: "acme.com",
	}

	result := Compare(a, b)

	assert.True(t, result.Exact, "normalized name and address agree")
	assert.InDelta(t, 1.0, result.Fuzzy, 1e-9, "all signals match, clamped to 1.0")
	assert.InDelta(t, 1.0, result.NameScore, 1e-9)
}

func TestCompareGrayZone(t *testing.T) {
	// A legal-suffix variant of the same business lands between the automatic
	// thresholds: strong address signal, diluted name signal, nothing else.
	a := &model.Business{Name: "Joe's Plumbing LLC", Street: "123 Main Street"}
	b := &model.Business{Name: "Joe's Plumbing", Street: "123 Main St"}

	result := Compare(a, b)

	assert.False(t, result.Exact)
	// name: 3 shared tokens of 4 = 0.75; address: identical after
	// normalization. 0.40*0.75 + 0.30*1.0 = 0.60.
	assert.InDelta(t, 0.60, result.Fuzzy, 1e-9)
	assert.GreaterOrEqual(t, result.Fuzzy, 0.5)
	assert.Less(t, result.Fuzzy, 0.9)
}

func TestCompareDistinctBusinesses(t *testing.T) {
	a := &model.Business{Name: "Alice's Bakery", Street: "77 Oak Avenue", Phone: "5551112222"}
	b := &model.Business{Name: "Bob's Auto Repair", Street: "123 Main Street", Phone: "5553334444"}

	result := Compare(a, b)

	assert.False(t, result.Exact)
	assert.Less(t, result.Fuzzy, 0.5)
}

func TestCompareMissingFieldsContributeZero(t *testing.T) {
	a := &model.Business{Name: "Acme Corp"}
	b := &model.Business{Name: "Acme Corp"}

	result := Compare(a, b)

	assert.False(t, result.Exact, "exact requires a non-empty address")
	assert.InDelta(t, WeightName, result.Fuzzy, 1e-9, "only the name term can score")
}

func TestCompareEmptyRecords(t *testing.T) {
	result := Compare(&model.Business{}, &model.Business{})

	assert.False(t, result.Exact)
	assert.Zero(t, result.Fuzzy)
	assert.Zero(t, result.NameScore)
}

func TestCompareSymmetric(t *testing.T) {
	a := &model.Business{
		Name:   "Blue Bottle Coffee",
		Street: "300 Webster St",
		Phone:  "5109530550",
		Email:  "hello@bluebottle.com",
	}
	b := &model.Business{
		Name:   "Blue Bottle Coffee Roasters",
		Street: "300 Webster Street",
		Phone:  "15109530550",
	}

	assert.Equal(t, Compare(a, b), Compare(b, a))
}

func TestCompareDeterministic(t *testing.T) {
	a := &model.Business{Name: "Joe's Plumbing LLC", Street: "123 Main Street"}
	b := &model.Business{Name: "Joe's Plumbing", Street: "123 Main St"}

	first := Compare(a, b)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Compare(a, b))
	}
}

func TestComparePhoneAndEmailSignals(t *testing.T) {
	a := &model.Business{Name: "Acme", Phone: "(555) 123-4567", Email: "a@acme.com"}
	b := &model.Business{Name: "Acme", Phone: "+1 555 123 4567", Email: "b@acme.com"}

	result := Compare(a, b)

	// Phone matches after normalization, email does not.
	assert.InDelta(t, WeightName+WeightPhone, result.Fuzzy, 1e-9)
}

func TestCompareWebsiteBonusClamped(t *testing.T) {
	a := &model.Business{
		Name:    "Acme Corp",
		Street:  "123 Main St",
		Phone:   "5551234567",
		Email:   "info@acme.com",
		Website: "acme.com",
	}
	b := *a

	result := Compare(a, &b)
	assert.InDelta(t, 1.0, result.Fuzzy, 1e-9, "bonus never pushes the score above 1.0")
}

func TestLess(t *testing.T) {
	tests := []struct {
		name     string
		a        Result
		b        Result
		expected bool
	}{
		{
			name:     "lower fuzzy orders first",
			a:        Result{Fuzzy: 0.4},
			b:        Result{Fuzzy: 0.6},
			expected: true,
		},
		{
			name:     "equal fuzzy breaks on name score",
			a:        Result{Fuzzy: 0.6, NameScore: 0.5},
			b:        Result{Fuzzy: 0.6, NameScore: 0.8},
			expected: true,
		},
		{
			name:     "identical results are not less",
			a:        Result{Fuzzy: 0.6, NameScore: 0.5},
			b:        Result{Fuzzy: 0.6, NameScore: 0.5},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Less(tt.a, tt.b))
		})
	}
}

func TestSortPairsByStrength(t *testing.T) {
	pairs := []model.CandidatePair{
		{BusinessID1: "a", BusinessID2: "b", Score: 0.55, NameScore: 0.40},
		{BusinessID1: "c", BusinessID2: "d", Score: 0.80, NameScore: 0.90},
		{BusinessID1: "e", BusinessID2: "f", Score: 0.80, NameScore: 0.95},
		{BusinessID1: "g", BusinessID2: "h", Score: 0.62, NameScore: 0.70},
	}

	SortPairsByStrength(pairs)

	var ids []string
	for _, p := range pairs {
		ids = append(ids, p.BusinessID1)
	}
	assert.Equal(t, []string{"e", "c", "g", "a"}, ids)
}

func TestTokenSetSimilarity(t *testing.T) {
	tests := []struct {
		name     string
		a        string
		b        string
		expected float64
	}{
		{name: "identical", a: "acme corp", b: "acme corp", expected: 1.0},
		{name: "disjoint", a: "acme corp", b: "globex inc", expected: 0.0},
		{name: "partial overlap", a: "joe s plumbing llc", b: "joe s plumbing", expected: 0.75},
		{name: "both empty", a: "", b: "", expected: 0.0},
		{name: "one empty", a: "acme", b: "", expected: 0.0},
		{name: "duplicate tokens counted once", a: "new new york", b: "new york", expected: 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, tokenSetSimilarity(tt.a, tt.b), 1e-9)
		})
	}
}

func TestEditSimilarity(t *testing.T) {
	tests := []struct {
		name     string
		a        string
		b        string
		expected float64
	}{
		{name: "identical", a: "123 main st", b: "123 main st", expected: 1.0},
		{name: "one edit", a: "123 main st", b: "124 main st", expected: 1 - 1.0/11},
		{name: "empty side scores zero", a: "123 main st", b: "", expected: 0.0},
		{name: "completely different", a: "abc", b: "xyz", expected: 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, editSimilarity(tt.a, tt.b), 1e-9)
		})
	}
}

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		name     string
		a        string
		b        string
		expected int
	}{
		{name: "identical", a: "kitten", b: "kitten", expected: 0},
		{name: "classic", a: "kitten", b: "sitting", expected: 3},
		{name: "empty to word", a: "", b: "abc", expected: 3},
		{name: "unicode runes", a: "café", b: "cafe", expected: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, levenshtein(tt.a, tt.b))
			assert.Equal(t, tt.expected, levenshtein(tt.b, tt.a))
		})
	}
}
