package filter

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/vextjs/monsqlize/cache"
)

func TestAnalyze(t *testing.T) {
	tests := []struct {
		name            string
		filter          cache.Filter
		wantScore       int
		wantUnsupported []string
	}{
		{"nil filter", nil, 0, nil},
		{"single equality", cache.Filter{"status": "active"}, 2, nil},
		{"two equalities", cache.Filter{"status": "active", "role": "admin"}, 3, nil},
		{"range", cache.Filter{"age": map[string]any{"$gt": 1, "$lt": 9}}, 5, nil},
		{"$and of simple clauses", cache.Filter{"$and": []any{
			map[string]any{"a": 1},
			map[string]any{"b": map[string]any{"$in": []any{1, 2}}},
		}}, 7, nil},
		{"$or", cache.Filter{"$or": []any{map[string]any{"a": 1}}}, 1, []string{"$or"}},
		{"$nor and $where", cache.Filter{"$nor": []any{}, "$where": "this.a"}, 1, []string{"$nor", "$where"}},
		{"$not", cache.Filter{"a": map[string]any{"$not": map[string]any{"$gt": 1}}}, 4, []string{"$not"}},
		{"$regex", cache.Filter{"a": map[string]any{"$regex": "x"}}, 4, []string{"$regex"}},
		{"$elemMatch", cache.Filter{"a": map[string]any{"$elemMatch": map[string]any{}}}, 4, []string{"$elemMatch"}},
		{"$expr", cache.Filter{"$expr": map[string]any{}}, 1, []string{"$expr"}},
		{"$text", cache.Filter{"$text": map[string]any{"$search": "x"}}, 1, []string{"$text"}},
		{"regex literal", cache.Filter{"a": regexp.MustCompile("x")}, 2, []string{"regex literal"}},
		{"unknown operator", cache.Filter{"a": map[string]any{"$size": 2}}, 4, []string{"$size"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Analyze(tt.filter)
			assert.Equal(t, tt.wantScore, got.Score)
			assert.Equal(t, tt.wantUnsupported, got.Unsupported)
		})
	}
}

func TestComplexity_Simple(t *testing.T) {
	wide := cache.Filter{}
	for _, f := range []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k"} {
		wide[f] = 1
	}

	assert.True(t, Analyze(cache.Filter{"a": 1}).Simple(10))
	assert.False(t, Analyze(wide).Simple(10), "11 clauses plus depth exceed threshold")
	assert.True(t, Analyze(wide).Simple(20))
	assert.False(t, Analyze(cache.Filter{"$or": []any{}}).Simple(100))
}
