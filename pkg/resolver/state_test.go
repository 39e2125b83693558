package resolver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matzehuels/stacklock/pkg/pep440"
	"github.com/matzehuels/stacklock/pkg/repository"
	"github.com/matzehuels/stacklock/pkg/requirement"
)

func cand(name, version string) *repository.Candidate {
	return &repository.Candidate{Name: name, Version: pep440.MustParse(version), Index: "test"}
}

func TestPinMapOrder(t *testing.T) {
	m := newPinMap()
	m.set("a", pin{cand: cand("a", "1.0")})
	m.set("b", pin{cand: cand("b", "1.0")})
	m.set("a", pin{cand: cand("a", "1.0"), extras: []string{"x"}})
	require.Equal(t, 2, m.len())

	c := m.clone()
	name, p := m.pop()
	assert.Equal(t, "a", name, "re-pinning moves a name to the end")
	assert.Equal(t, []string{"x"}, p.extras)
	_, ok := m.get("a")
	assert.False(t, ok)

	_, ok = c.get("a")
	assert.True(t, ok, "clones are independent")
	assert.Equal(t, []string{"b", "a"}, c.order)
}

func TestCriteriaSortedAndCopied(t *testing.T) {
	var cs criteria
	cs.put("zlib", criterion{})
	cs.put("attrs", criterion{})
	cs.put("numpy", criterion{})
	names := []string{cs[0].name, cs[1].name, cs[2].name}
	assert.Equal(t, []string{"attrs", "numpy", "zlib"}, names)

	cp := cs.copy()
	cp.put("numpy", criterion{extras: []string{"dev"}})
	orig, _ := cs.get("numpy")
	assert.Empty(t, orig.extras)
	got, _ := cp.get("numpy")
	assert.Equal(t, []string{"dev"}, got.extras)

	_, ok := cs.get("missing")
	assert.False(t, ok)
}

func TestCriterionHasAndAllows(t *testing.T) {
	parent := cand("b", "1.0")
	req := requirement.MustParse("a>=1")
	crit := criterion{
		reqs:       []*requirement.Requirement{req},
		parents:    []*repository.Candidate{parent},
		candidates: []*repository.Candidate{cand("a", "1.0")},
	}
	assert.True(t, crit.has(requirement.MustParse("a>=1"), cand("b", "1.0")))
	assert.False(t, crit.has(req, nil), "the same requirement from a root is a separate entry")
	assert.True(t, crit.allows(cand("a", "1.0")))
	assert.False(t, crit.allows(cand("a", "2.0")))
}

func TestUnionExtras(t *testing.T) {
	a := []string{"b", "d"}
	assert.Equal(t, []string{"a", "b", "d"}, unionExtras(a, []string{"a", "b"}))
	assert.Equal(t, []string{"b", "d"}, a)
	assert.True(t, containsAll([]string{"a", "b", "d"}, []string{"a", "d"}))
	assert.False(t, containsAll([]string{"a"}, []string{"a", "c"}))
	assert.True(t, containsAll(nil, nil))
}
