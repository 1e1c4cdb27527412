package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sirhamy/phase-golem/internal/item"
)

func TestParseFilterRejectsUnknownField(t *testing.T) {
	_, err := ParseFilter([]string{"bogus=foo"})
	require.Error(t, err)
}

func TestParseFilterRejectsUnknownEnumValue(t *testing.T) {
	_, err := ParseFilter([]string{"status=sideways"})
	require.Error(t, err)
}

func TestParseFilterRejectsEmptyValue(t *testing.T) {
	_, err := ParseFilter([]string{"status=ready,"})
	require.Error(t, err)
}

func TestParseFilterRejectsWithinCriterionDuplicate(t *testing.T) {
	_, err := ParseFilter([]string{"status=ready,Ready"})
	require.Error(t, err)
}

func TestParseFilterRejectsScalarFieldAcrossTwoCriteria(t *testing.T) {
	_, err := ParseFilter([]string{"status=ready", "status=done"})
	require.Error(t, err)
}

func TestParseFilterAllowsTagToRepeatAcrossCriteria(t *testing.T) {
	f, err := ParseFilter([]string{"tag=urgent", "tag=backend"})
	require.NoError(t, err)
	assert.Len(t, f.TagGroups, 2)
}

func TestFilterMatchMissingFieldNeverFails(t *testing.T) {
	// No Status criterion at all: any status passes, only Impact is checked.
	f := &Filter{Impact: []item.Impact{item.ImpactHigh}}
	it := item.Item{Status: item.StatusBlocked, Impact: item.ImpactHigh}
	assert.True(t, f.Match(it))
}

func TestFilterMatchTagIsCaseSensitive(t *testing.T) {
	f := &Filter{TagGroups: [][]string{{"Urgent"}}}
	it := item.Item{Tags: []string{"urgent"}}
	assert.False(t, f.Match(it))
}

func TestFilterMatchEnumIsCaseInsensitiveAtParseTime(t *testing.T) {
	f, err := ParseFilter([]string{"status=READY"})
	require.NoError(t, err)
	assert.True(t, f.Match(item.Item{Status: item.StatusReady}))
}

func TestFilterMatchConjunctionAcrossFields(t *testing.T) {
	f := &Filter{Status: []item.Status{item.StatusReady}, Size: []item.Size{item.SizeSmall}}
	assert.False(t, f.Match(item.Item{Status: item.StatusReady, Size: item.SizeLarge}))
	assert.True(t, f.Match(item.Item{Status: item.StatusReady, Size: item.SizeSmall}))
}
