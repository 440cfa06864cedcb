package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProfileThemePrefixes(t *testing.T) {
	got := profileThemePrefixes([]string{
		"Accommodation/housing",
		"Education/training",
		"Some Unmapped Theme",
		"Accommodation/housing",
	})
	assert.Equal(t, []string{"HO", "ED"}, got)
}

func TestProfileThemePrefixesDedupesSharedPrefix(t *testing.T) {
	// Disability and poverty relief both map to the BE family.
	got := profileThemePrefixes([]string{
		"Disability",
		"The Prevention Or Relief Of Poverty",
	})
	assert.Equal(t, []string{"BE"}, got)
}

func TestThemeScoreFraction(t *testing.T) {
	themes := []string{"Accommodation/housing", "Education/training"}

	assert.Equal(t, 1.0, themeScore(themes, []string{"HO101", "ED102"}))
	assert.Equal(t, 0.5, themeScore(themes, []string{"HO103"}))
	assert.Equal(t, 0.0, themeScore(themes, []string{"EN101"}))
}

func TestThemeScoreNeutralWithoutMappedThemes(t *testing.T) {
	assert.Equal(t, 0.5, themeScore(nil, []string{"HO101"}))
	assert.Equal(t, 0.5, themeScore([]string{"Some Unmapped Theme"}, []string{"HO101"}))
}

func TestThemeScoreSpecificCodeMapping(t *testing.T) {
	// Overseas aid maps to the single code EC103, not the EC family.
	themes := []string{"Overseas Aid/famine Relief"}
	assert.Equal(t, 1.0, themeScore(themes, []string{"EC103"}))
	assert.Equal(t, 0.0, themeScore(themes, []string{"EC101"}))
}
