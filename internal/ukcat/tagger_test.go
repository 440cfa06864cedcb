package ukcat

import (
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestNewLoadsEmbeddedPatterns(t *testing.T) {
	tagger, err := New(testLogger())
	require.NoError(t, err)
	assert.Greater(t, tagger.Len(), 20)
}

func TestTagMatchesAndSorts(t *testing.T) {
	tagger, err := New(testLogger())
	require.NoError(t, err)

	codes := tagger.Tag("Floating support service for homeless adults with mental health needs")
	assert.Contains(t, codes, "HO101")
	assert.Contains(t, codes, "BE102")
	assert.True(t, sortedStrings(codes), "codes must be sorted")
}

func TestTagCaseInsensitive(t *testing.T) {
	tagger, err := New(testLogger())
	require.NoError(t, err)

	upper := tagger.Tag("HOMELESSNESS PREVENTION")
	lower := tagger.Tag("homelessness prevention")
	assert.Equal(t, lower, upper)
	assert.Contains(t, lower, "HO101")
}

func TestTagExcludePattern(t *testing.T) {
	tagger, err := New(testLogger())
	require.NoError(t, err)

	// "housing benefit" matches the HO101 include but is excluded.
	codes := tagger.Tag("advice about housing benefit claims")
	assert.NotContains(t, codes, "HO101")
	// The advice pattern still fires.
	assert.Contains(t, codes, "SO103")
}

func TestTagEmptyText(t *testing.T) {
	tagger, err := New(testLogger())
	require.NoError(t, err)
	assert.Empty(t, tagger.Tag(""))
}

func TestNewFromReaderSkipsInvalidRegex(t *testing.T) {
	csv := strings.Join([]string{
		"Category,tag,Code,Regular expression,Exclude regular expression",
		`Test,Good,XX101,\bgood\b,`,
		`Test,Bad,XX102,\bbad(\b,`,
	}, "\n")

	tagger, err := NewFromReader(strings.NewReader(csv), testLogger())
	require.NoError(t, err)
	assert.Equal(t, 1, tagger.Len())
	assert.Equal(t, []string{"XX101"}, tagger.Tag("a good cause"))
}

func sortedStrings(s []string) bool {
	for i := 1; i < len(s); i++ {
		if s[i-1] > s[i] {
			return false
		}
	}
	return true
}
