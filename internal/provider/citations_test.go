package provider

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCitationTrackerDedupesByURL(t *testing.T) {
	tr := NewCitationTracker()
	require.Equal(t, 1, tr.Track("https://a.example", "A"))
	require.Equal(t, 2, tr.Track("https://b.example", "B"))
	require.Equal(t, 1, tr.Track("https://a.example", "A again"), "same URL reuses its first-seen number")
}

func TestCitationTrackerIgnoresEmptyURL(t *testing.T) {
	tr := NewCitationTracker()
	require.Equal(t, 0, tr.Track("", "no url"))
	require.True(t, tr.Empty())
}

func TestCitationTrackerFootnote(t *testing.T) {
	tr := NewCitationTracker()
	tr.Track("https://a.example", "Source A")
	tr.Track("https://b.example", "")

	got := tr.Footnote()
	require.Equal(t, "References:\n[1] Source A - https://a.example\n[2] https://b.example", got)
}

func TestCitationTrackerFootnoteEmpty(t *testing.T) {
	tr := NewCitationTracker()
	require.Equal(t, "", tr.Footnote())
}

func TestAppendCitationMarker(t *testing.T) {
	require.Equal(t, "claim [1]", AppendCitationMarker("claim", 1))
	require.Equal(t, "claim", AppendCitationMarker("claim", 0))
}
