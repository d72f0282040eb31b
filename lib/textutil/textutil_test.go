package textutil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsScoreSentinel(t *testing.T) {
	require.True(t, IsScoreSentinel("X - Exempt"))
	require.True(t, IsScoreSentinel("x - exempt"))
	require.True(t, IsScoreSentinel("MSG"))
	require.True(t, IsScoreSentinel("msg"))
	require.True(t, IsScoreSentinel("L - Late Work"))

	require.False(t, IsScoreSentinel("95.00"))
	require.False(t, IsScoreSentinel(""))
	require.False(t, IsScoreSentinel("Exemption"))
	// an nbsp cell never reaches the sentinel check; the literal entity
	// text is not a sentinel
	require.False(t, IsScoreSentinel("&nbsp;"))
}

func TestContainsDigit(t *testing.T) {
	require.True(t, ContainsDigit("MP1"))
	require.True(t, ContainsDigit("2024-2025 Q3"))
	require.False(t, ContainsDigit("Please select"))
	require.False(t, ContainsDigit(""))
}

func TestCleanCell(t *testing.T) {
	v, ok := CleanCell("  05/20/2025 ")
	require.True(t, ok)
	require.Equal(t, "05/20/2025", v)

	_, ok = CleanCell("   ")
	require.False(t, ok)
	_, ok = CleanCell("&nbsp;")
	require.False(t, ok)
	// a parsed nbsp entity comes through as U+00A0, which is whitespace
	_, ok = CleanCell(" ")
	require.False(t, ok)
}
