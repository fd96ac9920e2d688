package preprocess

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeLowercasesAndDropsStopwords(t *testing.T) {
	n := New()

	out, err := n.Normalize("  The Mitochondria IS the powerhouse of the cell!  ")
	require.NoError(t, err)
	require.Equal(t, "mitochondria powerhouse cell", out)
}

func TestNormalizeStripsMarkupAndDigits(t *testing.T) {
	n := New()

	out, err := n.Normalize("<p>Water boils at <b>100</b> degrees&nbsp;Celsius</p>")
	require.NoError(t, err)
	require.Equal(t, "water boils degrees celsius", out)
}

func TestNormalizeFoldsAccents(t *testing.T) {
	n := New(WithoutStopwords())

	out, err := n.Normalize("Café Naïve")
	require.NoError(t, err)
	require.Equal(t, "cafe naive", out)
}

func TestNormalizeIsIdempotent(t *testing.T) {
	n := New()

	first, err := n.Normalize("Photosynthesis converts light energy into chemical energy.")
	require.NoError(t, err)
	second, err := n.Normalize(first)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestNormalizeEmptyInput(t *testing.T) {
	n := New()

	out, err := n.Normalize("   ")
	require.NoError(t, err)
	require.Empty(t, out)

	out, err = n.Normalize("<br/>")
	require.NoError(t, err)
	require.Empty(t, out)
}

func TestNormalizeRejectsInvalidUTF8(t *testing.T) {
	n := New()

	_, err := n.Normalize(string([]byte{0xff, 0xfe, 0xfd}))
	require.ErrorIs(t, err, ErrInvalidText)
}

func TestCustomStopwords(t *testing.T) {
	n := New(WithStopwords("energy"))

	out, err := n.Normalize("kinetic energy")
	require.NoError(t, err)
	require.Equal(t, "kinetic", out)
	require.True(t, n.IsStopword("Energy"))
	require.False(t, n.IsStopword("kinetic"))
}
