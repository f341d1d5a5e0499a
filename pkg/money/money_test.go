package money

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFormat(t *testing.T) {
	require.Equal(t, "12.50", Format(1250))
	require.Equal(t, "0.05", Format(5))
	require.Equal(t, "0.00", Format(0))
	require.Equal(t, "-3.10", Format(-310))
}

func TestParseMajor(t *testing.T) {
	cents, err := ParseMajor("12.5")
	require.NoError(t, err)
	require.EqualValues(t, 1250, cents)

	cents, err = ParseMajor(" 100 ")
	require.NoError(t, err)
	require.EqualValues(t, 10000, cents)

	for _, bad := range []string{"", "abc", "0", "-1", "1.005"} {
		_, err := ParseMajor(bad)
		require.Error(t, err, bad)
	}
}
