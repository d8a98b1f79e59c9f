package cognito_test

import (
	"math/big"
	"testing"

	"github.com/micro-ha/hive-bridge/internal/cognito"
	"github.com/stretchr/testify/require"
)

func TestPadHex(t *testing.T) {
	require.Equal(t, "0f", cognito.PadHex(big.NewInt(15)))
	require.Equal(t, "7f", cognito.PadHex(big.NewInt(127)))
	require.Equal(t, "0080", cognito.PadHex(big.NewInt(128)))
	require.Equal(t, "0100", cognito.PadHex(big.NewInt(256)))
	require.Equal(t, "00ab", cognito.PadHexString("ab"))
}

func TestDeriveKeyLength(t *testing.T) {
	key, err := cognito.DeriveKey(big.NewInt(123456789), big.NewInt(987654321))
	require.NoError(t, err)
	require.Len(t, key, 16)
}
