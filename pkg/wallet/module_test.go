package wallet

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignMessageCalldata(t *testing.T) {
	h := common.HexToHash("0x6cdce1dd297d47ddfff07bb94d6eaa8827e60760c8675cbe06f48cd198754ef9")
	data, err := SignMessageCalldata(h)
	require.NoError(t, err)

	assert.Equal(t,
		"0x85a5affe"+
			"0000000000000000000000000000000000000000000000000000000000000020"+
			"0000000000000000000000000000000000000000000000000000000000000020"+
			"6cdce1dd297d47ddfff07bb94d6eaa8827e60760c8675cbe06f48cd198754ef9",
		hexutil.Encode(data))

	msg, err := DecodeSignMessage(data)
	require.NoError(t, err)
	assert.Equal(t, h.Bytes(), msg)

	_, err = DecodeSignMessage([]byte{0xde, 0xad, 0xbe, 0xef})
	assert.ErrorIs(t, err, ErrInvalidCalldata)
}

func TestSafeMessageHash(t *testing.T) {
	safe := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	msg := common.HexToHash("0xa7c69e60888cc7ec2fae6929e64eb5787f62c49a549237e9d5ff1549ad15be9a").Bytes()

	assert.Equal(t,
		common.HexToHash("0x039c1c8067885d2ac735855f2a29ba2feac3863e2f05f7118bd3cbe56e8dab7d"),
		DomainSeparator(big.NewInt(1), safe))
	assert.Equal(t,
		common.HexToHash("0x5ffb99064a2164179c154e642dff8ccdc599dcc81303744592144fa425302007"),
		SafeMessageHash(big.NewInt(1), safe, msg))
	assert.NotEqual(t, SafeMessageHash(big.NewInt(1), safe, msg), SafeMessageHash(big.NewInt(5), safe, msg))
}
