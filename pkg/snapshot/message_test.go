package snapshot

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/petrovska-petro/voting-onchain/pkg/contracts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	singleProposal   = "QmeKWbpinBwRSiLg7MbfycipUUE935faELRMYgdX2syWQV"
	weightedProposal = "QmdcYCVSaGgmfQ8wkTzEZficEPJMNX7s4YqjbwfMa4ewjs"

	weightedChoice = `{"34": 25.02272641297546593397216281, "26": 12.52272641297546524008277281, "83": 5.722726412975464862606944521, "88": 19.42272641297546562310971609, "53": 24.92272641297546592842104769, "70": 12.38636793512267241180735594}`
)

func message(t *testing.T, proposal, choice string) Message {
	t.Helper()
	c, err := contracts.ParseChoice([]byte(choice))
	require.NoError(t, err)
	return Message{
		Version:   "0.1.3",
		Timestamp: 1654551440,
		Space:     "cvx.eth",
		Type:      "vote",
		Payload:   Payload{Proposal: proposal, Choice: c},
	}
}

func TestEncode_SingleChoice(t *testing.T) {
	msg, h, err := Hash(message(t, singleProposal, "2"))
	require.NoError(t, err)

	assert.Equal(t,
		`{"version":"0.1.3","timestamp":"1654551440","space":"cvx.eth","type":"vote","payload":{"proposal":"QmeKWbpinBwRSiLg7MbfycipUUE935faELRMYgdX2syWQV","choice":2,"metadata":"{}"}}`,
		string(msg))
	assert.Equal(t, common.HexToHash("0xa7c69e60888cc7ec2fae6929e64eb5787f62c49a549237e9d5ff1549ad15be9a"), h)
}

func TestEncode_WeightedChoiceIsVerbatim(t *testing.T) {
	msg, h, err := Hash(message(t, weightedProposal, weightedChoice))
	require.NoError(t, err)

	assert.Contains(t, string(msg),
		`"choice":{"34":25.02272641297546593397216281,"26":12.52272641297546524008277281,"83":5.722726412975464862606944521,"88":19.42272641297546562310971609,"53":24.92272641297546592842104769,"70":12.38636793512267241180735594}`)
	assert.Equal(t, common.HexToHash("0x68601543027e0ee9d746d2390fee68c01a45a63b01af7b610109ac797537f9c3"), h)
}

func TestEncode_EscapesNonASCII(t *testing.T) {
	m := message(t, singleProposal, "2")
	m.Space = "café.eth"

	msg, h, err := Hash(m)
	require.NoError(t, err)
	assert.Contains(t, string(msg), `"space":"caf\u00e9.eth"`)
	assert.Equal(t, common.HexToHash("0x0bfba04ed177eb9cb3bfc752ac970ac70dd42c8a224a40a05a2b5b0cd9b8a627"), h)

	m.Space = "<a&b>\n\U0001F600"
	msg, err = Encode(m)
	require.NoError(t, err)
	assert.Contains(t, string(msg), `"space":"<a&b>\n\ud83d\ude00"`)

	m.Space = "a\x7fb\x1fc~"
	msg, err = Encode(m)
	require.NoError(t, err)
	assert.Contains(t, string(msg), `"space":"a\u007fb\u001fc~"`)
}

func TestEncode_RequiresChoice(t *testing.T) {
	_, err := Encode(Message{Version: "0.1.3"})
	assert.ErrorIs(t, err, contracts.ErrInvalidChoice)
}

func TestDecode_RoundTrip(t *testing.T) {
	original := message(t, weightedProposal, weightedChoice)
	msg, err := Encode(original)
	require.NoError(t, err)

	decoded, err := Decode(msg)
	require.NoError(t, err)
	again, err := Encode(decoded)
	require.NoError(t, err)
	assert.Equal(t, string(msg), string(again))

	withObject := []byte(`{"version":"0.1.3","timestamp":"1","space":"s","type":"vote","payload":{"proposal":"p","choice":1,"metadata":{}}}`)
	decoded, err = Decode(withObject)
	require.NoError(t, err)
	assert.Equal(t, DefaultMetadata, decoded.Payload.Metadata)

	_, err = Decode([]byte(`{"timestamp":"soon"}`))
	assert.ErrorIs(t, err, ErrInvalidMessage)
}

func TestFromSubmission(t *testing.T) {
	sub := &contracts.VoteSubmission{
		Proposal:  singleProposal,
		Choice:    contracts.ScalarChoice(2),
		Timestamp: 1654551440,
		Version:   "0.1.3",
		Space:     "cvx.eth",
		Type:      "vote",
	}
	_, h, err := Hash(FromSubmission(sub))
	require.NoError(t, err)
	assert.Equal(t, common.HexToHash("0xa7c69e60888cc7ec2fae6929e64eb5787f62c49a549237e9d5ff1549ad15be9a"), h)
}

func TestNewEnvelope(t *testing.T) {
	wallet := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	env := NewEnvelope(wallet, []byte(`{"x":1}`))
	assert.Equal(t, "0x", env.Sig)
	assert.Equal(t, wallet.Hex(), env.Address)
}
