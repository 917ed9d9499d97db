// Package snapshot builds the canonical off-chain vote payload relayed to the
// Snapshot hub and computes the commitment stored by the vote processor.
//
// The encoding is byte-compatible with Python's
// json.dumps(payload, separators=(",", ":")): keys in fixed order, no
// insignificant whitespace, non-ASCII escaped as \uXXXX.
package snapshot

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/petrovska-petro/voting-onchain/pkg/contracts"
)

// DefaultMetadata is the metadata string embedded when none is given: the
// JSON encoding of an empty object, carried as a string.
const DefaultMetadata = "{}"

// ErrInvalidMessage is returned when a payload fails validation.
var ErrInvalidMessage = errors.New("invalid vote message")

// Message is the off-chain payload. Field order is significant.
type Message struct {
	Version   string
	Timestamp int64
	Space     string
	Type      string
	Payload   Payload
}

// Payload is the inner vote body.
type Payload struct {
	Proposal string
	Choice   contracts.Choice
	Metadata string
}

// FromSubmission rebuilds the message a stored submission commits to.
func FromSubmission(s *contracts.VoteSubmission) Message {
	return Message{
		Version:   s.Version,
		Timestamp: s.Timestamp,
		Space:     s.Space,
		Type:      s.Type,
		Payload: Payload{
			Proposal: s.Proposal,
			Choice:   s.Choice,
			Metadata: DefaultMetadata,
		},
	}
}

// Encode renders m in canonical form.
func Encode(m Message) ([]byte, error) {
	if m.Payload.Choice.IsZero() {
		return nil, fmt.Errorf("%w: missing", contracts.ErrInvalidChoice)
	}
	metadata := m.Payload.Metadata
	if metadata == "" {
		metadata = DefaultMetadata
	}

	var b bytes.Buffer
	b.WriteString(`{"version":`)
	writeString(&b, m.Version)
	b.WriteString(`,"timestamp":`)
	writeString(&b, strconv.FormatInt(m.Timestamp, 10))
	b.WriteString(`,"space":`)
	writeString(&b, m.Space)
	b.WriteString(`,"type":`)
	writeString(&b, m.Type)
	b.WriteString(`,"payload":{"proposal":`)
	writeString(&b, m.Payload.Proposal)
	b.WriteString(`,"choice":`)
	if err := writeChoice(&b, m.Payload.Choice); err != nil {
		return nil, err
	}
	b.WriteString(`,"metadata":`)
	writeString(&b, metadata)
	b.WriteString(`}}`)
	return b.Bytes(), nil
}

// writeChoice copies the stored choice bytes, escaping non-ASCII.
func writeChoice(b *bytes.Buffer, c contracts.Choice) error {
	raw := c.JSON()
	if !utf8.Valid(raw) {
		return fmt.Errorf("%w: choice is not valid UTF-8", contracts.ErrInvalidChoice)
	}
	for _, r := range string(raw) {
		if r < utf8.RuneSelf {
			b.WriteRune(r)
			continue
		}
		writeEscapedRune(b, r)
	}
	return nil
}

func writeString(b *bytes.Buffer, s string) {
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		case '\b':
			b.WriteString(`\b`)
		case '\f':
			b.WriteString(`\f`)
		default:
			if r < 0x20 || r >= 0x7f {
				writeEscapedRune(b, r)
			} else {
				b.WriteRune(r)
			}
		}
	}
	b.WriteByte('"')
}

func writeEscapedRune(b *bytes.Buffer, r rune) {
	if r > 0xFFFF {
		hi, lo := utf16.EncodeRune(r)
		fmt.Fprintf(b, `\u%04x\u%04x`, hi, lo)
		return
	}
	fmt.Fprintf(b, `\u%04x`, r)
}

// HashMessage is the EIP-191 personal-message digest of msg.
func HashMessage(msg []byte) common.Hash {
	return common.BytesToHash(accounts.TextHash(msg))
}

// Hash encodes m and hashes it.
func Hash(m Message) ([]byte, common.Hash, error) {
	msg, err := Encode(m)
	if err != nil {
		return nil, common.Hash{}, err
	}
	return msg, HashMessage(msg), nil
}

type wireMessage struct {
	Version   string      `json:"version"`
	Timestamp string      `json:"timestamp"`
	Space     string      `json:"space"`
	Type      string      `json:"type"`
	Payload   wirePayload `json:"payload"`
}

type wirePayload struct {
	Proposal string           `json:"proposal"`
	Choice   contracts.Choice `json:"choice"`
	Metadata json.RawMessage  `json:"metadata"`
}

// Decode parses a message in the wire shape. Metadata may be a string or an
// object; an object is carried as its compact JSON text.
func Decode(data []byte) (Message, error) {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	ts, err := strconv.ParseInt(w.Timestamp, 10, 64)
	if err != nil {
		return Message{}, fmt.Errorf("%w: timestamp %q", ErrInvalidMessage, w.Timestamp)
	}

	metadata := DefaultMetadata
	if len(w.Payload.Metadata) > 0 {
		var s string
		if err := json.Unmarshal(w.Payload.Metadata, &s); err == nil {
			metadata = s
		} else {
			var compact bytes.Buffer
			if err := json.Compact(&compact, w.Payload.Metadata); err != nil {
				return Message{}, fmt.Errorf("%w: metadata: %v", ErrInvalidMessage, err)
			}
			metadata = compact.String()
		}
	}

	return Message{
		Version:   w.Version,
		Timestamp: ts,
		Space:     w.Space,
		Type:      w.Type,
		Payload: Payload{
			Proposal: w.Payload.Proposal,
			Choice:   w.Payload.Choice,
			Metadata: metadata,
		},
	}, nil
}

// Envelope is the body posted to the relay. Sig is "0x" for contract-wallet
// signatures, which the relay checks through EIP-1271.
type Envelope struct {
	Address string `json:"address"`
	Msg     string `json:"msg"`
	Sig     string `json:"sig"`
}

// NewEnvelope wraps a canonical message signed by wallet.
func NewEnvelope(wallet common.Address, msg []byte) Envelope {
	return Envelope{Address: wallet.Hex(), Msg: string(msg), Sig: "0x"}
}
