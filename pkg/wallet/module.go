// Package wallet is the vote processor's view of the contract wallet that
// casts the vote: a Safe-style multisig that has enabled the processor as a
// module and delegatecalls SignMessageLib to mark a message as signed.
package wallet

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrUnknownWallet    = errors.New("unknown wallet")
	ErrModuleNotEnabled = errors.New("module not enabled on wallet")
	ErrExecutionFailed  = errors.New("module transaction failed")
	ErrInvalidCalldata  = errors.New("invalid calldata")
	ErrModuleAlreadySet = errors.New("module already enabled")
	ErrModuleNotFound   = errors.New("module not found")
)

// Operation is the Safe call type.
type Operation uint8

const (
	Call Operation = iota
	DelegateCall
)

func (o Operation) String() string {
	if o == DelegateCall {
		return "delegatecall"
	}
	return "call"
}

// Module is the module-execution surface of a contract wallet.
type Module interface {
	IsModuleEnabled(ctx context.Context, module common.Address) (bool, error)
	ExecTransactionFromModule(ctx context.Context, module, to common.Address, value *big.Int, data []byte, op Operation) (bool, error)
}

// Resolver finds the wallet deployed at an address.
type Resolver interface {
	Wallet(ctx context.Context, addr common.Address) (Module, error)
}

const signMessageABI = `[{"type":"function","name":"signMessage","stateMutability":"nonpayable","inputs":[{"name":"_data","type":"bytes"}],"outputs":[]}]`

var signMessageLib = mustParseABI(signMessageABI)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("wallet: parse abi: %v", err))
	}
	return parsed
}

// SignMessageSelector is the 4-byte selector of signMessage(bytes).
func SignMessageSelector() []byte {
	return signMessageLib.Methods["signMessage"].ID
}

// SignMessageCalldata ABI-encodes signMessage(bytes) over the 32-byte commitment.
func SignMessageCalldata(hash common.Hash) ([]byte, error) {
	data, err := signMessageLib.Pack("signMessage", hash.Bytes())
	if err != nil {
		return nil, fmt.Errorf("wallet: pack signMessage: %w", err)
	}
	return data, nil
}

// DecodeSignMessage returns the message argument of signMessage calldata.
func DecodeSignMessage(data []byte) ([]byte, error) {
	if len(data) < 4 || !bytes.Equal(data[:4], SignMessageSelector()) {
		return nil, fmt.Errorf("%w: not a signMessage call", ErrInvalidCalldata)
	}
	args, err := signMessageLib.Methods["signMessage"].Inputs.Unpack(data[4:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCalldata, err)
	}
	msg, ok := args[0].([]byte)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected argument type %T", ErrInvalidCalldata, args[0])
	}
	return msg, nil
}

var (
	domainTypeHash      = crypto.Keccak256([]byte("EIP712Domain(uint256 chainId,address verifyingContract)"))
	safeMessageTypeHash = crypto.Keccak256([]byte("SafeMessage(bytes message)"))
)

// DomainSeparator is the Safe EIP-712 domain separator.
func DomainSeparator(chainID *big.Int, safe common.Address) common.Hash {
	return crypto.Keccak256Hash(
		domainTypeHash,
		math.U256Bytes(new(big.Int).Set(chainID)),
		common.LeftPadBytes(safe.Bytes(), 32),
	)
}

// SafeMessageHash is the digest SignMessageLib records for message on safe.
func SafeMessageHash(chainID *big.Int, safe common.Address, message []byte) common.Hash {
	structHash := crypto.Keccak256(safeMessageTypeHash, crypto.Keccak256(message))
	return crypto.Keccak256Hash(
		[]byte{0x19, 0x01},
		DomainSeparator(chainID, safe).Bytes(),
		structHash,
	)
}
