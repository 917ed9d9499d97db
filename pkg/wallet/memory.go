package wallet

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Execution is one module transaction observed by a MemorySafe.
type Execution struct {
	Module  common.Address
	To      common.Address
	Value   *big.Int
	Data    []byte
	Op      Operation
	Success bool
}

// MemorySafe is an in-process Safe: module registry, SignMessageLib
// delegatecalls and EIP-1271 message checks.
type MemorySafe struct {
	mu         sync.RWMutex
	address    common.Address
	chainID    *big.Int
	signLib    common.Address
	modules    map[common.Address]struct{}
	signed     map[common.Hash]struct{}
	executions []Execution
}

// NewMemorySafe creates a Safe at address that treats signLib as its
// SignMessageLib.
func NewMemorySafe(address common.Address, chainID *big.Int, signLib common.Address) *MemorySafe {
	return &MemorySafe{
		address: address,
		chainID: new(big.Int).Set(chainID),
		signLib: signLib,
		modules: make(map[common.Address]struct{}),
		signed:  make(map[common.Hash]struct{}),
	}
}

func (s *MemorySafe) Address() common.Address { return s.address }

func (s *MemorySafe) EnableModule(module common.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.modules[module]; ok {
		return fmt.Errorf("%w: %s", ErrModuleAlreadySet, module.Hex())
	}
	s.modules[module] = struct{}{}
	return nil
}

func (s *MemorySafe) DisableModule(module common.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.modules[module]; !ok {
		return fmt.Errorf("%w: %s", ErrModuleNotFound, module.Hex())
	}
	delete(s.modules, module)
	return nil
}

func (s *MemorySafe) IsModuleEnabled(ctx context.Context, module common.Address) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.modules[module]
	return ok, nil
}

// ExecTransactionFromModule runs a module transaction. Only a delegatecall
// of signMessage into the configured SignMessageLib succeeds; every other
// call reports failure the way a reverted inner call would.
func (s *MemorySafe) ExecTransactionFromModule(ctx context.Context, module, to common.Address, value *big.Int, data []byte, op Operation) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.modules[module]; !ok {
		return false, fmt.Errorf("%w: %s", ErrModuleNotEnabled, module.Hex())
	}

	ok := false
	if op == DelegateCall && to == s.signLib && (value == nil || value.Sign() == 0) {
		if msg, err := DecodeSignMessage(data); err == nil {
			s.signed[SafeMessageHash(s.chainID, s.address, msg)] = struct{}{}
			ok = true
		}
	}

	var v *big.Int
	if value != nil {
		v = new(big.Int).Set(value)
	}
	s.executions = append(s.executions, Execution{
		Module:  module,
		To:      to,
		Value:   v,
		Data:    append([]byte(nil), data...),
		Op:      op,
		Success: ok,
	})
	return ok, nil
}

// IsMessageSigned reports whether SignMessageLib marked message as signed.
func (s *MemorySafe) IsMessageSigned(message []byte) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.signed[SafeMessageHash(s.chainID, s.address, message)]
	return ok
}

// IsValidSignature is the EIP-1271 check a relay performs for a contract
// wallet. An empty signature defers to the signed-message registry.
func (s *MemorySafe) IsValidSignature(data, signature []byte) bool {
	if len(signature) != 0 {
		return false
	}
	return s.IsMessageSigned(data)
}

// Executions returns the module transactions seen so far.
func (s *MemorySafe) Executions() []Execution {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Execution, len(s.executions))
	copy(out, s.executions)
	return out
}

// Network is an in-memory Resolver.
type Network struct {
	mu    sync.RWMutex
	safes map[common.Address]*MemorySafe
}

func NewNetwork(safes ...*MemorySafe) *Network {
	n := &Network{safes: make(map[common.Address]*MemorySafe)}
	for _, s := range safes {
		n.Add(s)
	}
	return n
}

func (n *Network) Add(s *MemorySafe) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.safes[s.Address()] = s
}

// Safe returns the concrete MemorySafe at addr.
func (n *Network) Safe(addr common.Address) (*MemorySafe, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	s, ok := n.safes[addr]
	return s, ok
}

func (n *Network) Wallet(ctx context.Context, addr common.Address) (Module, error) {
	s, ok := n.Safe(addr)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownWallet, addr.Hex())
	}
	return s, nil
}

// Addresses lists the registered Safes.
func (n *Network) Addresses() []common.Address {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]common.Address, 0, len(n.safes))
	for a := range n.safes {
		out = append(out, a)
	}
	return out
}
