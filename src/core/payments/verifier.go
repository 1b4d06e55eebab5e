// Package payments holds the payment oracle and the pending-payment session
// store. The registry core treats verification as an opaque boolean gate;
// blockchain semantics stay behind the Verifier interface.
package payments

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// Verification is the oracle's answer for one payment proof.
type Verification struct {
	Verified bool              `json:"verified"`
	Details  map[string]string `json:"details,omitempty"`
}

// Verifier checks a payment proof against an expected amount.
type Verifier interface {
	VerifyPayment(ctx context.Context, proof string, expectedAmount int64) (*Verification, error)
}

// StaticVerifier accepts any non-empty proof. Development and test mode
// only; it performs no on-chain lookup.
type StaticVerifier struct{}

// VerifyPayment implements Verifier.
func (StaticVerifier) VerifyPayment(_ context.Context, proof string, _ int64) (*Verification, error) {
	if strings.TrimSpace(proof) == "" {
		return &Verification{Verified: false, Details: map[string]string{"reason": "empty proof"}}, nil
	}
	return &Verification{Verified: true, Details: map[string]string{"mode": "static"}}, nil
}

// EthereumVerifier resolves proofs as transaction hashes on an EVM chain:
// the transaction must be mined, its receipt successful, and its value at
// least the expected amount.
type EthereumVerifier struct {
	rpcClient *gethrpc.Client
	eth       *ethclient.Client
}

// NewEthereumVerifier dials the configured RPC endpoint.
func NewEthereumVerifier(ctx context.Context, rpcURL string) (*EthereumVerifier, error) {
	rpcURL = strings.TrimSpace(rpcURL)
	if rpcURL == "" {
		return nil, errors.New("payment RPC URL is not configured")
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial payment RPC: %w", err)
	}

	return &EthereumVerifier{
		rpcClient: rpcClient,
		eth:       ethclient.NewClient(rpcClient),
	}, nil
}

// Close releases the underlying RPC connection.
func (v *EthereumVerifier) Close() {
	if v.eth != nil {
		v.eth.Close()
	}
}

// VerifyPayment implements Verifier.
func (v *EthereumVerifier) VerifyPayment(ctx context.Context, proof string, expectedAmount int64) (*Verification, error) {
	if !common.IsHexAddress(proof) && !isHexHash(proof) {
		return &Verification{Verified: false, Details: map[string]string{"reason": "proof is not a transaction hash"}}, nil
	}

	hash := common.HexToHash(proof)
	tx, pending, err := v.eth.TransactionByHash(ctx, hash)
	if errors.Is(err, gethcore.NotFound) {
		return &Verification{Verified: false, Details: map[string]string{"reason": "transaction not found"}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up transaction: %w", err)
	}
	if pending {
		return &Verification{Verified: false, Details: map[string]string{"reason": "transaction still pending"}}, nil
	}

	receipt, err := v.eth.TransactionReceipt(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch receipt: %w", err)
	}
	if receipt.Status != coretypes.ReceiptStatusSuccessful {
		return &Verification{Verified: false, Details: map[string]string{"reason": "transaction reverted"}}, nil
	}

	expected := big.NewInt(expectedAmount)
	if tx.Value().Cmp(expected) < 0 {
		return &Verification{
			Verified: false,
			Details: map[string]string{
				"reason":   "insufficient amount",
				"expected": expected.String(),
				"actual":   tx.Value().String(),
			},
		}, nil
	}

	return &Verification{
		Verified: true,
		Details: map[string]string{
			"txHash": hash.Hex(),
			"block":  receipt.BlockNumber.String(),
			"amount": tx.Value().String(),
		},
	}, nil
}

func isHexHash(s string) bool {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(s) != 64 {
		return false
	}
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}
