// Package contractclient wraps a single on-chain contract (its bound
// client, address, and ABI) behind a small interface every adapter,
// quoter, and executor call in this engine goes through: Call for reads,
// Send for state-changing transactions, plus calldata decode/encode
// helpers shared by both directions.
package contractclient

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/blackholelabs/liqd/internal/types"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// EthClient is the subset of ethclient.Client this package depends on,
// kept narrow so tests can substitute a fake.
type EthClient interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *gethtypes.Transaction) error
	TransactionByHash(ctx context.Context, hash common.Hash) (tx *gethtypes.Transaction, isPending bool, err error)
	ChainID(ctx context.Context) (*big.Int, error)
	NetworkID(ctx context.Context) (*big.Int, error)
}

var _ EthClient = (*ethclient.Client)(nil)

// DecodedCall is a human-inspectable view of a decoded method call: the
// matched ABI method name plus its arguments keyed by parameter name.
type DecodedCall struct {
	MethodName string
	Inputs     map[string]any
}

// ContractClient is the engine's narrow surface over a single deployed
// contract: reads, writes, and calldata (de)serialization.
type ContractClient interface {
	Call(caller *common.Address, method string, args ...any) ([]any, error)
	Send(mode types.TxSendMode, gasLimit uint64, from *ecdsa.PrivateKey, method string, args ...any) (*gethtypes.Transaction, error)
	SendWithGasPrice(mode types.TxSendMode, gasLimit uint64, gasPrice *big.Int, from *ecdsa.PrivateKey, method string, args ...any) (*gethtypes.Transaction, error)
	// SendRaw lets the caller pin both nonce and gasPrice explicitly,
	// bypassing PendingNonceAt/SuggestGasPrice entirely — used by the
	// execution coordinator, which owns nonce and gas-price bookkeeping
	// itself and must not let this client silently re-derive either.
	SendRaw(mode types.TxSendMode, gasLimit uint64, nonce *uint64, gasPrice *big.Int, from *ecdsa.PrivateKey, method string, args ...any) (*gethtypes.Transaction, error)
	Abi() abi.ABI
	ParseReceipt(receipt *gethtypes.Receipt) (types.TxReceipt, error)
	ContractAddress() common.Address
	TransactionData(hash common.Hash) ([]byte, error)
	DecodeTransaction(data []byte) (*DecodedCall, error)
}

type contractClient struct {
	client  EthClient
	address common.Address
	abi     abi.ABI
}

// NewContractClient binds an RPC client to a single contract address and
// its parsed ABI.
func NewContractClient(client EthClient, address common.Address, contractAbi abi.ABI) ContractClient {
	return &contractClient{client: client, address: address, abi: contractAbi}
}

func (c *contractClient) Abi() abi.ABI {
	return c.abi
}

func (c *contractClient) ContractAddress() common.Address {
	return c.address
}

// Call performs a read-only eth_call against method, unpacking the
// returned ABI-encoded outputs. caller may be nil for calls that don't
// branch on msg.sender.
func (c *contractClient) Call(caller *common.Address, method string, args ...any) ([]any, error) {
	input, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack call %s: %w", method, err)
	}

	msg := ethereum.CallMsg{To: &c.address, Data: input}
	if caller != nil {
		msg.From = *caller
	}

	raw, err := c.client.CallContract(context.Background(), msg, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s on %s: %w", method, c.address.Hex(), err)
	}

	outputs, err := c.abi.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("unpack result of %s: %w", method, err)
	}
	return outputs, nil
}

// Send signs and broadcasts a transaction invoking method with args.
// mode is currently informational (public RPC vs private relay); both
// paths submit through the same EthClient, matching how this engine's
// relay selection happens one layer up in the execution coordinator.
func (c *contractClient) Send(mode types.TxSendMode, gasLimit uint64, from *ecdsa.PrivateKey, method string, args ...any) (*gethtypes.Transaction, error) {
	return c.SendRaw(mode, gasLimit, nil, nil, from, method, args...)
}

// SendWithGasPrice behaves like Send but lets the caller force a
// specific gasPrice instead of the node's suggested price.
func (c *contractClient) SendWithGasPrice(mode types.TxSendMode, gasLimit uint64, gasPrice *big.Int, from *ecdsa.PrivateKey, method string, args ...any) (*gethtypes.Transaction, error) {
	return c.SendRaw(mode, gasLimit, nil, gasPrice, from, method, args...)
}

// SendRaw is the full-control entry point every other Send variant
// funnels through.
func (c *contractClient) SendRaw(mode types.TxSendMode, gasLimit uint64, nonce *uint64, gasPrice *big.Int, from *ecdsa.PrivateKey, method string, args ...any) (*gethtypes.Transaction, error) {
	if from == nil {
		return nil, fmt.Errorf("send %s: signer is nil", method)
	}

	input, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack send %s: %w", method, err)
	}

	fromAddr := crypto.PubkeyToAddress(from.PublicKey)
	ctx := context.Background()

	var txNonce uint64
	if nonce != nil {
		txNonce = *nonce
	} else {
		txNonce, err = c.client.PendingNonceAt(ctx, fromAddr)
		if err != nil {
			return nil, fmt.Errorf("fetch nonce for %s: %w", fromAddr.Hex(), err)
		}
	}

	if gasPrice == nil {
		gasPrice, err = c.client.SuggestGasPrice(ctx)
		if err != nil {
			return nil, fmt.Errorf("suggest gas price: %w", err)
		}
	}

	if gasLimit == 0 {
		gasLimit, err = c.client.EstimateGas(ctx, ethereum.CallMsg{From: fromAddr, To: &c.address, Data: input})
		if err != nil {
			return nil, fmt.Errorf("estimate gas for %s: %w", method, err)
		}
	}

	chainID, err := c.client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch chain id: %w", err)
	}

	tx := gethtypes.NewTx(&gethtypes.LegacyTx{
		Nonce:    txNonce,
		To:       &c.address,
		Value:    big.NewInt(0),
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     input,
	})

	signer := gethtypes.NewEIP155Signer(chainID)
	signedTx, err := gethtypes.SignTx(tx, signer, from)
	if err != nil {
		return nil, fmt.Errorf("sign tx for %s: %w", method, err)
	}

	if err := c.client.SendTransaction(ctx, signedTx); err != nil {
		return nil, fmt.Errorf("broadcast %s: %w", method, err)
	}
	return signedTx, nil
}

// ParseReceipt reduces a geth receipt to the fields the engine persists.
func (c *contractClient) ParseReceipt(receipt *gethtypes.Receipt) (types.TxReceipt, error) {
	if receipt == nil {
		return types.TxReceipt{}, fmt.Errorf("nil receipt")
	}
	var blockNumber uint64
	if receipt.BlockNumber != nil {
		blockNumber = receipt.BlockNumber.Uint64()
	}
	return types.TxReceipt{
		TxHash:            receipt.TxHash.Hex(),
		Status:            receipt.Status,
		BlockNumber:       blockNumber,
		GasUsed:           receipt.GasUsed,
		EffectiveGasPrice: receipt.EffectiveGasPrice,
	}, nil
}

// TransactionData fetches the calldata of a previously-submitted
// transaction by hash, for later re-decoding.
func (c *contractClient) TransactionData(hash common.Hash) ([]byte, error) {
	tx, _, err := c.client.TransactionByHash(context.Background(), hash)
	if err != nil {
		return nil, fmt.Errorf("fetch tx %s: %w", hash.Hex(), err)
	}
	return tx.Data(), nil
}

// DecodeTransaction matches raw calldata's 4-byte selector against the
// bound ABI and unpacks its arguments by name.
func (c *contractClient) DecodeTransaction(data []byte) (*DecodedCall, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("calldata too short: %d bytes", len(data))
	}

	method, err := c.abi.MethodById(data[:4])
	if err != nil {
		return nil, fmt.Errorf("match method selector %x: %w", data[:4], err)
	}

	args := make(map[string]any)
	if err := method.Inputs.UnpackIntoMap(args, data[4:]); err != nil {
		return nil, fmt.Errorf("unpack args for %s: %w", method.Name, err)
	}

	return &DecodedCall{MethodName: method.Name, Inputs: args}, nil
}
