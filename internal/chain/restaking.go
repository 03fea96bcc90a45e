package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// RestakingClient is a thin client over the restaking set contract, used
// only by the Registration co-routine to check and join operator
// membership before per-blueprint registration begins.
type RestakingClient struct {
	client  *ethclient.Client
	address common.Address
	abi     abi.ABI
}

// DialRestaking connects to rpcURL and binds to the restaking contract at
// address, reusing client if non-nil instead of opening a second
// connection.
func DialRestaking(ctx context.Context, client *ethclient.Client, rpcURL string, address common.Address) (*RestakingClient, error) {
	if client == nil {
		var err error
		client, err = ethclient.DialContext(ctx, rpcURL)
		if err != nil {
			return nil, fmt.Errorf("dial restaking rpc: %w", err)
		}
	}
	return &RestakingClient{client: client, address: address, abi: mustParseRestakingABI()}, nil
}

// IsOperator reports whether operator is already a member of the
// restaking set.
func (c *RestakingClient) IsOperator(ctx context.Context, operator common.Address) (bool, error) {
	data, err := c.abi.Pack("isOperator", operator)
	if err != nil {
		return false, fmt.Errorf("pack isOperator: %w", err)
	}
	out, err := c.client.CallContract(ctx, ethereum.CallMsg{To: &c.address, Data: data}, nil)
	if err != nil {
		return false, fmt.Errorf("call isOperator: %w", err)
	}
	unpacked, err := c.abi.Unpack("isOperator", out)
	if err != nil {
		return false, fmt.Errorf("unpack isOperator: %w", err)
	}
	return *abi.ConvertType(unpacked[0], new(bool)).(*bool), nil
}

// JoinOperators submits a join-operators transaction and returns once it
// is mined.
func (c *RestakingClient) JoinOperators(ctx context.Context, opts *bind.TransactOpts) (*common.Hash, error) {
	bound := bind.NewBoundContract(c.address, c.abi, c.client, c.client, c.client)
	tx, err := bound.Transact(opts, "joinOperators")
	if err != nil {
		return nil, fmt.Errorf("submit joinOperators: %w", err)
	}
	if err := waitMined(ctx, c.client, tx.Hash()); err != nil {
		return nil, err
	}
	hash := tx.Hash()
	return &hash, nil
}

// ChainID returns the chain id reported by the underlying RPC endpoint,
// needed to build a keyed TransactOpts.
func (c *RestakingClient) ChainID(ctx context.Context) (*big.Int, error) {
	return c.client.ChainID(ctx)
}
