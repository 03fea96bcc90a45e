package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/tangle-network/blueprint-manager/internal/blueprint"
)

// Registry is a thin read-mostly client over the on-chain service registry
// contract, grounded in the same ethclient.Client wrapping pattern the
// manager's sibling OP-stack bootstrap code uses.
type Registry struct {
	client  *ethclient.Client
	address common.Address
	abi     abi.ABI
}

// DialRegistry connects to rpcURL and binds to the registry contract at address.
func DialRegistry(ctx context.Context, rpcURL string, address common.Address) (*Registry, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial registry rpc: %w", err)
	}
	return &Registry{client: client, address: address, abi: mustParseRegistryABI()}, nil
}

// Close releases the underlying RPC connection.
func (r *Registry) Close() { r.client.Close() }

// OperatorIDFor derives the 32-byte OperatorID this manager uses internally
// from an operator's 20-byte EVM address, per the manager's account-identifier
// decision (keccak256 of the address).
func OperatorIDFor(addr common.Address) blueprint.OperatorID {
	return blueprint.OperatorID(crypto.Keccak256Hash(addr.Bytes()))
}

// LatestBlock returns the current chain head number.
func (r *Registry) LatestBlock(ctx context.Context) (uint64, error) {
	header, err := r.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("fetch latest header: %w", err)
	}
	return header.Number.Uint64(), nil
}

// Snapshot fetches the full set of blueprints operator is currently bound
// to, as of blockNumber. This is what makes each TangleEvent a full
// snapshot rather than a delta: the Reconciler never needs chain history.
func (r *Registry) Snapshot(ctx context.Context, operator common.Address, blockNumber uint64) ([]BlueprintSnapshot, error) {
	blockNum := new(big.Int).SetUint64(blockNumber)

	ids, err := r.callBlueprintIDs(ctx, operator, blockNum)
	if err != nil {
		return nil, fmt.Errorf("operatorBlueprintIds: %w", err)
	}

	snapshots := make([]BlueprintSnapshot, 0, len(ids))
	for _, bid := range ids {
		services, err := r.callServiceIDs(ctx, bid, blockNum)
		if err != nil {
			return nil, fmt.Errorf("blueprintServiceIds(%d): %w", bid, err)
		}
		source, err := r.callSource(ctx, bid, blockNum)
		if err != nil {
			return nil, fmt.Errorf("blueprintSource(%d): %w", bid, err)
		}
		snapshots = append(snapshots, BlueprintSnapshot{
			Descriptor: blueprint.Descriptor{
				BlueprintID: blueprint.ID(bid),
				Source:      source,
				Services:    services,
			},
			Services: services,
		})
	}
	return snapshots, nil
}

func (r *Registry) call(ctx context.Context, blockNum *big.Int, method string, args ...any) ([]any, error) {
	data, err := r.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	msg := ethereum.CallMsg{To: &r.address, Data: data}
	out, err := r.client.CallContract(ctx, msg, blockNum)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	return r.abi.Unpack(method, out)
}

func (r *Registry) callBlueprintIDs(ctx context.Context, operator common.Address, blockNum *big.Int) ([]blueprint.ID, error) {
	out, err := r.call(ctx, blockNum, "operatorBlueprintIds", operator)
	if err != nil {
		return nil, err
	}
	raw := *abi.ConvertType(out[0], new([]uint64)).(*[]uint64)
	ids := make([]blueprint.ID, len(raw))
	for i, v := range raw {
		ids[i] = blueprint.ID(v)
	}
	return ids, nil
}

func (r *Registry) callServiceIDs(ctx context.Context, bid blueprint.ID, blockNum *big.Int) ([]blueprint.ServiceID, error) {
	out, err := r.call(ctx, blockNum, "blueprintServiceIds", uint64(bid))
	if err != nil {
		return nil, err
	}
	raw := *abi.ConvertType(out[0], new([]uint64)).(*[]uint64)
	sids := make([]blueprint.ServiceID, len(raw))
	for i, v := range raw {
		sids[i] = blueprint.ServiceID(v)
	}
	return sids, nil
}

func (r *Registry) callSource(ctx context.Context, bid blueprint.ID, blockNum *big.Int) (blueprint.Source, error) {
	out, err := r.call(ctx, blockNum, "blueprintSource", uint64(bid))
	if err != nil {
		return blueprint.Source{}, err
	}
	kind := *abi.ConvertType(out[0], new(uint8)).(*uint8)
	owner := *abi.ConvertType(out[1], new(string)).(*string)
	repo := *abi.ConvertType(out[2], new(string)).(*string)
	tag := *abi.ConvertType(out[3], new(string)).(*string)
	registry := *abi.ConvertType(out[4], new(string)).(*string)
	image := *abi.ConvertType(out[5], new(string)).(*string)
	sha := *abi.ConvertType(out[6], new([32]byte)).(*[32]byte)

	switch kind {
	case 0: // Native
		return blueprint.Source{
			Kind: blueprint.SourceNative,
			Fetcher: blueprint.Fetcher{
				Kind: blueprint.FetcherGithub,
				Owner: owner, Repo: repo, Tag: tag,
				Binaries: []blueprint.BinaryAsset{{SHA256: fmt.Sprintf("%x", sha)}},
			},
		}, nil
	case 1: // Container
		return blueprint.Source{Kind: blueprint.SourceContainer, Registry: registry, Image: image, Tag: tag}, nil
	case 2: // Wasm
		return blueprint.Source{
			Kind: blueprint.SourceWasm,
			Fetcher: blueprint.Fetcher{
				Kind: blueprint.FetcherGithub,
				Owner: owner, Repo: repo, Tag: tag,
				Binaries: []blueprint.BinaryAsset{{SHA256: fmt.Sprintf("%x", sha)}},
			},
		}, nil
	default:
		return blueprint.Source{}, fmt.Errorf("unknown source kind %d", kind)
	}
}

// FilterLogs fetches raw registry logs in [from, to] and decodes them.
func (r *Registry) FilterLogs(ctx context.Context, from, to uint64) ([]RawEvent, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{r.address},
	}
	logs, err := r.client.FilterLogs(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("filter logs: %w", err)
	}

	events := make([]RawEvent, 0, len(logs))
	for _, log := range logs {
		evt, ok := r.decode(log)
		if ok {
			events = append(events, evt)
		}
	}
	return events, nil
}

func (r *Registry) decode(log types.Log) (RawEvent, bool) {
	if len(log.Topics) == 0 {
		return RawEvent{}, false
	}
	eventAbi, err := r.abi.EventByID(log.Topics[0])
	if err != nil {
		return RawEvent{}, false
	}

	switch eventAbi.Name {
	case "Registered", "Unregistered":
		operator := common.HexToAddress(log.Topics[1].Hex())
		bid := new(big.Int).SetBytes(log.Topics[2].Bytes()).Uint64()
		kind := EventRegistered
		if eventAbi.Name == "Unregistered" {
			kind = EventUnregistered
		}
		return RawEvent{Kind: kind, Operator: operator, BlueprintID: blueprint.ID(bid)}, true
	case "ServiceInitiated":
		bid := new(big.Int).SetBytes(log.Topics[1].Bytes()).Uint64()
		sid := new(big.Int).SetBytes(log.Topics[2].Bytes()).Uint64()
		return RawEvent{Kind: EventServiceInitiated, BlueprintID: blueprint.ID(bid), ServiceID: blueprint.ServiceID(sid)}, true
	case "JobCalled", "JobResultSubmitted":
		sid := new(big.Int).SetBytes(log.Topics[1].Bytes()).Uint64()
		vals, err := eventAbi.Inputs.NonIndexed().Unpack(log.Data)
		if err != nil || len(vals) == 0 {
			return RawEvent{}, false
		}
		job := *abi.ConvertType(vals[0], new(uint8)).(*uint8)
		kind := EventJobCalled
		if eventAbi.Name == "JobResultSubmitted" {
			kind = EventJobResultSubmitted
		}
		return RawEvent{Kind: kind, ServiceID: blueprint.ServiceID(sid), Job: job}, true
	default:
		return RawEvent{}, false
	}
}

// BoundContract exposes a bind.BoundContract for callers (e.g. the
// Registration co-routine) that need to submit transactions rather than
// just read state.
func (r *Registry) BoundContract() *bind.BoundContract {
	return bind.NewBoundContract(r.address, r.abi, r.client, r.client, r.client)
}

// Client returns the underlying ethclient, for callers that need raw
// chain access (e.g. building a bind.TransactOpts).
func (r *Registry) Client() *ethclient.Client { return r.client }

// ChainID returns the chain id reported by the underlying RPC endpoint.
func (r *Registry) ChainID(ctx context.Context) (*big.Int, error) {
	return r.client.ChainID(ctx)
}

// PreRegister submits the contract's pre-register transaction for bid
// and blocks until it is mined.
func (r *Registry) PreRegister(ctx context.Context, opts *bind.TransactOpts, bid blueprint.ID) error {
	tx, err := r.BoundContract().Transact(opts, "preRegister", uint64(bid))
	if err != nil {
		return fmt.Errorf("submit preRegister(%d): %w", bid, err)
	}
	return waitMined(ctx, r.client, tx.Hash())
}

// Register submits the contract's register transaction for bid with the
// operator's ECDSA public key and RPC endpoint, and blocks until mined.
func (r *Registry) Register(ctx context.Context, opts *bind.TransactOpts, bid blueprint.ID, ecdsaPubKey []byte, rpcEndpoint string) error {
	tx, err := r.BoundContract().Transact(opts, "register", uint64(bid), ecdsaPubKey, rpcEndpoint)
	if err != nil {
		return fmt.Errorf("submit register(%d): %w", bid, err)
	}
	return waitMined(ctx, r.client, tx.Hash())
}

// OperatorBlueprintIDs returns the blueprint ids operator is currently
// registered for, as of the latest block. Used by the Registration
// co-routine to verify a registration actually landed.
func (r *Registry) OperatorBlueprintIDs(ctx context.Context, operator common.Address) ([]blueprint.ID, error) {
	return r.callBlueprintIDs(ctx, operator, nil)
}
