// Package registration implements the Registration Co-routine (C9): a
// one-shot startup step that ensures the operator is a restaking-set
// member and is registered on-chain for every blueprint it is configured
// to run, before the reconcile loop begins.
package registration

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/tangle-network/blueprint-manager/internal/blueprint"
	apierrors "github.com/tangle-network/blueprint-manager/internal/pkg/errors"
)

// RegistryClient is the subset of chain.Registry the co-routine needs.
type RegistryClient interface {
	PreRegister(ctx context.Context, opts *bind.TransactOpts, bid blueprint.ID) error
	Register(ctx context.Context, opts *bind.TransactOpts, bid blueprint.ID, ecdsaPubKey []byte, rpcEndpoint string) error
	OperatorBlueprintIDs(ctx context.Context, operator common.Address) ([]blueprint.ID, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

// RestakingClient is the subset of chain.RestakingClient the co-routine needs.
type RestakingClient interface {
	IsOperator(ctx context.Context, operator common.Address) (bool, error)
	JoinOperators(ctx context.Context, opts *bind.TransactOpts) (*common.Hash, error)
}

// Config configures a Registration run.
type Config struct {
	Registry     RegistryClient
	Restaking    RestakingClient
	OperatorAddr common.Address
	OperatorKey  []byte // raw 32-byte secp256k1 private key
	BlueprintIDs []blueprint.ID
	RPCEndpoint  string
	Logger       *slog.Logger
}

// Registration runs the one-shot startup registration sequence.
type Registration struct {
	cfg Config
}

// New constructs a Registration from cfg.
func New(cfg Config) *Registration {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Registration{cfg: cfg}
}

// Run joins the restaking set once (if not already a member), then for
// each configured blueprint pre-registers, registers, and verifies. Any
// failure other than an "already a member" dispatch error aborts the
// whole run.
func (r *Registration) Run(ctx context.Context) error {
	privKey, err := crypto.ToECDSA(r.cfg.OperatorKey)
	if err != nil {
		return apierrors.New(apierrors.KeystoreAccess, "parse operator key").WithCause(err)
	}
	defer zeroize(r.cfg.OperatorKey)

	chainID, err := r.cfg.Registry.ChainID(ctx)
	if err != nil {
		return apierrors.New(apierrors.ChainTransient, "fetch chain id").WithCause(err)
	}
	opts, err := bind.NewKeyedTransactorWithChainID(privKey, chainID)
	if err != nil {
		return apierrors.New(apierrors.ChainDispatchRejected, "build transactor").WithCause(err)
	}

	if err := r.ensureOperator(ctx, opts); err != nil {
		return err
	}

	pubKey := crypto.CompressPubkey(&privKey.PublicKey)

	for _, bid := range r.cfg.BlueprintIDs {
		if err := r.registerBlueprint(ctx, opts, bid, pubKey); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registration) ensureOperator(ctx context.Context, opts *bind.TransactOpts) error {
	joined, err := r.cfg.Restaking.IsOperator(ctx, r.cfg.OperatorAddr)
	if err != nil {
		return apierrors.New(apierrors.ChainTransient, "check restaking membership").WithCause(err)
	}
	if joined {
		return nil
	}

	_, err = r.cfg.Restaking.JoinOperators(ctx, opts)
	if err != nil {
		if isAlreadyOperator(err) {
			r.cfg.Logger.Info("already a restaking operator, treating as success")
			return nil
		}
		return apierrors.New(apierrors.ChainDispatchRejected, "join restaking set").WithCause(err)
	}
	r.cfg.Logger.Info("joined restaking set")
	return nil
}

func (r *Registration) registerBlueprint(ctx context.Context, opts *bind.TransactOpts, bid blueprint.ID, pubKey []byte) error {
	if err := r.cfg.Registry.PreRegister(ctx, opts, bid); err != nil {
		if isAlreadyOperator(err) {
			r.cfg.Logger.Info("pre-register already satisfied", "blueprint_id", bid)
		} else {
			return apierrors.New(apierrors.ChainDispatchRejected, fmt.Sprintf("pre-register blueprint %d", bid)).WithCause(err)
		}
	}

	if err := r.cfg.Registry.Register(ctx, opts, bid, pubKey, r.cfg.RPCEndpoint); err != nil {
		if isAlreadyOperator(err) {
			r.cfg.Logger.Info("register already satisfied", "blueprint_id", bid)
		} else {
			return apierrors.New(apierrors.ChainDispatchRejected, fmt.Sprintf("register blueprint %d", bid)).WithCause(err)
		}
	}

	registered, err := r.cfg.Registry.OperatorBlueprintIDs(ctx, r.cfg.OperatorAddr)
	if err != nil {
		return apierrors.New(apierrors.ChainTransient, "verify registration").WithCause(err)
	}
	if !containsID(registered, bid) {
		return apierrors.New(apierrors.ChainDispatchRejected, fmt.Sprintf("blueprint %d not registered after submission", bid))
	}

	r.cfg.Logger.Info("registered blueprint", "blueprint_id", bid)
	return nil
}

// isAlreadyOperator matches the dispatch error the chain returns when a
// join/pre-register/register call targets state that already holds —
// treated as success per the co-routine's tolerance for idempotent
// re-registration.
func isAlreadyOperator(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "alreadyoperator")
}

func containsID(ids []blueprint.ID, target blueprint.ID) bool {
	for _, id := range ids {
		if id == target {
			return true
		}
	}
	return false
}

func zeroize(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
