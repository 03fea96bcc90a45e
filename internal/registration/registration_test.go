package registration

import (
	"context"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tangle-network/blueprint-manager/internal/blueprint"
)

type fakeRegistry struct {
	preRegisterErr error
	registerErr    error
	registered     []blueprint.ID
	chainID        *big.Int
}

func (f *fakeRegistry) PreRegister(ctx context.Context, opts *bind.TransactOpts, bid blueprint.ID) error {
	return f.preRegisterErr
}

func (f *fakeRegistry) Register(ctx context.Context, opts *bind.TransactOpts, bid blueprint.ID, ecdsaPubKey []byte, rpcEndpoint string) error {
	if f.registerErr != nil {
		return f.registerErr
	}
	f.registered = append(f.registered, bid)
	return nil
}

func (f *fakeRegistry) OperatorBlueprintIDs(ctx context.Context, operator common.Address) ([]blueprint.ID, error) {
	return f.registered, nil
}

func (f *fakeRegistry) ChainID(ctx context.Context) (*big.Int, error) {
	return f.chainID, nil
}

type fakeRestaking struct {
	joined     bool
	joinErr    error
	isOperErr  error
	joinCalled bool
}

func (f *fakeRestaking) IsOperator(ctx context.Context, operator common.Address) (bool, error) {
	return f.joined, f.isOperErr
}

func (f *fakeRestaking) JoinOperators(ctx context.Context, opts *bind.TransactOpts) (*common.Hash, error) {
	f.joinCalled = true
	if f.joinErr != nil {
		return nil, f.joinErr
	}
	h := common.HexToHash("0x1")
	return &h, nil
}

func testOperatorKey(t *testing.T) ([]byte, common.Address) {
	t.Helper()
	priv, err := crypto.GenerateKey()
	require.NoError(t, err)
	return crypto.FromECDSA(priv), crypto.PubkeyToAddress(priv.PublicKey)
}

func TestRegistration_Run_HappyPath(t *testing.T) {
	key, addr := testOperatorKey(t)
	registry := &fakeRegistry{registered: []blueprint.ID{1, 2}, chainID: big.NewInt(1)}
	restaking := &fakeRestaking{joined: false}

	r := New(Config{
		Registry:     registry,
		Restaking:    restaking,
		OperatorAddr: addr,
		OperatorKey:  key,
		BlueprintIDs: []blueprint.ID{1, 2},
		RPCEndpoint:  "http://127.0.0.1:9000",
	})

	require.NoError(t, r.Run(context.Background()))
	assert.True(t, restaking.joinCalled)
	assert.ElementsMatch(t, []blueprint.ID{1, 2}, registry.registered)
}

func TestRegistration_Run_SkipsJoinWhenAlreadyMember(t *testing.T) {
	key, addr := testOperatorKey(t)
	registry := &fakeRegistry{registered: []blueprint.ID{1}, chainID: big.NewInt(1)}
	restaking := &fakeRestaking{joined: true}

	r := New(Config{
		Registry:     registry,
		Restaking:    restaking,
		OperatorAddr: addr,
		OperatorKey:  key,
		BlueprintIDs: []blueprint.ID{1},
	})

	require.NoError(t, r.Run(context.Background()))
	assert.False(t, restaking.joinCalled)
}

func TestRegistration_Run_ToleratesAlreadyOperatorDispatchError(t *testing.T) {
	key, addr := testOperatorKey(t)
	registry := &fakeRegistry{registered: []blueprint.ID{1}, chainID: big.NewInt(1)}
	restaking := &fakeRestaking{joined: false, joinErr: fmt.Errorf("execution reverted: AlreadyOperator")}

	r := New(Config{
		Registry:     registry,
		Restaking:    restaking,
		OperatorAddr: addr,
		OperatorKey:  key,
		BlueprintIDs: []blueprint.ID{1},
	})

	require.NoError(t, r.Run(context.Background()))
}

func TestRegistration_Run_AbortsOnOtherDispatchError(t *testing.T) {
	key, addr := testOperatorKey(t)
	registry := &fakeRegistry{chainID: big.NewInt(1)}
	restaking := &fakeRestaking{joined: false, joinErr: fmt.Errorf("execution reverted: InsufficientStake")}

	r := New(Config{
		Registry:     registry,
		Restaking:    restaking,
		OperatorAddr: addr,
		OperatorKey:  key,
		BlueprintIDs: []blueprint.ID{1},
	})

	err := r.Run(context.Background())
	assert.Error(t, err)
}

func TestRegistration_Run_AbortsWhenVerificationFails(t *testing.T) {
	key, addr := testOperatorKey(t)
	registry := &fakeRegistry{chainID: big.NewInt(1)} // registered never gets appended
	registry.registerErr = fmt.Errorf("execution reverted: AlreadyOperator")
	restaking := &fakeRestaking{joined: true}

	r := New(Config{
		Registry:     registry,
		Restaking:    restaking,
		OperatorAddr: addr,
		OperatorKey:  key,
		BlueprintIDs: []blueprint.ID{7},
	})

	err := r.Run(context.Background())
	assert.Error(t, err)
}
