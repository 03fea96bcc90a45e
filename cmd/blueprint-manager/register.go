package main

import (
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"

	"github.com/tangle-network/blueprint-manager/internal/blueprint"
	"github.com/tangle-network/blueprint-manager/internal/chain"
	"github.com/tangle-network/blueprint-manager/internal/config"
	"github.com/tangle-network/blueprint-manager/internal/keystore"
	"github.com/tangle-network/blueprint-manager/internal/registration"
)

var (
	registerBlueprintIDs []string
	registerEndpoint     string
)

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "One-shot startup registration: join the restaking set and register the configured blueprints",
	RunE:  runRegister,
}

func init() {
	registerCmd.Flags().StringSliceVar(&registerBlueprintIDs, "blueprint-id", nil, "blueprint id to register for (repeatable)")
	registerCmd.Flags().StringVar(&registerEndpoint, "endpoint", "", "this operator's publicly reachable auth proxy endpoint")
	rootCmd.AddCommand(registerCmd)
}

func runRegister(cmd *cobra.Command, args []string) error {
	if len(registerBlueprintIDs) == 0 {
		return fmt.Errorf("at least one --blueprint-id is required")
	}
	if registerEndpoint == "" {
		return fmt.Errorf("--endpoint is required")
	}

	ids := make([]blueprint.ID, 0, len(registerBlueprintIDs))
	for _, raw := range registerBlueprintIDs {
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid --blueprint-id %q: %w", raw, err)
		}
		ids = append(ids, blueprint.ID(n))
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx := cmd.Context()

	ks, err := keystore.NewFileBackend(cfg.Keystore.Path())
	if err != nil {
		return fmt.Errorf("open keystore: %w", err)
	}
	name, _, err := ks.FirstLocal(keystore.KeyTypeECDSA)
	if err != nil {
		return fmt.Errorf("resolve operator key: %w", err)
	}
	operatorKey, err := ks.GetSecret(keystore.KeyTypeECDSA, name)
	if err != nil {
		return fmt.Errorf("read operator key: %w", err)
	}
	privKey, err := crypto.ToECDSA(operatorKey)
	if err != nil {
		return fmt.Errorf("parse operator key: %w", err)
	}
	operatorAddr := crypto.PubkeyToAddress(privKey.PublicKey)

	registry, err := chain.DialRegistry(ctx, cfg.Chain.HTTPRPCURL, common.HexToAddress(cfg.Chain.RegistryAddress))
	if err != nil {
		return fmt.Errorf("dial registry: %w", err)
	}
	defer registry.Close()

	restaking, err := chain.DialRestaking(ctx, registry.Client(), cfg.Chain.HTTPRPCURL, common.HexToAddress(cfg.Chain.RestakingAddress))
	if err != nil {
		return fmt.Errorf("dial restaking contract: %w", err)
	}

	reg := registration.New(registration.Config{
		Registry:     registry,
		Restaking:    restaking,
		OperatorAddr: operatorAddr,
		OperatorKey:  operatorKey,
		BlueprintIDs: ids,
		RPCEndpoint:  registerEndpoint,
		Logger:       logger,
	})

	if err := reg.Run(ctx); err != nil {
		return fmt.Errorf("registration failed: %w", err)
	}
	fmt.Println("registration complete")
	return nil
}
