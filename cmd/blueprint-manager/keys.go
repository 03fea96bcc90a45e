package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/tangle-network/blueprint-manager/internal/authproxy"
	"github.com/tangle-network/blueprint-manager/internal/blueprint"
	"github.com/tangle-network/blueprint-manager/internal/config"
	"github.com/tangle-network/blueprint-manager/internal/credstore"
	"github.com/tangle-network/blueprint-manager/internal/keystore"
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage operator key material and API credentials",
}

var keyType string

var keysGenerateCmd = &cobra.Command{
	Use:   "generate <name>",
	Short: "Generate a new operator key and store it locally",
	Args:  cobra.ExactArgs(1),
	RunE:  runKeysGenerate,
}

var keysListCmd = &cobra.Command{
	Use:   "list",
	Short: "List locally stored key names",
	RunE:  runKeysList,
}

var keysFirstCmd = &cobra.Command{
	Use:   "first",
	Short: "Show the first local key and its public key",
	RunE:  runKeysFirst,
}

var keysMintAPIKeyCmd = &cobra.Command{
	Use:   "mint-api-key <service-id>",
	Short: "Mint a long-lived API key for a service, via the auth proxy's credential store",
	Args:  cobra.ExactArgs(1),
	RunE:  runKeysMintAPIKey,
}

func init() {
	keysGenerateCmd.Flags().StringVar(&keyType, "type", "ecdsa", "key type (ecdsa, bn254)")
	keysCmd.AddCommand(keysGenerateCmd)
	keysCmd.AddCommand(keysListCmd)
	keysCmd.AddCommand(keysFirstCmd)
	keysCmd.AddCommand(keysMintAPIKeyCmd)
	rootCmd.AddCommand(keysCmd)
}

func openKeystore() (*keystore.FileBackend, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return keystore.NewFileBackend(cfg.Keystore.Path())
}

func runKeysGenerate(cmd *cobra.Command, args []string) error {
	ks, err := openKeystore()
	if err != nil {
		return err
	}
	pubKey, err := ks.Generate(keystore.KeyType(keyType), args[0])
	if err != nil {
		return err
	}
	fmt.Printf("generated %s key %q, public key %s\n", keyType, args[0], hex.EncodeToString(pubKey))
	return nil
}

func runKeysList(cmd *cobra.Command, args []string) error {
	ks, err := openKeystore()
	if err != nil {
		return err
	}
	names, err := ks.ListLocal(keystore.KeyTypeECDSA)
	if err != nil {
		return err
	}
	for _, name := range names {
		fmt.Println(name)
	}
	return nil
}

func runKeysFirst(cmd *cobra.Command, args []string) error {
	ks, err := openKeystore()
	if err != nil {
		return err
	}
	name, pubKey, err := ks.FirstLocal(keystore.KeyTypeECDSA)
	if err != nil {
		return err
	}
	fmt.Printf("%s %s\n", name, hex.EncodeToString(pubKey))
	return nil
}

func runKeysMintAPIKey(cmd *cobra.Command, args []string) error {
	sidRaw, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid service id: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	credStore, err := credstore.Open(cfg.Runtime.DataDir + "/credstore")
	if err != nil {
		return fmt.Errorf("open credential store: %w", err)
	}
	defer credStore.Close()

	pasetoKey, err := pasetoRootKey(cfg.Proxy.PasetoRootKeyHex)
	if err != nil {
		return err
	}
	paseto, err := authproxy.NewPasetoManager(pasetoKey)
	if err != nil {
		return fmt.Errorf("build paseto manager: %w", err)
	}

	proxy := authproxy.New(authproxy.Config{
		Active:      emptyResolver{},
		Credentials: credStore,
		Redis:       nil,
		Paseto:      paseto,
	})

	key, err := proxy.MintAPIKey(blueprint.ServiceID(sidRaw))
	if err != nil {
		return err
	}
	fmt.Println(key)
	return nil
}

// emptyResolver satisfies authproxy.EndpointResolver for CLI-only paths
// (minting a key never needs to resolve an endpoint).
type emptyResolver struct{}

func (emptyResolver) EndpointByService(sid blueprint.ServiceID) (string, bool) { return "", false }

// pasetoRootKey decodes the configured root key, or derives a random one
// if none is configured. A random key means tokens minted by a previous
// process restart stop verifying, same as a PASETO key-rotation event.
func pasetoRootKey(hexKey string) ([]byte, error) {
	if hexKey == "" {
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generate random paseto root key: %w", err)
		}
		return key, nil
	}
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("decode paseto root key: %w", err)
	}
	return key, nil
}
