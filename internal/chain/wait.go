package chain

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// waitMined polls for a transaction receipt every 500ms until it is found
// or ctx ends, rather than subscribing to new heads for a single
// transaction.
func waitMined(ctx context.Context, client *ethclient.Client, hash common.Hash) error {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			receipt, err := client.TransactionReceipt(ctx, hash)
			if err != nil {
				continue
			}
			if receipt.Status == 0 {
				return fmt.Errorf("transaction %s reverted", hash)
			}
			return nil
		}
	}
}
