package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// pendingTx is a broadcast transaction whose receipt has not been seen yet.
type pendingTx struct {
	rpc      RPCClient
	hash     common.Hash
	method   string
	interval time.Duration
	logger   *slog.Logger
}

func (p *pendingTx) TxHash() string {
	return p.hash.Hex()
}

// AwaitConfirmation polls for the receipt until the transaction is mined or
// ctx ends. Receipt lookup errors other than "not found" are logged and retried.
func (p *pendingTx) AwaitConfirmation(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		receipt, err := p.rpc.TransactionReceipt(ctx, p.hash)
		switch {
		case err == nil:
			if receipt.Status != types.ReceiptStatusSuccessful {
				return fmt.Errorf("%s %s (block %v): %w", p.method, p.hash.Hex(), receipt.BlockNumber, ErrReverted)
			}
			p.logger.InfoContext(ctx, "transaction confirmed",
				"method", p.method,
				"tx_hash", p.hash.Hex(),
				"block", receipt.BlockNumber,
				"gas_used", receipt.GasUsed,
			)
			return nil
		case errors.Is(err, ethereum.NotFound):
		default:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.logger.WarnContext(ctx, "receipt lookup failed, retrying",
				"tx_hash", p.hash.Hex(),
				"error", err,
			)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
