/*

This file contains the live Solana implementation of the token ledger.

Asset movements are built as single-instruction transactions signed by the
operator key: system transfers for the reserve asset, SPL mint/burn for the
issued asset. A movement is reported successful only after the transaction is
confirmed, so the engine observes each call as atomic. Submission retries
(blockhash expiry and transient RPC failures) live entirely in this client;
the engine itself never retries a transition.

*/

package custody

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/mr-tron/base58"
	"github.com/rs/zerolog"

	"github.com/solmint/sce/internal/logger"
)

const (
	CONFIRM_TIMEOUT = 45 * time.Second
	CONFIRM_POLL    = 2 * time.Second
	SUBMIT_MAX_TIME = 20 * time.Second
)

// Client executes asset movements against a Solana cluster.
type Client struct {
	rpcClient *rpc.Client
	operator  solana.PrivateKey
	mint      solana.PublicKey
	logger    zerolog.Logger
}

// NewClient creates a live token ledger. The operator key signs every
// movement and acts as the mint authority for the issued asset.
func NewClient(endpoint string, operatorKeyBase58 string, mint solana.PublicKey) (*Client, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("RPC endpoint is required")
	}

	keyBytes, err := base58.Decode(operatorKeyBase58)
	if err != nil {
		return nil, fmt.Errorf("failed to decode operator key: %w", err)
	}
	if len(keyBytes) != 64 {
		return nil, fmt.Errorf("invalid operator key length: expected 64 bytes, got %d", len(keyBytes))
	}

	return &Client{
		rpcClient: rpc.New(endpoint),
		operator:  solana.PrivateKey(keyBytes),
		mint:      mint,
		logger:    logger.GetForComponent("custody_client"),
	}, nil
}

// Operator returns the identity that signs custody movements.
func (c *Client) Operator() solana.PublicKey {
	return c.operator.PublicKey()
}

// DepositReserve moves lamports from the depositor into the reserve custody
// account.
func (c *Client) DepositReserve(ctx context.Context, from solana.PublicKey, reserveAccount solana.PublicKey, lamports uint64) (string, error) {
	instruction := system.NewTransferInstruction(lamports, from, reserveAccount).Build()
	return c.execute(ctx, "deposit_reserve", instruction)
}

// ReleaseReserve moves lamports out of the reserve custody account.
func (c *Client) ReleaseReserve(ctx context.Context, reserveAccount solana.PublicKey, to solana.PublicKey, lamports uint64) (string, error) {
	instruction := system.NewTransferInstruction(lamports, reserveAccount, to).Build()
	return c.execute(ctx, "release_reserve", instruction)
}

// MintIssued mints issued-asset units to the recipient's associated token
// account.
func (c *Client) MintIssued(ctx context.Context, to solana.PublicKey, amount uint64) (string, error) {
	tokenAccount, _, err := solana.FindAssociatedTokenAddress(to, c.mint)
	if err != nil {
		return "", fmt.Errorf("failed to derive token account for %s: %w", to, err)
	}
	instruction := token.NewMintToInstruction(amount, c.mint, tokenAccount, c.operator.PublicKey(), nil).Build()
	return c.execute(ctx, "mint_issued", instruction)
}

// BurnIssued burns issued-asset units from the holder's associated token
// account.
func (c *Client) BurnIssued(ctx context.Context, from solana.PublicKey, amount uint64) (string, error) {
	tokenAccount, _, err := solana.FindAssociatedTokenAddress(from, c.mint)
	if err != nil {
		return "", fmt.Errorf("failed to derive token account for %s: %w", from, err)
	}
	instruction := token.NewBurnInstruction(amount, tokenAccount, c.mint, from, nil).Build()
	return c.execute(ctx, "burn_issued", instruction)
}

// ReserveBalance reports the confirmed lamport balance of a reserve custody
// account.
func (c *Client) ReserveBalance(ctx context.Context, reserveAccount solana.PublicKey) (uint64, error) {
	result, err := c.rpcClient.GetBalance(ctx, reserveAccount, rpc.CommitmentConfirmed)
	if err != nil {
		return 0, fmt.Errorf("failed to get reserve balance for %s: %w", reserveAccount, err)
	}
	return result.Value, nil
}

// Close cleans up the RPC connection.
func (c *Client) Close() error {
	return c.rpcClient.Close()
}

// execute builds, signs, submits and confirms a single-instruction
// transaction. Blockhash expiry is retried with fresh blockhashes; execution
// failures are permanent.
func (c *Client) execute(ctx context.Context, label string, instruction solana.Instruction) (string, error) {
	op := func() (solana.Signature, error) {
		blockhash, err := c.rpcClient.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
		if err != nil {
			return solana.Signature{}, fmt.Errorf("failed to get latest blockhash: %w", err)
		}

		tx, err := solana.NewTransaction(
			[]solana.Instruction{instruction},
			blockhash.Value.Blockhash,
			solana.TransactionPayer(c.operator.PublicKey()),
		)
		if err != nil {
			return solana.Signature{}, backoff.Permanent(fmt.Errorf("failed to create transaction: %w", err))
		}

		if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
			if key.Equals(c.operator.PublicKey()) {
				return &c.operator
			}
			return nil
		}); err != nil {
			return solana.Signature{}, backoff.Permanent(fmt.Errorf("failed to sign transaction: %w", err))
		}

		sig, err := c.rpcClient.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
			PreflightCommitment: rpc.CommitmentConfirmed,
		})
		if err != nil {
			return solana.Signature{}, fmt.Errorf("failed to send transaction: %w", err)
		}
		return sig, nil
	}

	sig, err := backoff.Retry(
		ctx,
		op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(SUBMIT_MAX_TIME),
	)
	if err != nil {
		return "", fmt.Errorf("%s submission failed: %w", label, err)
	}

	if err := c.confirm(ctx, sig); err != nil {
		return "", fmt.Errorf("%s not confirmed: %w", label, err)
	}

	c.logger.Info().
		Str("operation", label).
		Str("signature", sig.String()).
		Msg("Asset movement confirmed")

	return sig.String(), nil
}

// confirm polls signature status until the transaction is confirmed, errored
// or the timeout elapses.
func (c *Client) confirm(ctx context.Context, sig solana.Signature) error {
	deadline := time.Now().Add(CONFIRM_TIMEOUT)
	ticker := time.NewTicker(CONFIRM_POLL)
	defer ticker.Stop()

	for {
		statuses, err := c.rpcClient.GetSignatureStatuses(ctx, true, sig)
		if err == nil && statuses != nil && len(statuses.Value) > 0 && statuses.Value[0] != nil {
			status := statuses.Value[0]
			if status.Err != nil {
				return fmt.Errorf("transaction %s failed on chain: %v", sig, status.Err)
			}
			if status.ConfirmationStatus == rpc.ConfirmationStatusConfirmed ||
				status.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
				return nil
			}
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("timed out waiting for confirmation of %s", sig)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
