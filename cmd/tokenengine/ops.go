package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"model-token-engine/internal/coordinator"
	"model-token-engine/internal/domain"
)

// withApp runs fn against a freshly wired engine and prints its result as JSON.
func (c *cli) withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) (any, error)) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := newApp(ctx, c.cfg, c.logger)
	if err != nil {
		return err
	}
	defer a.cleanup()

	out, err := fn(ctx, a)
	if err != nil {
		if ue, ok := coordinator.AsUpdateError(err); ok && ue.TransactionHash != "" {
			c.logger.WithField("tx_hash", ue.TransactionHash).Error("ledger moved but the operation did not complete")
		}
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func parseAmount(raw string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", raw, err)
	}
	return amount, nil
}

func newMintCmd(c *cli) *cobra.Command {
	var (
		intent    string
		recipient string
	)

	cmd := &cobra.Command{
		Use:   "mint <model-id> <amount>",
		Short: "Mint model tokens",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := parseAmount(args[1])
			if err != nil {
				return err
			}
			return c.withApp(cmd, func(ctx context.Context, a *app) (any, error) {
				return a.engine.Mint(ctx, coordinator.MintRequest{
					ModelID:   args[0],
					Amount:    amount,
					Intent:    domain.MintIntent(intent),
					Recipient: recipient,
				})
			})
		},
	}

	cmd.Flags().StringVar(&intent, "intent", string(domain.IntentMarket), "Mint intent: market or administrative")
	cmd.Flags().StringVar(&recipient, "recipient", "", "Recipient address, defaults to the model's custodial account")
	return cmd
}

func newBurnCmd(c *cli) *cobra.Command {
	var user string

	cmd := &cobra.Command{
		Use:   "burn <model-id> <amount>",
		Short: "Burn model tokens held by the custodial account",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := parseAmount(args[1])
			if err != nil {
				return err
			}
			return c.withApp(cmd, func(ctx context.Context, a *app) (any, error) {
				return a.engine.Burn(ctx, coordinator.BurnRequest{
					ModelID:     args[0],
					Amount:      amount,
					UserAddress: user,
				})
			})
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "Requesting user address")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newCreateTokenCmd(c *cli) *cobra.Command {
	var req coordinator.CreateTokenRequest
	var modelType string

	cmd := &cobra.Command{
		Use:   "create-token",
		Short: "Register a model and create its fungible asset",
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Type = domain.ModelType(modelType)
			return c.withApp(cmd, func(ctx context.Context, a *app) (any, error) {
				return a.engine.CreateToken(ctx, req)
			})
		},
	}

	f := cmd.Flags()
	f.StringVar(&req.ModelID, "model-id", "", "Model id, generated when empty")
	f.StringVar(&req.Name, "name", "", "Model display name")
	f.StringVar(&modelType, "type", string(domain.ModelTypeText), "Model type: text, image, audio or video")
	f.StringVar(&req.Description, "description", "", "Model description")
	f.StringVar(&req.OwnerID, "owner", "", "Owning user id")
	f.StringVar(&req.TokenName, "token-name", "", "Fungible asset name")
	f.StringVar(&req.TokenSymbol, "token-symbol", "", "Fungible asset symbol")
	f.StringVar(&req.IconURI, "icon-uri", "", "Token icon URI")
	f.StringVar(&req.ProjectURI, "project-uri", "", "Token project URI")
	f.StringVar(&req.KeyRef, "key-ref", "", "Custodial key reference of the signing account")
	f.Float64Var(&req.InitialPrice, "initial-price", 0, "Initial quoted price in APT per token")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("token-name")
	_ = cmd.MarkFlagRequired("token-symbol")
	_ = cmd.MarkFlagRequired("key-ref")
	return cmd
}

func newInitWalletCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "init-wallet",
		Short: "Generate a custodial account and store its key",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) (any, error) {
				return a.engine.InitWallet(ctx)
			})
		},
	}
}
