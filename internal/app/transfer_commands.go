package app

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"

	clierr "github.com/ggonzalez94/semi-cli/internal/errors"
	"github.com/ggonzalez94/semi-cli/internal/execution"
	execsigner "github.com/ggonzalez94/semi-cli/internal/execution/signer"
	"github.com/ggonzalez94/semi-cli/internal/fees"
	"github.com/ggonzalez94/semi-cli/internal/id"
	"github.com/ggonzalez94/semi-cli/internal/model"
	"github.com/ggonzalez94/semi-cli/internal/policy"
	"github.com/ggonzalez94/semi-cli/internal/registry"
	"github.com/ggonzalez94/semi-cli/internal/smartaccount"
	"github.com/ggonzalez94/semi-cli/internal/userop"
)

type transferArgs struct {
	chain              string
	to                 string
	asset              string
	amount             string
	amountDecimal      string
	mode               string
	from               string
	keySource          string
	rpcURL             string
	maxFeeGwei         string
	maxPriorityFeeGwei string
	gasMultiplier      float64
	dryRun             bool
}

// transferPlan is a validated transfer that has not touched the network yet.
type transferPlan struct {
	chain         id.Chain
	mode          execution.TransferMode
	req           execution.TransferRequest
	assetID       string
	symbol        string
	decimals      int
	amountBase    string
	amountDecimal string
}

// safeDryRun is what a smart account transfer would submit.
type safeDryRun struct {
	Account  model.AccountInfo `json:"account"`
	CallTo   string            `json:"call_to"`
	Value    string            `json:"value"`
	CallData string            `json:"call_data"`
	FeeQuote *model.FeeResult  `json:"fee_quote,omitempty"`
}

func (s *runtimeState) newTransferCommand() *cobra.Command {
	var a transferArgs
	cmd := &cobra.Command{
		Use:   "transfer",
		Short: "Send native or ERC-20 assets from the smart account or the owner EOA",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := trimRootPath(cmd.CommandPath())
			ctx, cancel := context.WithTimeout(cmd.Context(), s.settings.Timeout+s.settings.ReceiptTimeout)
			defer cancel()

			plan, err := s.planTransfer(ctx, a)
			if err != nil {
				return err
			}
			if a.dryRun {
				return s.dryRunTransfer(ctx, path, plan, a)
			}
			txSigner, err := execsigner.NewLocalSignerFromEnv(a.keySource)
			if err != nil {
				return clierr.Wrap(clierr.CodeSigner, "load signer", err)
			}
			if plan.mode == execution.TransferModeEOA {
				return s.sendEOATransfer(ctx, path, plan, a, txSigner)
			}
			return s.sendSafeTransfer(ctx, path, plan, a, txSigner)
		},
	}
	cmd.Flags().StringVar(&a.chain, "chain", "optimism", "Chain id/name/CAIP-2")
	cmd.Flags().StringVar(&a.to, "to", "", "Recipient address")
	cmd.Flags().StringVar(&a.asset, "asset", "", "Asset symbol/address/CAIP-19 (default: native asset)")
	cmd.Flags().StringVar(&a.amount, "amount", "", "Amount in base units")
	cmd.Flags().StringVar(&a.amountDecimal, "amount-decimal", "", "Amount in decimal units")
	cmd.Flags().StringVar(&a.mode, "mode", string(execution.TransferModeSafe), "Sending account (safe|eoa)")
	cmd.Flags().StringVar(&a.from, "from", "", "Sender address for --dry-run without a key")
	cmd.Flags().StringVar(&a.keySource, "key-source", execsigner.KeySourceAuto, "Key source (auto|env|file|keystore)")
	cmd.Flags().StringVar(&a.rpcURL, "rpc-url", "", "RPC URL override")
	cmd.Flags().StringVar(&a.maxFeeGwei, "max-fee-gwei", "", "EOA max fee per gas override in gwei")
	cmd.Flags().StringVar(&a.maxPriorityFeeGwei, "max-priority-fee-gwei", "", "EOA priority fee override in gwei")
	cmd.Flags().Float64Var(&a.gasMultiplier, "gas-multiplier", 1.2, "EOA gas limit multiplier (> 1)")
	cmd.Flags().BoolVar(&a.dryRun, "dry-run", false, "Estimate without signing or broadcasting")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func (s *runtimeState) planTransfer(ctx context.Context, a transferArgs) (transferPlan, error) {
	chain, err := id.ParseChain(a.chain)
	if err != nil {
		return transferPlan{}, err
	}
	toRaw, err := id.ParseAddress(a.to, "--to")
	if err != nil {
		return transferPlan{}, err
	}
	plan := transferPlan{chain: chain, symbol: chain.NativeSymbol, decimals: 18}
	switch execution.TransferMode(strings.ToLower(strings.TrimSpace(a.mode))) {
	case execution.TransferModeSafe:
		plan.mode = execution.TransferModeSafe
		if _, err := registry.Deployment(chain.EVMChainID); err != nil {
			return transferPlan{}, err
		}
	case execution.TransferModeEOA:
		plan.mode = execution.TransferModeEOA
	default:
		return transferPlan{}, clierr.New(clierr.CodeUsage, "--mode must be safe or eoa")
	}

	asset := strings.TrimSpace(a.asset)
	if asset != "" && !strings.EqualFold(asset, "native") && !strings.EqualFold(asset, chain.NativeSymbol) {
		parsed, err := id.ParseAsset(asset, chain)
		if err != nil {
			return transferPlan{}, err
		}
		token := common.HexToAddress(parsed.Address)
		plan.req.Token = &token
		plan.assetID = parsed.AssetID
		plan.symbol = parsed.Symbol
		plan.decimals = parsed.Decimals
		if parsed.Symbol == "" {
			client, err := s.services.ethClient(ctx, chain.EVMChainID, a.rpcURL)
			if err != nil {
				return transferPlan{}, err
			}
			if plan.decimals, err = execution.TokenDecimals(ctx, client, token); err != nil {
				return transferPlan{}, err
			}
		}
	}

	base, decimal, err := id.NormalizeAmount(a.amount, a.amountDecimal, plan.decimals)
	if err != nil {
		return transferPlan{}, err
	}
	amount, ok := new(big.Int).SetString(base, 10)
	if !ok {
		return transferPlan{}, clierr.New(clierr.CodeUsage, "invalid transfer amount")
	}
	to := common.HexToAddress(toRaw)
	if err := policy.ValidateTransfer(to, plan.req.Token, amount); err != nil {
		return transferPlan{}, err
	}
	plan.req.ChainID = chain.EVMChainID
	plan.req.To = to
	plan.req.Amount = amount
	plan.req.Fees = fees.Overrides{MaxFeeGwei: a.maxFeeGwei, MaxPriorityFeeGwei: a.maxPriorityFeeGwei}
	plan.amountBase = base
	plan.amountDecimal = decimal
	return plan, nil
}

func (s *runtimeState) dryRunTransfer(ctx context.Context, path string, plan transferPlan, a transferArgs) error {
	from, err := dryRunSender(a)
	if err != nil {
		return err
	}
	if plan.mode == execution.TransferModeEOA {
		client, err := s.services.ethClient(ctx, plan.chain.EVMChainID, a.rpcURL)
		if err != nil {
			return err
		}
		estimate, err := execution.EstimateTransfer(ctx, client, from, plan.req, a.gasMultiplier)
		if err != nil {
			return err
		}
		return s.emitSuccess(path, estimate, nil, bypassed(), nil, false)
	}

	info, err := s.describeAccount(ctx, from.Hex(), a.chain, a.rpcURL, true)
	if err != nil {
		return err
	}
	call, err := execution.TransferCall(plan.req)
	if err != nil {
		return err
	}
	out := safeDryRun{
		Account:  info,
		CallTo:   call.To.Hex(),
		Value:    call.Value.String(),
		CallData: hexutil.Encode(call.Data),
	}
	var warnings []string
	if registry.RequiresFeeBidding(plan.chain.EVMChainID) {
		quote, err := s.services.fees.Resolve(ctx, plan.chain.EVMChainID)
		if err != nil {
			return err
		}
		described := fees.Describe(plan.chain.EVMChainID, quote)
		out.FeeQuote = &described
		if quote.Source == model.FeeSourceFallback {
			warnings = append(warnings, "gas price oracle unavailable; using fallback fees")
		}
	}
	return s.emitSuccess(path, out, warnings, bypassed(), nil, false)
}

// dryRunSender is --from, or the configured key's address.
func dryRunSender(a transferArgs) (common.Address, error) {
	if strings.TrimSpace(a.from) != "" {
		raw, err := id.ParseAddress(a.from, "--from")
		if err != nil {
			return common.Address{}, err
		}
		return common.HexToAddress(raw), nil
	}
	txSigner, err := execsigner.NewLocalSignerFromEnv(a.keySource)
	if err != nil {
		return common.Address{}, clierr.Wrap(clierr.CodeSigner, "load signer (or pass --from)", err)
	}
	return txSigner.Address(), nil
}

func (s *runtimeState) sendEOATransfer(ctx context.Context, path string, plan transferPlan, a transferArgs, txSigner *execsigner.LocalSigner) error {
	client, err := s.services.ethClient(ctx, plan.chain.EVMChainID, a.rpcURL)
	if err != nil {
		return err
	}
	record := s.newTransferRecord(plan, txSigner.Address())
	if err := s.journal.Save(record); err != nil {
		return clierr.Wrap(clierr.CodeInternal, "record transfer", err)
	}

	opts := execution.DefaultExecuteOptions()
	opts.PollInterval = s.settings.ReceiptPollInterval
	opts.Timeout = s.settings.ReceiptTimeout
	opts.GasMultiplier = a.gasMultiplier
	executor := execution.NewExecutor(client, txSigner, opts, s.logger, s.metrics)
	receipt, err := executor.Transfer(ctx, plan.req, func(txHash string) {
		record.TxHash = txHash
		record.Status = execution.TransferStatusSubmitted
		record.Touch()
		s.saveTransfer(record)
	})
	if err != nil {
		if receipt.TxHash != "" {
			record.TxHash = receipt.TxHash
		}
		record.MarkFailed(err)
		s.saveTransfer(record)
		return err
	}
	record.Status = execution.TransferStatusConfirmed
	record.Touch()
	s.saveTransfer(record)

	result := transferResult(record, plan)
	result.TxHash = receipt.TxHash
	return s.emitSuccess(path, result, nil, bypassed(), nil, false)
}

func (s *runtimeState) sendSafeTransfer(ctx context.Context, path string, plan transferPlan, a transferArgs, txSigner *execsigner.LocalSigner) error {
	chainID := plan.chain.EVMChainID
	bundlerURL, ok := s.settings.BundlerURL(chainID)
	if !ok {
		return clierr.Unsupported("unsupported chain: no bundler configured for chain id %d", chainID)
	}
	client, err := s.services.ethClient(ctx, chainID, a.rpcURL)
	if err != nil {
		return err
	}
	builder := smartaccount.NewBuilder(client)
	account, err := builder.Account(ctx, txSigner.Address(), chainID)
	if err != nil {
		return err
	}
	call, err := execution.TransferCall(plan.req)
	if err != nil {
		return err
	}

	record := s.newTransferRecord(plan, account.Address)
	if err := s.journal.Save(record); err != nil {
		return clierr.Wrap(clierr.CodeInternal, "record transfer", err)
	}
	bundler := userop.NewClient(s.services.bundler, builder, client, txSigner, userop.ClientConfig{
		BundlerURL:   bundlerURL,
		PollInterval: s.settings.ReceiptPollInterval,
		Timeout:      s.settings.ReceiptTimeout,
		Logger:       s.logger,
	})
	assembler := userop.NewAssembler(bundler, builder, s.services.fees,
		userop.WithLogger(s.logger),
		userop.WithMetrics(s.metrics),
	)
	sub, err := assembler.Execute(ctx, account, []smartaccount.Call{call})
	record.UserOpHash = sub.Receipt.UserOpHash
	record.TxHash = sub.Receipt.TransactionHash
	if err != nil {
		record.MarkFailed(err)
		s.saveTransfer(record)
		return err
	}
	record.Status = execution.TransferStatusConfirmed
	record.Touch()
	s.saveTransfer(record)

	result := transferResult(record, plan)
	result.TxHash = sub.Receipt.TransactionHash
	result.Operation = &sub.Receipt
	if sub.FeeQuote != nil {
		described := fees.Describe(chainID, *sub.FeeQuote)
		result.FeeQuote = &described
	}
	return s.emitSuccess(path, result, nil, bypassed(), nil, false)
}

func (s *runtimeState) newTransferRecord(plan transferPlan, from common.Address) execution.Transfer {
	record := execution.NewTransfer(execution.NewTransferID(), plan.mode, plan.chain.CAIP2)
	record.From = from.Hex()
	record.To = plan.req.To.Hex()
	record.AssetID = plan.assetID
	record.Symbol = plan.symbol
	record.Decimals = plan.decimals
	record.AmountBase = plan.amountBase
	if plan.req.Token != nil {
		record.TokenAddress = plan.req.Token.Hex()
	}
	return record
}

// saveTransfer persists best effort once the transfer is in flight; the
// command result must not be lost to a journal write failure.
func (s *runtimeState) saveTransfer(record execution.Transfer) {
	if err := s.journal.Save(record); err != nil {
		s.logger.Warn("transfer journal write failed", "transfer_id", record.TransferID, "status", record.Status, "error", err)
	}
}

func transferResult(record execution.Transfer, plan transferPlan) model.TransferResult {
	return model.TransferResult{
		TransferID:    record.TransferID,
		Mode:          string(record.Mode),
		ChainID:       record.ChainID,
		From:          record.From,
		To:            record.To,
		AssetID:       record.AssetID,
		Symbol:        record.Symbol,
		AmountBase:    plan.amountBase,
		AmountDecimal: plan.amountDecimal,
	}
}

func (s *runtimeState) newTransfersCommand() *cobra.Command {
	root := &cobra.Command{Use: "transfers", Short: "Inspect recorded transfer attempts"}

	var status string
	var limit int
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List recent transfers",
		RunE: func(cmd *cobra.Command, args []string) error {
			status = strings.ToLower(strings.TrimSpace(status))
			switch execution.TransferStatus(status) {
			case "", execution.TransferStatusPlanned, execution.TransferStatusSubmitted, execution.TransferStatusConfirmed, execution.TransferStatusFailed:
			default:
				return clierr.New(clierr.CodeUsage, fmt.Sprintf("unknown --status %q", status))
			}
			items, err := s.journal.List(status, limit)
			if err != nil {
				return clierr.Wrap(clierr.CodeInternal, "list transfers", err)
			}
			return s.emit(cmd, items)
		},
	}
	listCmd.Flags().StringVar(&status, "status", "", "Filter by status (planned|submitted|confirmed|failed)")
	listCmd.Flags().IntVar(&limit, "limit", 20, "Maximum transfers to return")

	showCmd := &cobra.Command{
		Use:   "show <transfer-id>",
		Short: "Show one transfer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			item, err := s.journal.Get(strings.TrimSpace(args[0]))
			if err != nil {
				if errors.Is(err, execution.ErrTransferNotFound) {
					return clierr.Wrap(clierr.CodeUsage, "show transfer", err)
				}
				return clierr.Wrap(clierr.CodeInternal, "show transfer", err)
			}
			return s.emit(cmd, item)
		},
	}

	root.AddCommand(listCmd)
	root.AddCommand(showCmd)
	return root
}
