package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/brojonat/buydetector/service/config"
	"github.com/brojonat/buydetector/service/detector"
	"github.com/brojonat/buydetector/service/price"
	"github.com/brojonat/buydetector/service/solana"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/itchyny/gojq"
	"github.com/urfave/cli/v2"
)

// txReport is the check-tx output.
type txReport struct {
	Signature    string          `json:"signature"`
	Slot         uint64          `json:"slot"`
	BlockTime    *time.Time      `json:"block_time,omitempty"`
	Failed       bool            `json:"failed"`
	Error        string          `json:"error,omitempty"`
	Wallet       string          `json:"wallet"`
	Mint         string          `json:"mint"`
	Instructions []ixReport      `json:"instructions"`
	Transfer     *transferReport `json:"transfer"`
}

type ixReport struct {
	Group   *uint64 `json:"inner_group,omitempty"` // nil for top-level instructions
	Program string  `json:"program"`
	Kind    string  `json:"kind"`
}

type transferReport struct {
	Amount      string `json:"amount"`
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Strategy    string `json:"strategy"`
}

func newTxReport(rec *solana.TransactionRecord, target detector.Target) txReport {
	report := txReport{
		Signature:    rec.Signature,
		Slot:         rec.Slot,
		Wallet:       target.Wallet,
		Mint:         target.Mint,
		Instructions: []ixReport{},
	}
	if !rec.BlockTime.IsZero() {
		bt := rec.BlockTime.UTC()
		report.BlockTime = &bt
	}
	if rec.Err != nil {
		report.Failed = true
		report.Error = *rec.Err
	}

	for _, ix := range rec.Instructions {
		report.Instructions = append(report.Instructions, ixReport{Program: ix.Program, Kind: ix.Kind.String()})
	}
	for _, group := range rec.InnerInstructions {
		idx := group.Index
		for _, ix := range group.Instructions {
			report.Instructions = append(report.Instructions, ixReport{Group: &idx, Program: ix.Program, Kind: ix.Kind.String()})
		}
	}

	if ev, ok := detector.Extract(rec, target); ok {
		report.Transfer = &transferReport{
			Amount:      ev.Amount.String(),
			Source:      ev.Source,
			Destination: ev.Destination,
			Strategy:    string(ev.Strategy),
		}
	}
	return report
}

// compileJQ parses and compiles a jq filter.
func compileJQ(filter string) (*gojq.Code, error) {
	query, err := gojq.Parse(filter)
	if err != nil {
		return nil, fmt.Errorf("failed to parse jq filter %q: %w", filter, err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("failed to compile jq filter %q: %w", filter, err)
	}
	return code, nil
}

// runJQ evaluates code against v after a JSON round trip, so that struct
// tags decide field names, and returns every result.
func runJQ(ctx context.Context, code *gojq.Code, v any) ([]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal jq input: %w", err)
	}
	var input any
	if err := json.Unmarshal(data, &input); err != nil {
		return nil, fmt.Errorf("failed to decode jq input: %w", err)
	}

	var results []any
	iter := code.RunWithContext(ctx, input)
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := v.(error); isErr {
			return nil, fmt.Errorf("jq filter failed: %w", err)
		}
		results = append(results, v)
	}
	return results, nil
}

func checkTxCommand() *cli.Command {
	return &cli.Command{
		Name:      "check-tx",
		Usage:     "Fetch a transaction and show what the detector extracts from it",
		ArgsUsage: "SIGNATURE",
		Description: `Fetches one transaction, decodes it and runs the transfer extractor for the
watched wallet. Nothing is sent.

Examples:
  buydetector check-tx 5xY...abc
  buydetector check-tx 5xY...abc --jq '.transfer.amount'`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "rpc-url",
				Usage:   "Solana RPC URL (comma-separated list picks one at random)",
				EnvVars: []string{"SOLANA_RPC_URLS"},
				Value:   "https://api.mainnet-beta.solana.com",
			},
			&cli.StringFlag{
				Name:    "wallet",
				Aliases: []string{"w"},
				Usage:   "Watched wallet address",
				EnvVars: []string{"WATCHED_ADDRESS"},
			},
			&cli.StringFlag{
				Name:    "mint",
				Usage:   "Wrapped SOL mint",
				EnvVars: []string{"WRAPPED_SOL_MINT"},
				Value:   solanago.WrappedSol.String(),
			},
			&cli.StringFlag{
				Name:  "jq",
				Usage: "jq filter applied to the JSON report",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "RPC timeout",
				Value: 30 * time.Second,
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("signature is required")
			}
			signature := c.Args().Get(0)

			if c.String("wallet") == "" {
				return fmt.Errorf("--wallet is required (or set WATCHED_ADDRESS)")
			}
			wallet, err := solanago.PublicKeyFromBase58(c.String("wallet"))
			if err != nil {
				return fmt.Errorf("invalid wallet address: %w", err)
			}
			mint, err := solanago.PublicKeyFromBase58(c.String("mint"))
			if err != nil {
				return fmt.Errorf("invalid mint address: %w", err)
			}

			var code *gojq.Code
			if filter := c.String("jq"); filter != "" {
				if code, err = compileJQ(filter); err != nil {
					return err
				}
			}

			// Only errors to stderr
			logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
			client, err := newLedgerClient(splitList(c.String("rpc-url")), nil, logger)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
			defer cancel()

			rec, ok, err := client.FetchTransaction(ctx, signature)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("transaction %s not found", signature)
			}

			report := newTxReport(rec, detector.NewTarget(wallet, mint))
			return printTxReport(ctx, c.App.Writer, report, code, c.Bool("json"))
		},
	}
}

func printTxReport(ctx context.Context, w io.Writer, report txReport, code *gojq.Code, jsonOutput bool) error {
	if code != nil {
		results, err := runJQ(ctx, code, report)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(w)
		for _, r := range results {
			if err := enc.Encode(r); err != nil {
				return err
			}
		}
		return nil
	}

	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	fmt.Fprintf(w, "Signature:    %s\n", report.Signature)
	fmt.Fprintf(w, "Slot:         %d\n", report.Slot)
	if report.BlockTime != nil {
		fmt.Fprintf(w, "Block Time:   %s\n", report.BlockTime.Format(time.RFC3339))
	}
	if report.Failed {
		fmt.Fprintf(w, "Status:       failed (%s)\n", report.Error)
	}
	fmt.Fprintf(w, "Instructions: %d\n", len(report.Instructions))
	for _, ix := range report.Instructions {
		prefix := "  top"
		if ix.Group != nil {
			prefix = fmt.Sprintf("  inner[%d]", *ix.Group)
		}
		fmt.Fprintf(w, "%s %s (%s)\n", prefix, ix.Program, ix.Kind)
	}
	if report.Transfer == nil {
		fmt.Fprintf(w, "\nNo incoming transfer to %s\n", report.Wallet)
		return nil
	}
	fmt.Fprintf(w, "\n✅ Incoming transfer (%s)\n", report.Transfer.Strategy)
	fmt.Fprintf(w, "   Amount: %s SOL\n", report.Transfer.Amount)
	fmt.Fprintf(w, "   From:   %s\n", report.Transfer.Source)
	fmt.Fprintf(w, "   To:     %s\n", report.Transfer.Destination)
	return nil
}

func priceCommand() *cli.Command {
	return &cli.Command{
		Name:  "price",
		Usage: "Look up the spot price used in notifications",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "url",
				Usage:   "Price API URL",
				EnvVars: []string{"PRICE_API_URL"},
				Value:   config.DefaultPriceAPIURL,
			},
			&cli.StringFlag{
				Name:    "jq",
				Usage:   "jq expression extracting the price ($asset is bound)",
				EnvVars: []string{"PRICE_JQ"},
				Value:   config.DefaultPriceJQ,
			},
			&cli.StringFlag{
				Name:    "asset",
				Usage:   "Asset passed to the expression as $asset",
				EnvVars: []string{"PRICE_ASSET"},
				Value:   config.DefaultPriceAsset,
			},
		},
		Action: func(c *cli.Context) error {
			logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
			oracle, err := price.NewOracle(c.String("url"), c.String("jq"), nil, nil, logger)
			if err != nil {
				return err
			}

			asset := c.String("asset")
			usd, err := oracle.SpotPriceUSD(c.Context, asset)
			if err != nil {
				return fmt.Errorf("price lookup failed: %w", err)
			}

			if c.Bool("json") {
				return json.NewEncoder(c.App.Writer).Encode(map[string]any{
					"asset": asset,
					"usd":   usd,
				})
			}
			fmt.Fprintf(c.App.Writer, "%s: $%s\n", asset, detector.FormatUSD(usd))
			return nil
		},
	}
}
