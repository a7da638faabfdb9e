package main

import (
	"context"
	"fmt"
	"io"
)

// unboundedHealthFactor is what the daemon reports for accounts with no debt.
const unboundedHealthFactor = "115792089237316195423570985008687907853269984665640564039457584007913129639935"

func runVaultRead(command string, args []string, stdout, stderr io.Writer) int {
	client, err := newClient()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	ctx := context.Background()

	switch command {
	case "account":
		if len(args) < 1 {
			fmt.Fprintln(stderr, "Usage: zusd-cli account <address>")
			return 1
		}
		account, err := client.GetAccount(ctx, args[0])
		if err != nil {
			return reportRPCError(stderr, err)
		}
		fmt.Fprintf(stdout, "Account %s\n", account.Address)
		fmt.Fprintf(stdout, "  Minted ZUSD:      %s\n", account.MintedZusd)
		fmt.Fprintf(stdout, "  Collateral (USD): %s\n", account.CollateralValueUsd)
		fmt.Fprintf(stdout, "  Health factor:    %s\n", formatHealthFactor(account.HealthFactor))
		return 0

	case "position":
		if len(args) < 1 {
			fmt.Fprintln(stderr, "Usage: zusd-cli position <address>")
			return 1
		}
		position, err := client.GetPosition(ctx, args[0])
		if err != nil {
			return reportRPCError(stderr, err)
		}
		fmt.Fprintf(stdout, "Position for %s\n", position.Address)
		if len(position.Collateral) == 0 {
			fmt.Fprintln(stdout, "  Collateral: none")
		} else {
			fmt.Fprintln(stdout, "  Collateral:")
			for _, row := range position.Collateral {
				fmt.Fprintf(stdout, "    %-8s %s (%s USD)\n", row.Asset, row.Amount, row.UsdValue)
			}
		}
		fmt.Fprintf(stdout, "  Minted ZUSD:      %s\n", position.MintedZusd)
		fmt.Fprintf(stdout, "  Collateral (USD): %s\n", position.CollateralValueUsd)
		fmt.Fprintf(stdout, "  Health factor:    %s\n", formatHealthFactor(position.HealthFactor))
		return 0

	case "health":
		if len(args) < 1 {
			fmt.Fprintln(stderr, "Usage: zusd-cli health <address>")
			return 1
		}
		health, err := client.GetHealthFactor(ctx, args[0])
		if err != nil {
			return reportRPCError(stderr, err)
		}
		fmt.Fprintf(stdout, "Health factor for %s: %s\n", health.Address, formatHealthFactor(health.HealthFactor))
		return 0

	case "assets":
		assets, err := client.ListAssets(ctx)
		if err != nil {
			return reportRPCError(stderr, err)
		}
		if len(assets) == 0 {
			fmt.Fprintln(stdout, "No collateral assets registered.")
			return 0
		}
		fmt.Fprintln(stdout, "Approved collateral:")
		for _, asset := range assets {
			fmt.Fprintf(stdout, "  %-8s %s USD\n", asset.Symbol, asset.PriceUsd)
		}
		return 0

	case "balance":
		if len(args) < 1 {
			fmt.Fprintln(stderr, "Usage: zusd-cli balance <address> [asset]")
			return 1
		}
		asset := "ZUSD"
		if len(args) > 1 && args[1] != "" {
			asset = args[1]
		}
		balance, err := client.GetTokenBalance(ctx, args[0], asset)
		if err != nil {
			return reportRPCError(stderr, err)
		}
		fmt.Fprintf(stdout, "Balance for %s\n", balance.Address)
		fmt.Fprintf(stdout, "  %s: %s\n", balance.Asset, balance.Balance)
		return 0
	}

	fmt.Fprintf(stderr, "Unknown command: %s\n", command)
	return 1
}

// formatHealthFactor keeps the 18-decimal fixed-point value readable. The
// daemon reports max-uint256 for debt-free accounts.
func formatHealthFactor(h string) string {
	if h == unboundedHealthFactor {
		return "unbounded (no debt)"
	}
	return h
}
