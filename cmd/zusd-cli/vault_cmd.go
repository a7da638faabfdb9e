package main

import (
	"context"
	"fmt"
	"io"
	"strconv"

	sdk "zusd/sdk/zusd"
)

// runVaultWrite executes the mutating vault commands. They all resolve the
// sender address from the local keystore and carry the bearer token from the
// environment.
func runVaultWrite(command string, args []string, stdout, stderr io.Writer) int {
	if err := requireAuthToken(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	client, err := newClient()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	ctx := context.Background()

	switch command {
	case "deposit":
		if len(args) < 2 {
			fmt.Fprintln(stderr, "Usage: zusd-cli deposit <asset> <amount> [keyfile]")
			return 1
		}
		from, err := loadKeyAddress(keyFileArg(args, 2))
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		receipt, err := client.DepositCollateral(ctx, from, args[0], args[1])
		if err != nil {
			return reportRPCError(stderr, err)
		}
		fmt.Fprintf(stdout, "Deposited %s %s for %s\n", args[1], args[0], from)
		fmt.Fprintf(stdout, "  Receipt: %s\n", receipt.TxHash)
		return 0

	case "mint":
		if len(args) < 1 {
			fmt.Fprintln(stderr, "Usage: zusd-cli mint <amount> [keyfile]")
			return 1
		}
		from, err := loadKeyAddress(keyFileArg(args, 1))
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		receipt, err := client.MintZUSD(ctx, from, args[0])
		if err != nil {
			return reportRPCError(stderr, err)
		}
		fmt.Fprintf(stdout, "Minted %s ZUSD for %s\n", args[0], from)
		fmt.Fprintf(stdout, "  Receipt: %s\n", receipt.TxHash)
		return 0

	case "deposit-and-mint":
		if len(args) < 3 {
			fmt.Fprintln(stderr, "Usage: zusd-cli deposit-and-mint <asset> <amount> <mint> [keyfile]")
			return 1
		}
		from, err := loadKeyAddress(keyFileArg(args, 3))
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		receipt, err := client.DepositAndMint(ctx, from, args[0], args[1], args[2])
		if err != nil {
			return reportRPCError(stderr, err)
		}
		fmt.Fprintf(stdout, "Deposited %s %s and minted %s ZUSD for %s\n", args[1], args[0], args[2], from)
		fmt.Fprintf(stdout, "  Receipt: %s\n", receipt.TxHash)
		return 0

	case "redeem":
		if len(args) < 2 {
			fmt.Fprintln(stderr, "Usage: zusd-cli redeem <asset> <amount> [keyfile]")
			return 1
		}
		from, err := loadKeyAddress(keyFileArg(args, 2))
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		receipt, err := client.RedeemCollateral(ctx, from, args[0], args[1])
		if err != nil {
			return reportRPCError(stderr, err)
		}
		fmt.Fprintf(stdout, "Redeemed %s %s for %s\n", args[1], args[0], from)
		fmt.Fprintf(stdout, "  Receipt: %s\n", receipt.TxHash)
		return 0

	case "burn":
		if len(args) < 1 {
			fmt.Fprintln(stderr, "Usage: zusd-cli burn <amount> [keyfile]")
			return 1
		}
		from, err := loadKeyAddress(keyFileArg(args, 1))
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		receipt, err := client.BurnZUSD(ctx, from, args[0])
		if err != nil {
			return reportRPCError(stderr, err)
		}
		fmt.Fprintf(stdout, "Burned %s ZUSD for %s\n", args[0], from)
		fmt.Fprintf(stdout, "  Receipt: %s\n", receipt.TxHash)
		return 0

	case "redeem-for-zusd":
		if len(args) < 3 {
			fmt.Fprintln(stderr, "Usage: zusd-cli redeem-for-zusd <asset> <amount> <burn> [keyfile]")
			return 1
		}
		from, err := loadKeyAddress(keyFileArg(args, 3))
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		receipt, err := client.RedeemForZUSD(ctx, from, args[0], args[1], args[2])
		if err != nil {
			return reportRPCError(stderr, err)
		}
		fmt.Fprintf(stdout, "Burned %s ZUSD and redeemed %s %s for %s\n", args[2], args[1], args[0], from)
		fmt.Fprintf(stdout, "  Receipt: %s\n", receipt.TxHash)
		return 0

	case "liquidate":
		if len(args) < 3 {
			fmt.Fprintln(stderr, "Usage: zusd-cli liquidate <target> <asset> <debtToCover> [keyfile]")
			return 1
		}
		liquidator, err := loadKeyAddress(keyFileArg(args, 3))
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		receipt, err := client.Liquidate(ctx, sdk.LiquidateParams{
			Liquidator:  liquidator,
			Target:      args[0],
			Asset:       args[1],
			DebtToCover: args[2],
		})
		if err != nil {
			return reportRPCError(stderr, err)
		}
		fmt.Fprintf(stdout, "Liquidated %s\n", args[0])
		fmt.Fprintf(stdout, "  Debt covered:      %s ZUSD\n", receipt.DebtCovered)
		fmt.Fprintf(stdout, "  Collateral seized: %s %s\n", receipt.CollateralSeized, args[1])
		fmt.Fprintf(stdout, "  Receipt:           %s\n", receipt.TxHash)
		return 0

	case "set-price":
		if len(args) < 3 {
			fmt.Fprintln(stderr, "Usage: zusd-cli set-price <feed> <price> <decimals>")
			return 1
		}
		decimals, err := strconv.ParseUint(args[2], 10, 8)
		if err != nil {
			fmt.Fprintf(stderr, "invalid decimals: %v\n", err)
			return 1
		}
		update, err := client.SetPrice(ctx, args[0], args[1], uint8(decimals))
		if err != nil {
			return reportRPCError(stderr, err)
		}
		fmt.Fprintf(stdout, "Updated feed %s to %s (decimals %d)\n", update.Feed, update.Price, update.Decimals)
		return 0
	}

	fmt.Fprintf(stderr, "Unknown command: %s\n", command)
	return 1
}

// keyFileArg returns the optional trailing keystore path argument.
func keyFileArg(args []string, index int) string {
	if len(args) > index {
		return args[index]
	}
	return defaultKeyFile
}

func reportRPCError(stderr io.Writer, err error) int {
	fmt.Fprintf(stderr, "Error from daemon: %v\n", err)
	return 1
}
