package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"zusd/cmd/internal/passphrase"
	"zusd/crypto"
	sdk "zusd/sdk/zusd"
)

const (
	keystorePassEnv = "ZUSD_KEYSTORE_PASS"
	rpcTokenEnv     = "ZUSD_RPC_TOKEN"
	defaultKeyFile  = "wallet.keystore"
)

var rpcEndpoint = defaultRPCEndpoint() // Defaults to localhost, can be overridden via ZUSD_RPC_URL or --rpc
var rpcAuthToken = os.Getenv(rpcTokenEnv)

func main() {
	args, err := applyGlobalFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	os.Exit(run(args, os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		printUsage(stderr)
		return 1
	}

	command, rest := args[0], args[1:]
	switch command {
	case "generate-key":
		return runGenerateKey(rest, stdout, stderr)
	case "deposit", "mint", "deposit-and-mint", "redeem", "burn", "redeem-for-zusd", "liquidate", "set-price":
		return runVaultWrite(command, rest, stdout, stderr)
	case "account", "position", "health", "assets", "balance":
		return runVaultRead(command, rest, stdout, stderr)
	case "help", "-h", "--help":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", command)
		printUsage(stderr)
		return 1
	}
}

func defaultRPCEndpoint() string {
	if v := strings.TrimSpace(os.Getenv("ZUSD_RPC_URL")); v != "" {
		return v
	}
	return "http://127.0.0.1:8645"
}

func applyGlobalFlags(args []string) ([]string, error) {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--rpc" {
			if i+1 >= len(args) {
				return nil, fmt.Errorf("missing value for --rpc")
			}
			rpcEndpoint = args[i+1]
			i++
			continue
		}
		if strings.HasPrefix(arg, "--rpc=") {
			rpcEndpoint = strings.TrimPrefix(arg, "--rpc=")
			continue
		}
		out = append(out, arg)
	}
	return out, nil
}

func newClient() (*sdk.Client, error) {
	return sdk.New(sdk.Config{URL: rpcEndpoint, AuthToken: rpcAuthToken})
}

// requireAuthToken guards the mutating commands up front so the operator sees
// a clear message instead of the daemon's unauthorized error.
func requireAuthToken() error {
	if strings.TrimSpace(rpcAuthToken) == "" {
		return fmt.Errorf("this command mutates vault state and requires %s to be set", rpcTokenEnv)
	}
	return nil
}

func runGenerateKey(args []string, stdout, stderr io.Writer) int {
	path := defaultKeyFile
	if len(args) > 0 && strings.TrimSpace(args[0]) != "" {
		path = args[0]
	}
	if _, err := os.Stat(path); err == nil {
		fmt.Fprintf(stderr, "Refusing to overwrite existing keystore %s; move it aside first.\n", path)
		return 1
	}

	pass, err := passphrase.NewConfirmedSource(keystorePassEnv).Get()
	if err != nil {
		fmt.Fprintf(stderr, "Error resolving passphrase: %v\n", err)
		return 1
	}
	_, addr, err := crypto.GenerateToKeystore(path, pass)
	if err != nil {
		fmt.Fprintf(stderr, "Error generating key: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "Generated new key and saved to %s\n", path)
	fmt.Fprintf(stdout, "Your account address is: %s\n", addr.String())
	fmt.Fprintln(stdout, "Store the keystore and passphrase securely; vault commands derive the sender address from them.")
	return 0
}

// loadKeyAddress unlocks the keystore and returns the bech32 account address
// the vault operations act on behalf of.
func loadKeyAddress(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		path = defaultKeyFile
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("keystore %s not found; run zusd-cli generate-key first", path)
		}
		return "", err
	}
	pass, err := passphrase.NewSource(keystorePassEnv).Get()
	if err != nil {
		return "", err
	}
	key, err := crypto.LoadFromKeystore(path, pass)
	if err != nil {
		return "", fmt.Errorf("unlock keystore %s: %w", path, err)
	}
	return key.PubKey().Address().String(), nil
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: zusd-cli [--rpc <url>] <command> [arguments]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Key management:")
	fmt.Fprintln(w, "  generate-key [file]                                  Create a passphrase-protected keystore (default wallet.keystore)")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Vault operations (require "+rpcTokenEnv+"):")
	fmt.Fprintln(w, "  deposit <asset> <amount> [keyfile]                   Lock collateral in the vault")
	fmt.Fprintln(w, "  mint <amount> [keyfile]                              Mint ZUSD against deposited collateral")
	fmt.Fprintln(w, "  deposit-and-mint <asset> <amount> <mint> [keyfile]   Deposit collateral and mint in one step")
	fmt.Fprintln(w, "  redeem <asset> <amount> [keyfile]                    Withdraw collateral")
	fmt.Fprintln(w, "  burn <amount> [keyfile]                              Burn ZUSD to reduce debt")
	fmt.Fprintln(w, "  redeem-for-zusd <asset> <amount> <burn> [keyfile]    Burn ZUSD and withdraw collateral atomically")
	fmt.Fprintln(w, "  liquidate <target> <asset> <debtToCover> [keyfile]   Repay an unhealthy account's debt for discounted collateral")
	fmt.Fprintln(w, "  set-price <feed> <price> <decimals>                  Push a manual oracle price (operator)")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Queries:")
	fmt.Fprintln(w, "  account <address>                                    Debt, collateral value and health factor")
	fmt.Fprintln(w, "  position <address>                                   Full position with per-asset collateral")
	fmt.Fprintln(w, "  health <address>                                     Health factor only")
	fmt.Fprintln(w, "  assets                                               Approved collateral assets and prices")
	fmt.Fprintln(w, "  balance <address> [asset]                            Token balance (default ZUSD)")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Amounts are base-unit integers (18 decimals unless the asset says otherwise).")
}
