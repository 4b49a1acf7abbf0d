package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"evergreen/cmd/internal/passphrase"
	"evergreen/crypto"
	"evergreen/rpc"
)

const (
	keyPassEnv     = "EVERGREEN_KEY_PASS"
	defaultKeyFile = "wallet.key"
	tokenDecimals  = 6
	callTimeout    = 30 * time.Second
)

var (
	rpcEndpoint = defaultRPCEndpoint() // overridden by RPC_URL or --rpc

	// allowUnprotectedKey accepts keystores written with an empty passphrase.
	allowUnprotectedKey bool
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	args, err := applyGlobalFlags(args)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	if len(args) < 1 {
		printUsage(stdout)
		return 0
	}

	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	client := rpc.NewClient(rpcEndpoint)

	command, rest := args[0], args[1:]
	switch command {
	case "generate-key":
		path := defaultKeyFile
		if len(rest) > 0 {
			path = rest[0]
		}
		err = generateKey(stdout, path)
	case "address":
		if len(rest) < 1 {
			return usageError(stdout, stderr, "Please provide a key file.")
		}
		err = printAddress(stdout, rest[0])
	case "approve":
		if len(rest) < 2 {
			return usageError(stdout, stderr, "Please provide an amount and a key file.")
		}
		err = approve(ctx, stdout, client, rest[0], rest[1])
	case "transfer":
		if len(rest) < 3 {
			return usageError(stdout, stderr, "Please provide a recipient, an amount and a key file.")
		}
		err = transfer(ctx, stdout, client, rest[0], rest[1], rest[2])
	case "register":
		if len(rest) < 2 {
			return usageError(stdout, stderr, "Please provide a referrer address and a key file.")
		}
		err = register(ctx, stdout, client, rest[0], rest[1])
	case "buy":
		if len(rest) < 2 {
			return usageError(stdout, stderr, "Please provide a level and a key file.")
		}
		err = buyLevel(ctx, stdout, client, rest[0], rest[1])
	case "user":
		if len(rest) < 1 {
			return usageError(stdout, stderr, "Please provide an address.")
		}
		err = printResult(stdout, func() (interface{}, error) { return client.User(ctx, rest[0]) })
	case "node":
		if len(rest) < 2 {
			return usageError(stdout, stderr, "Please provide an address and a level.")
		}
		level, perr := parseLevel(rest[1])
		if perr != nil {
			err = perr
			break
		}
		err = printResult(stdout, func() (interface{}, error) { return client.Node(ctx, rest[0], level) })
	case "balance":
		if len(rest) < 1 {
			return usageError(stdout, stderr, "Please provide an address.")
		}
		err = getBalance(ctx, stdout, client, rest[0])
	case "levels":
		err = printLevels(ctx, stdout, client)
	case "stats":
		err = printResult(stdout, func() (interface{}, error) { return client.Stats(ctx) })
	case "info":
		err = printResult(stdout, func() (interface{}, error) { return client.Info(ctx) })
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", command)
		printUsage(stdout)
		return 1
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func usageError(stdout, stderr io.Writer, message string) int {
	fmt.Fprintln(stderr, "Error: "+message)
	printUsage(stdout)
	return 1
}

func defaultRPCEndpoint() string {
	if v := strings.TrimSpace(os.Getenv("RPC_URL")); v != "" {
		return v
	}
	return "http://localhost:8545"
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
		if arg == "--unprotected-key" {
			allowUnprotectedKey = true
			continue
		}
		out = append(out, arg)
	}
	return out, nil
}

func generateKey(stdout io.Writer, path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists; refusing to overwrite", path)
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, key.Bytes(), 0o600); err != nil {
		return fmt.Errorf("save key to %s: %w", path, err)
	}
	fmt.Fprintf(stdout, "Generated new key and saved to %s\n", path)
	fmt.Fprintf(stdout, "Your address is: %s\n", key.Address().Hex())
	return nil
}

// loadPrivateKey accepts a JSON keystore, a hex-encoded key or the raw key
// bytes written by generate-key.
func loadPrivateKey(path string) (*crypto.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("key file %s not found. run evergreen-cli generate-key first", path)
		}
		return nil, fmt.Errorf("read key file %s: %w", path, err)
	}
	if len(raw) == 32 {
		return crypto.PrivateKeyFromBytes(raw)
	}
	trimmed := bytes.TrimSpace(raw)
	switch {
	case len(trimmed) == 0:
		return nil, fmt.Errorf("key file %s is empty", path)
	case trimmed[0] == '{':
		source := passphrase.NewSource(keyPassEnv, "key file")
		if allowUnprotectedKey {
			source.AllowEmpty()
		}
		pass, err := source.Get()
		if err != nil {
			return nil, err
		}
		return crypto.LoadFromKeystore(path, pass)
	default:
		return crypto.PrivateKeyFromHex(string(trimmed))
	}
}

func printAddress(stdout io.Writer, keyFile string) error {
	key, err := loadPrivateKey(keyFile)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, key.Address().Hex())
	return nil
}

func approve(ctx context.Context, stdout io.Writer, client *rpc.Client, amount, keyFile string) error {
	key, err := loadPrivateKey(keyFile)
	if err != nil {
		return err
	}
	units, err := parseUnits(amount, tokenDecimals)
	if err != nil {
		return err
	}
	info, err := client.Info(ctx)
	if err != nil {
		return err
	}
	if err := client.Approve(ctx, key, info.Custody, units.String()); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Approved %s %s for custody %s\n", formatUnits(units, tokenDecimals), info.Token, info.Custody)
	return nil
}

func transfer(ctx context.Context, stdout io.Writer, client *rpc.Client, to, amount, keyFile string) error {
	key, err := loadPrivateKey(keyFile)
	if err != nil {
		return err
	}
	units, err := parseUnits(amount, tokenDecimals)
	if err != nil {
		return err
	}
	if err := client.Transfer(ctx, key, to, units.String()); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Sent %s to %s\n", formatUnits(units, tokenDecimals), to)
	return nil
}

func register(ctx context.Context, stdout io.Writer, client *rpc.Client, referrer, keyFile string) error {
	key, err := loadPrivateKey(keyFile)
	if err != nil {
		return err
	}
	price, err := levelPrice(ctx, client, 1)
	if err != nil {
		return err
	}
	receipt, err := client.Register(ctx, key, referrer, price)
	if err != nil {
		return err
	}
	return writeJSON(stdout, receipt)
}

func buyLevel(ctx context.Context, stdout io.Writer, client *rpc.Client, levelArg, keyFile string) error {
	level, err := parseLevel(levelArg)
	if err != nil {
		return err
	}
	key, err := loadPrivateKey(keyFile)
	if err != nil {
		return err
	}
	price, err := levelPrice(ctx, client, level)
	if err != nil {
		return err
	}
	receipt, err := client.BuyLevel(ctx, key, level, price)
	if err != nil {
		return err
	}
	return writeJSON(stdout, receipt)
}

func levelPrice(ctx context.Context, client *rpc.Client, level uint8) (string, error) {
	levels, err := client.Levels(ctx)
	if err != nil {
		return "", err
	}
	for _, lvl := range levels {
		if lvl.Level == level {
			return lvl.Price, nil
		}
	}
	return "", fmt.Errorf("level %d is not offered", level)
}

func getBalance(ctx context.Context, stdout io.Writer, client *rpc.Client, addr string) error {
	balance, err := client.Balance(ctx, addr)
	if err != nil {
		return err
	}
	amount, ok := new(big.Int).SetString(balance.Balance, 10)
	if !ok {
		return fmt.Errorf("node returned malformed balance %q", balance.Balance)
	}
	fmt.Fprintf(stdout, "%s: %s %s\n", balance.Address, formatUnits(amount, tokenDecimals), balance.Token)
	return nil
}

func printLevels(ctx context.Context, stdout io.Writer, client *rpc.Client) error {
	levels, err := client.Levels(ctx)
	if err != nil {
		return err
	}
	for _, lvl := range levels {
		price, ok := new(big.Int).SetString(lvl.Price, 10)
		if !ok {
			return fmt.Errorf("node returned malformed price %q", lvl.Price)
		}
		fmt.Fprintf(stdout, "  level %2d  price %10s  arity %d\n", lvl.Level, formatUnits(price, tokenDecimals), lvl.Arity)
	}
	return nil
}

func printResult(stdout io.Writer, fetch func() (interface{}, error)) error {
	result, err := fetch()
	if err != nil {
		return err
	}
	return writeJSON(stdout, result)
}

func writeJSON(stdout io.Writer, v interface{}) error {
	encoded, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, string(encoded))
	return nil
}

func parseLevel(value string) (uint8, error) {
	level, err := strconv.ParseUint(strings.TrimSpace(value), 10, 8)
	if err != nil || level == 0 {
		return 0, fmt.Errorf("invalid level %q", value)
	}
	return uint8(level), nil
}

// parseUnits converts a decimal token amount such as "2.5" into minor units.
func parseUnits(value string, decimals int) (*big.Int, error) {
	rat, ok := new(big.Rat).SetString(strings.TrimSpace(value))
	if !ok || rat.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	rat.Mul(rat, new(big.Rat).SetInt(scale))
	if !rat.IsInt() {
		return nil, errors.New("amount has more precision than the token supports")
	}
	return new(big.Int).Set(rat.Num()), nil
}

func formatUnits(amount *big.Int, decimals int) string {
	if amount == nil {
		return "0"
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	whole, frac := new(big.Int).QuoRem(amount, scale, new(big.Int))
	if frac.Sign() == 0 {
		return whole.String()
	}
	digits := frac.String()
	fraction := strings.TrimRight(strings.Repeat("0", decimals-len(digits))+digits, "0")
	return whole.String() + "." + fraction
}

func printUsage(stdout io.Writer) {
	fmt.Fprintln(stdout, "Usage: evergreen-cli [--rpc <url>] [--unprotected-key] <command> [arguments]")
	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, "Commands:")
	fmt.Fprintln(stdout, "  generate-key [key_file]            - Generates a new key (default wallet.key)")
	fmt.Fprintln(stdout, "  address <key_file>                 - Prints the address of a key file")
	fmt.Fprintln(stdout, "  approve <amount> <key_file>        - Lets the matrix custody pull up to amount")
	fmt.Fprintln(stdout, "  transfer <to> <amount> <key_file>  - Sends tokens to another address")
	fmt.Fprintln(stdout, "  register <referrer> <key_file>     - Joins the matrix under referrer")
	fmt.Fprintln(stdout, "  buy <level> <key_file>             - Buys the next level")
	fmt.Fprintln(stdout, "  user <address>                     - Shows a participant record")
	fmt.Fprintln(stdout, "  node <address> <level>             - Shows a placement node")
	fmt.Fprintln(stdout, "  balance <address>                  - Shows a token balance")
	fmt.Fprintln(stdout, "  levels                             - Lists level prices and arities")
	fmt.Fprintln(stdout, "  stats                              - Shows custody flows")
	fmt.Fprintln(stdout, "  info                               - Shows owner, custody and next id")
	fmt.Fprintln(stdout)
	fmt.Fprintf(stdout, "Keystore files read their passphrase from %s or prompt for it.\n", keyPassEnv)
	fmt.Fprintln(stdout, "Pass --unprotected-key to open a keystore written with an empty passphrase.")
}
