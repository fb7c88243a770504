package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/stakemint/facilitator/internal/eth"
	"github.com/stakemint/facilitator/internal/facilitator"
	"github.com/stakemint/facilitator/internal/gateway"
	"github.com/stakemint/facilitator/internal/proof"
	"github.com/stakemint/facilitator/internal/signerkey"
)

type declarePayload struct {
	Version     string `json:"version"`
	Direction   string `json:"direction"`
	Actor       string `json:"actor"`
	Amount      string `json:"amount"`
	Beneficiary string `json:"beneficiary"`
	Nonce       string `json:"nonce"`
	HashLock    string `json:"hashLock"`
	MessageHash string `json:"messageHash"`
	BlockNumber string `json:"blockNumber"`
	TxHash      string `json:"txHash"`
}

func main() {
	if err := runMain(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func runMain(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("stake-request", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	originRPCURL := fs.String("origin-rpc-url", "", "origin chain JSON-RPC URL")
	originChainID := fs.Uint64("origin-chain-id", 0, "origin chain id")
	auxRPCURL := fs.String("aux-rpc-url", "", "auxiliary chain JSON-RPC URL")
	auxChainID := fs.Uint64("aux-chain-id", 0, "auxiliary chain id")
	gatewayHex := fs.String("gateway-address", "", "origin Gateway contract address")
	coGatewayHex := fs.String("cogateway-address", "", "auxiliary CoGateway contract address")

	keyHex := fs.String("key-hex", "", "signer private key hex")
	keyFile := fs.String("key-file", "", "signer private key file (created if absent)")

	stakerHex := fs.String("staker", "", "staker address (default: signer address)")
	amountStr := fs.String("amount", "", "stake amount in token base units (decimal)")
	beneficiaryHex := fs.String("beneficiary", "", "auxiliary-chain beneficiary address")
	gasPriceStr := fs.String("gas-price", "0", "intent gas price (decimal)")
	gasLimitStr := fs.String("gas-limit", "0", "intent gas limit (decimal)")
	hashLockHex := fs.String("hash-lock", "", "32-byte hash lock (keccak of the unlock secret)")

	minTipGwei := fs.Int64("min-tip-gwei", 1, "minimum priority fee (gwei)")
	gasMult := fs.Float64("gas-mult", 1.2, "gas limit multiplier when estimating")
	pollInterval := fs.Duration("receipt-poll-interval", 2*time.Second, "receipt poll interval")
	timeout := fs.Duration("timeout", 3*time.Minute, "request timeout")
	outputPath := fs.String("output", "-", "output file path or '-' for stdout")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if !common.IsHexAddress(strings.TrimSpace(*gatewayHex)) {
		return errors.New("--gateway-address must be a valid hex address")
	}
	if !common.IsHexAddress(strings.TrimSpace(*coGatewayHex)) {
		return errors.New("--cogateway-address must be a valid hex address")
	}
	if !common.IsHexAddress(strings.TrimSpace(*beneficiaryHex)) {
		return errors.New("--beneficiary must be a valid hex address")
	}
	amount, err := parseDecimal(*amountStr)
	if err != nil {
		return fmt.Errorf("parse --amount: %w", err)
	}
	gasPrice, err := parseDecimal(*gasPriceStr)
	if err != nil {
		return fmt.Errorf("parse --gas-price: %w", err)
	}
	gasLimit, err := parseDecimal(*gasLimitStr)
	if err != nil {
		return fmt.Errorf("parse --gas-limit: %w", err)
	}
	hashLock, err := parseHash32(*hashLockHex)
	if err != nil {
		return fmt.Errorf("parse --hash-lock: %w", err)
	}
	if *timeout <= 0 {
		return errors.New("--timeout must be > 0")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	key, err := signerkey.Load(ctx, signerkey.Source{Hex: *keyHex, File: *keyFile}, nil)
	if err != nil {
		return err
	}
	signer := eth.NewLocalSigner(key)

	staker := signer.Address()
	if strings.TrimSpace(*stakerHex) != "" {
		if !common.IsHexAddress(strings.TrimSpace(*stakerHex)) {
			return errors.New("--staker must be a valid hex address")
		}
		staker = common.HexToAddress(strings.TrimSpace(*stakerHex))
	}

	origin, err := dialChain(ctx, *originRPCURL, *originChainID, signer, *minTipGwei, *gasMult, *pollInterval)
	if err != nil {
		return fmt.Errorf("origin chain: %w", err)
	}
	defer origin.Close()
	aux, err := dialChain(ctx, *auxRPCURL, *auxChainID, signer, *minTipGwei, *gasMult, *pollInterval)
	if err != nil {
		return fmt.Errorf("auxiliary chain: %w", err)
	}
	defer aux.Close()

	fac, err := buildFacilitator(origin, aux,
		common.HexToAddress(strings.TrimSpace(*gatewayHex)),
		common.HexToAddress(strings.TrimSpace(*coGatewayHex)))
	if err != nil {
		return err
	}

	res, err := fac.Stake(ctx, facilitator.StakeRequest{
		Staker:      staker,
		Amount:      amount,
		Beneficiary: common.HexToAddress(strings.TrimSpace(*beneficiaryHex)),
		GasPrice:    gasPrice,
		GasLimit:    gasLimit,
		HashLock:    hashLock,
	}, gateway.TxOptions{From: signer.Address()})
	if err != nil {
		return err
	}

	return writeOutput(stdout, *outputPath, declarePayload{
		Version:     "transfers.declared.v1",
		Direction:   "stake",
		Actor:       staker.Hex(),
		Amount:      amount.String(),
		Beneficiary: common.HexToAddress(strings.TrimSpace(*beneficiaryHex)).Hex(),
		Nonce:       res.Nonce.String(),
		HashLock:    hashLock.Hex(),
		MessageHash: res.MessageHash.Hex(),
		BlockNumber: res.BlockNumber.String(),
		TxHash:      res.TxHash.Hex(),
	})
}

// chain bundles one chain's connections: the raw RPC client feeds the proof
// generator, the ethclient feeds contract reads, the relayer feeds writes.
type chain struct {
	rpc     *rpc.Client
	client  *ethclient.Client
	relayer *eth.Relayer
}

func (c *chain) Close() { c.rpc.Close() }

func dialChain(ctx context.Context, rawURL string, chainID uint64, signer eth.Signer, minTipGwei int64, gasMult float64, pollInterval time.Duration) (*chain, error) {
	if strings.TrimSpace(rawURL) == "" {
		return nil, errors.New("rpc url is required")
	}
	if chainID == 0 {
		return nil, errors.New("chain id is required")
	}
	rc, err := rpc.DialContext(ctx, strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	client := ethclient.NewClient(rc)
	want := new(big.Int).SetUint64(chainID)
	got, err := client.ChainID(ctx)
	if err != nil {
		rc.Close()
		return nil, fmt.Errorf("fetch chain id: %w", err)
	}
	if got.Cmp(want) != 0 {
		rc.Close()
		return nil, fmt.Errorf("chain id mismatch: want=%s got=%s", want, got)
	}
	relayer, err := eth.NewRelayer(client, []eth.Signer{signer}, eth.RelayerConfig{
		ChainID:             want,
		GasLimitMultiplier:  gasMult,
		MinTipCap:           new(big.Int).Mul(big.NewInt(minTipGwei), big.NewInt(1_000_000_000)),
		ReceiptPollInterval: pollInterval,
	})
	if err != nil {
		rc.Close()
		return nil, fmt.Errorf("init relayer: %w", err)
	}
	return &chain{rpc: rc, client: client, relayer: relayer}, nil
}

func buildFacilitator(origin, aux *chain, gatewayAddr, coGatewayAddr common.Address) (*facilitator.Facilitator, error) {
	gw, err := gateway.NewGateway(gatewayAddr, origin.client, origin.relayer)
	if err != nil {
		return nil, fmt.Errorf("init gateway client: %w", err)
	}
	cogw, err := gateway.NewCoGateway(coGatewayAddr, aux.client, aux.relayer)
	if err != nil {
		return nil, fmt.Errorf("init cogateway client: %w", err)
	}
	originProofs, err := proof.NewGenerator(origin.rpc)
	if err != nil {
		return nil, fmt.Errorf("init origin proof generator: %w", err)
	}
	auxProofs, err := proof.NewGenerator(aux.rpc)
	if err != nil {
		return nil, fmt.Errorf("init auxiliary proof generator: %w", err)
	}
	proofs, err := proof.NewMux(map[common.Address]proof.Provider{
		gatewayAddr:   originProofs,
		coGatewayAddr: auxProofs,
	})
	if err != nil {
		return nil, fmt.Errorf("init proof mux: %w", err)
	}
	return facilitator.New(facilitator.Config{
		Origin:    gw,
		Auxiliary: cogw,
		Proofs:    proofs,
		Logger:    slog.New(slog.NewTextHandler(os.Stderr, nil)),
	})
}

func writeOutput(stdout io.Writer, outputPath string, payload any) error {
	encoded, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	encoded = append(encoded, '\n')

	if strings.TrimSpace(outputPath) == "" || outputPath == "-" {
		_, err := stdout.Write(encoded)
		return err
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(outputPath, encoded, 0o644)
}

func parseDecimal(raw string) (*big.Int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("value is required")
	}
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("invalid decimal value %q", raw)
	}
	if v.Sign() < 0 {
		return nil, errors.New("value must not be negative")
	}
	return v, nil
}

func parseHash32(raw string) (common.Hash, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "0x")
	raw = strings.TrimPrefix(raw, "0X")
	b, err := hex.DecodeString(raw)
	if err != nil {
		return common.Hash{}, err
	}
	if len(b) != 32 {
		return common.Hash{}, fmt.Errorf("hex length mismatch: got=%d want=32", len(b))
	}
	return common.BytesToHash(b), nil
}
