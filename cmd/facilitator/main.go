package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stakemint/facilitator/internal/eth"
	"github.com/stakemint/facilitator/internal/events"
	"github.com/stakemint/facilitator/internal/facilitator"
	"github.com/stakemint/facilitator/internal/gateway"
	"github.com/stakemint/facilitator/internal/leases"
	leasespg "github.com/stakemint/facilitator/internal/leases/postgres"
	"github.com/stakemint/facilitator/internal/proof"
	"github.com/stakemint/facilitator/internal/proofvault"
	"github.com/stakemint/facilitator/internal/queue"
	"github.com/stakemint/facilitator/internal/secrets"
	"github.com/stakemint/facilitator/internal/signerkey"
	"github.com/stakemint/facilitator/internal/transfer"
	transferpg "github.com/stakemint/facilitator/internal/transfer/postgres"
	"github.com/stakemint/facilitator/internal/transfercoordinator"
)

var (
	originRPCURL  = flag.String("origin-rpc-url", "", "origin chain JSON-RPC URL (required)")
	originChainID = flag.Uint64("origin-chain-id", 0, "origin chain id (required)")
	auxRPCURL     = flag.String("aux-rpc-url", "", "auxiliary chain JSON-RPC URL (required)")
	auxChainID    = flag.Uint64("aux-chain-id", 0, "auxiliary chain id (required)")
	gatewayHex    = flag.String("gateway-address", "", "origin Gateway contract address (required)")
	coGatewayHex  = flag.String("cogateway-address", "", "auxiliary CoGateway contract address (required)")
	boxIndex      = flag.Uint64("message-box-index", 0, "gateway message box storage index; 0 selects the contract default")

	keyHex        = flag.String("key-hex", "", "signer private key hex")
	keyFile       = flag.String("key-file", "", "signer private key file (created if absent)")
	keySecretName = flag.String("key-secret-name", "", "secrets-provider name holding the signer key hex")
	secretsDriver = flag.String("secrets-provider", "env", "secrets provider for --key-secret-name (env|aws)")

	postgresDSN = flag.String("postgres-dsn", "", "Postgres DSN for job and lease stores; empty selects in-memory stores")

	queueDriver    = flag.String("queue-driver", queue.DriverKafka, "queue driver (kafka|stdio)")
	queueBrokers   = flag.String("queue-brokers", "", "queue brokers (comma-separated, kafka driver)")
	queueGroup     = flag.String("queue-group", "facilitator", "kafka consumer group")
	requestTopic   = flag.String("request-topic", "transfers.request.v1", "queue topic carrying transfer request events")
	progressTopic  = flag.String("progress-topic", "transfers.progress.v1", "queue topic carrying progress (secret reveal) events")
	lifecycleTopic = flag.String("lifecycle-topic", "messages.lifecycle.v1", "queue topic for lifecycle events; empty disables publishing")
	maxLineBytes   = flag.Int("max-line-bytes", 1<<20, "maximum stdin line size (stdio driver)")

	vaultDriver = flag.String("vault-driver", proofvault.DriverMemory, "proof vault driver (memory|s3)")
	vaultBucket = flag.String("vault-bucket", "", "S3 bucket for the proof vault (s3 driver)")
	vaultPrefix = flag.String("vault-prefix", "proofs", "key prefix inside the proof vault")

	minTipGwei   = flag.Int64("min-tip-gwei", 1, "minimum priority fee (gwei)")
	gasMult      = flag.Float64("gas-mult", 1.2, "gas limit multiplier when estimating")
	pollInterval = flag.Duration("receipt-poll-interval", 2*time.Second, "receipt poll interval")

	owner        = flag.String("owner", "", "claim owner id (default: signer address)")
	tickInterval = flag.Duration("tick-interval", 15*time.Second, "coordinator tick interval")
	claimTTL     = flag.Duration("claim-ttl", 2*time.Minute, "job claim lease TTL")
	claimLimit   = flag.Int("claim-limit", 16, "maximum jobs claimed per tick")

	leaderElection = flag.Bool("leader-election", false, "enable lease-based leader election")
	leaderLeaseTTL = flag.Duration("leader-lease-ttl", 30*time.Second, "leader lease TTL")
)

func main() {
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if *originRPCURL == "" || *originChainID == 0 || *auxRPCURL == "" || *auxChainID == 0 {
		fmt.Fprintln(os.Stderr, "error: --origin-rpc-url, --origin-chain-id, --aux-rpc-url, and --aux-chain-id are required")
		os.Exit(2)
	}
	if !common.IsHexAddress(*gatewayHex) || !common.IsHexAddress(*coGatewayHex) {
		fmt.Fprintln(os.Stderr, "error: --gateway-address and --cogateway-address must be valid hex addresses")
		os.Exit(2)
	}
	if *queueDriver == queue.DriverKafka && strings.TrimSpace(*queueBrokers) == "" {
		fmt.Fprintln(os.Stderr, "error: --queue-brokers is required with the kafka driver")
		os.Exit(2)
	}
	if *requestTopic == "" || *progressTopic == "" {
		fmt.Fprintln(os.Stderr, "error: --request-topic and --progress-topic must be non-empty")
		os.Exit(2)
	}
	if *vaultDriver == proofvault.DriverS3 && strings.TrimSpace(*vaultBucket) == "" {
		fmt.Fprintln(os.Stderr, "error: --vault-bucket is required with the s3 vault driver")
		os.Exit(2)
	}
	if *tickInterval <= 0 || *claimTTL <= 0 || *claimLimit <= 0 {
		fmt.Fprintln(os.Stderr, "error: --tick-interval, --claim-ttl, and --claim-limit must be > 0")
		os.Exit(2)
	}
	if *leaderElection && *leaderLeaseTTL <= 0 {
		fmt.Fprintln(os.Stderr, "error: --leader-lease-ttl must be > 0")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startupCtx, cancelStartup := context.WithTimeout(ctx, 30*time.Second)
	defer cancelStartup()

	var provider secrets.Provider
	switch strings.TrimSpace(strings.ToLower(*secretsDriver)) {
	case "env":
		provider = secrets.NewEnv()
	case "aws":
		p, err := secrets.NewAWS(startupCtx)
		if err != nil {
			log.Error("init aws secrets provider", "err", err)
			os.Exit(2)
		}
		provider = p
	default:
		fmt.Fprintln(os.Stderr, "error: --secrets-provider must be env or aws")
		os.Exit(2)
	}

	key, err := signerkey.Load(startupCtx, signerkey.Source{
		Hex:        *keyHex,
		File:       *keyFile,
		SecretName: *keySecretName,
	}, provider)
	if err != nil {
		log.Error("load signer key", "err", err)
		os.Exit(2)
	}
	signer := eth.NewLocalSigner(key)

	ownerID := strings.TrimSpace(*owner)
	if ownerID == "" {
		ownerID = signerkey.OwnerID(key)
	}

	origin, err := dialChain(startupCtx, *originRPCURL, *originChainID, signer)
	if err != nil {
		log.Error("origin chain", "err", err)
		os.Exit(1)
	}
	defer origin.Close()
	aux, err := dialChain(startupCtx, *auxRPCURL, *auxChainID, signer)
	if err != nil {
		log.Error("auxiliary chain", "err", err)
		os.Exit(1)
	}
	defer aux.Close()

	gatewayAddr := common.HexToAddress(*gatewayHex)
	coGatewayAddr := common.HexToAddress(*coGatewayHex)

	gw, err := gateway.NewGateway(gatewayAddr, origin.client, origin.relayer)
	if err != nil {
		log.Error("init gateway client", "err", err)
		os.Exit(2)
	}
	cogw, err := gateway.NewCoGateway(coGatewayAddr, aux.client, aux.relayer)
	if err != nil {
		log.Error("init cogateway client", "err", err)
		os.Exit(2)
	}

	originProofs, err := proof.NewGenerator(origin.rpc)
	if err != nil {
		log.Error("init origin proof generator", "err", err)
		os.Exit(2)
	}
	auxProofs, err := proof.NewGenerator(aux.rpc)
	if err != nil {
		log.Error("init auxiliary proof generator", "err", err)
		os.Exit(2)
	}
	proofs, err := proof.NewMux(map[common.Address]proof.Provider{
		gatewayAddr:   originProofs,
		coGatewayAddr: auxProofs,
	})
	if err != nil {
		log.Error("init proof mux", "err", err)
		os.Exit(2)
	}

	vaultCfg := proofvault.Config{
		Driver: *vaultDriver,
		Prefix: *vaultPrefix,
		Bucket: *vaultBucket,
	}
	if *vaultDriver == proofvault.DriverS3 {
		awsCfg, err := awsconfig.LoadDefaultConfig(startupCtx)
		if err != nil {
			log.Error("load aws config", "err", err)
			os.Exit(2)
		}
		vaultCfg.S3Client = awss3.NewFromConfig(awsCfg)
	}
	vault, err := proofvault.New(vaultCfg)
	if err != nil {
		log.Error("init proof vault", "err", err)
		os.Exit(2)
	}

	fac, err := facilitator.New(facilitator.Config{
		Origin:          gw,
		Auxiliary:       cogw,
		Proofs:          proofs,
		Vault:           vault,
		MessageBoxIndex: *boxIndex,
		Logger:          log,
	})
	if err != nil {
		log.Error("init facilitator", "err", err)
		os.Exit(2)
	}

	var (
		jobStore   transfer.Store
		leaseStore leases.Store
	)
	if strings.TrimSpace(*postgresDSN) != "" {
		pool, err := pgxpool.New(ctx, *postgresDSN)
		if err != nil {
			log.Error("init pgx pool", "err", err)
			os.Exit(2)
		}
		defer pool.Close()

		store, err := transferpg.New(pool)
		if err != nil {
			log.Error("init transfer store", "err", err)
			os.Exit(2)
		}
		if err := store.EnsureSchema(ctx); err != nil {
			log.Error("ensure transfer schema", "err", err)
			os.Exit(2)
		}
		jobStore = store

		if *leaderElection {
			ls, err := leasespg.New(pool)
			if err != nil {
				log.Error("init lease store", "err", err)
				os.Exit(2)
			}
			if err := ls.EnsureSchema(ctx); err != nil {
				log.Error("ensure lease schema", "err", err)
				os.Exit(2)
			}
			leaseStore = ls
		}
	} else {
		log.Warn("using in-memory stores; job state resets on restart")
		jobStore = transfer.NewMemoryStore()
		if *leaderElection {
			leaseStore = leases.NewMemoryStore(time.Now)
		}
	}

	coord, err := transfercoordinator.New(transfercoordinator.Config{
		Owner:      ownerID,
		ClaimTTL:   *claimTTL,
		ClaimLimit: *claimLimit,
		OriginFrom: signer.Address(),
		AuxFrom:    signer.Address(),
	}, jobStore, fac, cogw, log)
	if err != nil {
		log.Error("init coordinator", "err", err)
		os.Exit(2)
	}

	if strings.TrimSpace(*lifecycleTopic) != "" {
		producer, err := queue.NewProducer(queue.ProducerConfig{
			Driver:  *queueDriver,
			Brokers: queue.SplitCommaList(*queueBrokers),
			Writer:  os.Stdout,
		})
		if err != nil {
			log.Error("init lifecycle producer", "err", err)
			os.Exit(2)
		}
		defer producer.Close()
		coord.WithPublisher(producer, *lifecycleTopic)
	}

	var elector *transfercoordinator.LeaderElector
	if *leaderElection {
		elector, err = transfercoordinator.NewLeaderElector(
			leaseStore, leases.FacilitatorLeaseName(gatewayAddr, coGatewayAddr), ownerID, *leaderLeaseTTL)
		if err != nil {
			log.Error("init leader elector", "err", err)
			os.Exit(2)
		}
	}

	consumer, err := queue.NewConsumer(ctx, queue.ConsumerConfig{
		Driver:       *queueDriver,
		Brokers:      queue.SplitCommaList(*queueBrokers),
		Group:        *queueGroup,
		Topics:       []string{*requestTopic, *progressTopic},
		Reader:       os.Stdin,
		MaxLineBytes: *maxLineBytes,
	})
	if err != nil {
		log.Error("init queue consumer", "err", err)
		os.Exit(2)
	}
	defer consumer.Close()

	log.Info("facilitator started",
		"owner", ownerID,
		"gateway", gatewayAddr,
		"cogateway", coGatewayAddr,
		"originChainID", *originChainID,
		"auxChainID", *auxChainID,
		"tickInterval", tickInterval.String(),
		"claimTTL", claimTTL.String(),
		"queueDriver", *queueDriver,
		"vaultDriver", *vaultDriver,
		"leaderElection", *leaderElection,
	)

	t := time.NewTicker(*tickInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("shutdown", "reason", ctx.Err())
			return

		case err := <-consumer.Errors():
			if err != nil {
				log.Error("queue consumer error", "err", err)
				os.Exit(1)
			}
			return

		case <-t.C:
			if elector != nil {
				leader, err := elector.Tick(ctx)
				if err != nil {
					log.Error("leader election tick", "err", err)
					continue
				}
				if !leader {
					continue
				}
			}

			if err := coord.Tick(ctx); err != nil {
				log.Error("tick", "err", err)
			}

		case msg, ok := <-consumer.Messages():
			if !ok {
				log.Info("queue consumer closed")
				return
			}
			handleMessage(ctx, log, coord, msg)
		}
	}
}

func handleMessage(ctx context.Context, log *slog.Logger, coord *transfercoordinator.Coordinator, msg queue.Message) {
	payload, err := events.Decode(msg.Value)
	if err != nil {
		// Unknown versions stay in the stream for newer consumers; malformed
		// payloads of a known version are dropped after logging.
		log.Error("decode queue payload", "topic", msg.Topic, "err", err)
		ackMessage(ctx, log, msg)
		return
	}

	cctx, cancel := withTimeout(ctx, 5*time.Second)
	defer cancel()

	switch p := payload.(type) {
	case events.TransferRequestV1:
		req, secret, err := p.Request()
		if err != nil {
			log.Error("invalid transfer request", "requestId", p.RequestID, "err", err)
			ackMessage(ctx, log, msg)
			return
		}
		if err := coord.IngestRequest(cctx, req, secret); err != nil {
			log.Error("ingest transfer request", "requestId", p.RequestID, "err", err)
			if !errors.Is(err, transfercoordinator.ErrSecretMismatch) {
				return // leave unacked; redelivery retries transient store failures
			}
		}
	case events.TransferProgressV1:
		if err := coord.IngestProgress(cctx, p); err != nil {
			log.Error("ingest progress", "requestId", p.RequestID, "messageHash", p.MessageHash, "err", err)
			if !errors.Is(err, transfercoordinator.ErrSecretMismatch) && !errors.Is(err, transfer.ErrNotFound) {
				return
			}
		}
	default:
		log.Error("unhandled payload type", "topic", msg.Topic)
	}

	ackMessage(ctx, log, msg)
}

func ackMessage(ctx context.Context, log *slog.Logger, msg queue.Message) {
	ackCtx, cancel := withTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := msg.Ack(ackCtx); err != nil {
		log.Error("ack queue message", "topic", msg.Topic, "err", err)
	}
}

type chain struct {
	rpc     *rpc.Client
	client  *ethclient.Client
	relayer *eth.Relayer
}

func (c *chain) Close() { c.rpc.Close() }

func dialChain(ctx context.Context, rawURL string, chainID uint64, signer eth.Signer) (*chain, error) {
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
		GasLimitMultiplier:  *gasMult,
		MinTipCap:           new(big.Int).Mul(big.NewInt(*minTipGwei), big.NewInt(1_000_000_000)),
		ReceiptPollInterval: *pollInterval,
	})
	if err != nil {
		rc.Close()
		return nil, fmt.Errorf("init relayer: %w", err)
	}
	return &chain{rpc: rc, client: client, relayer: relayer}, nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < d {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
