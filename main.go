package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/samber/do/v2"
	"github.com/vreid/baishi/internal/pkg/common"
	"github.com/vreid/baishi/internal/pkg/match"
	"github.com/vreid/baishi/internal/pkg/players"
	"github.com/vreid/baishi/internal/pkg/profile"
	"github.com/vreid/baishi/internal/pkg/recordkeeper"
	"github.com/vreid/baishi/internal/pkg/reporter"
	"github.com/vreid/baishi/internal/pkg/session"
	"github.com/vreid/baishi/internal/pkg/session/evm"
	"github.com/vreid/baishi/internal/pkg/session/sim"
	"github.com/vreid/baishi/internal/pkg/verifier"
	"go.uber.org/zap"

	"github.com/urfave/cli/v3"
)

const (
	networkSim = "sim"
	networkEVM = "evm"

	// hardhat account #0
	defaultOperatorKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

	eventBuffer = 1000

	simPlayerFunds   = "100"
	simOperatorFunds = "1000"
)

var (
	ErrUnknownNetwork  = errors.New("unknown network")
	ErrDeployNeedsEVM  = errors.New("deploy needs --network evm")
	ErrMissingContract = errors.New("contract address missing")
	ErrNegativeScore   = errors.New("score must not be negative")
)

type BaishiService struct {
	EchoService *common.EchoService `do:""`

	Orchestrator        *match.Orchestrator               `do:""`
	ProfileService      *profile.ProfileService           `do:""`
	RecordkeeperService *recordkeeper.RecordkeeperService `do:""`
	VerifierService     *verifier.VerifierService         `do:""`
}

type app struct {
	injector *do.RootScope
	logger   *zap.Logger
	service  *BaishiService
	session  session.Session
	operator session.Signer
	pool     []match.Player

	profileEvents *reporter.ChannelReporter
	recordEvents  *reporter.ChannelReporter
}

// drain closes the event channels and waits for the consumers to persist
// what was reported so far. Steps reported afterwards are dropped.
func (a *app) drain() {
	a.profileEvents.Close()
	a.recordEvents.Close()

	a.service.ProfileService.Wait()
	a.service.RecordkeeperService.Wait()
}

func (a *app) shutdown() {
	a.logger.Debug("shutting down")
	a.injector.Shutdown()
}

func provideSession(ctx context.Context, i do.Injector, cmd *cli.Command, operator session.Signer, pool []match.Player, entryFee *big.Int) (session.Session, error) {
	switch cmd.String("network") {
	case networkSim:
		genesis := map[string]*big.Int{}

		operatorFunds, err := common.ParseEther(simOperatorFunds)
		if err != nil {
			return nil, err
		}

		playerFunds, err := common.ParseEther(simPlayerFunds)
		if err != nil {
			return nil, err
		}

		genesis[operator.Address()] = operatorFunds
		for _, p := range pool {
			genesis[p.Address] = playerFunds
		}

		ledger := sim.New(sim.Options{
			Owner:        operator.Address(),
			EntryFee:     entryFee,
			Router:       cmd.String("router-address"),
			RewardEngine: cmd.String("reward-engine-address"),
			Genesis:      genesis,
		})

		do.ProvideNamedValue(i, "router-address", ledger.Router())
		do.ProvideNamedValue(i, "reward-engine-address", ledger.RewardEngine())
		do.ProvideValue[session.Session](i, ledger)

		return ledger, nil
	case networkEVM:
		//nolint:exhaustruct
		evmSession, err := evm.Dial(ctx, evm.Config{
			RPCURL:         cmd.String("rpc-url"),
			ChainID:        big.NewInt(int64(cmd.Int("chain-id"))),
			Router:         cmd.String("router-address"),
			RewardEngine:   cmd.String("reward-engine-address"),
			ReceiptTimeout: time.Duration(cmd.Int("receipt-timeout-seconds")) * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to network: %w", err)
		}

		do.ProvideNamedValue(i, "router-address", cmd.String("router-address"))
		do.ProvideNamedValue(i, "reward-engine-address", cmd.String("reward-engine-address"))
		do.ProvideValue(i, evmSession)
		do.ProvideValue[session.Session](i, evmSession)

		return evmSession, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownNetwork, cmd.String("network"))
	}
}

func newApp(ctx context.Context, cmd *cli.Command) (*app, error) {
	i := do.New()

	do.ProvideNamedValue(i, "log-level", cmd.String("log-level"))
	do.ProvideNamedValue(i, "data-dir", cmd.String("data-dir"))
	do.ProvideNamedValue(i, "port", cmd.Int("port"))

	do.Provide(i, common.NewLoggerService)
	do.Provide(i, common.NewDatabaseService)
	do.Provide(i, common.NewEchoService)

	loggerService, err := do.Invoke[*common.LoggerService](i)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	operator, err := evm.ParseKeySigner(cmd.String("private-key"))
	if err != nil {
		return nil, fmt.Errorf("failed to load operator key: %w", err)
	}

	do.ProvideNamedValue[session.Signer](i, "operator", operator)

	entryFee, err := common.ParseEther(cmd.String("entry-fee"))
	if err != nil {
		return nil, fmt.Errorf("invalid entry fee: %w", err)
	}

	var payoutValue *big.Int

	if cmd.String("payout-value") != "" {
		payoutValue, err = common.ParseEther(cmd.String("payout-value"))
		if err != nil {
			return nil, fmt.Errorf("invalid payout value: %w", err)
		}
	}

	do.ProvideNamedValue(i, "entry-fee", entryFee)
	do.ProvideNamedValue(i, "payout-value", payoutValue)

	pool, err := players.Load(cmd.String("players-file"))
	if err != nil {
		return nil, err //nolint:wrapcheck
	}

	do.ProvideNamedValue(i, "players", pool)

	s, err := provideSession(ctx, i, cmd, operator, pool, entryFee)
	if err != nil {
		return nil, err
	}

	profileEvents := make(chan match.StepEvent, eventBuffer)
	var profileSource <-chan match.StepEvent = profileEvents

	recordEvents := make(chan match.StepEvent, eventBuffer)
	var recordSource <-chan match.StepEvent = recordEvents

	do.ProvideNamedValue(i, "profile-events", profileSource)
	do.ProvideNamedValue(i, "record-events", recordSource)

	profileReporter := reporter.NewChannelReporter(profileEvents)
	recordReporter := reporter.NewChannelReporter(recordEvents)

	reporters := reporter.Multi{
		reporter.NewLogReporter(loggerService.Logger),
		profileReporter,
		recordReporter,
	}

	if addr := cmd.String("valkey-addr"); addr != "" {
		valkeyReporter, err := reporter.NewValkeyReporter(addr, loggerService.Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to valkey: %w", err)
		}

		do.ProvideValue(i, valkeyReporter)

		reporters = append(reporters, valkeyReporter)
	}

	do.ProvideValue[match.Reporter](i, reporters)

	do.Provide(i, match.NewOrchestrator)
	do.Provide(i, profile.NewProfileService)
	do.Provide(i, recordkeeper.NewRecordkeeperService)
	do.Provide(i, verifier.NewVerifierService)

	do.Provide(i, do.InvokeStruct[BaishiService])

	service, err := do.Invoke[BaishiService](i)
	if err != nil {
		return nil, fmt.Errorf("failed to create baishi service: %w", err)
	}

	result := &app{
		injector:      i,
		logger:        loggerService.Logger,
		service:       &service,
		session:       s,
		operator:      operator,
		pool:          pool,
		profileEvents: profileReporter,
		recordEvents:  recordReporter,
	}

	result.service.ProfileService.Start()
	result.service.RecordkeeperService.Start()

	return result, nil
}

func requireContracts(cmd *cli.Command) error {
	if cmd.String("network") != networkEVM {
		return nil
	}

	for _, name := range []string{"router-address", "reward-engine-address"} {
		if cmd.String(name) == "" {
			return fmt.Errorf("%w: --%s", ErrMissingContract, name)
		}
	}

	return nil
}

func runServer(ctx context.Context, cmd *cli.Command) error {
	err := requireContracts(cmd)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.shutdown()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	stopped := make(chan struct{})

	go func() {
		defer close(stopped)

		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second) //nolint:mnd
		defer cancel()

		err := a.service.EchoService.Shutdown(shutdownCtx)
		if err != nil {
			a.logger.Warn("failed to stop http server", zap.Error(err))
		}
	}()

	err = a.service.EchoService.Start()

	// Start returns as soon as Shutdown begins; in-flight handlers are
	// still reporting until Shutdown returns.
	stop()
	<-stopped

	a.drain()

	return err
}

func runSimulate(ctx context.Context, cmd *cli.Command) error {
	err := requireContracts(cmd)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.shutdown()

	m, err := a.service.Orchestrator.Run(ctx, a.pool)

	a.drain()

	if err != nil {
		fields := []zap.Field{zap.Error(err)}
		if m != nil {
			fields = append(fields, zap.String("match_id", m.ID), zap.Stringer("reached", m.Reached))
		}

		a.logger.Error("match failed", fields...)

		return err //nolint:wrapcheck
	}

	a.logger.Info("match complete",
		zap.String("match_id", m.ID),
		zap.String("match_handle", string(m.Handle)),
		zap.String("winner", m.Result.Winner.Address),
		zap.Uint64("score_a", m.Result.ScoreA),
		zap.Uint64("score_b", m.Result.ScoreB))

	return nil
}

func runBalance(ctx context.Context, cmd *cli.Command) error {
	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.shutdown()
	defer a.drain()

	address := cmd.String("address")
	if address == "" {
		address, err = a.session.CurrentAddress(ctx, a.operator)
		if err != nil {
			return err //nolint:wrapcheck
		}
	}

	balance, err := a.session.Balance(ctx, address)
	if err != nil {
		return err //nolint:wrapcheck
	}

	fmt.Printf("%s %s ETH\n", address, common.FormatEther(balance))

	return nil
}

func runDeploy(ctx context.Context, cmd *cli.Command) error {
	if cmd.String("network") != networkEVM {
		return ErrDeployNeedsEVM
	}

	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.shutdown()
	defer a.drain()

	evmSession, err := do.Invoke[*evm.Session](a.injector)
	if err != nil {
		return fmt.Errorf("failed to get evm session: %w", err)
	}

	artifact, err := evm.LoadArtifact(cmd.String("artifact"))
	if err != nil {
		return err //nolint:wrapcheck
	}

	address, err := evmSession.Deploy(ctx, artifact, a.operator)
	if err != nil {
		return err //nolint:wrapcheck
	}

	a.logger.Info("contract deployed",
		zap.String("artifact", cmd.String("artifact")),
		zap.String("address", address))

	fmt.Println(address)

	return nil
}

func scoreFlag(cmd *cli.Command, name string) (uint64, error) {
	score := cmd.Int(name)
	if score < 0 {
		return 0, fmt.Errorf("%w: --%s", ErrNegativeScore, name)
	}

	return uint64(score), nil
}

func runEndMatch(ctx context.Context, cmd *cli.Command) error {
	err := requireContracts(cmd)
	if err != nil {
		return err
	}

	scoreA, err := scoreFlag(cmd, "score-a")
	if err != nil {
		return err
	}

	scoreB, err := scoreFlag(cmd, "score-b")
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.shutdown()
	defer a.drain()

	_, err = a.service.Orchestrator.EndMatch(ctx, match.MatchHandle(cmd.String("handle")), scoreA, scoreB)

	return err //nolint:wrapcheck
}

func runPayout(ctx context.Context, cmd *cli.Command) error {
	err := requireContracts(cmd)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.shutdown()
	defer a.drain()

	winner := match.Player{Address: cmd.String("winner")}

	for _, p := range a.pool {
		if strings.EqualFold(p.Address, winner.Address) {
			winner = p
		}
	}

	_, err = a.service.Orchestrator.Payout(ctx, winner)

	return err //nolint:wrapcheck
}

func main() {
	//nolint:exhaustruct
	cmd := &cli.Command{
		Name:  "baishi",
		Usage: "run two-player wager matches against the game router",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "network",
				Value:   networkSim,
				Usage:   "sim or evm",
				Sources: cli.EnvVars("BAISHI_NETWORK"),
			},
			&cli.StringFlag{
				Name:    "rpc-url",
				Value:   "http://127.0.0.1:8545",
				Sources: cli.EnvVars("BAISHI_RPC_URL"),
			},
			&cli.IntFlag{
				Name:    "chain-id",
				Value:   1337, //nolint:mnd
				Sources: cli.EnvVars("BAISHI_CHAIN_ID"),
			},
			&cli.StringFlag{
				Name:    "private-key",
				Value:   defaultOperatorKey,
				Sources: cli.EnvVars("BAISHI_PRIVATE_KEY"),
			},
			&cli.StringFlag{
				Name:    "router-address",
				Sources: cli.EnvVars("GAMEROUTER_ADDRESS"),
			},
			&cli.StringFlag{
				Name:    "reward-engine-address",
				Sources: cli.EnvVars("REWARDENGINE_ADDRESS"),
			},
			&cli.StringFlag{
				Name:    "players-file",
				Value:   "./players.yaml",
				Sources: cli.EnvVars("BAISHI_PLAYERS_FILE"),
			},
			&cli.StringFlag{
				Name:    "entry-fee",
				Value:   "0.1",
				Usage:   "entry fee in ether",
				Sources: cli.EnvVars("BAISHI_ENTRY_FEE"),
			},
			&cli.StringFlag{
				Name:    "payout-value",
				Usage:   "payout in ether, twice the entry fee if empty",
				Sources: cli.EnvVars("BAISHI_PAYOUT_VALUE"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "info",
				Sources: cli.EnvVars("BAISHI_LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "data-dir",
				Value:   "./baishi/data",
				Sources: cli.EnvVars("BAISHI_DATA_DIR"),
			},
			&cli.IntFlag{
				Name:    "port",
				Value:   3000, //nolint:mnd
				Sources: cli.EnvVars("BAISHI_PORT"),
			},
			&cli.StringFlag{
				Name:    "valkey-addr",
				Sources: cli.EnvVars("BAISHI_VALKEY_ADDR"),
			},
			&cli.IntFlag{
				Name:    "receipt-timeout-seconds",
				Value:   120, //nolint:mnd
				Sources: cli.EnvVars("BAISHI_RECEIPT_TIMEOUT_SECONDS"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "server",
				Usage:  "serve the match API",
				Action: runServer,
			},
			{
				Name:   "simulate",
				Usage:  "play one match between two random players",
				Action: runSimulate,
			},
			{
				Name:  "balance",
				Usage: "print the balance of the operator or of --address",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name: "address",
					},
				},
				Action: runBalance,
			},
			{
				Name:  "deploy",
				Usage: "deploy a contract artifact signed by the operator",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "artifact",
						Required: true,
					},
				},
				Action: runDeploy,
			},
			{
				Name:  "end-match",
				Usage: "end a started match",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "handle",
						Required: true,
					},
					&cli.IntFlag{
						Name:     "score-a",
						Required: true,
					},
					&cli.IntFlag{
						Name:     "score-b",
						Required: true,
					},
				},
				Action: runEndMatch,
			},
			{
				Name:  "payout",
				Usage: "pay a winner from the reward engine",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "winner",
						Required: true,
					},
				},
				Action: runPayout,
			},
		},
		DefaultCommand: "server",
	}

	err := cmd.Run(context.Background(), os.Args)
	if err != nil {
		log.Fatal(err)
	}
}
