package cli

import (
	"context"
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/relaydesk/relaydesk/internal/agentpool"
	"github.com/relaydesk/relaydesk/internal/ai"
	"github.com/relaydesk/relaydesk/internal/config"
	"github.com/relaydesk/relaydesk/internal/coord"
	"github.com/relaydesk/relaydesk/internal/dispatch"
	"github.com/relaydesk/relaydesk/internal/events"
	"github.com/relaydesk/relaydesk/internal/gateway"
	"github.com/relaydesk/relaydesk/internal/intent"
	"github.com/relaydesk/relaydesk/internal/logging"
	"github.com/relaydesk/relaydesk/internal/priority"
	"github.com/relaydesk/relaydesk/internal/queue"
	"github.com/relaydesk/relaydesk/internal/ratelimit"
	"github.com/relaydesk/relaydesk/internal/session"
	"github.com/relaydesk/relaydesk/internal/sla"
	"github.com/relaydesk/relaydesk/internal/store"
	"github.com/relaydesk/relaydesk/internal/ticket"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var (
		port int
		bind string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the relaydesk server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(paths.Config)
			if err != nil {
				return err
			}

			if port != 0 {
				cfg.Gateway.Port = port
			}
			if bind != "" {
				cfg.Gateway.Bind = bind
			}

			issues := config.Validate(&cfg)
			if len(issues) > 0 {
				for _, issue := range issues {
					log.Error().Str("path", issue.Path).Msg(issue.Message)
				}
				return fmt.Errorf("config validation failed with %d issue(s)", len(issues))
			}

			// The --log-level flag wins over the config file.
			if logLevel == "" {
				log = logging.New(nil, cfg.Logging.Level, cfg.Logging.Style)
			}

			// Block until SIGINT/SIGTERM
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			// Shared state lives in Redis when reachable. Without it a
			// single instance still works on in-memory backends.
			var (
				counter  ratelimit.Counter
				sessions session.Store
				inbox    queue.Queue
				poolSt   agentpool.PoolStore
			)
			rc, err := coord.Connect(cfg.Redis, log)
			if err != nil {
				log.Warn().Err(err).Msg("redis unavailable, falling back to in-memory backends")
				counter = ratelimit.NewMemoryCounter()
				sessions = session.NewMemoryStore()
				inbox = queue.NewMemoryQueue()
				poolSt = agentpool.NewMemoryStore()
			} else {
				defer rc.Close()
				counter = ratelimit.NewRedisCounter(rc)
				sessions = session.NewRedisStore(rc)
				inbox = queue.NewRedisQueue(rc)
				poolSt = agentpool.NewRedisStore(rc)
				log.Info().Str("addr", cfg.Redis.Addr).Msg("using redis backends")
			}

			// Ticket persistence (SQLite or in-memory)
			var (
				tickets ticket.Store
				roster  dispatch.Roster
			)
			if cfg.Store.Backend == "sqlite" {
				dbPath := cfg.Store.Path
				if dbPath == "" {
					dbPath = filepath.Join(paths.Data, "relaydesk.db")
				}
				db, err := store.Open(dbPath, log)
				if err != nil {
					return fmt.Errorf("opening database: %w", err)
				}
				defer db.Close()
				tickets = store.NewTicketStore(db)
				roster = store.NewAgentStore(db)
				log.Info().Str("path", dbPath).Msg("using SQLite ticket store")
			} else {
				tickets = ticket.NewMemoryStore()
				log.Info().Msg("using in-memory ticket store")
			}

			responder, err := ai.New(cfg.AI)
			if err != nil {
				return fmt.Errorf("initializing responder: %w", err)
			}

			ticketSvc := ticket.NewService(tickets, priority.NewEngine(cfg.SLA), log)
			pool := agentpool.New(poolSt, log)
			router := events.NewRouter(log)
			emitter := events.NewEmitter(router)

			d := dispatch.New(dispatch.Options{
				Limiter:             ratelimit.New(counter, cfg.Limits, log),
				Sessions:            session.NewManager(sessions, cfg.Session, log),
				Inbox:               inbox,
				Intents:             intent.NewKeywordClassifier(nil, nil),
				Responder:           responder,
				Tickets:             ticketSvc,
				Pool:                pool,
				Assigner:            agentpool.NewAssigner(cfg.Assignment),
				Emitter:             emitter,
				Roster:              roster,
				ConfidenceThreshold: cfg.AI.ConfidenceThreshold,
			}, log)

			// Reclaim tickets from agents that stop heartbeating, then
			// try to place them with someone else.
			monitor := agentpool.NewMonitor(pool, ticketSvc, cfg.Heartbeat, log)
			monitor.OnReturned = d.OnTicketReturned
			go monitor.Run(ctx)

			sweeper := sla.NewSweeper(tickets, emitter, cfg.SLA, log)
			go sweeper.Run(ctx)

			srv := gateway.New(cfg, d, router, log)
			return srv.Start(ctx)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "port to listen on (overrides config)")
	cmd.Flags().StringVar(&bind, "bind", "", "bind mode: loopback, lan, auto, or custom (overrides config)")

	return cmd
}
