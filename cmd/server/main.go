// Command server runs the VAP backend: the REST and websocket API plus
// the background planes (chain indexer, endpoint verifier, webhook
// dispatch, hold queue sweeper, storage retention).
package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq" // Postgres driver
	"golang.org/x/sync/errgroup"

	"github.com/vap/backend/internal/api"
	"github.com/vap/backend/internal/auth"
	"github.com/vap/backend/internal/chain"
	"github.com/vap/backend/internal/chat"
	"github.com/vap/backend/internal/config"
	"github.com/vap/backend/internal/endpoints"
	"github.com/vap/backend/internal/files"
	"github.com/vap/backend/internal/holdqueue"
	"github.com/vap/backend/internal/indexer"
	"github.com/vap/backend/internal/jobs"
	"github.com/vap/backend/internal/nonce"
	"github.com/vap/backend/internal/reputation"
	"github.com/vap/backend/internal/safechat"
	"github.com/vap/backend/internal/sigverify"
	"github.com/vap/backend/internal/store"
	"github.com/vap/backend/internal/trust"
	"github.com/vap/backend/internal/webhooks"
)

func main() {
	logger := log.New(log.Writer(), "[SERVER] ", log.LstdFlags)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("config: %v", err)
	}

	st, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("store: %v", err)
	}
	defer st.Close()

	chainClient := chain.NewClient(cfg.RPCHost, cfg.RPCUser, cfg.RPCPass)

	nonces, err := nonce.New(st, cfg.RedisURL)
	if err != nil {
		logger.Fatalf("nonce store: %v", err)
	}
	verifier := sigverify.New(chainClient, nonces)

	scanner, err := buildScanner(cfg)
	if err != nil {
		logger.Fatalf("safechat: %v", err)
	}
	scorer := safechat.NewSessionScorer()

	dispatcher := webhooks.NewDispatcher(st, cfg.WebhookEncryptionKey, cfg.Tuning.WebhookWorkers)
	notifier := webhooks.NewNotifier(st, dispatcher)

	machine := jobs.New(st, chainClient, verifier, notifier, cfg.FeeAddress)

	authSvc := auth.New(st, chainClient, cfg.CookieSecret, cfg.SigningID, cfg.PublicURL, cfg.Production())

	// The hold queue broadcasts released messages through the hub, and
	// the hub routes held messages back into the queue. The relay breaks
	// the construction cycle.
	relay := &hubRelay{}
	hold := holdqueue.New(st, relay, notifier)
	hub := chat.NewHub(st, scanner, scorer, hold, verifier, authSvc, notifier, originChecker(cfg))
	relay.hub = hub

	safeClient := endpoints.NewSafeClient(cfg.SSRFAllowLocalhost, cfg.SSRFAllowTestPorts)
	epWorker := endpoints.NewWorker(st, safeClient)

	fileSvc, err := files.New(st, cfg.DataDir)
	if err != nil {
		logger.Fatalf("files: %v", err)
	}

	ix := indexer.New(st, chainClient, machine, cfg.ChainName, cfg.Tuning.IndexerReorgMargin)

	srv := api.NewServer(api.Deps{
		Config:    cfg,
		Store:     st,
		Verifier:  verifier,
		Machine:   machine,
		Hub:       hub,
		Hold:      hold,
		Rep:       reputation.New(st),
		Trust:     trust.New(st),
		Auth:      authSvc,
		Files:     fileSvc,
		Endpoints: epWorker,
	})

	httpSrv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Printf("listening on :%s (env=%s chain=%s)", cfg.Port, cfg.Env, cfg.ChainName)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Println("shutting down")
		hub.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		dispatcher.Run(ctx)
		return nil
	})
	g.Go(func() error {
		ix.Run(ctx, time.Duration(cfg.Tuning.IndexerPollSeconds)*time.Second)
		return nil
	})
	g.Go(func() error {
		epWorker.Run(ctx, time.Duration(cfg.Tuning.EndpointProbeSeconds)*time.Second)
		return nil
	})
	g.Go(func() error {
		hold.RunSweeper(ctx, 5*time.Minute)
		return nil
	})
	g.Go(func() error {
		nonces.RunReaper(ctx, 5*time.Minute)
		return nil
	})
	g.Go(func() error {
		notifier.RunPruner(ctx, time.Hour)
		return nil
	})
	g.Go(func() error {
		fileSvc.RunRetention(ctx, 6*time.Hour)
		return nil
	})
	g.Go(func() error {
		runStoreSweeps(ctx, st, logger)
		return nil
	})
	for _, l := range srv.Limiters() {
		l := l
		g.Go(func() error {
			l.RunCleanup(ctx, time.Minute)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		logger.Fatalf("server: %v", err)
	}
	logger.Println("stopped")
}

// buildScanner picks the content scanner: the remote SafeChat service
// when configured, a local model binding when a path is given, and the
// inline pattern fallback otherwise.
func buildScanner(cfg *config.Config) (safechat.Scanner, error) {
	switch {
	case cfg.SafeChatAPIURL != "":
		return safechat.NewHTTPScanner(cfg.SafeChatAPIURL, cfg.SafeChatAPIKey, cfg.SafeChatEncryptionKey)
	case cfg.SafeChatPath != "":
		return safechat.NewLocalScanner(cfg.SafeChatPath)
	default:
		return safechat.NewInlineScanner(), nil
	}
}

// originChecker gates websocket upgrades to the configured CORS
// origins; with none configured all origins are accepted.
func originChecker(cfg *config.Config) func(*http.Request) bool {
	if len(cfg.CORSOrigins) == 0 {
		return func(*http.Request) bool { return true }
	}
	allowed := make(map[string]bool, len(cfg.CORSOrigins))
	for _, o := range cfg.CORSOrigins {
		allowed[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || allowed["*"] || allowed[origin]
	}
}

// runStoreSweeps expires stale sessions and inbox items on a timer.
func runStoreSweeps(ctx context.Context, st *store.Store, logger *log.Logger) {
	ticker := time.NewTicker(15 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := st.ReapSessions(ctx, time.Now()); err != nil {
				logger.Printf("reap sessions: %v", err)
			}
			if n, err := st.ExpireInboxItems(ctx, time.Now()); err != nil {
				logger.Printf("expire inbox: %v", err)
			} else if n > 0 {
				logger.Printf("expired %d inbox items", n)
			}
		}
	}
}

// hubRelay late-binds the chat hub into the hold queue.
type hubRelay struct {
	hub *chat.Hub
}

func (r *hubRelay) BroadcastMessage(jobID string, msg *store.Message) {
	if r.hub != nil {
		r.hub.BroadcastMessage(jobID, msg)
	}
}
