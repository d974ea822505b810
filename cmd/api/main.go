package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/leafsii/launchpad/internal/api"
	"github.com/leafsii/launchpad/internal/blob"
	"github.com/leafsii/launchpad/internal/config"
	"github.com/leafsii/launchpad/internal/launchpad"
	"github.com/leafsii/launchpad/internal/ledger"
	"github.com/leafsii/launchpad/internal/log"
	"github.com/leafsii/launchpad/internal/metrics"
	"github.com/leafsii/launchpad/internal/onchain"
	"github.com/leafsii/launchpad/internal/registry"
	"github.com/leafsii/launchpad/internal/ws"
	"github.com/leafsii/launchpad/pkg/kv"
	_ "github.com/leafsii/launchpad/pkg/kv/memory"
	kvredis "github.com/leafsii/launchpad/pkg/kv/redis"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Setup logger
	logger, err := log.NewSugar(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Infow("Starting launchpad API server",
		"env", cfg.Env,
		"addr", cfg.HTTPAddr,
		"network", cfg.Sui.Network,
		"rpc", cfg.Sui.RPCURL,
		"package", cfg.Sui.PackageID,
	)

	// Setup metrics
	metricsObj, metricsHandler, err := metrics.Setup("launchpad-api")
	if err != nil {
		logger.Fatalw("Failed to setup metrics", "error", err)
	}

	// Registry storage
	store, err := kv.NewStoreFromConfig(kv.Config{
		Backend:  kv.Backend(cfg.Registry.Backend),
		RedisURL: cfg.Registry.RedisURL,
	})
	if err != nil {
		logger.Fatalw("Failed to create registry store", "backend", cfg.Registry.Backend, "error", err)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := store.Ping(ctx); err != nil {
		logger.Fatalw("Registry store ping failed", "backend", cfg.Registry.Backend, "error", err)
	}
	logger.Infow("Registry store connected", "backend", cfg.Registry.Backend)

	reg := registry.New(store, registry.WithLogger(logger))

	// Metadata blob store
	var blobs blob.Store
	if cfg.Walrus.PublisherURL != "" {
		blobs = blob.NewWalrus(cfg.Walrus.PublisherURL, cfg.Walrus.AggregatorURL, cfg.Walrus.Epochs)
		logger.Infow("Walrus blob store configured",
			"publisher", cfg.Walrus.PublisherURL,
			"aggregator", cfg.Walrus.AggregatorURL,
			"epochs", cfg.Walrus.Epochs,
		)
	} else {
		blobs = blob.NewMemory()
		logger.Warnw("No Walrus publisher configured, metadata is kept in memory")
	}

	// Sui ledger and server wallet
	chain, err := onchain.NewLedger(cfg.Sui.RPCURL, cfg.Sui.PackageID,
		onchain.WithLogger(logger),
		onchain.WithGasBudget(cfg.Sui.GasBudget),
	)
	if err != nil {
		logger.Fatalw("Failed to create Sui ledger client", "error", err)
	}

	signer, err := onchain.NewMnemonicSigner(cfg.Sui.Mnemonic)
	if err != nil {
		logger.Fatalw("Failed to create signer", "error", err)
	}
	wallet := ledger.NewWallet(signer)
	if err := wallet.Connect(ctx); err != nil {
		logger.Fatalw("Failed to connect wallet", "error", err)
	}
	defer wallet.Disconnect()
	logger.Infow("Wallet connected", "address", wallet.Address())

	// Event stream, shared between replicas through Redis when the registry lives there
	hub := ws.NewHub(logger, cfg.Security.CORSAllowedOrigins, ws.WithMetrics(metricsObj))
	var publisher launchpad.Publisher = hub
	var relay *ws.Relay
	if rs, ok := store.(*kvredis.Store); ok {
		relay = ws.NewRelay(rs.Client(), ws.DefaultChannel, hub, logger)
		publisher = relay
		logger.Infow("Event relay configured", "channel", ws.DefaultChannel)
	}

	// Setup services
	opts := []launchpad.Option{
		launchpad.WithLogger(logger),
		launchpad.WithMetrics(metricsObj),
		launchpad.WithConfirmTimeout(cfg.ConfirmTimeout),
		launchpad.WithBlobStore(blobs),
		launchpad.WithPublisher(publisher),
	}
	issuance := launchpad.NewIssuanceService(chain, reg, opts...)
	authority := launchpad.NewAuthorityService(chain, reg, opts...)
	pools := launchpad.NewPoolService(chain, reg, opts...)

	// Setup API handler and middleware
	handler := api.NewHandler(issuance, authority, pools, wallet, reg, logger)
	middleware := api.NewMiddleware(logger, metricsObj)

	// Issuance waits for two confirmations back to back
	requestTimeout := 2*cfg.ConfirmTimeout + 30*time.Second
	router := handler.Routes(middleware, api.RouterConfig{
		CORSOrigins:    cfg.Security.CORSAllowedOrigins,
		RateLimitRPM:   cfg.Security.RateLimitRPM,
		RequestTimeout: requestTimeout,
		Metrics:        metricsHandler,
		Events:         hub,
	})

	logger.Infow("CORS configured", "allowed_origins", cfg.Security.CORSAllowedOrigins)

	// Setup HTTP server
	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: requestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return hub.Run(gctx)
	})
	if relay != nil {
		g.Go(func() error {
			return relay.Run(gctx)
		})
	}
	g.Go(func() error {
		logger.Infow("API server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Infow("Shutting down")

		// In-flight ledger submissions get the full confirmation window to finish
		shutdownCtx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Errorw("Graceful shutdown failed", "error", err)
			server.Close()
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Errorw("Server stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Infow("Server stopped")
}
