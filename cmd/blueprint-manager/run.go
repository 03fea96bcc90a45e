package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/tangle-network/blueprint-manager/internal/audit"
	"github.com/tangle-network/blueprint-manager/internal/authproxy"
	"github.com/tangle-network/blueprint-manager/internal/blueprint"
	"github.com/tangle-network/blueprint-manager/internal/chain"
	"github.com/tangle-network/blueprint-manager/internal/config"
	"github.com/tangle-network/blueprint-manager/internal/credstore"
	"github.com/tangle-network/blueprint-manager/internal/database"
	"github.com/tangle-network/blueprint-manager/internal/fetcher"
	"github.com/tangle-network/blueprint-manager/internal/keystore"
	"github.com/tangle-network/blueprint-manager/internal/middleware"
	"github.com/tangle-network/blueprint-manager/internal/reconcile"
	"github.com/tangle-network/blueprint-manager/internal/spawner/microvm"
	"github.com/tangle-network/blueprint-manager/internal/spawner/native"
	"github.com/tangle-network/blueprint-manager/internal/spawner/remote"
	"github.com/tangle-network/blueprint-manager/internal/supervisor"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the manager daemon: chain watcher, reconciler, and auth proxy",
	RunE:  runDaemon,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ks, err := keystore.NewFileBackend(cfg.Keystore.Path())
	if err != nil {
		return fmt.Errorf("open keystore: %w", err)
	}
	_, operatorPubKey, err := ks.FirstLocal(keystore.KeyTypeECDSA)
	if err != nil {
		return fmt.Errorf("resolve operator key: %w", err)
	}
	operatorECDSA, err := crypto.DecompressPubkey(operatorPubKey)
	if err != nil {
		return fmt.Errorf("decompress operator public key: %w", err)
	}
	operatorAddr := crypto.PubkeyToAddress(*operatorECDSA)
	logger.Info("resolved operator identity", "address", operatorAddr)

	registry, err := chain.DialRegistry(ctx, cfg.Chain.HTTPRPCURL, common.HexToAddress(cfg.Chain.RegistryAddress))
	if err != nil {
		return fmt.Errorf("dial registry: %w", err)
	}
	defer registry.Close()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()
	if err := db.RunMigrations(cfg.Database); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	auditRepo := audit.NewRepository(db.Pool())

	redis, err := database.NewRedis(cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer redis.Close()

	credStore, err := credstore.Open(cfg.Runtime.DataDir + "/credstore")
	if err != nil {
		return fmt.Errorf("open credential store: %w", err)
	}
	defer credStore.Close()

	pasetoKey, err := pasetoRootKey(cfg.Proxy.PasetoRootKeyHex)
	if err != nil {
		return fmt.Errorf("paseto root key: %w", err)
	}
	paseto, err := authproxy.NewPasetoManager(pasetoKey)
	if err != nil {
		return fmt.Errorf("build paseto manager: %w", err)
	}

	active := blueprint.NewActiveSet()
	f := fetcher.New(cfg.Runtime.CacheDir)

	nativeSpawner := native.New(cfg.Runtime.RuntimeDir, cfg.Runtime.NativePortLow, cfg.Runtime.NativePortHigh, logger)
	spawners := []reconcile.Spawner{nativeSpawner}

	if cfg.Runtime.UseVM {
		_, vmSubnet, err := net.ParseCIDR(cfg.MicroVM.VMSubnetCIDR)
		if err != nil {
			return fmt.Errorf("parse microvm subnet: %w", err)
		}
		microvmSpawner := microvm.New(cfg.Runtime.CacheDir, cfg.Runtime.RuntimeDir, cfg.MicroVM.HostIface, vmSubnet, cfg.MicroVM.ServicePort, logger)
		spawners = append(spawners, microvmSpawner)
	}

	remoteRegistry := remote.NewRegistry()
	records, err := remote.OpenRecordStore(cfg.Remote.RecordStorePath)
	if err != nil {
		return fmt.Errorf("open remote deployment records: %w", err)
	}
	remoteSpawner := remote.New(remoteRegistry, records, cfg.Remote.Region, cfg.Remote.MaxHourlyCost, logger)
	spawners = append(spawners, remoteSpawner)

	spawnerRegistry := reconcile.NewRegistry(blueprint.SubstrateNative, spawners...)

	super := supervisor.New(active, logger)

	prefs := config.LoadRuntimePreferences()
	preferred := func() (blueprint.Substrate, bool) {
		if !prefs.PreferredSet && !prefs.UseVMSet {
			return "", false
		}
		if prefs.UseVMSet && prefs.UseVM {
			return blueprint.SubstrateMicroVM, true
		}
		if prefs.PreferredSet {
			switch prefs.PreferredSource {
			case "container":
				return blueprint.SubstrateRemote, true
			case "wasm", "native":
				return blueprint.SubstrateNative, true
			}
		}
		return "", false
	}

	loop := &reconcile.Loop{
		Active:     active,
		Registry:   spawnerRegistry,
		Fetcher:    f,
		Credential: credentialRevoker{credStore},
		Supervise:  super.Watch,
		Preferred:  preferred,
		Logger:     logger,
		Audit: func(ctx context.Context, action string, bid blueprint.ID, sid blueprint.ServiceID, detail string) {
			if err := auditRepo.Record(ctx, action, bid, sid, detail); err != nil {
				logger.Warn("audit record failed", "error", err)
			}
		},
	}

	proxy := authproxy.New(authproxy.Config{
		Active:          active,
		Credentials:     credStore,
		Redis:           redis,
		Paseto:          paseto,
		Logger:          logger,
		ChallengeExpiry: cfg.Proxy.ChallengeExpiry,
		AllowedHeaders:  cfg.Proxy.AllowedHeaders,
	})

	httpRouter := proxy.Router()
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Proxy.Host, cfg.Proxy.Port),
		Handler:      chimiddleware.Recoverer(middleware.CORS()(middleware.Logging(logger)(middleware.RateLimit(redis, middleware.DefaultRateLimitConfig())(httpRouter)))),
		ReadTimeout:  cfg.Proxy.ReadTimeout,
		WriteTimeout: cfg.Proxy.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("auth proxy listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	stream := chain.NewStream(registry, operatorAddr, cfg.Chain.ReconnectBaseWait, cfg.Chain.ReconnectMaxWait, logger)
	events := make(chan chain.TangleEvent, 1)
	streamErrCh := make(chan error, 1)
	go func() {
		streamErrCh <- stream.Run(ctx, events)
	}()

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		case err := <-errCh:
			return fmt.Errorf("auth proxy server error: %w", err)
		case err := <-streamErrCh:
			if err != nil && ctx.Err() == nil {
				return fmt.Errorf("chain stream error: %w", err)
			}
		case event, ok := <-events:
			if !ok {
				continue
			}
			loop.Tick(ctx, event.ChainBlueprints())
		}
	}
}

// credentialRevoker adapts credstore.Store's RevokeService-shaped method to
// the reconcile package's CredentialRevoker interface.
type credentialRevoker struct {
	store *credstore.Store
}

func (c credentialRevoker) RevokeService(ctx context.Context, sid blueprint.ServiceID) error {
	return c.store.RevokeService(ctx, sid)
}
