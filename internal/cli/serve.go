package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/akshayaggarwal99/boxed/internal/api"
	"github.com/akshayaggarwal99/boxed/internal/config"
	"github.com/akshayaggarwal99/boxed/internal/driver"
	"github.com/akshayaggarwal99/boxed/internal/pool"
	"github.com/akshayaggarwal99/boxed/internal/registry"
	"github.com/akshayaggarwal99/boxed/internal/scheduler"

	// Register docker driver
	_ "github.com/akshayaggarwal99/boxed/internal/driver/docker"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	port       string
	driverName string
	role       string
	usePool    bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Boxed Control Plane server",
	Run: func(cmd *cobra.Command, args []string) {
		runServer()
	},
}

func init() {
	serveCmd.Flags().StringVarP(&port, "port", "p", "8080", "HTTP server port")
	serveCmd.Flags().StringVarP(&driverName, "driver", "d", "docker", "Backend driver (registered: docker)")
	serveCmd.Flags().StringVar(&apiKey, "api-key", os.Getenv("BOXED_API_KEY"), "API Key for authentication")
	serveCmd.Flags().StringVar(&role, "role", "write", "Control plane role: write or read")
	serveCmd.Flags().BoolVar(&usePool, "pool", false, "Enable warmup pooling")
	RootCmd.AddCommand(serveCmd)
}

func runServer() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if port != "" {
		cfg.ListenAddr = ":" + port
	}
	if apiKey != "" {
		cfg.APIKey = apiKey
	}
	if driverName != "" {
		cfg.DriverName = driverName
	}

	log.Info().Str("driver", cfg.DriverName).Str("role", role).Str("addr", cfg.ListenAddr).Msg("starting boxed control plane")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info().Str("signal", sig.String()).Msg("shutdown signal received")
		cancel()
	}()

	d, err := driver.NewDriver(cfg.DriverName, map[string]any{
		"agent_path": cfg.AgentBinaryPath,
		"status_dir": cfg.StatusDir,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize driver")
	}
	defer d.Close()

	if usePool {
		poolCfg := pool.Config{
			TargetSize:         cfg.Pool.TargetSize,
			MaxConcurrentBuild: cfg.Pool.MaxConcurrentBuilds,
			MaxIdleDuration:    time.Duration(cfg.Pool.MaxIdleSeconds) * time.Second,
			MaintainInterval:   time.Duration(cfg.Pool.MaintainIntervalSecond) * time.Second,
			MaxBackoff:         time.Duration(cfg.Pool.MaxBackoffSeconds) * time.Second,
		}
		p := pool.New(d, poolCfg)
		defer p.Shutdown()
		d = p
	}

	ctxTimeout, cancelTimeout := context.WithTimeout(ctx, 5*time.Second)
	if err := d.Healthy(ctxTimeout); err != nil {
		log.Fatal().Err(err).Msg("driver health check failed")
	}
	cancelTimeout()

	var cache registry.Cache
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		cache = registry.NewRedisCache(rdb)
	}
	reg := registry.New(cache)

	sched := scheduler.New()
	scheduler.Register("orphan-gc", scheduler.OrphanGCInterval, scheduler.NewOrphanGCTask(d))
	sched.Start(ctx)
	defer sched.Stop()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	h := api.NewHandler(api.Role(role), d, reg, cfg.StatusDir, cfg.APIKey)
	h.RegisterRoutes(e)

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("server listening")
		serverErr <- e.Start(cfg.ListenAddr)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("server forced to shutdown")
		}
	case err := <-serverErr:
		log.Fatal().Err(err).Msg("server startup failed")
	}
}
