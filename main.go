package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/pkg/profile"

	"mailbridge/config"
	"mailbridge/handlers/api"
	"mailbridge/mailaccess"
	"mailbridge/middleware"
	"mailbridge/storage"
	"mailbridge/utils"
	"mailbridge/vault"
)

var (
	configPath  = flag.String("config", "config.toml", "Path to the TOML configuration file.")
	cpuProfile  = flag.Bool("profile-cpu", false, "Enable CPU profiling.")
	profilePath = flag.String("profile-path", "", "Path where to write profile data.")
)

func main() {
	if len(os.Args) > 1 {
		if cmd, ok := commands[os.Args[1]]; ok {
			if err := cmd(os.Args[2:], os.Stdout); err != nil {
				fmt.Fprintf(os.Stderr, "%s: %v\n", os.Args[1], err)
				os.Exit(1)
			}
			return
		}
	}

	flag.Parse()
	err := runProfiled(*cpuProfile, *profilePath, func() error {
		return run(*configPath)
	})
	if err != nil {
		utils.Log.Error("%v", err)
		os.Exit(1)
	}
}

// runProfiled runs fn, under the CPU profiler when enabled. The profile is
// flushed before returning, so it survives a failing fn.
func runProfiled(enabled bool, path string, fn func() error) error {
	if !enabled {
		return fn()
	}
	p := profile.Start(profile.CPUProfile, profile.ProfilePath(path), profile.NoShutdownHook, profile.Quiet)
	defer p.Stop()
	return fn()
}

func loadConfig(path string) (*config.Config, *vault.Vault, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	v, err := vault.New(cfg.Vault.Key)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	utils.Log.SetLevel(utils.ParseLogLevel(cfg.Log.Level))
	return cfg, v, nil
}

func run(path string) error {
	cfg, v, err := loadConfig(path)
	if err != nil {
		return err
	}
	utils.Log.Info("Initializing mailbridge...")

	db, err := storage.InitDB(cfg.Storage.DataDir)
	if err != nil {
		return err
	}
	accounts := storage.NewAccountStorage(db)
	defer accounts.Close()

	mail := mailaccess.NewManager(v, mailaccess.NewIMAPDialer(), mailaccess.NewSubmitter(),
		mailaccess.OptionsFrom(cfg.Mail), utils.Log)

	app := fiber.New(fiber.Config{
		AppName:      "mailbridge",
		ErrorHandler: api.ErrorHandler,
		BodyLimit:    25 * 1024 * 1024,
	})

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(compress.New())
	app.Use(helmet.New(helmet.Config{
		XSSProtection:         "1; mode=block",
		ContentTypeNosniff:    "nosniff",
		XFrameOptions:         "SAMEORIGIN",
		ReferrerPolicy:        "no-referrer",
		ContentSecurityPolicy: "default-src 'self'",
	}))
	app.Use(middleware.LocaleMiddleware())
	app.Use(middleware.RateLimiter(cfg.Server.RateLimit, cfg.Server.RateWindow.Duration))

	api.SetupRoutes(app, api.NewHandlers(mail, accounts, v, accounts, cfg.JWT.Secret, cfg.JWT.TTL.Duration))

	app.Use(func(c *fiber.Ctx) error {
		return fiber.ErrNotFound
	})

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		utils.Log.Info("Shutting down...")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			utils.Log.Error("Shutdown failed: %v", err)
		}
	}()

	utils.Log.Info("Starting server on port %d...", cfg.Server.Port)
	return app.Listen(fmt.Sprintf(":%d", cfg.Server.Port))
}
