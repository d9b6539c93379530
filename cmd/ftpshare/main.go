package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/net/netutil"

	"ftpshare/internal/config"
	"ftpshare/internal/host"
	"ftpshare/internal/httpserver"
	"ftpshare/internal/logging"
	"ftpshare/internal/relay"
	"ftpshare/internal/share"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "passwd" {
		passwdCmd(os.Args[2:])
		return
	}

	var (
		addr     = flag.String("addr", "", "listen address (overrides config)")
		cfgPath  = flag.String("config", "", "path to config json/yaml (optional)")
		ftpAddr  = flag.String("ftp", "", "FTP server host[:port] (overrides config)")
		user     = flag.String("user", "", "FTP user (overrides config)")
		pass     = flag.String("pass", "", "FTP password (overrides config)")
		logLevel = flag.String("log-level", "", "debug, info, warn or error (overrides config)")
	)
	flag.Parse()

	var overrides []func(*config.Config)
	if *addr != "" {
		overrides = append(overrides, func(c *config.Config) { c.Listen = *addr })
	}
	if *ftpAddr != "" {
		h, p, err := splitFTPAddr(*ftpAddr)
		if err != nil {
			log.Fatalf("-ftp: %v", err)
		}
		overrides = append(overrides, func(c *config.Config) {
			c.FTP.Host = h
			if p != 0 {
				c.FTP.Port = p
			}
		})
	}
	if *user != "" {
		overrides = append(overrides, func(c *config.Config) { c.FTP.User = *user })
	}
	if *pass != "" {
		overrides = append(overrides, func(c *config.Config) { c.FTP.Password = *pass })
	}
	if *logLevel != "" {
		overrides = append(overrides, func(c *config.Config) { c.Log.Level = *logLevel })
	}

	cfg, err := config.Load(*cfgPath, overrides...)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := logging.New(logging.Options{Level: cfg.Log.Level, JSON: cfg.Log.JSON, DefaultSlog: true})
	if err != nil {
		log.Fatalf("logging: %v", err)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("ftpshare stopped", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	if cfg.Memory.LimitBytes > 0 {
		debug.SetMemoryLimit(cfg.Memory.LimitBytes)
	}
	probe := relay.NewProbe(cfg.Memory.LimitBytes, cfg.Memory.LowWaterBytes)

	reg := share.NewRegistry()
	srv, err := httpserver.New(httpserver.Options{
		Config:   cfg,
		Registry: reg,
		Logger:   logger,
		Pressure: probe.Pressure,
	})
	if err != nil {
		return fmt.Errorf("server init: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	hs := &http.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	h := host.New(host.Options{
		StartupTicks: cfg.Host.StartupTicks,
		Logger:       logger.With("component", "host"),
		Start: func() {
			ln, err := net.Listen("tcp", cfg.Listen)
			if err != nil {
				cancel(fmt.Errorf("listen: %w", err))
				return
			}
			ln = netutil.LimitListener(ln, cfg.MaxConnections)
			logger.Info("ftpshare listening",
				"addr", ln.Addr().String(),
				"ftp", net.JoinHostPort(cfg.FTP.Host, strconv.Itoa(cfg.FTP.Port)),
				"auth", len(cfg.Users) > 0,
				"max_transfers", cfg.MaxTransfers)
			go func() {
				if err := hs.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					cancel(fmt.Errorf("serve: %w", err))
				}
			}()
		},
	})
	h.AddSweeper("share links", reg.Sweep)
	h.AddSweeper("rate limiters", srv.SweepRateLimits)

	logger.Info("ftpshare starting", "startup_ticks", cfg.Host.StartupTicks, "tick", cfg.Host.Tick.String())
	if err := h.Run(ctx, time.Duration(cfg.Host.Tick)); err != nil {
		return err
	}

	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	if err := hs.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown", "err", err)
	}
	if err := context.Cause(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("ftpshare stopped")
	return nil
}

// splitFTPAddr accepts "host" or "host:port"; port 0 means keep the default.
func splitFTPAddr(s string) (string, int, error) {
	h, p, err := net.SplitHostPort(s)
	if err != nil {
		// no port
		return s, 0, nil
	}
	port, err := strconv.Atoi(p)
	if err != nil || port < 1 || port > 65535 {
		return "", 0, fmt.Errorf("invalid port %q", p)
	}
	return h, port, nil
}

func passwdCmd(args []string) {
	fs := flag.NewFlagSet("passwd", flag.ExitOnError)
	var (
		password = fs.String("p", "", "password (required)")
		cost     = fs.Int("cost", bcrypt.DefaultCost, "bcrypt cost")
	)
	_ = fs.Parse(args)
	if *password == "" {
		fmt.Fprintln(os.Stderr, "usage: ftpshare passwd -p <password>")
		os.Exit(2)
	}
	if *cost < bcrypt.MinCost || *cost > bcrypt.MaxCost {
		fmt.Fprintf(os.Stderr, "invalid cost %d (min=%d max=%d)\n", *cost, bcrypt.MinCost, bcrypt.MaxCost)
		os.Exit(2)
	}
	h, err := bcrypt.GenerateFromPassword([]byte(*password), *cost)
	if err != nil {
		log.Fatalf("bcrypt: %v", err)
	}
	fmt.Println(string(h))
}
