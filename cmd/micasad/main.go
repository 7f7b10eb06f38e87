// Command micasad is the home-automation controller daemon: it loads
// configuration, opens the persistent store, starts the controller and
// its plugin tree, and serves the REST API adapter until SIGINT/SIGTERM,
// following the teacher's cmd/indexer signal-driven daemon shape.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/r3e-network/micasa/internal/api"
	"github.com/r3e-network/micasa/internal/controller"
	"github.com/r3e-network/micasa/internal/metrics"
	"github.com/r3e-network/micasa/internal/middleware"
	"github.com/r3e-network/micasa/internal/scheduler"
	"github.com/r3e-network/micasa/internal/settings"
	"github.com/r3e-network/micasa/internal/store"
	"github.com/r3e-network/micasa/pkg/config"
	"github.com/r3e-network/micasa/pkg/logger"
)

func usage() {
	fmt.Fprintln(os.Stderr, `micasad - home-automation controller daemon

  -p,    --port N       HTTP port (default 80)
  -sslp, --sslport N    HTTPS port (default off)
  -l,    --loglevel N   0 normal, 1 verbose, 99 debug
  -h,    --help         print this message and exit`)
}

func main() {
	fs := flag.NewFlagSet("micasad", flag.ContinueOnError)
	fs.Usage = usage
	port := fs.Int("p", 0, "HTTP port")
	fs.IntVar(port, "port", 0, "HTTP port")
	sslport := fs.Int("sslp", 0, "HTTPS port")
	fs.IntVar(sslport, "sslport", 0, "HTTPS port")
	loglevel := fs.Int("l", -1, "log level")
	fs.IntVar(loglevel, "loglevel", -1, "log level")
	help := fs.Bool("h", false, "print usage")
	fs.BoolVar(help, "help", false, "print usage")

	// Unknown flags are ignored per the CLI contract: parse what we
	// recognize and swallow the rest rather than failing the process.
	// A failed Parse has already consumed the offending flag, so parsing
	// resumes on the arguments that follow it.
	args := os.Args[1:]
	for fs.Parse(args) != nil && len(fs.Args()) > 0 {
		args = fs.Args()
	}
	if *help {
		usage()
		os.Exit(0)
	}

	cfg, err := config.Load(os.Getenv("MICASA_CONFIG"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *sslport != 0 {
		cfg.Server.SSLPort = *sslport
	}
	if *loglevel >= 0 {
		cfg.Logging.Level = *loglevel
	}

	log := logger.New(logger.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	entry := log.WithComponent("micasad")

	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		entry.WithError(err).Error("open database")
		os.Exit(1)
	}
	defer st.Close()

	sys := settings.New(st, "", 0)

	m := metrics.New()
	pool := scheduler.NewPool(m, log)
	defer pool.Shutdown()

	ctl := controller.New(st, pool, m, log, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := ctl.Start(ctx); err != nil {
		entry.WithError(err).Error("start controller")
		os.Exit(1)
	}

	svc := api.NewService(ctl, st)
	rl := middleware.NewRateLimiter(20, 40)
	router := api.NewRouter(svc, m, rl)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}
	go func() {
		entry.WithField("port", cfg.Server.Port).Info("listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			entry.WithError(err).Warn("http server")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	entry.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)

	ctl.Stop(shutdownCtx)
	_ = sys.Commit(shutdownCtx)
}
