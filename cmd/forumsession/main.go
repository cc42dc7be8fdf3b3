package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/longanisha/Mahidol-Forum-sub000/acquisition"
	"github.com/longanisha/Mahidol-Forum-sub000/auth/oidcprovider"
	"github.com/longanisha/Mahidol-Forum-sub000/auth/pgrecords"
	"github.com/longanisha/Mahidol-Forum-sub000/authstate"
	"github.com/longanisha/Mahidol-Forum-sub000/backend"
	"github.com/longanisha/Mahidol-Forum-sub000/cache"
	"github.com/longanisha/Mahidol-Forum-sub000/internal/config"
	"github.com/longanisha/Mahidol-Forum-sub000/internal/logging"
	"github.com/longanisha/Mahidol-Forum-sub000/internal/metrics"
	"github.com/longanisha/Mahidol-Forum-sub000/internal/tracing"
	"github.com/longanisha/Mahidol-Forum-sub000/navigation"
	"github.com/longanisha/Mahidol-Forum-sub000/server"
	"github.com/longanisha/Mahidol-Forum-sub000/server/authflowrepo"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const cacheFile = "session-cache.db"

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("agent stopped with error")
	}
	log.Info().Msg("agent stopped")
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("panic", fmt.Sprint(r)).Bytes("stack", debug.Stack()).Msg("recovered from panic")
			returnError = errors.New("panic recovered")
		}
	}()

	c, err := config.Load()
	if err != nil {
		return fmt.Errorf("config.Load: %w", err)
	}
	logging.Setup(c.GetLogLevel(), c.GetEnv() == "DEV")
	displayAppname(c.GetAppName())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if c.GetTracingEnabled() {
		tp, err := tracing.Init(ctx, c)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(shutdownCtx); err != nil {
				log.Warn().Err(err).Msg("tracer shutdown")
			}
		}()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	repo, err := cache.OpenSQLiteRepo(ctx, filepath.Join(c.GetDataFolder(), cacheFile))
	if err != nil {
		return err
	}
	defer repo.Close()
	store, err := cache.NewStore(repo, cache.WithMetrics(m))
	if err != nil {
		return err
	}

	var providerOpts []oidcprovider.Option
	if dsn := c.GetRecordsDSN(); dsn != "" {
		pool, err := pgrecords.Connect(ctx, dsn)
		if err != nil {
			return err
		}
		defer pool.Close()
		providerOpts = append(providerOpts, oidcprovider.WithRecords(pgrecords.New(pool)))
	}
	provider, err := oidcprovider.New(ctx, oidcprovider.Config{
		IssuerURL:    c.GetIssuerURL(),
		ClientID:     c.GetClientID(),
		ClientSecret: c.GetClientSecret(),
		RedirectURL:  c.GetRedirectURL(),
		Scopes:       c.GetScopes(),
	}, store, providerOpts...)
	if err != nil {
		return err
	}

	client, err := backend.NewClient(c.GetBackendURL(),
		backend.WithTimeout(c.GetBackendTimeout()),
		backend.WithProfilePath(c.GetBackendProfilePath()))
	if err != nil {
		return err
	}

	entryType := navigation.EntryType(c.GetEntryType())
	classifier, err := navigation.NewClassifier(navigation.HostFunc(func() navigation.EntryType { return entryType }), store)
	if err != nil {
		return err
	}

	facade, err := authstate.New(authstate.Deps{
		Provider:   provider,
		Backend:    client,
		Updater:    client,
		Cache:      store,
		Classifier: classifier,
	},
		authstate.WithAcquisitionOptions(acquisition.OptionsFromConfig(c)),
		authstate.WithLoadingGrace(c.GetLoadingGrace()),
		authstate.WithMetrics(m),
	)
	if err != nil {
		return err
	}
	if err := facade.Start(ctx); err != nil {
		return err
	}
	defer facade.Close()

	handler, err := server.New(c, facade,
		server.WithSignInFlow(provider, authflowrepo.NewInMemoryRepo()),
		server.WithMetricsHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})),
	)
	if err != nil {
		return fmt.Errorf("server.New: %w", err)
	}
	httpServer := &http.Server{Addr: c.GetPort(), Handler: handler, ReadHeaderTimeout: 5 * time.Second}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- listenAndServe(httpServer)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		returnError = err
	}
	if err := shutdown(httpServer); err != nil && returnError == nil {
		returnError = err
	}
	return returnError
}

func listenAndServe(server *http.Server) error {
	log.Info().Str("addr", server.Addr).Msg("agent listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server.ListenAndServe %w", err)
	}
	return nil
}

func shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
