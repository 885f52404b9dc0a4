package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"dmarc-dash/internal/dashboard"
	"dmarc-dash/internal/health"
	"dmarc-dash/internal/lists"
	"dmarc-dash/internal/query"
	"dmarc-dash/internal/session"
	"dmarc-dash/internal/viewapi"
)

func runServe(ctx context.Context, a *app, args []string) error {
	fs := flagSet("serve", a.out)
	addr := fs.String("listen", a.cfg.ListenAddr, "listen address")
	if _, err := parseArgs(fs, args); err != nil {
		return err
	}

	checker := health.NewChecker(a.client, a.cfg.HealthCheckInterval, a.cfg.HealthCheckTimeout, a.metrics, a.bus, a.logger)
	defer checker.Shutdown()

	dash := dashboard.New(ctx, a.ranges, a.client, dashboard.Options{Metrics: a.metrics, Bus: a.bus, Logger: a.logger})
	defer dash.Close()

	domainsSrc := lists.Domains(a.client.Domains, a.cfg.ListCacheTTL)
	filesSrc := lists.Files(a.client.Files, a.cfg.ListCacheTTL)

	listOpts := func(name string, size int) query.Options {
		return query.Options{
			Name:     name,
			PageSize: size,
			Debounce: a.cfg.SearchDebounce,
			Metrics:  a.metrics,
			Bus:      a.bus,
			Logger:   a.logger,
		}
	}
	reports := query.NewController(ctx, lists.Reports(a.client), listOpts("reports", a.cfg.ReportsPageSize))
	defer reports.Close()
	domains := query.NewController(ctx, domainsSrc.Fetch, listOpts("domains", a.cfg.DomainsPageSize))
	defer domains.Close()
	files := query.NewController(ctx, filesSrc.Fetch, listOpts("files", a.cfg.FilesPageSize))
	defer files.Close()

	// A new sign-in must not see the previous user's cached lists.
	loadLists := func() {
		domainsSrc.Invalidate()
		filesSrc.Invalidate()
		reports.Load()
		domains.Load()
		files.Load()
		dash.Refresh()
	}
	a.sessions.OnChange(func(snap session.Snapshot) {
		if snap.State == session.StateAuthenticated {
			loadLists()
		}
	})
	if a.sessions.Snapshot().State == session.StateAuthenticated {
		loadLists()
	}

	h := viewapi.NewServer(viewapi.Options{
		Sessions:     a.sessions,
		Guard:        a.guard,
		Prefs:        a.prefs,
		Ranges:       a.ranges,
		Dashboard:    dash,
		Reports:      reports,
		Domains:      domains,
		Files:        files,
		API:          a.client,
		Gate:         a.gate,
		DomainsCache: domainsSrc,
		FilesCache:   filesSrc,
		Health:       checker,
		Bus:          a.bus,
		Metrics:      a.metrics,
		Location:     a.loc,
		Logger:       a.logger,
	})

	srv := &http.Server{
		Addr:              *addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	a.logger.Info("starting dmarc-dash", "listen", *addr, "api", a.cfg.APIBaseURL)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	a.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
