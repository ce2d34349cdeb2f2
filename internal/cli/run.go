package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/novamind/nova/internal/engine"
	"github.com/novamind/nova/internal/inbox"
	"github.com/novamind/nova/internal/integrity"
	"github.com/novamind/nova/internal/server"
	"github.com/novamind/nova/internal/store"
)

var runNoHTTP bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the self-mechanism loop",
	RunE:  runLoop,
}

func init() {
	runCmd.Flags().BoolVar(&runNoHTTP, "no-http", false, "run without the local read-only mirror")
}

func runLoop(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var archive *store.Archive
	if rt.cfg.Archive.Enabled {
		archive, err = store.OpenArchive(rt.cfg.ArchivePath())
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: pulse archive disabled (%v)\n", err)
		} else {
			defer archive.Close()
		}
	}

	sentinel, err := integrity.NewSentinel(rt.cfg.DataDir, rt.paths.Exports(), rt.paths.Reports())
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: tamper sentinel disabled (%v)\n", err)
		sentinel = nil
	}

	eng := &engine.Engine{
		Store:           rt.store,
		Guard:           rt.guard,
		Audit:           rt.audit,
		Inbox:           inbox.New(rt.paths.Commands(), rt.cfg.Owner, rt.guard, rt.audit),
		Control:         engine.NewController(rt.cfg.Autonomy, VersionString()),
		Paths:           rt.paths,
		Owner:           rt.cfg.Owner,
		Version:         VersionString(),
		Archive:         archive,
		Sentinel:        sentinel,
		Console:         inbox.Console(ctx, os.Stdin),
		RecallLimit:     rt.cfg.Loop.RecallLimit,
		ConsoleDrainMax: rt.cfg.Loop.ConsoleDrainMax,
		PulseCap:        rt.cfg.History.PulseCap,
	}

	if err := eng.Bootstrap(); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}

	fmt.Fprintf(os.Stderr, "[access verified: %s]\n", rt.cfg.Owner)
	if eng.VerifyStartup() {
		fmt.Fprintln(os.Stderr, "[engine online]")
	} else {
		fmt.Fprintln(os.Stderr, "[engine online in safe mode: artifact verification reported mismatches]")
	}

	g, gctx := errgroup.WithContext(ctx)

	if sentinel != nil {
		g.Go(func() error { return sentinel.Run(gctx) })
	}

	var httpServer *http.Server
	if rt.cfg.Server.Enabled && !runNoHTTP {
		srv := server.New(rt.paths, rt.guard, rt.cfg.Owner, VersionString())
		httpServer = &http.Server{
			Addr:    rt.cfg.ListenAddr(),
			Handler: srv,
		}
		g.Go(func() error {
			fmt.Fprintf(os.Stderr, "local mirror on http://%s (read-only, owner-locked)\n", rt.cfg.ListenAddr())
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutCtx, shutCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutCancel()
			return httpServer.Shutdown(shutCtx)
		})
	}

	g.Go(func() error {
		defer cancel() // engine stop (console "stop") winds everything down
		return eng.Run(gctx)
	})

	err = g.Wait()
	fmt.Fprintln(os.Stderr, "shutting down...")
	if err == context.Canceled {
		return nil
	}
	return err
}
