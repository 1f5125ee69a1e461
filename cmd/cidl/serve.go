package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pthm/cidl/internal/cli"
	"github.com/pthm/cidl/internal/server"
)

var (
	serveDB   string
	serveAddr string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve data sources over HTTP",
	Long: `Start a preview server over the database's last applied revision:

  GET /healthz
  GET /models
  GET /models/{model}/{dataSource}[?id=<pk>]`,
	Example: `  cidl serve --db file:pets.db --addr :8080`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		db, dialect, err := openDB(ctx, serveDB)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()

		ast, err := appliedRevision(ctx, db, dialect)
		if err != nil {
			return err
		}

		addr := resolveString(serveAddr, cfg.Server.Addr)
		if err := server.New(db, dialect, ast, log).ListenAndServe(ctx, addr); err != nil {
			return cli.GeneralError("serving", err)
		}
		return nil
	},
}

func init() {
	f := serveCmd.Flags()
	f.StringVar(&serveDB, "db", "", "database URL")
	f.StringVar(&serveAddr, "addr", "", "listen address (default from server.addr)")
}
