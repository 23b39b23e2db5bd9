// Package commands implements scbe's cobra command tree.
package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/scbe/auth"
	"github.com/teranos/scbe/config"
	"github.com/teranos/scbe/directory"
	"github.com/teranos/scbe/errs"
	"github.com/teranos/scbe/logger"
	"github.com/teranos/scbe/server"
	"github.com/teranos/scbe/session"
	"github.com/teranos/scbe/store"
	"github.com/teranos/scbe/transport"
)

// ServeCmd starts the Attachment Endpoint's HTTP process: the Session
// Directory, the SQLite SessionStore, and the WebSocket upgrade route.
var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the session coordination and broadcast engine",
	Long:  `Launch SCBE's attachment endpoint: a WebSocket server that broadcasts ephemeral participant locations to everyone attached to the same session.`,
	RunE:  runServe,
}

var configPath string

func init() {
	ServeCmd.Flags().StringVar(&configPath, "config", "", "path to a scbe.toml config file (default: discovered from the working directory)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return errs.Wrap(err, "load configuration")
	}

	verbosity, _ := cmd.Flags().GetCount("verbose")
	if verbosity == 0 {
		verbosity = 1
	}
	if err := logger.Initialize(cfg.Logging.JSON, verbosity); err != nil {
		return errs.Wrap(err, "initialize logger")
	}

	db, err := store.Open(cfg.Database.Path)
	if err != nil {
		return errs.Wrap(err, "open session store")
	}
	defer db.Close()

	jwtManager, err := auth.NewJWTManager(&cfg.Auth)
	if err != nil {
		return errs.Wrap(err, "initialize credential verifier")
	}

	sessionCfg := session.Config{
		MaxParticipants:     cfg.Session.MaxParticipants,
		OutboundQueueSize:   cfg.Session.OutboundQueueSize,
		LocationTTL:         time.Duration(cfg.Session.LocationTTLSeconds) * time.Second,
		IdleGrace:           time.Duration(cfg.Session.IdleGraceSeconds) * time.Second,
		AbsenceTimeout:      time.Duration(cfg.Session.AbsenceTimeoutSeconds) * time.Second,
		SessionBacklogMax:   cfg.Session.SessionBacklogMax,
		ProtocolErrorLimit:  cfg.Session.ProtocolErrorLimit,
		ProtocolErrorWindow: time.Duration(cfg.Session.ProtocolErrorWindowSeconds) * time.Second,
	}

	var dir *directory.Directory
	dir = directory.New(func(id string, createdAt, expiresAt time.Time) *session.Coordinator {
		var c *session.Coordinator
		c = session.New(id, "", createdAt, expiresAt, sessionCfg, db, func(string) {
			reason := c.EndedReason()
			if markErr := db.MarkEnded(context.Background(), id, reason); markErr != nil {
				logger.Warnw("mark session ended failed", logger.FieldSessionID, id, logger.FieldError, markErr.Error())
			}
			dir.Remove(id, c)
		})
		return c
	})

	deps := transport.Deps{
		Verifier:          jwtManager,
		Directory:         dir,
		Store:             db,
		Config:            cfg.Transport,
		OutboundQueueSize: cfg.Session.OutboundQueueSize,
	}

	srv := server.New(cfg.Server, dir, deps)
	printStartupBanner(cfg, verbosity)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return errs.Wrap(err, "attachment endpoint failed")
	case <-sigCh:
		signal.Stop(sigCh)
		pterm.Info.Println("shutting down gracefully (press Ctrl+C again to force)...")
		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	}
}

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFromFile(configPath)
	}
	return config.Load()
}

func printStartupBanner(cfg *config.Config, verbosity int) {
	pterm.DefaultBigText.WithLetters(pterm.NewLettersFromStringWithStyle("SCBE", pterm.NewStyle(pterm.FgCyan))).Render()
	pterm.DefaultSection.Println("Session Coordination and Broadcast Engine")
	fmt.Printf("  listen address:      %s\n", cfg.Server.ListenAddress)
	fmt.Printf("  database:            %s\n", cfg.Database.Path)
	fmt.Printf("  max participants:    %d\n", cfg.Session.MaxParticipants)
	fmt.Printf("  inbound rate limit:  %.1f msg/s\n", cfg.Transport.InboundRatePerSecond)
	fmt.Printf("  log verbosity:       %s\n", logger.LevelName(verbosity))
	pterm.Info.Println("press Ctrl+C to stop")
}
