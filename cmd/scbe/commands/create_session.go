package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/scbe/auth"
	"github.com/teranos/scbe/errs"
	"github.com/teranos/scbe/store"
)

// CreateSessionCmd mints a session row and a matching attachment
// credential for local development and manual testing — there is no
// HTTP admin surface in this repo (spec.md §1 keeps it an external
// collaborator), so this is the only way to stand up a session to
// attach against with `scbe serve` running.
var CreateSessionCmd = &cobra.Command{
	Use:   "create-session",
	Short: "Create a session row and print an attachment credential for it",
	Long:  `Mints a session-id and participant-id, inserts the session into the configured SessionStore, and prints a signed attachment credential a client can present to /ws.`,
	RunE:  runCreateSession,
}

var (
	sessionName   string
	sessionTTL    time.Duration
	displayName   string
	participantID string
)

func init() {
	CreateSessionCmd.Flags().StringVar(&configPath, "config", "", "path to a scbe.toml config file (default: discovered from the working directory)")
	CreateSessionCmd.Flags().StringVar(&sessionName, "name", "", "optional human-readable session name")
	CreateSessionCmd.Flags().DurationVar(&sessionTTL, "ttl", time.Hour, "how long the session stays valid")
	CreateSessionCmd.Flags().StringVar(&displayName, "display-name", "Participant", "display name bound into the issued credential")
	CreateSessionCmd.Flags().StringVar(&participantID, "participant-id", "", "participant-id bound into the issued credential (default: a new uuid)")
}

func runCreateSession(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return errs.Wrap(err, "load configuration")
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

	sessionID := uuid.New().String()
	if participantID == "" {
		participantID = uuid.New().String()
	}

	now := time.Now()
	expiresAt := now.Add(sessionTTL)
	if err := db.CreateSession(context.Background(), sessionID, sessionName, now, expiresAt); err != nil {
		return errs.Wrap(err, "create session row")
	}

	token, err := jwtManager.GenerateToken(auth.Claims{
		SessionID:     sessionID,
		ParticipantID: participantID,
		DisplayName:   displayName,
	})
	if err != nil {
		return errs.Wrap(err, "issue attachment credential")
	}

	pterm.Success.Println("session created")
	fmt.Printf("  session-id:      %s\n", sessionID)
	fmt.Printf("  participant-id:  %s\n", participantID)
	fmt.Printf("  expires-at:      %s\n", expiresAt.Format(time.RFC3339))
	fmt.Printf("  credential:      %s\n", token)
	pterm.Info.Printf("attach with: ws://<listen-address>/ws?token=%s\n", token)
	return nil
}
