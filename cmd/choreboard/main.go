package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/choreboard/internal/auth"
	"github.com/dukerupert/choreboard/internal/backup"
	"github.com/dukerupert/choreboard/internal/config"
	"github.com/dukerupert/choreboard/internal/database"
	"github.com/dukerupert/choreboard/internal/email"
	"github.com/dukerupert/choreboard/internal/logging"
	"github.com/dukerupert/choreboard/internal/metrics"
	"github.com/dukerupert/choreboard/internal/push"
	"github.com/dukerupert/choreboard/internal/server"
	"github.com/dukerupert/choreboard/internal/store"
)

const usage = `usage: choreboard <command> [flags]

commands:
  serve    run the HTTP server (default)
  family   create a family and print a parent token
  token    issue a token for an existing family
  vapid    generate a VAPID key pair for push notifications
  backup   upload an encrypted snapshot now, or list snapshots with -list
  restore  replace the database with a stored snapshot (server stopped)
`

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "choreboard:", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	cmd := "serve"
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "serve":
		return serve(args)
	case "family":
		return createFamily(args, stdout)
	case "token":
		return issueToken(args, stdout)
	case "vapid":
		return generateVAPID(stdout)
	case "backup":
		return runBackup(args, stdout)
	case "restore":
		return runRestore(args, stdout)
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usage)
		return nil
	}
	return fmt.Errorf("unknown command %q\n%s", cmd, usage)
}

func serve(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.Setup(cfg.LogLevel)

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	var pushSvc *push.Service
	if cfg.PushEnabled() {
		pushSvc = push.NewService(cfg.VAPIDPublicKey, cfg.VAPIDPrivateKey, cfg.VAPIDSubscriber)
	} else {
		logger.Info("push notifications disabled", "reason", "no VAPID keys")
	}

	var emailClient *email.Client
	if cfg.EmailEnabled() {
		emailClient = email.NewClient(cfg.PostmarkToken, cfg.EmailFrom)
	}

	var mgr *backup.Manager
	if cfg.BackupConfigured() {
		if mgr, err = backupManager(db, cfg, logger); err != nil {
			return err
		}
	}

	srv := server.New(db, server.Config{
		Issuer:         auth.NewIssuer(cfg.JWTSecret, cfg.TokenTTL),
		Metrics:        metrics.New(),
		Location:       cfg.Location,
		WeekStart:      cfg.WeekStart,
		DefaultPoints:  cfg.DefaultChorePoints,
		Push:           pushSvc,
		Email:          emailClient,
		Backup:         mgr,
		BaseURL:        cfg.BaseURL,
		AllowedOrigins: cfg.AllowedOrigins,
		TrustProxy:     cfg.TrustProxy,
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go srv.RateLimiter().RunCleanup(ctx, 5*time.Minute)

	if cfg.BackupSchedule != "" {
		go func() {
			if err := mgr.Schedule(ctx, cfg.BackupSchedule, cfg.Location); err != nil {
				logger.Error("backup schedule stopped", "error", err)
			}
		}()
	}

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("choreboard listening", "addr", httpServer.Addr, "db", cfg.DBPath, "timezone", cfg.Location.String())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	srv.Drain(shutdownCtx)
	return nil
}

func createFamily(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("family", flag.ContinueOnError)
	name := fs.String("name", "", "family name (required)")
	parent := fs.String("parent", "", "parent id; a new one is generated when empty")
	notifyEmail := fs.String("email", "", "address that receives approval requests")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *name == "" {
		return errors.New("family: -name is required")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	db, err := database.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := context.Background()
	families := store.NewFamilyStore(db)
	fam, err := families.CreateFamily(ctx, *name)
	if err != nil {
		return err
	}
	if *notifyEmail != "" {
		if err := families.SetNotifyEmail(ctx, fam.ID, *notifyEmail); err != nil {
			return err
		}
	}
	if *parent == "" {
		*parent = uuid.NewString()
	}
	tok, err := auth.NewIssuer(cfg.JWTSecret, cfg.TokenTTL).Issue(auth.AuthContext{
		ActorID:  *parent,
		FamilyID: fam.ID,
		Role:     auth.RoleParent,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "family_id=%s\nparent_id=%s\ntoken=%s\n", fam.ID, *parent, tok)
	return nil
}

func issueToken(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	familyID := fs.String("family", "", "family id (required)")
	actor := fs.String("actor", "", "parent or child id (required)")
	role := fs.String("role", string(auth.RoleParent), "parent or child")
	actingFor := fs.String("acting-for", "", "child id a parent token may act for")
	ttl := fs.Duration("ttl", 0, "token lifetime; defaults to CHOREBOARD_TOKEN_TTL")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *familyID == "" || *actor == "" {
		return errors.New("token: -family and -actor are required")
	}
	if *actingFor != "" && auth.Role(*role) != auth.RoleParent {
		return errors.New("token: -acting-for only applies to parent tokens")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	db, err := database.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := context.Background()
	families := store.NewFamilyStore(db)
	fam, err := families.GetFamily(ctx, *familyID)
	if err != nil {
		return err
	}
	if fam == nil {
		return fmt.Errorf("token: family %q not found", *familyID)
	}
	for _, childID := range []string{*actingFor, childActor(*role, *actor)} {
		if childID == "" {
			continue
		}
		c, err := families.GetFamilyChild(ctx, fam.ID, childID)
		if err != nil {
			return err
		}
		if c == nil {
			return fmt.Errorf("token: child %q not found in family %q", childID, fam.ID)
		}
	}

	lifetime := cfg.TokenTTL
	if *ttl > 0 {
		lifetime = *ttl
	}
	tok, err := auth.NewIssuer(cfg.JWTSecret, lifetime).Issue(auth.AuthContext{
		ActorID:   *actor,
		FamilyID:  fam.ID,
		Role:      auth.Role(*role),
		ActingFor: *actingFor,
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, tok)
	return nil
}

func childActor(role, actor string) string {
	if auth.Role(role) == auth.RoleChild {
		return actor
	}
	return ""
}

func generateVAPID(stdout io.Writer) error {
	pub, priv, err := push.GenerateVAPIDKeys()
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "CHOREBOARD_VAPID_PUBLIC_KEY=%s\nCHOREBOARD_VAPID_PRIVATE_KEY=%s\n", pub, priv)
	return nil
}

func backupManager(db *sql.DB, cfg config.Config, logger *slog.Logger) (*backup.Manager, error) {
	return backup.NewManager(db, backup.Config{
		S3: backup.S3Config{
			Endpoint:  cfg.S3Endpoint,
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		},
		Passphrase: cfg.BackupPassphrase,
		Prefix:     cfg.BackupPrefix,
		Retention:  cfg.BackupRetention,
	}, logger)
}

func runBackup(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("backup", flag.ContinueOnError)
	list := fs.Bool("list", false, "list stored snapshots instead of taking one")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.Setup(cfg.LogLevel)
	db, err := database.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	mgr, err := backupManager(db, cfg, logger)
	if err != nil {
		return err
	}
	ctx := context.Background()

	if *list {
		snaps, err := mgr.List(ctx)
		if err != nil {
			return err
		}
		for _, s := range snaps {
			fmt.Fprintf(stdout, "%s\t%d\t%s\n", s.Key, s.Size, s.CreatedAt.Format(time.RFC3339))
		}
		return nil
	}

	snap, err := mgr.RunNow(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, snap.Key)
	return nil
}

func runRestore(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("restore", flag.ContinueOnError)
	key := fs.String("key", "", "snapshot key to restore; the newest when empty")
	dst := fs.String("db", "", "database path to replace; defaults to CHOREBOARD_DB_PATH")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.Setup(cfg.LogLevel)
	mgr, err := backupManager(nil, cfg, logger)
	if err != nil {
		return err
	}
	ctx := context.Background()

	if *key == "" {
		snaps, err := mgr.List(ctx)
		if err != nil {
			return err
		}
		if len(snaps) == 0 {
			return errors.New("restore: no snapshots found")
		}
		*key = snaps[0].Key
	}
	if *dst == "" {
		*dst = cfg.DBPath
	}
	if err := mgr.Restore(ctx, *key, *dst); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "restored %s to %s\n", *key, *dst)
	return nil
}
