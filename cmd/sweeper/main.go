// Command sweeper periodically expires overdue impersonation sessions and
// prunes long-dead login sessions. Run it as a sidecar or a cron-style job.
package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"gatehouse/internal/audit"
	"gatehouse/internal/auth"
	"gatehouse/internal/config"
	"gatehouse/internal/impersonation"
	"gatehouse/internal/obs"
	"gatehouse/internal/superadmin"
)

func main() {
	interval := flag.Duration("interval", time.Minute, "sweep interval")
	once := flag.Bool("once", false, "run a single sweep and exit")
	flag.Parse()

	obs.Init()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is required")
	}

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	store := auth.NewPGStore(db)
	tokens, err := auth.NewTokenIssuer(cfg.AuthSecret)
	if err != nil {
		log.Fatalf("token issuer: %v", err)
	}
	auditLog := audit.NewLog(audit.NewPGStore(db))
	sessions := auth.NewSessionManager(store)
	admins := superadmin.NewService(superadmin.NewPGStore(db), store, sessions, auditLog)
	impMgr := impersonation.NewManager(impersonation.NewPGStore(db), admins, store, tokens, auditLog)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sweep := func() {
		sctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if n, err := impMgr.CleanupExpired(sctx); err != nil {
			obs.Logger().Errorw("sweep impersonation", "err", err)
		} else if n > 0 {
			obs.Logger().Infow("expired impersonation sessions", "count", n)
		}
		if n, err := sessions.CleanupExpiredSessions(sctx); err != nil {
			obs.Logger().Errorw("sweep sessions", "err", err)
		} else if n > 0 {
			obs.Logger().Infow("pruned expired sessions", "count", n)
		}
	}

	sweep()
	if *once {
		return
	}

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Print("stopped")
			return
		case <-ticker.C:
			sweep()
		}
	}
}
