package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"gatehouse/internal/audit"
	"gatehouse/internal/auth"
	"gatehouse/internal/config"
	"gatehouse/internal/httpapi"
	"gatehouse/internal/impersonation"
	"gatehouse/internal/obs"
	"gatehouse/internal/rbac"
	"gatehouse/internal/superadmin"
)

var version = "0.3.0"

func main() {
	obs.Init()
	obs.InitBuildInfo(version, os.Getenv("GIT_COMMIT"))

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	var db *sql.DB
	if cfg.DatabaseURL != "" {
		db, err = sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	var (
		store      auth.Store
		adminStore superadmin.Store
		impStore   impersonation.Store
		roleStore  rbac.RoleStore
		auditStore audit.Store
	)
	if db != nil {
		store = auth.NewPGStore(db)
		adminStore = superadmin.NewPGStore(db)
		impStore = impersonation.NewPGStore(db)
		roleStore = rbac.NewPGRoleStore(db)
		auditStore = audit.NewPGStore(db)
	} else {
		// No DSN: run fully in memory. Useful for local development only.
		log.Print("DATABASE_URL not set, using in-memory stores")
		store = auth.NewMemStore()
		adminStore = superadmin.NewMemStore()
		impStore = impersonation.NewMemStore()
		roleStore = rbac.NewMemRoleStore()
		auditStore = audit.NewMemStore()
	}

	tokens, err := auth.NewTokenIssuer(cfg.AuthSecret)
	if err != nil {
		log.Fatalf("token issuer: %v", err)
	}
	auditLog := audit.NewLog(auditStore)
	sessions := auth.NewSessionManager(store)
	creds := auth.NewCredentials(store, nil, cfg.BaseURL)
	tenants := auth.NewTenantSwitcher(store, tokens, auditLog)
	admins := superadmin.NewService(adminStore, store, sessions, auditLog)
	impMgr := impersonation.NewManager(impStore, admins, store, tokens, auditLog)
	resolver := auth.NewResolver(tokens, sessions, store, cfg.ApexDomain, cfg.TrustProxyHeaders).
		WithImpersonation(impMgr)
	roles, err := rbac.NewService(roleStore)
	if err != nil {
		log.Fatalf("rbac: %v", err)
	}

	var mfa httpapi.MFAVerifier
	if cfg.AdminMFACode != "" {
		mfa = httpapi.StaticMFA{Code: cfg.AdminMFACode}
	}

	api := httpapi.New(httpapi.Deps{
		ReadyProbe: httpapi.ReadyProbe{DB: db},
		Version:    version,
		Production: cfg.Production,

		Store:         store,
		Tokens:        tokens,
		Sessions:      sessions,
		Credentials:   creds,
		Tenants:       tenants,
		Resolver:      resolver,
		Roles:         roles,
		Admins:        admins,
		Impersonation: impMgr,
		MFA:           mfa,
	})

	handler := api.Handler()
	handler = httpapi.RateLimit(handler, cfg.RateLimitBurst, cfg.RateLimitRPS)
	handler = httpapi.MaxBodyBytes(handler, 1<<20)
	handler = httpapi.CORS(handler, cfg.CORSOrigins)
	handler = httpapi.SecurityHeaders(handler)
	handler = httpapi.Logging(handler)
	handler = httpapi.RequestID(handler)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("starting gatehouse-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Print("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if db != nil {
		_ = db.Close()
	}
	log.Print("stopped")
}
