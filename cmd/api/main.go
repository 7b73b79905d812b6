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

	"edvault.org/internal/audit"
	"edvault.org/internal/auth"
	"edvault.org/internal/content"
	"edvault.org/internal/grant"
	"edvault.org/internal/httpapi"
	"edvault.org/internal/ids"
	"edvault.org/internal/obs"
	"edvault.org/internal/store/pg"
	"edvault.org/internal/sweep"
	"edvault.org/internal/tenancy"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

// tenantDirectory adapts the auth store to the watermark name lookup.
type tenantDirectory struct {
	store auth.Store
}

func (d tenantDirectory) Find(ctx context.Context, id string) (*auth.Tenant, error) {
	return d.store.Tenants(ctx).Find(ctx, id)
}

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	secret := os.Getenv("EDVAULT_AUTH_SECRET")
	if secret == "" {
		log.Fatal("EDVAULT_AUTH_SECRET is required")
	}

	var (
		db        *sql.DB
		store     auth.Store
		ledger    audit.Ledger
		unitStore content.Store
		grants    grant.Store
	)
	if dsn := os.Getenv("EDVAULT_PG_DSN"); dsn != "" {
		var err error
		db, err = pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := pg.RunMigrations(ctx, db); err != nil {
			cancel()
			log.Fatalf("migrate: %v", err)
		}
		cancel()
		store = auth.NewPGStore(db)
		ledger = audit.NewPGLedger(db)
		unitStore = content.NewPGStore(db)
		grants = grant.NewPGStore(db)
	} else {
		// Ephemeral in-memory mode for local development.
		log.Println("EDVAULT_PG_DSN not set, running with in-memory stores")
		store = auth.NewMemStore()
		ledger = audit.NewMemLedger()
		unitStore = content.NewMemStore()
		grants = grant.NewMemStore()
	}

	sessions, err := auth.NewService(store, ledger, secret)
	if err != nil {
		log.Fatalf("auth service: %v", err)
	}
	units, err := content.NewService(unitStore, ledger)
	if err != nil {
		log.Fatalf("content service: %v", err)
	}
	issuer, err := grant.NewIssuer(grants, units, tenantDirectory{store: store}, ledger, secret)
	if err != nil {
		log.Fatalf("grant issuer: %v", err)
	}

	if db == nil {
		seedDevOwner(store)
	}

	api := httpapi.New(httpapi.Config{
		Sessions:   sessions,
		Store:      store,
		Guard:      tenancy.NewGuard(ledger),
		Units:      units,
		Grants:     issuer,
		Ledger:     ledger,
		ReadyProbe: httpapi.ReadyProbe{DB: db},
		Version:    version,
	})

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	sweeper := sweep.New(store, sessions, units)
	go sweeper.Run(sweepCtx)

	addr := os.Getenv("EDVAULT_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting edvault-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")
	stopSweep()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}

// seedDevOwner bootstraps a platform owner in in-memory mode so the API is
// usable out of the box. Credentials come from the environment and nothing is
// created when they are absent.
func seedDevOwner(store auth.Store) {
	email := os.Getenv("EDVAULT_DEV_OWNER_EMAIL")
	password := os.Getenv("EDVAULT_DEV_OWNER_PASSWORD")
	if email == "" || password == "" {
		return
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		log.Fatalf("seed owner: %v", err)
	}
	ctx := context.Background()
	err = store.Principals(ctx).Create(ctx, &auth.Principal{
		ID:           ids.New(),
		Email:        email,
		DisplayName:  "Platform Owner",
		Role:         auth.RoleOwner,
		Status:       auth.StatusActive,
		PasswordHash: hash,
		Binding:      auth.TenantBinding{Kind: auth.TenantNone},
		CreatedAt:    time.Now().UTC(),
	})
	if err != nil {
		log.Fatalf("seed owner: %v", err)
	}
	log.Printf("seeded dev owner %s", email)
}
