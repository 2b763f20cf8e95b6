package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"changeops.io/internal/auth"
	"changeops.io/internal/httpapi"
	"changeops.io/internal/impersonation"
	"changeops.io/internal/obs"
	"changeops.io/internal/ratelimit"
	"changeops.io/internal/tenant"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

const (
	loginMaxFailures = 5
	loginWindow      = 15 * time.Minute
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	sessionSecret := os.Getenv("CHANGEOPS_AUTH_SECRET")
	if sessionSecret == "" {
		log.Fatal("CHANGEOPS_AUTH_SECRET is required")
	}
	impersonationSecret := os.Getenv("CHANGEOPS_IMPERSONATION_SECRET")
	if impersonationSecret == "" {
		log.Fatal("CHANGEOPS_IMPERSONATION_SECRET is required")
	}

	sessions, err := auth.NewSessions(sessionSecret)
	if err != nil {
		log.Fatalf("sessions: %v", err)
	}
	tokens, err := impersonation.NewService(impersonationSecret)
	if err != nil {
		log.Fatalf("impersonation: %v", err)
	}

	var (
		db      *sql.DB
		tenants tenant.Store
	)
	if dsn := os.Getenv("CHANGEOPS_PG_DSN"); dsn != "" {
		db, err = sql.Open("pgx", dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
		tenants = tenant.NewPGStore(db)
	}

	// Failed-login state lives in Redis when an address is configured, so
	// the lockout holds across instances. Otherwise it is per process.
	var attempts ratelimit.Store[ratelimit.Attempts]
	if addr := os.Getenv("CHANGEOPS_REDIS_ADDR"); addr != "" {
		client := redis.NewClient(&redis.Options{Addr: addr})
		attempts = ratelimit.NewRedisStore[ratelimit.Attempts](client, "login")
	} else {
		attempts = ratelimit.NewMemoryStore[ratelimit.Attempts](0)
	}
	throttle := ratelimit.NewLoginThrottle(attempts, loginMaxFailures, loginWindow)

	if tenants != nil {
		if err := bootstrapOperator(context.Background(), tenants); err != nil {
			log.Fatalf("bootstrap operator: %v", err)
		}
	}

	api := httpapi.New(httpapi.Deps{
		Ready:         httpapi.ReadyProbe{DB: db},
		Version:       version,
		Sessions:      sessions,
		Impersonation: tokens,
		Tenants:       tenants,
		LoginThrottle: throttle,
	})

	addr := os.Getenv("CHANGEOPS_ADDR")
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

	log.Printf("Starting changeops-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}

// bootstrapOperator creates the initial platform operator account when
// CHANGEOPS_BOOTSTRAP_EMAIL and CHANGEOPS_BOOTSTRAP_PASSWORD are set and no
// account exists for that email yet.
func bootstrapOperator(ctx context.Context, tenants tenant.Store) error {
	email := strings.TrimSpace(strings.ToLower(os.Getenv("CHANGEOPS_BOOTSTRAP_EMAIL")))
	password := os.Getenv("CHANGEOPS_BOOTSTRAP_PASSWORD")
	if email == "" || password == "" {
		return nil
	}

	_, err := tenants.Users().FindByEmail(ctx, email)
	if err == nil {
		return nil
	}
	if !errors.Is(err, tenant.ErrNotFound) {
		return err
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	user := &tenant.User{
		Email:        email,
		PasswordHash: hash,
		Roles:        []string{auth.RoleSuperAdmin},
		Status:       "active",
	}
	if err := tenants.Users().Create(ctx, user); err != nil {
		// Another instance may have bootstrapped concurrently.
		if errors.Is(err, tenant.ErrAlreadyExists) {
			return nil
		}
		return err
	}
	log.Printf("bootstrapped operator account %s", email)
	return nil
}
