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

	"campusvault.org/internal/httpapi"
	"campusvault.org/internal/identity"
	"campusvault.org/internal/library"
	"campusvault.org/internal/obs"
	"campusvault.org/internal/requests"
	"campusvault.org/internal/store/pg"
	"campusvault.org/internal/stream"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	addr := os.Getenv("CAMPUSVAULT_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	// Without a DSN the service runs fully in memory, which is what the demo
	// and most tests use. /readyz pings the database only when one is wired.
	var (
		db       *sql.DB
		catalog  library.Service
		users    identity.Store
		wantlist requests.Store
	)
	if dsn := os.Getenv("CAMPUSVAULT_PG_DSN"); dsn != "" {
		store, err := pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db = store.DB()
		catalog = store
		users = identity.NewPGStore(db)
		wantlist = requests.NewPGStore(db)
	} else {
		catalog = library.NewInMemory()
		users = identity.NewMemStore()
		wantlist = requests.NewInMemory()
	}

	ids := identity.NewService(users)
	activity := stream.New()

	api := httpapi.New(httpapi.ReadyProbe{DB: db}, version, ids, catalog, wantlist, activity)

	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting campusvault-api %s on %s", version, srv.Addr)

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
