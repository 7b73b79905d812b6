package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"edvault.org/internal/store/pg"
)

func main() {
	dsn := flag.String("dsn", os.Getenv("EDVAULT_PG_DSN"), "PostgreSQL DSN")
	flag.Parse()

	if *dsn == "" {
		log.Fatal("dsn is required (flag -dsn or EDVAULT_PG_DSN)")
	}
	cmd := flag.Arg(0)
	if cmd == "" {
		cmd = "up"
	}

	db, err := pg.Open(*dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	switch cmd {
	case "up":
		err = pg.RunMigrations(ctx, db)
	case "down":
		err = pg.Rollback(ctx, db)
	case "status":
		err = pg.Status(ctx, db)
	default:
		log.Fatalf("unknown command %q (want up, down or status)", cmd)
	}
	if err != nil {
		log.Fatalf("%s: %v", cmd, err)
	}
	log.Printf("%s: ok", cmd)
}
