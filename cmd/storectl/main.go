package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/bgl/storefront/internal/domain/shared"
	"github.com/bgl/storefront/internal/infrastructure/config"
	"github.com/bgl/storefront/internal/infrastructure/keystore"
	"github.com/bgl/storefront/internal/infrastructure/logger"
	"go.uber.org/zap"
)

func main() {
	var (
		logLevel string
		timeout  time.Duration
	)
	flag.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.DurationVar(&timeout, "timeout", 10*time.Second, "Timeout for store operations")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}
	command := args[0]

	log, err := logger.New(&logger.Config{
		Level:      logLevel,
		Format:     "console",
		Output:     "stderr",
		TimeFormat: "2006-01-02 15:04:05",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = log.Sync()
	}()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration", zap.Error(err))
	}
	// Never fall back to an empty in-memory store
	cfg.Store.FallbackToMemory = false

	opened, err := keystore.NewFactory(cfg, log).Open()
	if err != nil {
		log.Fatal("Failed to open keyed store", zap.Error(err))
	}
	defer func() {
		if err := opened.Close(); err != nil {
			log.Error("Error closing keyed store", zap.Error(err))
		}
	}()

	keys := keystore.NewKeys(cfg.Store.Prefix)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	switch command {
	case "init":
		// Opening a SQL store creates its table
		log.Info("Keyed store initialized", zap.String("driver", opened.Driver))

	case "cart", "orders", "conversations":
		if len(args) < 2 {
			log.Fatal("Owner required. Usage: storectl " + command + " <identity|guest_<session>>")
		}
		key := keyFor(keys, command, args[1])
		data, err := opened.Store.Get(ctx, key)
		if errors.Is(err, keystore.ErrNotFound) {
			log.Info("No value stored", zap.String("key", key))
			return
		}
		if err != nil {
			log.Fatal("Failed to read key", zap.String("key", key), zap.Error(err))
		}
		fmt.Println(string(data))

	case "reset-cart":
		if len(args) < 2 {
			log.Fatal("Owner required. Usage: storectl reset-cart <identity|guest_<session>>")
		}
		key := keyFor(keys, "cart", args[1])
		if err := opened.Store.Remove(ctx, key); err != nil {
			log.Fatal("Failed to remove cart", zap.String("key", key), zap.Error(err))
		}
		log.Info("Cart removed", zap.String("key", key))

	default:
		log.Error("Unknown command", zap.String("command", command))
		printUsage()
		os.Exit(1)
	}
}

func keyFor(keys keystore.Keys, kind, owner string) string {
	var id *shared.Identity
	if session, ok := strings.CutPrefix(owner, shared.GuestKey+"_"); ok {
		id = shared.NewGuest(session)
	} else if owner != shared.GuestKey {
		id = &shared.Identity{ID: owner}
	}
	switch kind {
	case "orders":
		return keys.Orders(id)
	case "conversations":
		return keys.Conversations(owner)
	default:
		return keys.Cart(id)
	}
}

func printUsage() {
	fmt.Println(`Storefront keyed store tool

Usage:
  storectl [flags] <command> [arguments]

Commands:
  init                      Connect to the configured store and create its schema
  cart <identity|guest_<session>>
                            Print a stored cart
  orders <identity>         Print a stored order history
  conversations <identity>  Print a stored conversation index
  reset-cart <identity|guest_<session>>
                            Remove a stored cart

Flags:
  -log-level string         Log level: debug, info, warn, error (default: info)
  -timeout duration         Timeout for store operations (default: 10s)

The store is selected by config.toml or BGL_STORE_DRIVER and friends.`)
}
