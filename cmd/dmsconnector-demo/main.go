// Package main is a small command-line harness for exercising a DMS
// server from a terminal: get/set a datapoint, list changelog groups,
// or subscribe and print events as they arrive.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	dmsconnector "github.com/nugget/dms-connector"
	"github.com/nugget/dms-connector/internal/config"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	if flag.NArg() == 0 {
		printUsage()
		return
	}

	cfg := loadConfig(logger, *configPath)

	client := dmsconnector.New(cfg.Server.URL, cfg.WhoIs, cfg.User,
		dmsconnector.WithLogger(logger),
		dmsconnector.WithTimeout(time.Duration(cfg.TimeoutSec)*time.Second),
		dmsconnector.WithReadyTimeout(time.Duration(cfg.ReadyTimeoutSec)*time.Second),
		dmsconnector.WithEventQueue(cfg.EventQueueSize, cfg.EventQueueWarn),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		logger.Error("connect", "error", err)
		os.Exit(1)
	}
	defer client.Close()

	switch flag.Arg(0) {
	case "get":
		runGet(ctx, client, flag.Args()[1:])
	case "set":
		runSet(ctx, client, flag.Args()[1:])
	case "groups":
		runGroups(ctx, client)
	case "subscribe":
		runSubscribe(ctx, client, flag.Args()[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", flag.Arg(0))
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("dmsconnector-demo - exercise a DMS JSON Data Exchange server")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  get <path>                 Fetch a datapoint's value")
	fmt.Println("  set <path> <value>         Set a datapoint's value")
	fmt.Println("  groups                     List changelog groups")
	fmt.Println("  subscribe <path>           Print events for a datapoint until interrupted")
	fmt.Println()
	fmt.Println("Flags:")
	flag.PrintDefaults()
}

func loadConfig(logger *slog.Logger, explicit string) *config.Config {
	path, err := config.FindConfig(explicit)
	if err != nil {
		logger.Warn("no config file found, using defaults", "error", err)
		return config.Default()
	}
	cfg, err := config.Load(path)
	if err != nil {
		logger.Error("failed to load config", "path", path, "error", err)
		os.Exit(1)
	}
	return cfg
}

func runGet(ctx context.Context, c *dmsconnector.Client, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: dmsconnector-demo get <path>")
		os.Exit(1)
	}
	resp, err := c.DpGet(ctx, args[0], dmsconnector.GetOptions{})
	if err != nil {
		fmt.Fprintln(os.Stderr, "get:", err)
		os.Exit(1)
	}
	fmt.Printf("%s = %v (code=%s)\n", args[0], resp.Value, resp.Code)
}

func runSet(ctx context.Context, c *dmsconnector.Client, args []string) {
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: dmsconnector-demo set <path> <value>")
		os.Exit(1)
	}
	resp, err := c.DpSet(ctx, args[0], args[1], dmsconnector.SetOptions{})
	if err != nil {
		fmt.Fprintln(os.Stderr, "set:", err)
		os.Exit(1)
	}
	fmt.Printf("code=%s\n", resp.Code)
}

func runGroups(ctx context.Context, c *dmsconnector.Client) {
	resp, err := c.ChangelogGetGroups(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "groups:", err)
		os.Exit(1)
	}
	for _, g := range resp.Groups {
		fmt.Println(g)
	}
}

func runSubscribe(ctx context.Context, c *dmsconnector.Client, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: dmsconnector-demo subscribe <path>")
		os.Exit(1)
	}

	sub, err := c.GetDPSubscription(ctx, args[0], dmsconnector.SubscribeOptions{Event: dmsconnector.OnAll},
		func(_ *dmsconnector.Subscription, ev dmsconnector.Event) {
			fmt.Printf("[%s] %s = %v\n", ev.Code, ev.Path, ev.Value)
		})
	if err != nil {
		fmt.Fprintln(os.Stderr, "subscribe:", err)
		os.Exit(1)
	}
	defer c.Unsubscribe(context.Background(), sub)

	<-ctx.Done()
}
