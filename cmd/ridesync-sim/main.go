// README: Scenario runner; drives a customer and competing drivers through a full trip and prints results.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

func main() {
	cfg := loadConfig()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	runner, err := NewRunner(ctx, cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer runner.Close()
	results := runner.RunAll(ctx)

	fmt.Println("\n== Summary ==")
	pass, fail, skipped := 0, 0, 0
	for _, r := range results {
		switch r.Status {
		case StatusPass:
			pass++
		case StatusFail:
			fail++
		case StatusSkip:
			skipped++
		}
	}
	fmt.Printf("PASS=%d FAIL=%d SKIP=%d\n", pass, fail, skipped)

	if fail > 0 || (cfg.Strict && skipped > 0) {
		os.Exit(1)
	}
}

type Config struct {
	BaseURL   string
	DSN       string
	RedisAddr string
	Drivers   int
	Steps     int
	Strict    bool
	Timeout   time.Duration
	LogLevel  string
}

func loadConfig() Config {
	var cfg Config
	flag.StringVar(&cfg.BaseURL, "base-url", os.Getenv("RIDESYNC_SIM_BASE_URL"), "running API to health-check (optional)")
	flag.StringVar(&cfg.DSN, "dsn", os.Getenv("RIDESYNC_DB_DSN"), "Postgres DSN; enables the postgres registry")
	flag.StringVar(&cfg.RedisAddr, "redis", os.Getenv("RIDESYNC_REDIS_ADDR"), "Redis address; enables the redis store and event bus")
	flag.IntVar(&cfg.Drivers, "drivers", envOrDefaultInt("RIDESYNC_SIM_DRIVERS", 8), "drivers racing to accept")
	flag.IntVar(&cfg.Steps, "steps", envOrDefaultInt("RIDESYNC_SIM_STEPS", 5), "location samples on the way to pickup")
	flag.BoolVar(&cfg.Strict, "strict", false, "fail on skipped cases")
	flag.DurationVar(&cfg.Timeout, "timeout", 30*time.Second, "total timeout")
	flag.StringVar(&cfg.LogLevel, "log-level", "warn", "service log level")
	flag.Parse()
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return cfg
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
