// cmd/preflight/main.go
package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/miekg/dns"
	"github.com/redis/go-redis/v9"

	"github.com/hamed0406/latencymonitor/internal/config"
)

func main() {
	if !preflight(context.Background(), os.Stdout, os.Stderr) {
		os.Exit(1)
	}
}

// preflight checks the environment the API would start with and reports
// each finding. It returns false on the first hard failure.
func preflight(ctx context.Context, stdout, stderr io.Writer) bool {
	fail := func(msg string) bool {
		fmt.Fprintln(stderr, "✖", msg)
		return false
	}
	warn := func(msg string) { fmt.Fprintln(stderr, "⚠", msg) }
	ok := func(msg string) { fmt.Fprintln(stdout, "✔", msg) }

	cfg, err := config.FromEnv()
	if err != nil {
		return fail("config: " + err.Error())
	}
	ok("API_ADDR=" + cfg.Addr)
	ok(fmt.Sprintf("probe every %s, timeout %s, mode %s, fan-out %d",
		cfg.ProbeInterval, cfg.ProbeTimeout, cfg.ProbeMode, cfg.MaxConcurrent))

	switch cfg.StoreDriver {
	case config.DriverPostgres:
		cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		conn, err := pgx.Connect(cctx, cfg.DatabaseURL)
		if err != nil {
			return fail("DATABASE_URL unreachable: " + err.Error())
		}
		_ = conn.Close(cctx)
		ok("postgres reachable")
	case config.DriverMemory:
		warn("STORE_DRIVER=memory; samples are lost on restart.")
	default:
		ok("bolt store at " + cfg.DatabasePath)
	}

	if cfg.PurgeSchedule == "" {
		ok(fmt.Sprintf("retention %d days, purged every cycle", cfg.RetentionDays))
	} else {
		ok(fmt.Sprintf("retention %d days, purge schedule %q", cfg.RetentionDays, cfg.PurgeSchedule))
	}

	if err := checkDNS(ctx, cfg.DNSServer, cfg.DNSTimeout); err != nil {
		warn("DNS_SERVER " + cfg.DNSServer + " did not answer: " + err.Error() + " (probes fall back to raw names)")
	} else {
		ok("DNS_SERVER=" + cfg.DNSServer)
	}

	if cfg.RedisAddr == "" {
		warn("REDIS_ADDR empty; probe stats are kept in memory.")
	} else {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		defer rdb.Close()
		pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := rdb.Ping(pctx).Err(); err != nil {
			warn("REDIS_ADDR unreachable: " + err.Error())
		} else {
			ok("redis reachable")
		}
	}

	if cfg.ProbeMode == config.ModeICMP && !cfg.PingPrivileged {
		warn("unprivileged ICMP needs net.ipv4.ping_group_range to include this user on Linux.")
	}

	if len(cfg.AllowedOrigins) == 1 && cfg.AllowedOrigins[0] == "*" {
		warn("ALLOWED_ORIGINS is *; any site can read the API from a browser.")
	}

	ok("preflight passed")
	return true
}

func checkDNS(ctx context.Context, server string, timeout time.Duration) error {
	if _, _, err := net.SplitHostPort(server); err != nil {
		server = net.JoinHostPort(server, "53")
	}
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn("example.com"), dns.TypeA)
	c := &dns.Client{Timeout: timeout}
	_, _, err := c.ExchangeContext(ctx, m, server)
	return err
}
