package probe

import (
	"context"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
	"go.uber.org/zap"
)

// DNSResolver queries one explicitly configured server instead of the host
// resolver, so every cycle sees the same view of DNS.
type DNSResolver struct {
	Server string
	Client *dns.Client
	Logger *zap.Logger
}

// NewDNSResolver accepts "host" or "host:port"; port 53 is assumed when missing.
func NewDNSResolver(server string, timeout time.Duration, log *zap.Logger) *DNSResolver {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &DNSResolver{
		Server: serverAddr(server),
		Client: &dns.Client{Net: "udp", Timeout: timeout},
		Logger: log,
	}
}

func serverAddr(s string) string {
	s = strings.TrimSpace(s)
	if _, _, err := net.SplitHostPort(s); err == nil {
		return s
	}
	return net.JoinHostPort(strings.Trim(s, "[]"), "53")
}

// Resolve returns literal IPs unchanged, otherwise the first A (then AAAA)
// address. Any failure falls back to the original name.
func (r *DNSResolver) Resolve(ctx context.Context, name string) string {
	host := strings.TrimSpace(name)
	if net.ParseIP(host) != nil {
		return name
	}
	if host == "" || strings.Contains(host, "://") {
		r.Logger.Warn("dns_lookup_failed", zap.String("domain", name), zap.String("class", DNSInvalidName))
		return name
	}

	class := DNSNoARecord
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		m := new(dns.Msg)
		m.SetQuestion(dns.Fqdn(host), qtype)
		m.RecursionDesired = true

		in, _, err := r.Client.ExchangeContext(ctx, m, r.Server)
		c, addr := classifyExchange(in, err)
		if addr != "" {
			return addr
		}
		class = c
		if err != nil {
			r.Logger.Warn("dns_lookup_failed",
				zap.String("domain", host),
				zap.String("server", r.Server),
				zap.String("qtype", dns.TypeToString[qtype]),
				zap.String("class", class),
				zap.Error(err),
			)
			return name
		}
		if class == DNSNXDomain {
			break
		}
	}
	r.Logger.Info("dns_lookup_failed",
		zap.String("domain", host),
		zap.String("server", r.Server),
		zap.String("class", class),
	)
	return name
}
