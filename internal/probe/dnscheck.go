package probe

import "github.com/miekg/dns"

// DNS outcome classes reported on the log side channel.
const (
	DNSResolves          = "RESOLVES"
	DNSNXDomain          = "NXDOMAIN"
	DNSNoARecord         = "NO_A_RECORD"
	DNSServfailOrTimeout = "SERVFAIL_or_TIMEOUT"
	DNSInvalidName       = "INVALID_NAME"
)

// classifyExchange maps one query/answer exchange to a DNS class and the
// first address found in the answer section, if any.
func classifyExchange(in *dns.Msg, err error) (class string, addr string) {
	if err != nil || in == nil {
		return DNSServfailOrTimeout, ""
	}
	switch in.Rcode {
	case dns.RcodeSuccess:
	case dns.RcodeNameError:
		return DNSNXDomain, ""
	default:
		return DNSServfailOrTimeout, ""
	}
	for _, rr := range in.Answer {
		switch v := rr.(type) {
		case *dns.A:
			return DNSResolves, v.A.String()
		case *dns.AAAA:
			return DNSResolves, v.AAAA.String()
		}
	}
	// CNAME-only or empty answer
	return DNSNoARecord, ""
}
