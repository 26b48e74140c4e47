package webhook

import (
	"crypto/hmac"
	"strings"

	"github.com/memberfox/MemberFox/internal/pkg/env"
)

// Gate is the optional security check in front of the webhook endpoint:
// a shared-secret token header and/or a source-IP allowlist, both configured
// from the environment. An empty gate allows everything.
type Gate struct {
	Token      string
	AllowedIPs []string
}

// NewGateFromEnv builds the gate from WEBHOOK_TOKEN and WEBHOOK_ALLOWED_IPS
// (comma-separated).
func NewGateFromEnv() Gate {
	gate := Gate{
		Token: strings.TrimSpace(env.GetEnv("WEBHOOK_TOKEN", "")),
	}
	for _, ip := range strings.Split(env.GetEnv("WEBHOOK_ALLOWED_IPS", ""), ",") {
		if ip = strings.TrimSpace(ip); ip != "" {
			gate.AllowedIPs = append(gate.AllowedIPs, ip)
		}
	}
	return gate
}

// Allow checks the presented token and remote IP against the configured
// gate. Token comparison is constant-time.
func (g Gate) Allow(token, remoteIP string) bool {
	if g.Token != "" {
		if !hmac.Equal([]byte(strings.TrimSpace(token)), []byte(g.Token)) {
			return false
		}
	}
	if len(g.AllowedIPs) > 0 {
		ip := strings.TrimSpace(remoteIP)
		allowed := false
		for _, candidate := range g.AllowedIPs {
			if candidate == ip {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}
	return true
}
