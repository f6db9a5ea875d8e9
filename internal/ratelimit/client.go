package ratelimit

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// maxUserAgentRunes bounds the user-agent part of a client identifier.
const maxUserAgentRunes = 50

// ClientIdentifier derives the rate-limit key of r from the client IP and
// user agent. The IP is the first X-Forwarded-For entry, else X-Real-IP, else
// the host of RemoteAddr, else "unknown".
func ClientIdentifier(r *http.Request) string {
	ip := ""
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		ip = strings.TrimSpace(first)
	}
	if ip == "" {
		ip = strings.TrimSpace(r.Header.Get("X-Real-IP"))
	}
	if ip == "" && r.RemoteAddr != "" {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		ip = host
	}
	if ip == "" {
		ip = "unknown"
	}

	ua := r.UserAgent()
	if ua == "" {
		ua = "unknown"
	}
	if runes := []rune(ua); len(runes) > maxUserAgentRunes {
		ua = string(runes[:maxUserAgentRunes])
	}
	return ip + "-" + ua
}

// SetHeaders writes the X-RateLimit-* headers for d, plus Retry-After when
// the request was denied.
func SetHeaders(w http.ResponseWriter, d Decision, now time.Time) {
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
	if !d.Allowed {
		secs := int(math.Ceil(d.ResetAt.Sub(now).Seconds()))
		h.Set("Retry-After", strconv.Itoa(max(secs, 1)))
	}
}
