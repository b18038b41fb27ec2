package canvas

import (
	"log/slog"
	"net/http"
	"strings"
)

// forwardableHeaders is the exact-match allow-list for caller headers that
// may travel upstream on the trigger call: core protocol headers plus the
// standard HTTP metadata set. Names are compared lowercased.
var forwardableHeaders = map[string]struct{}{
	"accept":          {},
	"accept-language": {},
	"accept-encoding": {},
	"cache-control":   {},
	"user-agent":      {},
	"x-request-id":    {},
}

// forwardablePrefixes admits the vendor header families Canvas understands.
var forwardablePrefixes = []string{
	"x-canvas-",
	"sec-ch-",
}

// FilterHeaders returns the subset of the caller's headers that may be
// forwarded upstream. Dropped headers are logged at debug level and never
// surface to the caller.
func FilterHeaders(in http.Header) http.Header {
	out := http.Header{}
	for name, values := range in {
		if !headerForwardable(name) {
			slog.Debug("dropping caller header", "header", name)
			continue
		}
		for _, v := range values {
			out.Add(name, v)
		}
	}
	return out
}

func headerForwardable(name string) bool {
	lower := strings.ToLower(name)
	if _, ok := forwardableHeaders[lower]; ok {
		return true
	}
	for _, prefix := range forwardablePrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}
