package canvas

import (
	"net/http"
	"testing"
)

func TestFilterHeadersAllowList(t *testing.T) {
	t.Parallel()

	in := http.Header{}
	in.Set("Accept-Language", "en-US")
	in.Set("User-Agent", "test-agent/1.0")
	in.Set("Cookie", "secret=1")
	in.Set("Authorization", "Bearer caller-token")
	in.Set("X-Forwarded-For", "10.0.0.1")

	out := FilterHeaders(in)

	if out.Get("Accept-Language") != "en-US" {
		t.Fatalf("expected Accept-Language forwarded")
	}
	if out.Get("User-Agent") != "test-agent/1.0" {
		t.Fatalf("expected User-Agent forwarded")
	}
	for _, name := range []string{"Cookie", "Authorization", "X-Forwarded-For"} {
		if out.Get(name) != "" {
			t.Fatalf("expected %s dropped", name)
		}
	}
}

func TestFilterHeadersVendorPrefixes(t *testing.T) {
	t.Parallel()

	in := http.Header{}
	in.Set("X-Canvas-Client", "cli")
	in.Set("Sec-CH-UA", `"Chromium";v="130"`)
	in.Set("X-Custom-Thing", "nope")

	out := FilterHeaders(in)

	if out.Get("X-Canvas-Client") != "cli" {
		t.Fatalf("expected vendor-prefixed header forwarded")
	}
	if out.Get("Sec-CH-UA") == "" {
		t.Fatalf("expected sec-ch- header forwarded")
	}
	if out.Get("X-Custom-Thing") != "" {
		t.Fatalf("expected unknown prefix dropped")
	}
}

func TestFilterHeadersPreservesMultipleValues(t *testing.T) {
	t.Parallel()

	in := http.Header{}
	in.Add("Accept", "text/event-stream")
	in.Add("Accept", "application/json")

	out := FilterHeaders(in)
	if got := out.Values("Accept"); len(got) != 2 {
		t.Fatalf("expected both Accept values, got %v", got)
	}
}
