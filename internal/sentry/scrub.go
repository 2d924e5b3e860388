// Package sentry wires error reporting to Sentry and scrubs credentials and
// subscriber addresses from events before they leave the process.
package sentry

import (
	"context"
	"net/url"
	"strings"

	"github.com/getsentry/sentry-go"
)

const filtered = "[Filtered]"

// sensitiveHeaders are HTTP headers that should be redacted from Sentry events.
// Forwarding headers carry subscriber source addresses.
var sensitiveHeaders = map[string]bool{
	"authorization":    true,
	"cookie":           true,
	"set-cookie":       true,
	"x-real-ip":        true,
	"x-forwarded-for":  true,
	"cf-connecting-ip": true,
}

// sensitiveKeys are field names that may contain sensitive data in tags,
// extras, breadcrumb metadata or query strings.
var sensitiveKeys = map[string]bool{
	"password":       true,
	"passwordhash":   true,
	"adminpassword":  true,
	"token":          true,
	"access_token":   true,
	"secret":         true,
	"jwt":            true,
	"authorization":  true,
	"cookie":         true,
	"ip":             true,
	"sourceaddress":  true,
	"source_address": true,
}

func isSensitiveKey(key string) bool {
	return sensitiveKeys[strings.ToLower(key)]
}

// ScrubEvent removes sensitive data from a Sentry event before it is sent.
// It redacts sensitive headers and query parameters, strips request bodies,
// and scrubs tags, extras and breadcrumbs.
func ScrubEvent(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
	if event == nil {
		return nil
	}

	if event.Request != nil {
		for header := range event.Request.Headers {
			if sensitiveHeaders[strings.ToLower(header)] {
				event.Request.Headers[header] = filtered
			}
		}
		// Published payloads and token requests never leave the process.
		event.Request.Data = ""
		event.Request.Cookies = ""
		event.Request.QueryString = scrubQuery(event.Request.QueryString)
	}

	if event.User.IPAddress != "" {
		event.User.IPAddress = ""
	}

	for key := range event.Tags {
		if isSensitiveKey(key) {
			event.Tags[key] = filtered
		}
	}
	for key := range event.Extra {
		if isSensitiveKey(key) {
			event.Extra[key] = filtered
		}
	}

	for _, crumb := range event.Breadcrumbs {
		if crumb == nil {
			continue
		}
		for key := range crumb.Data {
			if isSensitiveKey(key) {
				crumb.Data[key] = filtered
			}
		}
	}

	return event
}

// ScrubTransaction applies the same scrubbing logic to transaction events.
func ScrubTransaction(event *sentry.Event, hint *sentry.EventHint) *sentry.Event {
	return ScrubEvent(event, hint)
}

func scrubQuery(raw string) string {
	if raw == "" {
		return raw
	}
	values, err := url.ParseQuery(raw)
	if err != nil {
		return filtered
	}
	changed := false
	for key := range values {
		if isSensitiveKey(key) {
			values[key] = []string{filtered}
			changed = true
		}
	}
	if !changed {
		return raw
	}
	return values.Encode()
}

// ReportError sends err to Sentry using the hub attached to ctx, falling back
// to the current hub. It is a no-op when Sentry has not been initialised.
func ReportError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	hub := sentry.GetHubFromContext(ctx)
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	if hub.Client() == nil {
		return
	}
	hub.CaptureException(err)
}
