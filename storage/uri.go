package storage

import (
	"fmt"
	"net/url"
	"strings"
)

// BuildURI builds a MongoDB URI from options.
// If URI is already set in options, it returns that.
// Credentials are never embedded; they are applied per session by the dialer.
func BuildURI(opts Options) string {
	if opts.URI != "" {
		return opts.URI
	}

	var uri strings.Builder
	uri.WriteString("mongodb://")

	host := opts.Host
	if host == "" {
		host = "localhost"
	}
	uri.WriteString(host)
	if opts.Port != 0 {
		uri.WriteString(fmt.Sprintf(":%d", opts.Port))
	}
	uri.WriteString("/")

	params := url.Values{}
	if opts.ReplicaSet != "" {
		params.Add("replicaSet", opts.ReplicaSet)
	}
	if opts.Direct && opts.ReplicaSet == "" {
		params.Add("directConnection", "true")
	}
	if opts.TLS {
		params.Add("tls", "true")
	}

	if len(params) > 0 {
		uri.WriteString("?")
		uri.WriteString(params.Encode())
	}

	return uri.String()
}

// RedactURI strips any userinfo from a URI so it can be logged.
func RedactURI(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "<unparseable uri>"
	}
	if parsed.User != nil {
		parsed.User = url.User("REDACTED")
	}
	return parsed.String()
}
