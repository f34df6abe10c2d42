package bootstrap

import (
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"

	"mongoinit/storage"
)

// ClassifyConnectionError provides specific error messages based on the type of connection failure.
func ClassifyConnectionError(err error, uri string) string {
	if err == nil {
		return ""
	}

	errStr := err.Error()

	var netErr net.Error
	if (errors.As(err, &netErr) && netErr.Timeout()) || containsIgnoreCase(errStr, "server selection timeout") ||
		containsIgnoreCase(errStr, "context deadline exceeded") {
		return fmt.Sprintf("Connection to MongoDB at %s timed out.\n"+
			"  Possible causes:\n"+
			"  - mongod is still starting up (wait and retry)\n"+
			"  - Network latency or firewall blocking the connection\n"+
			"  - replicaSet is set but the replica set is not initiated\n"+
			"  Remediation:\n"+
			"  - Check if MongoDB is running: docker ps | grep mongo\n"+
			"  - Check the server answers: mongosh --eval 'db.runCommand({ping: 1})'\n"+
			"  - Raise MONGOINIT_MONGODB_CONNECT_RETRIES or MONGOINIT_TIMEOUT", uri)
	}

	var opErr *net.OpError
	refused := errors.As(err, &opErr) && opErr.Op == "dial" && errors.Is(opErr.Err, syscall.ECONNREFUSED)
	if refused || containsIgnoreCase(errStr, "connection refused") || containsIgnoreCase(errStr, "actively refused") {
		return fmt.Sprintf("Connection refused by MongoDB at %s.\n"+
			"  This usually means mongod is not running or listens on another port.\n"+
			"  Remediation:\n"+
			"  - Start MongoDB: docker compose up -d mongo\n"+
			"  - Check MongoDB logs: docker logs mongo\n"+
			"  - Verify MONGO_URI or MONGOINIT_MONGODB_HOST / MONGOINIT_MONGODB_PORT", uri)
	}

	if containsIgnoreCase(errStr, "no such host") || containsIgnoreCase(errStr, "lookup") {
		return fmt.Sprintf("Cannot resolve hostname in MongoDB address %s.\n"+
			"  Remediation:\n"+
			"  - Verify the hostname is correct\n"+
			"  - Check DNS configuration or the compose service name\n"+
			"  - Try using IP address (127.0.0.1) instead of hostname", uri)
	}

	if storage.IsAuthError(err) {
		return fmt.Sprintf("Authentication failed for MongoDB at %s.\n"+
			"  Remediation:\n"+
			"  - Verify MONGO_INITDB_ROOT_USERNAME matches the root user\n"+
			"  - Verify the root password secret (default /run/secrets/mongodb_root_password)\n"+
			"  - Check MONGOINIT_ADMIN_AUTH_SOURCE (default admin)", uri)
	}

	if containsIgnoreCase(errStr, "x509") || containsIgnoreCase(errStr, "tls") {
		return fmt.Sprintf("TLS handshake with MongoDB at %s failed: %v\n"+
			"  Remediation:\n"+
			"  - Check that the server expects TLS (MONGOINIT_MONGODB_TLS)\n"+
			"  - Add tlsCAFile to MONGO_URI when the CA is private", uri, err)
	}

	return fmt.Sprintf("Failed to connect to MongoDB at %s: %v\n"+
		"  Remediation:\n"+
		"  - Ensure MongoDB is running and accessible\n"+
		"  - Check the MONGO_URI setting\n"+
		"  - Verify network connectivity", uri, err)
}

// writeFatalBanner prints a failure summary in the same layout for every fatal step.
func writeFatalBanner(w io.Writer, title, body string) {
	if w == nil {
		return
	}
	fmt.Fprintf(w, "\n========================================\n")
	fmt.Fprintf(w, "FATAL: %s\n", title)
	fmt.Fprintf(w, "========================================\n")
	fmt.Fprintf(w, "%s\n", body)
	fmt.Fprintf(w, "========================================\n\n")
}

// rolesOutsideDB returns the roles that grant privileges on any database other than db.
func rolesOutsideDB(roles []storage.Role, db string) []storage.Role {
	var outside []storage.Role
	for _, r := range roles {
		if r.DB != db {
			outside = append(outside, r)
		}
	}
	return outside
}

// rolesEqual compares two role lists ignoring order.
func rolesEqual(a, b []storage.Role) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[storage.Role]int, len(a))
	for _, r := range a {
		seen[r]++
	}
	for _, r := range b {
		if seen[r] == 0 {
			return false
		}
		seen[r]--
	}
	return true
}

func formatRoles(roles []storage.Role) []string {
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		out = append(out, r.Role+"@"+r.DB)
	}
	return out
}

// containsIgnoreCase checks if a string contains a substring (case-insensitive).
func containsIgnoreCase(s, substr string) bool {
	if len(substr) == 0 {
		return true
	}
	if len(s) < len(substr) {
		return false
	}
	for i := 0; i <= len(s)-len(substr); i++ {
		if equalFoldAt(s, substr, i) {
			return true
		}
	}
	return false
}

func equalFoldAt(s, substr string, start int) bool {
	for i := 0; i < len(substr); i++ {
		c1, c2 := s[start+i], substr[i]
		if c1 == c2 {
			continue
		}
		if 'A' <= c1 && c1 <= 'Z' {
			c1 += 'a' - 'A'
		}
		if 'A' <= c2 && c2 <= 'Z' {
			c2 += 'a' - 'A'
		}
		if c1 != c2 {
			return false
		}
	}
	return true
}
