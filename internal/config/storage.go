package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
)

// PostgresConnectionString renders the key=value DSN the pgx pool
// consumes. The password is the one field users put arbitrary bytes
// in, so it is quoted.
func (c *Config) PostgresConnectionString() string {
	pairs := []string{
		"host=" + c.PostgresHost,
		"port=" + strconv.Itoa(c.PostgresPort),
		"user=" + c.PostgresUser,
		"password=" + quoteDSN(c.PostgresPassword),
		"dbname=" + c.PostgresDBName,
		"sslmode=" + c.PostgresSSLMode,
	}
	return strings.Join(pairs, " ")
}

// PostgresURL renders the same settings as a postgres:// URL, the form
// the migration runner takes. url.URL handles credential escaping.
func (c *Config) PostgresURL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.PostgresUser, c.PostgresPassword),
		Host:     c.PostgresHost + ":" + strconv.Itoa(c.PostgresPort),
		Path:     "/" + c.PostgresDBName,
		RawQuery: "sslmode=" + c.PostgresSSLMode,
	}
	return u.String()
}

// quoteDSN single-quotes a DSN value, escaping backslashes and quotes,
// so spaces and = signs survive pgx's DSN parser.
func quoteDSN(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(s) + "'"
}

// parseDatabaseURL lets a single DATABASE_URL environment variable
// override the individual postgres_* settings. Empty components leave
// the existing values alone.
func (c *Config) parseDatabaseURL() error {
	raw := os.Getenv("DATABASE_URL")
	if raw == "" {
		return nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid DATABASE_URL format: %w", err)
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return fmt.Errorf("DATABASE_URL must start with postgres:// or postgresql://, got %q", u.Scheme)
	}

	if h := u.Hostname(); h != "" {
		c.PostgresHost = h
	}
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("invalid port in DATABASE_URL: %w", err)
		}
		c.PostgresPort = port
	}
	if u.User != nil {
		if name := u.User.Username(); name != "" {
			c.PostgresUser = name
		}
		if pw, ok := u.User.Password(); ok {
			c.PostgresPassword = pw
		}
	}
	if name := strings.TrimPrefix(u.Path, "/"); name != "" {
		c.PostgresDBName = name
	}
	if mode := u.Query().Get("sslmode"); mode != "" {
		c.PostgresSSLMode = mode
	}
	return nil
}
