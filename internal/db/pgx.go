package db

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
)

// pgxDialer builds the production DialFunc over a single *pgx.Conn.
func pgxDialer(cfg Config) DialFunc {
	return func(ctx context.Context) (Conn, error) {
		connCfg, err := pgx.ParseConfig(cfg.DSN())
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConfig, err)
		}
		connCfg.ConnectTimeout = cfg.ConnectTimeout
		if charset := strings.TrimSpace(cfg.Charset); charset != "" {
			connCfg.RuntimeParams["client_encoding"] = charset
		}
		conn, err := pgx.ConnectConfig(ctx, connCfg)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}

// DSN renders the postgres connection URL for this configuration.
func (c Config) DSN() string {
	port := c.Port
	if port <= 0 {
		port = 5432
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   net.JoinHostPort(c.Host, strconv.Itoa(port)),
		Path:   "/" + c.Name,
	}
	return u.String()
}
