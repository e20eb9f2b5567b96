// Package pgutil holds what the PostgreSQL source and sink share: the
// connection parameters, DSN construction and SQLSTATE classification.
package pgutil

import (
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ajitpratap0/datapkg/pkg/config"
	"github.com/ajitpratap0/datapkg/pkg/errors"
)

const (
	DefaultPort   = 5432
	DefaultSchema = "public"
)

// ConnectionSchema describes host, port, database, schema and sslmode.
func ConnectionSchema() config.ParameterSchema {
	return config.ParameterSchema{
		{Name: "host", Message: "Host?", Type: config.ParameterTypeString, Required: true},
		{Name: "port", Message: "Port?", Type: config.ParameterTypeNumber, Default: float64(DefaultPort)},
		{Name: "database", Message: "Database?", Type: config.ParameterTypeString, Required: true},
		{Name: "schema", Message: "Schema?", Type: config.ParameterTypeString, Default: DefaultSchema},
		{Name: "sslmode", Message: "SSL mode?", Type: config.ParameterTypeString, Default: "prefer",
			Options: []string{"disable", "allow", "prefer", "require", "verify-ca", "verify-full"}},
	}
}

func CredentialsSchema() config.ParameterSchema {
	return config.ParameterSchema{
		{Name: "username", Message: "Username?", Type: config.ParameterTypeString, Required: true},
		{Name: "password", Message: "Password?", Type: config.ParameterTypeString, Secret: true},
	}
}

// Schema returns the configured schema name or "public".
func Schema(connection config.Values) string {
	if s := connection.GetString("schema"); s != "" {
		return s
	}
	return DefaultSchema
}

// Identifier is "host:port/database", used as the repository identifier.
func Identifier(connection config.Values) (string, error) {
	host, port, database, err := endpoint(connection)
	if err != nil {
		return "", err
	}
	return net.JoinHostPort(host, strconv.Itoa(port)) + "/" + database, nil
}

// ConnectionString builds a postgres:// URL from the connection and
// credentials parameters.
func ConnectionString(connection, creds config.Values) (string, error) {
	host, port, database, err := endpoint(connection)
	if err != nil {
		return "", err
	}

	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(host, strconv.Itoa(port)),
		Path:   "/" + database,
	}
	if user := creds.GetString("username"); user != "" {
		if password := creds.GetString("password"); password != "" {
			u.User = url.UserPassword(user, password)
		} else {
			u.User = url.User(user)
		}
	}
	if mode := connection.GetString("sslmode"); mode != "" {
		u.RawQuery = url.Values{"sslmode": {mode}}.Encode()
	}
	return u.String(), nil
}

func endpoint(connection config.Values) (string, int, string, error) {
	host := connection.GetString("host")
	database := connection.GetString("database")
	if host == "" || database == "" {
		return "", 0, "", errors.New(errors.ErrorTypeConfig, "a PostgreSQL connection requires a host and a database")
	}
	port := DefaultPort
	if p, ok := connection.GetFloat("port"); ok && p > 0 {
		port = int(p)
	}
	return host, port, database, nil
}

// ClassifyError maps PostgreSQL error classes onto error types.
func ClassifyError(err error, message string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		t := errors.ErrorTypeFormat
		switch {
		case strings.HasPrefix(pgErr.Code, "28"), pgErr.Code == "42501":
			t = errors.ErrorTypePermission
		case strings.HasPrefix(pgErr.Code, "3D"), strings.HasPrefix(pgErr.Code, "08"):
			t = errors.ErrorTypeConnection
		case strings.HasPrefix(pgErr.Code, "42"):
			t = errors.ErrorTypeConfig
		}
		return errors.Wrap(err, t, message).WithDetail("sqlstate", pgErr.Code)
	}
	return errors.Wrap(err, errors.ErrorTypeConnection, message)
}
