package postgres

import (
	"github.com/ajitpratap0/datapkg/pkg/config"
	"github.com/ajitpratap0/datapkg/pkg/connector/registry"
	"github.com/ajitpratap0/datapkg/pkg/connector/shared/pgutil"
)

func init() {
	registry.RegisterSource(registry.ConnectorInfo{
		Name:              Type,
		Description:       "Tables in a PostgreSQL schema, exported as CSV",
		Capabilities:      []string{"table_stats"},
		ConnectionSchema:  pgutil.ConnectionSchema(),
		CredentialsSchema: pgutil.CredentialsSchema(),
		ConfigurationSchema: config.ParameterSchema{
			{Name: "tables", Message: "Tables (leave empty for every table in the schema)?", Type: config.ParameterTypeStringList},
		},
	}, NewSource)
}
