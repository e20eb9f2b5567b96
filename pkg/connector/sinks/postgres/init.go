package postgres

import (
	"github.com/ajitpratap0/datapkg/pkg/config"
	"github.com/ajitpratap0/datapkg/pkg/connector/registry"
	"github.com/ajitpratap0/datapkg/pkg/connector/shared/pgutil"
)

func init() {
	registry.RegisterSink(registry.ConnectorInfo{
		Name:              Type,
		Description:       "Tables in a PostgreSQL database, loaded with COPY",
		Capabilities:      []string{"batch", "append", "transactional"},
		ConnectionSchema:  pgutil.ConnectionSchema(),
		CredentialsSchema: pgutil.CredentialsSchema(),
		ConfigurationSchema: config.ParameterSchema{
			{Name: "batchSize", Message: "Rows per COPY batch?", Type: config.ParameterTypeNumber, Default: float64(defaultBatchSize)},
		},
	}, NewSink)
}
