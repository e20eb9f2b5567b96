package minio

import (
	"github.com/ajitpratap0/datapkg/pkg/config"
	"github.com/ajitpratap0/datapkg/pkg/connector/registry"
)

func init() {
	registry.RegisterSource(registry.ConnectorInfo{
		Name:         Type,
		Description:  "Objects in an S3-compatible bucket",
		Capabilities: []string{"list_prefix", "etag"},
		ConnectionSchema: config.ParameterSchema{
			{Name: "endpoint", Message: "Endpoint (host:port or URL)?", Type: config.ParameterTypeString, Required: true},
			{Name: "bucket", Message: "Bucket?", Type: config.ParameterTypeString, Required: true},
			{Name: "region", Message: "Region?", Type: config.ParameterTypeString, Default: defaultRegion},
		},
		CredentialsSchema: config.ParameterSchema{
			{Name: "accessKeyId", Message: "Access key ID?", Type: config.ParameterTypeString},
			{Name: "secretAccessKey", Message: "Secret access key?", Type: config.ParameterTypeString, Secret: true},
		},
		ConfigurationSchema: config.ParameterSchema{
			{Name: "prefix", Message: "Object key prefix?", Type: config.ParameterTypeString},
			{Name: "keys", Message: "Object keys (leave empty to list the prefix)?", Type: config.ParameterTypeStringList},
		},
	}, NewSource)
}
