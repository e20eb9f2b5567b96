package gcs

import (
	"github.com/ajitpratap0/datapkg/pkg/config"
	"github.com/ajitpratap0/datapkg/pkg/connector/base"
	"github.com/ajitpratap0/datapkg/pkg/connector/registry"
)

func init() {
	registry.RegisterSink(registry.ConnectorInfo{
		Name:         Type,
		Description:  "Objects in a Google Cloud Storage bucket",
		Capabilities: []string{"batch", "append", "compression"},
		ConnectionSchema: config.ParameterSchema{
			{Name: "bucket", Message: "Bucket?", Type: config.ParameterTypeString, Required: true},
			{Name: "path", Message: "Object name prefix?", Type: config.ParameterTypeString},
		},
		CredentialsSchema: config.ParameterSchema{
			{Name: "credentialsFile", Message: "Service account key file (empty for application default credentials)?", Type: config.ParameterTypeString},
		},
		ConfigurationSchema: base.OutputParameters,
	}, NewSink)
}
