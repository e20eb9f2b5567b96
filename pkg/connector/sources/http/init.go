package http

import (
	"github.com/ajitpratap0/datapkg/pkg/config"
	"github.com/ajitpratap0/datapkg/pkg/connector/registry"
)

func init() {
	registry.RegisterSource(registry.ConnectorInfo{
		Name:         Type,
		Description:  "Files published at HTTP(S) URLs",
		Capabilities: []string{"head_probe", "etag", "last_modified", "rate_limited"},
		ConnectionSchema: config.ParameterSchema{
			{Name: "uris", Message: "URLs of the files?", Type: config.ParameterTypeStringList, Required: true},
		},
		CredentialsSchema: config.ParameterSchema{
			{Name: "username", Message: "Username?", Type: config.ParameterTypeString},
			{Name: "password", Message: "Password?", Type: config.ParameterTypeString, Secret: true},
			{Name: "token", Message: "Bearer token?", Type: config.ParameterTypeString, Secret: true},
		},
		ConfigurationSchema: config.ParameterSchema{
			{Name: "requestsPerSecond", Message: "Maximum requests per second?", Type: config.ParameterTypeNumber, Default: defaultRequestsPerSecond},
			{Name: "timeoutSeconds", Message: "Request timeout in seconds?", Type: config.ParameterTypeNumber, Default: defaultTimeout.Seconds()},
		},
	}, NewSource)
}
