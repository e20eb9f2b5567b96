package s3

import (
	"context"

	"github.com/ajitpratap0/datapkg/pkg/config"
	"github.com/ajitpratap0/datapkg/pkg/connector/base"
	"github.com/ajitpratap0/datapkg/pkg/connector/core"
	"github.com/ajitpratap0/datapkg/pkg/connector/registry"
)

func init() {
	configuration := append(config.ParameterSchema{}, base.OutputParameters...)
	configuration = append(configuration,
		config.Parameter{Name: "uploadPartSizeMB", Message: "Multipart upload part size in MB?", Type: config.ParameterTypeNumber, Default: float64(defaultUploadPartSize / (1024 * 1024))},
		config.Parameter{Name: "uploadConcurrency", Message: "Parallel part uploads?", Type: config.ParameterTypeNumber, Default: float64(defaultMaxConcurrency)},
	)

	registry.RegisterSink(registry.ConnectorInfo{
		Name:         Type,
		Description:  "Objects in an Amazon S3 (or S3 compatible) bucket",
		Capabilities: []string{"batch", "append", "compression", "multipart_upload"},
		ConnectionSchema: config.ParameterSchema{
			{Name: "bucket", Message: "Bucket?", Type: config.ParameterTypeString, Required: true},
			{Name: "region", Message: "AWS region?", Type: config.ParameterTypeString, Default: defaultRegion},
			{Name: "path", Message: "Key prefix?", Type: config.ParameterTypeString},
			{Name: "endpoint", Message: "Custom endpoint URL (empty for AWS)?", Type: config.ParameterTypeString},
		},
		CredentialsSchema: config.ParameterSchema{
			{Name: "accessKeyId", Message: "AWS access key ID (empty for the default chain)?", Type: config.ParameterTypeString},
			{Name: "secretAccessKey", Message: "AWS secret access key?", Type: config.ParameterTypeString, Secret: true},
			{Name: "sessionToken", Message: "AWS session token?", Type: config.ParameterTypeString, Secret: true},
		},
		ConfigurationSchema: configuration,
	}, func(ctx context.Context, settings core.SinkSettings) (core.Sink, error) {
		return NewSink(ctx, settings)
	})
}
