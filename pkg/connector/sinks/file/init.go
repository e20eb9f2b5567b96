package file

import (
	"github.com/ajitpratap0/datapkg/pkg/config"
	"github.com/ajitpratap0/datapkg/pkg/connector/base"
	"github.com/ajitpratap0/datapkg/pkg/connector/registry"
)

func init() {
	registry.RegisterSink(registry.ConnectorInfo{
		Name:         Type,
		Description:  "Files in a local directory",
		Capabilities: []string{"batch", "append", "compression"},
		ConnectionSchema: config.ParameterSchema{
			{Name: "path", Message: "Output directory (empty for the default data directory)?", Type: config.ParameterTypeString},
		},
		ConfigurationSchema: base.OutputParameters,
	}, NewSink)
}
