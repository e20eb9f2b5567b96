package file

import (
	"github.com/ajitpratap0/datapkg/pkg/config"
	"github.com/ajitpratap0/datapkg/pkg/connector/registry"
)

func init() {
	registry.RegisterSource(registry.ConnectorInfo{
		Name:         Type,
		Description:  "Local files, directories and glob patterns",
		Capabilities: []string{"glob", "mtime"},
		ConnectionSchema: config.ParameterSchema{
			{Name: "paths", Message: "File paths or glob patterns?", Type: config.ParameterTypeStringList, Required: true},
		},
	}, NewSource)
}
