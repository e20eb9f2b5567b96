// Package sources links every source connector into the registry.
package sources

import (
	// Import all source connectors to trigger init() registration
	_ "github.com/ajitpratap0/datapkg/pkg/connector/sources/file"
	_ "github.com/ajitpratap0/datapkg/pkg/connector/sources/http"
	_ "github.com/ajitpratap0/datapkg/pkg/connector/sources/minio"
	_ "github.com/ajitpratap0/datapkg/pkg/connector/sources/postgres"
)
