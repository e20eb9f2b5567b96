// Package sinks links every sink connector into the registry.
package sinks

import (
	// Import all sink connectors to trigger init() registration
	_ "github.com/ajitpratap0/datapkg/pkg/connector/sinks/file"
	_ "github.com/ajitpratap0/datapkg/pkg/connector/sinks/gcs"
	_ "github.com/ajitpratap0/datapkg/pkg/connector/sinks/postgres"
	_ "github.com/ajitpratap0/datapkg/pkg/connector/sinks/s3"
)
