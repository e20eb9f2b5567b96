package job

import (
	"context"
	"io"

	"github.com/ajitpratap0/datapkg/pkg/config"
)

// PrintType classifies a line of user facing output.
type PrintType string

const (
	PrintNone    PrintType = "NONE"
	PrintError   PrintType = "ERROR"
	PrintWarn    PrintType = "WARN"
	PrintInfo    PrintType = "INFO"
	PrintDebug   PrintType = "DEBUG"
	PrintSuccess PrintType = "SUCCESS"
	PrintFail    PrintType = "FAIL"
	PrintUpdate  PrintType = "UPDATE"
	PrintStart   PrintType = "START"
)

// LogLevel is the level of a diagnostic log line.
type LogLevel string

const (
	LogError LogLevel = "ERROR"
	LogWarn  LogLevel = "WARN"
	LogInfo  LogLevel = "INFO"
	LogDebug LogLevel = "DEBUG"
)

// Writable is a destination for a package artifact and where it ends up.
type Writable struct {
	Writer   io.WriteCloser
	Location string
}

// JobContext is everything a job needs from its host: prompts, output,
// tasks, saved repository configuration and artifact destinations.
type JobContext interface {
	// ParameterPrompt asks the user for the given parameters. Hosts that
	// cannot prompt return a configuration error naming the missing ones.
	ParameterPrompt(ctx context.Context, params config.ParameterSchema) (config.Values, error)
	Print(t PrintType, message string)
	Log(level LogLevel, message string)
	StartTask(message string) Task

	RepositoryConfigsByType(connectorType string) ([]config.RepositoryConfig, error)
	SaveRepositoryConfig(connectorType string, repo config.RepositoryConfig) error

	PackageWritable(catalogSlug, packageSlug, version string) (*Writable, error)
	ReadmeWritable(catalogSlug, packageSlug, version string) (*Writable, error)
	LicenseWritable(catalogSlug, packageSlug, version string) (*Writable, error)
}
