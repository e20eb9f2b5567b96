package pipeline

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ajitpratap0/datapkg/pkg/config"
	"github.com/ajitpratap0/datapkg/pkg/connector/core"
	"github.com/ajitpratap0/datapkg/pkg/connector/registry"
	"github.com/ajitpratap0/datapkg/pkg/errors"
	"github.com/ajitpratap0/datapkg/pkg/job"
	"github.com/ajitpratap0/datapkg/pkg/packagefile"
)

// maxConnectAttempts bounds how often the user is asked to correct a
// connection that fails with a recoverable error.
const maxConnectAttempts = 3

// defaultCredentialsID names credentials saved without an explicit identifier.
const defaultCredentialsID = "default"

// resolver fills declared parameters from saved values, defaults and
// prompts. With nonInteractive set it never prompts and reports missing
// parameters as configuration errors instead.
type resolver struct {
	jc             job.JobContext
	nonInteractive bool
	logger         *zap.Logger
}

func (r *resolver) resolve(ctx context.Context, schema config.ParameterSchema, values config.Values) (config.Values, error) {
	out := schema.ApplyDefaults(values)
	if missing := schema.Missing(out); len(missing) > 0 {
		if r.nonInteractive {
			names := make([]string, len(missing))
			for i, p := range missing {
				names[i] = p.Name
			}
			return nil, errors.New(errors.ErrorTypeConfig, "missing required parameters: "+strings.Join(names, ", ")).
				WithDetail("parameters", names)
		}
		answers, err := r.jc.ParameterPrompt(ctx, missing)
		if err != nil {
			return nil, err
		}
		for k, v := range answers {
			out[k] = v
		}
	}
	if err := schema.Validate(out); err != nil {
		return nil, err
	}
	return out, nil
}

// retry reports whether a failed attempt should be corrected by the user.
func (r *resolver) retry(ctx context.Context, err error, attempt int) bool {
	if r.nonInteractive || attempt >= maxConnectAttempts || ctx.Err() != nil {
		return false
	}
	return errors.IsRecoverable(err)
}

// reprompt asks for every parameter of schema again after err, keeping the
// answers on top of values.
func (r *resolver) reprompt(ctx context.Context, err error, schema config.ParameterSchema, values config.Values) (config.Values, error) {
	r.jc.Print(job.PrintFail, err.Error())
	r.logger.Info("re-prompting after recoverable error", zap.Error(err))
	answers, perr := r.jc.ParameterPrompt(ctx, schema)
	if perr != nil {
		return nil, perr
	}
	out := values.Clone()
	for k, v := range answers {
		out[k] = v
	}
	return out, nil
}

// promptReference asks for a package reference when none was given.
func (r *resolver) promptReference(ctx context.Context, reference string) (string, error) {
	if reference != "" {
		return reference, nil
	}
	values, err := r.resolve(ctx, config.ParameterSchema{
		{Name: "reference", Message: "Package file or reference?", Type: config.ParameterTypeString, Required: true},
	}, nil)
	if err != nil {
		return "", err
	}
	return values.GetString("reference"), nil
}

// connectedSource is a source with resolved parameters and its discovered streams.
type connectedSource struct {
	spec          *packagefile.Source
	source        core.Source
	connection    config.Values
	credentials   config.Values
	configuration config.Values
	streams       []*core.StreamDescriptor
}

// connectSource resolves the parameters of spec and discovers its streams,
// asking the user to correct the connection on recoverable failures. The
// resolved connection and credentials identifier are written back to spec.
func (r *resolver) connectSource(ctx context.Context, reg *registry.Registry, spec *packagefile.Source) (*connectedSource, error) {
	registration, err := reg.Source(spec.Type)
	if err != nil {
		return nil, err
	}
	info := registration.Info
	src, err := reg.CreateSource(spec.Type)
	if err != nil {
		return nil, err
	}

	cs := &connectedSource{spec: spec, source: src}
	connection := spec.ConnectionConfiguration
	for attempt := 1; ; attempt++ {
		cs.connection, err = r.resolve(ctx, info.ConnectionSchema, connection)
		if err == nil {
			cs.credentials, err = r.sourceCredentials(ctx, info, src, spec, cs.connection)
		}
		if err == nil {
			cs.configuration, err = r.resolve(ctx, info.ConfigurationSchema, spec.Configuration)
		}
		if err == nil {
			cs.streams, err = src.Discover(ctx, cs.connection, cs.credentials, cs.configuration)
		}
		if err == nil {
			break
		}
		if !r.retry(ctx, err, attempt) {
			return nil, err
		}
		if cs.connection != nil {
			connection = cs.connection
		}
		if connection, err = r.reprompt(ctx, err, info.ConnectionSchema, connection); err != nil {
			return nil, err
		}
	}

	spec.ConnectionConfiguration = cs.connection
	if len(cs.configuration) > 0 {
		spec.Configuration = cs.configuration
	}
	return cs, nil
}

// sourceCredentials finds saved credentials for the repository the
// connection points at, prompting for and saving them when none exist.
func (r *resolver) sourceCredentials(ctx context.Context, info registry.ConnectorInfo, src core.Source, spec *packagefile.Source, connection config.Values) (config.Values, error) {
	if len(info.CredentialsSchema) == 0 {
		return config.Values{}, nil
	}
	repoID, err := src.RepositoryIdentifier(connection)
	if err != nil {
		return nil, err
	}
	repos, err := r.jc.RepositoryConfigsByType(spec.Type)
	if err != nil {
		return nil, err
	}

	credsID := spec.CredentialsIdentifier
	if credsID == "" {
		credsID = defaultCredentialsID
	}
	repo := config.RepositoryConfig{Identifier: repoID, Connection: connection}
	var saved config.Values
	for _, candidate := range repos {
		if candidate.Identifier != repoID {
			continue
		}
		repo = candidate
		for _, c := range candidate.Credentials {
			if c.Identifier == credsID {
				saved = c.Values
			}
		}
	}

	creds, err := r.resolve(ctx, info.CredentialsSchema, saved)
	if err != nil {
		return nil, err
	}
	if saved == nil && len(creds) > 0 {
		repo.Credentials = append(repo.Credentials, config.CredentialsConfig{Identifier: credsID, Values: creds})
		if err := r.jc.SaveRepositoryConfig(spec.Type, repo); err != nil {
			return nil, err
		}
		r.jc.Log(job.LogInfo, fmt.Sprintf("saved %s credentials %q for %s", spec.Type, credsID, repoID))
	}
	spec.CredentialsIdentifier = credsID
	return creds, nil
}

// SinkSpec names a sink and the parameters given for it up front.
type SinkSpec struct {
	Type          string
	Connection    config.Values
	Credentials   config.Values
	Configuration config.Values
}

// connectSink resolves the sink parameters and creates the sink, asking the
// user to correct the connection on recoverable failures.
func (r *resolver) connectSink(ctx context.Context, reg *registry.Registry, spec SinkSpec, dataDir string) (core.Sink, config.Values, error) {
	registration, err := reg.Sink(spec.Type)
	if err != nil {
		return nil, nil, err
	}
	info := registration.Info

	connection := spec.Connection
	for attempt := 1; ; attempt++ {
		settings := core.SinkSettings{DataDir: dataDir, Logger: r.logger}
		settings.Connection, err = r.resolve(ctx, info.ConnectionSchema, connection)
		if err == nil {
			settings.Credentials, err = r.resolve(ctx, info.CredentialsSchema, spec.Credentials)
		}
		if err == nil {
			settings.Configuration, err = r.resolve(ctx, info.ConfigurationSchema, spec.Configuration)
		}
		var sink core.Sink
		if err == nil {
			sink, err = reg.CreateSink(ctx, spec.Type, settings)
		}
		if err == nil {
			return sink, settings.Configuration, nil
		}
		if !r.retry(ctx, err, attempt) {
			return nil, nil, err
		}
		if settings.Connection != nil {
			connection = settings.Connection
		}
		if connection, err = r.reprompt(ctx, err, info.ConnectionSchema, connection); err != nil {
			return nil, nil, err
		}
	}
}
