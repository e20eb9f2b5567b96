package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/ajitpratap0/datapkg/pkg/config"
	"github.com/ajitpratap0/datapkg/pkg/connector/core"
	"github.com/ajitpratap0/datapkg/pkg/errors"
	"github.com/ajitpratap0/datapkg/pkg/logger"
)

// SourceFactory creates source connector instances.
type SourceFactory func(logger *zap.Logger) (core.Source, error)

// SinkFactory creates a sink connected with validated settings.
type SinkFactory func(ctx context.Context, settings core.SinkSettings) (core.Sink, error)

// ConnectorInfo describes a connector and the parameters it declares.
type ConnectorInfo struct {
	Name         string             `json:"name"`
	Type         core.ConnectorType `json:"type"`
	Description  string             `json:"description"`
	Capabilities []string           `json:"capabilities,omitempty"`

	ConnectionSchema    config.ParameterSchema `json:"connection_schema,omitempty"`
	CredentialsSchema   config.ParameterSchema `json:"credentials_schema,omitempty"`
	ConfigurationSchema config.ParameterSchema `json:"configuration_schema,omitempty"`
}

// SourceRegistration is a registered source.
type SourceRegistration struct {
	Info    ConnectorInfo
	Factory SourceFactory
}

// SinkRegistration is a registered sink.
type SinkRegistration struct {
	Info    ConnectorInfo
	Factory SinkFactory
}

// Registry maps connector type names to their factories and declared parameters.
type Registry struct {
	sources map[string]*SourceRegistration
	sinks   map[string]*SinkRegistration
	mu      sync.RWMutex
	logger  *zap.Logger
}

// Global registry instance
var globalRegistry = NewRegistry()

// NewRegistry creates a new connector registry
func NewRegistry() *Registry {
	return &Registry{
		sources: make(map[string]*SourceRegistration),
		sinks:   make(map[string]*SinkRegistration),
		logger:  logger.Get().With(zap.String("component", "connector_registry")),
	}
}

// RegisterSource registers a source connector
func (r *Registry) RegisterSource(info ConnectorInfo, factory SourceFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sources[info.Name]; exists {
		return errors.New(errors.ErrorTypeConfig, fmt.Sprintf("source connector %s already registered", info.Name))
	}

	info.Type = core.ConnectorTypeSource
	r.sources[info.Name] = &SourceRegistration{Info: info, Factory: factory}
	r.logger.Debug("source connector registered", zap.String("name", info.Name))
	return nil
}

// RegisterSink registers a sink connector
func (r *Registry) RegisterSink(info ConnectorInfo, factory SinkFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sinks[info.Name]; exists {
		return errors.New(errors.ErrorTypeConfig, fmt.Sprintf("sink connector %s already registered", info.Name))
	}

	info.Type = core.ConnectorTypeSink
	r.sinks[info.Name] = &SinkRegistration{Info: info, Factory: factory}
	r.logger.Debug("sink connector registered", zap.String("name", info.Name))
	return nil
}

// Source looks up a source registration.
func (r *Registry) Source(name string) (*SourceRegistration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, exists := r.sources[name]
	if !exists {
		return nil, errors.New(errors.ErrorTypeConfig, fmt.Sprintf("source connector %s not found", name)).
			WithDetail("available", r.listSources())
	}
	return reg, nil
}

// Sink looks up a sink registration.
func (r *Registry) Sink(name string) (*SinkRegistration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, exists := r.sinks[name]
	if !exists {
		return nil, errors.New(errors.ErrorTypeConfig, fmt.Sprintf("sink connector %s not found", name)).
			WithDetail("available", r.listSinks())
	}
	return reg, nil
}

// CreateSource creates a source connector instance
func (r *Registry) CreateSource(name string) (core.Source, error) {
	reg, err := r.Source(name)
	if err != nil {
		return nil, err
	}

	source, err := reg.Factory(r.logger.With(zap.String("connector", name)))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, fmt.Sprintf("failed to create source connector %s", name))
	}
	return source, nil
}

// CreateSink validates settings against the sink's declared parameters and
// creates a connected sink. Defaults are applied before validation.
func (r *Registry) CreateSink(ctx context.Context, name string, settings core.SinkSettings) (core.Sink, error) {
	reg, err := r.Sink(name)
	if err != nil {
		return nil, err
	}

	settings.Connection = reg.Info.ConnectionSchema.ApplyDefaults(settings.Connection)
	settings.Credentials = reg.Info.CredentialsSchema.ApplyDefaults(settings.Credentials)
	settings.Configuration = reg.Info.ConfigurationSchema.ApplyDefaults(settings.Configuration)
	for _, check := range []struct {
		schema config.ParameterSchema
		values config.Values
	}{
		{reg.Info.ConnectionSchema, settings.Connection},
		{reg.Info.CredentialsSchema, settings.Credentials},
		{reg.Info.ConfigurationSchema, settings.Configuration},
	} {
		if err := check.schema.Validate(check.values); err != nil {
			return nil, err
		}
	}

	if settings.Logger == nil {
		settings.Logger = r.logger
	}
	settings.Logger = settings.Logger.With(zap.String("connector", name))

	sink, err := reg.Factory(ctx, settings)
	if err != nil {
		if errors.IsType(err, errors.ErrorTypeConnection) || errors.IsType(err, errors.ErrorTypePermission) {
			return nil, err
		}
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, fmt.Sprintf("failed to create sink connector %s", name))
	}
	return sink, nil
}

// ListSources returns the sorted names of registered source connectors
func (r *Registry) ListSources() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.listSources()
}

// ListSinks returns the sorted names of registered sink connectors
func (r *Registry) ListSinks() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.listSinks()
}

func (r *Registry) listSources() []string {
	names := make([]string, 0, len(r.sources))
	for name := range r.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) listSinks() []string {
	names := make([]string, 0, len(r.sinks))
	for name := range r.sinks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Infos returns connector descriptions, sources first, each group sorted by name.
func (r *Registry) Infos() []ConnectorInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]ConnectorInfo, 0, len(r.sources)+len(r.sinks))
	for _, name := range r.listSources() {
		infos = append(infos, r.sources[name].Info)
	}
	for _, name := range r.listSinks() {
		infos = append(infos, r.sinks[name].Info)
	}
	return infos
}

// Global registry functions

// RegisterSource registers a source connector in the global registry
func RegisterSource(info ConnectorInfo, factory SourceFactory) error {
	return globalRegistry.RegisterSource(info, factory)
}

// RegisterSink registers a sink connector in the global registry
func RegisterSink(info ConnectorInfo, factory SinkFactory) error {
	return globalRegistry.RegisterSink(info, factory)
}

// GetRegistry returns the global registry instance. Connector packages
// register themselves from init; importing them is enough.
func GetRegistry() *Registry {
	return globalRegistry
}
