package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/datapkg/internal/cli"
	"github.com/ajitpratap0/datapkg/internal/pipeline"
	"github.com/ajitpratap0/datapkg/pkg/config"
	"github.com/ajitpratap0/datapkg/pkg/connector/core"
	"github.com/ajitpratap0/datapkg/pkg/connector/registry"
	"github.com/ajitpratap0/datapkg/pkg/diff"
	"github.com/ajitpratap0/datapkg/pkg/errors"
	"github.com/ajitpratap0/datapkg/pkg/job"
	"github.com/ajitpratap0/datapkg/pkg/logger"
	"github.com/ajitpratap0/datapkg/pkg/observability"
	"github.com/ajitpratap0/datapkg/pkg/packagefile"

	// Import all available connectors to register them
	_ "github.com/ajitpratap0/datapkg/pkg/connector/sinks"
	_ "github.com/ajitpratap0/datapkg/pkg/connector/sources"
)

var version = "0.1.0"

// app is what every command needs once flags are parsed.
type app struct {
	cfg      *config.Config
	log      *zap.Logger
	env      *pipeline.Env
	console  *cli.Console
	obs      *observability.Provider
	metrics  *observability.MetricsServer
	verbose  bool
	cfgPath  string
	logLevel string
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	a := &app{}
	exitCode := 0

	root := &cobra.Command{
		Use:   "datapkg",
		Short: "datapkg - inspect, version and synchronize data packages",
		Long: `datapkg inspects the sources of a data package, infers the schemas of their
streams, versions the package file by the compatibility of what changed and
delivers the data to sinks, resuming from what each sink already holds.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd.Name())
		},
	}
	root.PersistentFlags().StringVar(&a.cfgPath, "config", "", "Path to a datapkg YAML configuration file")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides the configuration")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Render task progress updates and debug output")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		// version needs no configuration
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "datapkg v%s\n", version)
			fmt.Fprintf(cmd.OutOrStdout(), "Go version: %s\n", runtime.Version())
			fmt.Fprintf(cmd.OutOrStdout(), "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List available connectors and their parameters",
		RunE: func(cmd *cobra.Command, _ []string) error {
			printConnectors(cmd, registry.GetRegistry())
			return nil
		},
	})

	var initOpts initOptions
	initCmd := &cobra.Command{
		Use:   "init <package-slug>",
		Short: "Create a package file reading from one source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			initOpts.slug = args[0]
			return a.initPackage(cmd.Context(), initOpts)
		},
	}
	initCmd.Flags().StringVar(&initOpts.catalog, "catalog", "", "Catalog slug")
	initCmd.Flags().StringVar(&initOpts.displayName, "name", "", "Display name (derived from the slug when empty)")
	initCmd.Flags().StringVar(&initOpts.sourceType, "source", "file", "Source connector type")
	initCmd.Flags().StringVar(&initOpts.sourceSlug, "source-slug", "", "Slug of the source within the package (defaults to the connector type)")
	initCmd.Flags().StringToStringVar(&initOpts.connection, "connection", nil, "Source connection parameters as key=value")
	initCmd.Flags().StringVar(&initOpts.dir, "dir", ".", "Directory to write the package file to")
	root.AddCommand(initCmd)

	var updateDefaults bool
	updateCmd := &cobra.Command{
		Use:   "update [reference]",
		Short: "Re-inspect the sources of a package and save its next version",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			j := pipeline.UpdateJob(a.env, a.console, pipeline.UpdateOptions{
				Reference:      firstArg(args),
				NonInteractive: updateDefaults,
			})
			res, err := execute(cmd.Context(), j, a.log)
			exitCode = res.ExitCode
			return err
		},
	}
	updateCmd.Flags().BoolVarP(&updateDefaults, "defaults", "y", false, "Never prompt; fail when a required parameter is missing")
	root.AddCommand(updateCmd)

	var (
		syncDefaults   bool
		sinkConnection map[string]string
		sinkConfig     map[string]string
		sinkType       string
		updateMethod   string
		processing     string
	)
	syncCmd := &cobra.Command{
		Use:   "sync [reference]",
		Short: "Deliver the streams of a package to a sink",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := sinkSpec(registry.GetRegistry(), sinkType, sinkConnection, sinkConfig)
			if err != nil {
				exitCode = errors.ExitCode(err)
				return err
			}
			method, err := processingMethod(processing)
			if err != nil {
				exitCode = errors.ExitCode(err)
				return err
			}
			j := pipeline.SyncJob(a.env, a.console, pipeline.SyncOptions{
				Reference:        firstArg(args),
				Sink:             spec,
				UpdateMethod:     core.UpdateMethod(strings.ToUpper(updateMethod)),
				ProcessingMethod: method,
				NonInteractive:   syncDefaults,
			})
			res, err := execute(cmd.Context(), j, a.log)
			exitCode = res.ExitCode
			return err
		},
	}
	syncCmd.Flags().StringVar(&sinkType, "sink", "file", "Sink connector type")
	syncCmd.Flags().StringToStringVar(&sinkConnection, "sink-connection", nil, "Sink connection parameters as key=value")
	syncCmd.Flags().StringToStringVar(&sinkConfig, "sink-config", nil, "Sink configuration parameters as key=value")
	syncCmd.Flags().StringVar(&updateMethod, "update-method", "", "Preferred update method (BATCH_FULL_SET or APPEND_ONLY_LOG)")
	syncCmd.Flags().StringVar(&processing, "processing", "", "Preferred processing method (PER_STREAM_SET or PER_STREAM)")
	syncCmd.Flags().BoolVarP(&syncDefaults, "defaults", "y", false, "Never prompt; fail when a required parameter is missing")
	root.AddCommand(syncCmd)

	root.AddCommand(&cobra.Command{
		Use:   "diff <old> <new>",
		Short: "Compare two package files and show the version the changes require",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.diff(cmd.Context(), args[0], args[1])
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	a.teardown()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		if exitCode == 0 {
			exitCode = errors.ExitCode(err)
		}
	}
	return exitCode
}

func (a *app) setup(command string) error {
	cfg, err := config.LoadConfig(a.cfgPath)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "configuration error")
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	if err := logger.Init(cfg.Logging); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to initialize logger")
	}
	a.cfg = cfg
	a.log = logger.With(zap.String("component", "datapkg-cli"), zap.String("command", command))

	a.obs, err = observability.Init(cfg.Observability, observability.Options{
		ServiceVersion: version,
		Logger:         a.log,
	})
	if err != nil {
		return err
	}
	if cfg.Observability.EnableMetrics {
		a.metrics, err = observability.ServeMetrics(cfg.Observability.MetricsAddress, nil, a.log)
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeConfig, "failed to serve metrics")
		}
	}

	a.env = &pipeline.Env{Config: cfg, Logger: a.log, Packages: packagefile.NewFileStore(a.log)}
	a.console = cli.NewConsole(config.NewRepositoryStore(cfg.Storage.RepositoryPath()), cfg.Storage.DataPath(), a.log)
	a.console.Verbose = a.verbose
	return nil
}

func (a *app) teardown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if a.metrics != nil {
		if err := a.metrics.Close(ctx); err != nil {
			a.log.Warn("failed to stop metrics server", zap.Error(err))
		}
	}
	if err := a.obs.Shutdown(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
}

// execute runs j until it finishes. When ctx ends first, typically on
// SIGINT, the job is asked to stop and execute waits for it to settle.
func execute[T any](ctx context.Context, j *job.Job[T], log *zap.Logger) (job.Result[T], error) {
	type outcome struct {
		res job.Result[T]
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := j.Execute(context.WithoutCancel(ctx))
		done <- outcome{res, err}
	}()

	select {
	case o := <-done:
		return o.res, o.err
	case <-ctx.Done():
	}

	log.Info("stopping job", zap.String("job", j.ID()))
	if err := j.Stop(context.Background()); err != nil {
		log.Warn("job did not stop cleanly", zap.Error(err))
		return job.Result[T]{ExitCode: errors.ExitCode(err)}, err
	}
	o := <-done
	if o.err == nil && j.State() == job.StateStopped {
		o.res.ExitCode = 130
	}
	return o.res, o.err
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

func processingMethod(s string) (core.StreamSetProcessingMethod, error) {
	switch m := core.StreamSetProcessingMethod(strings.ToUpper(s)); m {
	case "", core.ProcessPerStreamSet, core.ProcessPerStream:
		return m, nil
	default:
		return "", errors.New(errors.ErrorTypeConfig, fmt.Sprintf("unknown processing method %q", s))
	}
}

func sinkSpec(reg *registry.Registry, sinkType string, connection, configuration map[string]string) (pipeline.SinkSpec, error) {
	r, err := reg.Sink(sinkType)
	if err != nil {
		return pipeline.SinkSpec{}, err
	}
	spec := pipeline.SinkSpec{Type: sinkType}
	if spec.Connection, err = cli.ParseValues(r.Info.ConnectionSchema, connection); err != nil {
		return spec, err
	}
	if spec.Configuration, err = cli.ParseValues(r.Info.ConfigurationSchema, configuration); err != nil {
		return spec, err
	}
	return spec, nil
}

type initOptions struct {
	slug        string
	catalog     string
	displayName string
	sourceType  string
	sourceSlug  string
	connection  map[string]string
	dir         string
}

func (a *app) initPackage(ctx context.Context, opts initOptions) error {
	r, err := registry.GetRegistry().Source(opts.sourceType)
	if err != nil {
		return err
	}
	connection, err := cli.ParseValues(r.Info.ConnectionSchema, opts.connection)
	if err != nil {
		return err
	}
	name := opts.displayName
	if name == "" {
		name = packagefile.DisplayNameFromSlug(opts.slug)
	}
	sourceSlug := opts.sourceSlug
	if sourceSlug == "" {
		sourceSlug = packagefile.Slugify(opts.sourceType)
	}

	pf := packagefile.New(opts.catalog, opts.slug, name)
	pf.Sources = append(pf.Sources, &packagefile.Source{
		Slug:                    sourceSlug,
		Type:                    opts.sourceType,
		ConnectionConfiguration: connection,
	})

	path := filepath.Join(opts.dir, packagefile.FileName(opts.slug))
	if _, err := os.Stat(path); err == nil {
		return errors.New(errors.ErrorTypeValidation, path+" already exists")
	}
	loaded := &packagefile.Loaded{File: pf, Location: path, PermitsSaving: true, HasPermissionToSave: true}
	if err := a.env.Packages.Save(ctx, loaded); err != nil {
		return err
	}
	a.console.Print(job.PrintSuccess, fmt.Sprintf("Created %s; run `datapkg update %s` to inspect it", path, path))
	return nil
}

func (a *app) diff(ctx context.Context, oldRef, newRef string) error {
	oldPkg, err := a.env.Packages.Find(ctx, oldRef)
	if err != nil {
		return err
	}
	newPkg, err := a.env.Packages.Find(ctx, newRef)
	if err != nil {
		return err
	}
	diffs := diff.Compare(oldPkg.File, newPkg.File)
	compat := diff.Classify(diffs)
	for _, d := range diffs {
		a.console.Print(job.PrintUpdate, diff.DifferenceString(d))
	}
	next, err := diff.NextVersionString(oldPkg.File.Version, compat)
	if err != nil {
		return err
	}
	a.console.Print(job.PrintInfo, fmt.Sprintf("%d differences, %s; %s would become %s",
		len(diffs), compat, oldPkg.File.Version, next))
	return nil
}

func printConnectors(cmd *cobra.Command, reg *registry.Registry) {
	infos := reg.Infos()
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].Type != infos[j].Type {
			return infos[i].Type > infos[j].Type
		}
		return infos[i].Name < infos[j].Name
	})
	w := cmd.OutOrStdout()
	var lastType core.ConnectorType
	for _, info := range infos {
		if info.Type != lastType {
			fmt.Fprintf(w, "\nAvailable %s connectors:\n", info.Type)
			lastType = info.Type
		}
		fmt.Fprintf(w, "  - %s: %s\n", info.Name, info.Description)
		for _, group := range []struct {
			name   string
			schema config.ParameterSchema
		}{
			{"connection", info.ConnectionSchema},
			{"credentials", info.CredentialsSchema},
			{"configuration", info.ConfigurationSchema},
		} {
			for _, p := range group.schema {
				required := ""
				if p.Required {
					required = ", required"
				}
				fmt.Fprintf(w, "      %s.%s (%s%s)\n", group.name, p.Name, p.Type, required)
			}
		}
	}
}
