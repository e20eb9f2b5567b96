// Package cli hosts jobs in a terminal: parameter prompts, colored output,
// task rendering, the repository configuration file and the package
// artifact directory.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/AlecAivazis/survey/v2"
	"github.com/AlecAivazis/survey/v2/terminal"
	"github.com/Masterminds/semver"
	"github.com/fatih/color"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/ajitpratap0/datapkg/pkg/config"
	"github.com/ajitpratap0/datapkg/pkg/connector/base"
	"github.com/ajitpratap0/datapkg/pkg/errors"
	"github.com/ajitpratap0/datapkg/pkg/job"
	"github.com/ajitpratap0/datapkg/pkg/state"
)

var (
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	warningColor = color.New(color.FgYellow, color.Bold)
	infoColor    = color.New(color.FgCyan)
	updateColor  = color.New(color.FgMagenta)
	debugColor   = color.New(color.Faint)
	boldColor    = color.New(color.Bold)
)

// AskFunc asks one survey question. It matches survey.AskOne.
type AskFunc func(p survey.Prompt, response interface{}, opts ...survey.AskOpt) error

// Console is a job.JobContext for an interactive terminal.
type Console struct {
	In  terminal.FileReader
	Out terminal.FileWriter
	Err io.Writer

	Repositories *config.RepositoryStore
	// ArtifactDir receives package, README and LICENSE files below
	// <catalog|_no-catalog>/<package>/v<major>
	ArtifactDir string
	Logger      *zap.Logger
	// Verbose renders task message updates as well as task start and end
	Verbose bool
	Ask     AskFunc

	mu    sync.Mutex
	tasks map[*job.TaskNode]job.TaskStatus
}

var _ job.JobContext = (*Console)(nil)

// NewConsole returns a console on the process's standard streams.
func NewConsole(repos *config.RepositoryStore, artifactDir string, logger *zap.Logger) *Console {
	return &Console{
		In:           os.Stdin,
		Out:          os.Stdout,
		Err:          os.Stderr,
		Repositories: repos,
		ArtifactDir:  artifactDir,
		Logger:       logger,
		Ask:          survey.AskOne,
	}
}

// ParameterPrompt asks for every parameter in order.
func (c *Console) ParameterPrompt(ctx context.Context, params config.ParameterSchema) (config.Values, error) {
	out := config.Values{}
	for _, p := range params {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		v, err := c.ask(p)
		if errors.Is(err, terminal.InterruptErr) {
			return nil, context.Canceled
		}
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to read "+p.Name)
		}
		if v != nil {
			out[p.Name] = v
		}
	}
	return out, nil
}

func (c *Console) ask(p config.Parameter) (interface{}, error) {
	message := p.Message
	if message == "" {
		message = p.Name + "?"
	}
	opts := []survey.AskOpt{survey.WithStdio(c.In, c.Out, c.Err)}
	if p.Required {
		opts = append(opts, survey.WithValidator(survey.Required))
	}
	def := ""
	if p.Default != nil {
		def = fmt.Sprint(p.Default)
	}

	switch {
	case len(p.Options) > 0:
		var answer string
		prompt := &survey.Select{Message: message, Options: p.Options}
		if def != "" {
			prompt.Default = def
		}
		if err := c.Ask(prompt, &answer, opts...); err != nil {
			return nil, err
		}
		return answer, nil

	case p.Type == config.ParameterTypeBoolean:
		answer, _ := strconv.ParseBool(def)
		if err := c.Ask(&survey.Confirm{Message: message, Default: answer}, &answer, survey.WithStdio(c.In, c.Out, c.Err)); err != nil {
			return nil, err
		}
		return answer, nil

	case p.Secret:
		var answer string
		if err := c.Ask(&survey.Password{Message: message}, &answer, opts...); err != nil {
			return nil, err
		}
		return emptyAsNil(answer), nil
	}

	var answer string
	prompt := &survey.Input{Message: message, Default: def}
	switch p.Type {
	case config.ParameterTypeStringList:
		prompt.Help = "Separate values with commas"
	case config.ParameterTypeNumber:
		opts = append(opts, survey.WithValidator(numberValidator))
	case config.ParameterTypeObject:
		prompt.Help = "A JSON object"
		opts = append(opts, survey.WithValidator(objectValidator))
	}
	if err := c.Ask(prompt, &answer, opts...); err != nil {
		return nil, err
	}
	return convertAnswer(p.Type, answer)
}

// convertAnswer turns typed text into the value the parameter schema expects.
// Empty answers mean "not given".
func convertAnswer(t config.ParameterType, answer string) (interface{}, error) {
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return nil, nil
	}
	switch t {
	case config.ParameterTypeStringList:
		var out []string
		for _, part := range strings.Split(answer, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out, nil
	case config.ParameterTypeNumber:
		return strconv.ParseFloat(answer, 64)
	case config.ParameterTypeObject:
		var out map[string]interface{}
		if err := json.Unmarshal([]byte(answer), &out); err != nil {
			return nil, err
		}
		return out, nil
	}
	return answer, nil
}

func numberValidator(v interface{}) error {
	s, _ := v.(string)
	if strings.TrimSpace(s) == "" {
		return nil
	}
	if _, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err != nil {
		return fmt.Errorf("%q is not a number", s)
	}
	return nil
}

func objectValidator(v interface{}) error {
	s, _ := v.(string)
	if strings.TrimSpace(s) == "" {
		return nil
	}
	_, err := convertAnswer(config.ParameterTypeObject, s)
	return err
}

func emptyAsNil(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// Print writes one line of user output. Errors and failures go to Err.
func (c *Console) Print(t job.PrintType, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.printLocked(t, message)
}

func (c *Console) printLocked(t job.PrintType, message string) {
	switch t {
	case job.PrintSuccess:
		successColor.Fprintf(c.Out, "✓ %s\n", message)
	case job.PrintError, job.PrintFail:
		errorColor.Fprintf(c.Err, "✗ %s\n", message)
	case job.PrintWarn:
		warningColor.Fprintf(c.Out, "⚠ %s\n", message)
	case job.PrintInfo:
		infoColor.Fprintf(c.Out, "ℹ %s\n", message)
	case job.PrintUpdate:
		updateColor.Fprintf(c.Out, "~ %s\n", message)
	case job.PrintStart:
		boldColor.Fprintf(c.Out, "%s\n", message)
	case job.PrintDebug:
		if c.Verbose {
			debugColor.Fprintf(c.Out, "%s\n", message)
		}
	default:
		fmt.Fprintln(c.Out, message)
	}
}

// Log sends a diagnostic line to the logger.
func (c *Console) Log(level job.LogLevel, message string) {
	l := c.Logger
	if l == nil {
		return
	}
	switch level {
	case job.LogError:
		l.Error(message)
	case job.LogWarn:
		l.Warn(message)
	case job.LogDebug:
		l.Debug(message)
	default:
		l.Info(message)
	}
}

// StartTask renders a task tree as it changes.
func (c *Console) StartTask(message string) job.Task {
	return job.NewTask(message, c.renderTask)
}

func (c *Console) renderTask(t *job.TaskNode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tasks == nil {
		c.tasks = make(map[*job.TaskNode]job.TaskStatus)
	}

	indent := strings.Repeat("  ", t.Depth())
	status := t.Status()
	prev, seen := c.tasks[t]
	c.tasks[t] = status

	switch {
	case !seen:
		fmt.Fprintf(c.Out, "%s… %s\n", indent, t.Message())
	case prev == job.TaskRunning && status == job.TaskSuccess:
		successColor.Fprintf(c.Out, "%s✓ ", indent)
		fmt.Fprintf(c.Out, "%s (%s)\n", t.Message(), t.Duration().Round(time.Millisecond))
		delete(c.tasks, t)
	case prev == job.TaskRunning && status == job.TaskError:
		errorColor.Fprintf(c.Out, "%s✗ ", indent)
		fmt.Fprintln(c.Out, t.Message())
		delete(c.tasks, t)
	case c.Verbose:
		debugColor.Fprintf(c.Out, "%s  %s\n", indent, t.Message())
	}
}

// RepositoryConfigsByType reads the repository configuration file.
func (c *Console) RepositoryConfigsByType(connectorType string) ([]config.RepositoryConfig, error) {
	if c.Repositories == nil {
		return nil, nil
	}
	return c.Repositories.ConfigsByType(connectorType)
}

// SaveRepositoryConfig merges repo into the repository configuration file.
func (c *Console) SaveRepositoryConfig(connectorType string, repo config.RepositoryConfig) error {
	if c.Repositories == nil {
		return nil
	}
	return c.Repositories.Save(connectorType, repo)
}

func (c *Console) PackageWritable(catalogSlug, packageSlug, version string) (*job.Writable, error) {
	return c.writable(catalogSlug, packageSlug, version, packageSlug+".datapkg.json")
}

func (c *Console) ReadmeWritable(catalogSlug, packageSlug, version string) (*job.Writable, error) {
	return c.writable(catalogSlug, packageSlug, version, "README.md")
}

func (c *Console) LicenseWritable(catalogSlug, packageSlug, version string) (*job.Writable, error) {
	return c.writable(catalogSlug, packageSlug, version, "LICENSE")
}

// writable returns nil when the console has no artifact directory.
func (c *Console) writable(catalogSlug, packageSlug, version, name string) (*job.Writable, error) {
	if c.ArtifactDir == "" {
		return nil, nil
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "invalid package version "+version)
	}
	key := state.Key{CatalogSlug: catalogSlug, PackageSlug: packageSlug, MajorVersion: uint64(v.Major())}
	dir := filepath.Join(c.ArtifactDir, base.KeyPath(key))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to create "+dir)
	}
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to create "+path)
	}
	return &job.Writable{Writer: f, Location: path}, nil
}

// ParseValues converts key=value flags into values typed by schema. Keys the
// schema does not declare are kept as strings so validation can reject them.
func ParseValues(schema config.ParameterSchema, flags map[string]string) (config.Values, error) {
	out := make(config.Values, len(flags))
	for k, raw := range flags {
		t := config.ParameterTypeString
		if p, ok := schema.Lookup(k); ok {
			t = p.Type
		}
		if t == config.ParameterTypeBoolean {
			b, err := strconv.ParseBool(raw)
			if err != nil {
				return nil, errors.New(errors.ErrorTypeConfig, fmt.Sprintf("%s must be true or false", k))
			}
			out[k] = b
			continue
		}
		v, err := convertAnswer(t, raw)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid value for "+k)
		}
		if v != nil {
			out[k] = v
		}
	}
	return out, nil
}
