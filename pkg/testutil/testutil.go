// Package testutil provides testing utilities for datapkg: bounded contexts
// and an in-memory JobContext that records everything a job prints,
// prompts for and writes.
package testutil

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ajitpratap0/datapkg/pkg/config"
	"github.com/ajitpratap0/datapkg/pkg/errors"
	"github.com/ajitpratap0/datapkg/pkg/job"
)

// TestContext creates a test context with a 30-second timeout.
// The caller must call the returned cancel function to avoid leaks.
func TestContext(_ *testing.T) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

// Line is one printed or logged message.
type Line struct {
	Type    string
	Message string
}

// JobContext is an in-memory job.JobContext. Prompts are answered from
// Answers; a prompt for a parameter without an answer fails like a host that
// cannot prompt.
type JobContext struct {
	Answers config.Values

	mu        sync.Mutex
	printed   []Line
	logged    []Line
	prompted  []string
	tasks     []*job.TaskNode
	repos     map[string][]config.RepositoryConfig
	artifacts map[string]*bytes.Buffer
}

var _ job.JobContext = (*JobContext)(nil)

// NewJobContext creates a JobContext answering prompts from answers.
func NewJobContext(answers config.Values) *JobContext {
	return &JobContext{
		Answers:   answers,
		repos:     map[string][]config.RepositoryConfig{},
		artifacts: map[string]*bytes.Buffer{},
	}
}

func (c *JobContext) ParameterPrompt(_ context.Context, params config.ParameterSchema) (config.Values, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := config.Values{}
	var missing []string
	for _, p := range params {
		c.prompted = append(c.prompted, p.Name)
		v, ok := c.Answers[p.Name]
		if !ok {
			if p.Required {
				missing = append(missing, p.Name)
			}
			continue
		}
		out[p.Name] = v
	}
	if len(missing) > 0 {
		return nil, errors.New(errors.ErrorTypeConfig, "no answer for "+strings.Join(missing, ", "))
	}
	return out, nil
}

func (c *JobContext) Print(t job.PrintType, message string) {
	c.mu.Lock()
	c.printed = append(c.printed, Line{Type: string(t), Message: message})
	c.mu.Unlock()
}

func (c *JobContext) Log(level job.LogLevel, message string) {
	c.mu.Lock()
	c.logged = append(c.logged, Line{Type: string(level), Message: message})
	c.mu.Unlock()
}

func (c *JobContext) StartTask(message string) job.Task {
	t := job.NewTask(message, nil)
	c.mu.Lock()
	c.tasks = append(c.tasks, t)
	c.mu.Unlock()
	return t
}

func (c *JobContext) RepositoryConfigsByType(connectorType string) ([]config.RepositoryConfig, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]config.RepositoryConfig(nil), c.repos[connectorType]...), nil
}

func (c *JobContext) SaveRepositoryConfig(connectorType string, repo config.RepositoryConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, existing := range c.repos[connectorType] {
		if existing.Identifier == repo.Identifier {
			c.repos[connectorType][i] = repo
			return nil
		}
	}
	c.repos[connectorType] = append(c.repos[connectorType], repo)
	return nil
}

func (c *JobContext) PackageWritable(catalogSlug, packageSlug, version string) (*job.Writable, error) {
	return c.writable("package", catalogSlug, packageSlug, version)
}

func (c *JobContext) ReadmeWritable(catalogSlug, packageSlug, version string) (*job.Writable, error) {
	return c.writable("readme", catalogSlug, packageSlug, version)
}

func (c *JobContext) LicenseWritable(catalogSlug, packageSlug, version string) (*job.Writable, error) {
	return c.writable("license", catalogSlug, packageSlug, version)
}

func (c *JobContext) writable(kind, catalogSlug, packageSlug, version string) (*job.Writable, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	buf := &bytes.Buffer{}
	c.artifacts[kind] = buf
	return &job.Writable{
		Writer:   nopCloser{buf},
		Location: fmt.Sprintf("memory://%s/%s/%s/%s", catalogSlug, packageSlug, version, kind),
	}, nil
}

// Printed returns every printed line.
func (c *JobContext) Printed() []Line {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Line(nil), c.printed...)
}

// PrintedText joins the printed messages of type t, or of every type when t is empty.
func (c *JobContext) PrintedText(t job.PrintType) string {
	var b strings.Builder
	for _, l := range c.Printed() {
		if t == "" || l.Type == string(t) {
			b.WriteString(l.Message)
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// Prompted returns the names of every parameter prompted for, in order.
func (c *JobContext) Prompted() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.prompted...)
}

// Tasks returns the top level tasks started so far.
func (c *JobContext) Tasks() []*job.TaskNode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*job.TaskNode(nil), c.tasks...)
}

// Task finds a started task by its original message prefix.
func (c *JobContext) Task(prefix string) *job.TaskNode {
	for _, t := range c.Tasks() {
		if strings.HasPrefix(t.Message(), prefix) {
			return t
		}
	}
	return nil
}

// Artifact returns what was written to the "package", "readme" or "license" writable.
func (c *JobContext) Artifact(kind string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.artifacts[kind]; ok {
		return b.String()
	}
	return ""
}

type nopCloser struct{ *bytes.Buffer }

func (nopCloser) Close() error { return nil }
