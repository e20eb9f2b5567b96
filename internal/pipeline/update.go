package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/ajitpratap0/datapkg/pkg/diff"
	"github.com/ajitpratap0/datapkg/pkg/errors"
	"github.com/ajitpratap0/datapkg/pkg/job"
	"github.com/ajitpratap0/datapkg/pkg/packagefile"
	"github.com/ajitpratap0/datapkg/pkg/schema"
)

// UpdateOptions configure an update job.
type UpdateOptions struct {
	// Reference locates the package file; prompted for when empty
	Reference string
	// NonInteractive fails on missing parameters instead of prompting
	NonInteractive bool
}

// UpdateResult describes a saved package update.
type UpdateResult struct {
	Package         *packagefile.PackageFile
	PreviousVersion string
	Differences     []diff.Difference
	Compatibility   diff.Compatibility
	Location        string
}

// UpdateJob creates a job that re-inspects every source of a package and
// saves the package under its next version.
func UpdateJob(env *Env, jc job.JobContext, opts UpdateOptions) *job.Job[*UpdateResult] {
	env = env.withDefaults()
	return job.New("update", func(ctx context.Context) (job.Result[*UpdateResult], error) {
		res, err := env.update(ctx, jc, opts)
		if stopped(ctx, err) {
			jc.Print(job.PrintWarn, "Update stopped before the package was saved")
			return job.Result[*UpdateResult]{}, nil
		}
		return job.Result[*UpdateResult]{Value: res}, err
	}, env.jobOptions("update")...)
}

// stopped reports whether err is only the result of the job being stopped.
func stopped(ctx context.Context, err error) bool {
	return err != nil && ctx.Err() != nil && errors.Is(err, context.Canceled)
}

func (e *Env) update(ctx context.Context, jc job.JobContext, opts UpdateOptions) (*UpdateResult, error) {
	r := &resolver{jc: jc, nonInteractive: opts.NonInteractive, logger: e.Logger}

	reference, err := r.promptReference(ctx, opts.Reference)
	if err != nil {
		return nil, err
	}

	var loaded *packagefile.Loaded
	err = runTask(jc, "Finding package file", func(t job.Task) error {
		loaded, err = e.Packages.Find(ctx, reference)
		if err == nil {
			t.SetMessage("Found package file " + loaded.Location)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	old := loaded.File

	if err := runTask(jc, "Checking edit permissions", func(job.Task) error {
		return e.checkEdit(ctx, loaded)
	}); err != nil {
		return nil, err
	}

	_ = runTask(jc, "Checking package is canonical", func(job.Task) error {
		if !old.Canonical {
			jc.Print(job.PrintWarn, "The package file was modified outside of datapkg. Modified properties: "+
				strings.Join(old.ModifiedProperties, ", "))
		}
		return nil
	})

	if len(old.Sources) == 0 {
		return nil, errors.New(errors.ErrorTypeConfig, fmt.Sprintf("package %s has no sources", old.PackageSlug))
	}

	// previous backs unchanged stream sets, next is what gets saved; both
	// are copies so old stays intact for the comparison.
	previous, err := old.Clone()
	if err != nil {
		return nil, err
	}
	next, err := old.Clone()
	if err != nil {
		return nil, err
	}

	var schemas []*schema.Schema
	for _, spec := range next.Sources {
		var cs *connectedSource
		err = runTask(jc, fmt.Sprintf("Connecting to %s (%s)", spec.Slug, spec.Type), func(t job.Task) error {
			cs, err = r.connectSource(ctx, e.Registry, spec)
			if err == nil {
				t.SetMessage(fmt.Sprintf("Found %d streams in %s", len(cs.streams), spec.Slug))
			}
			return err
		})
		if err != nil {
			return nil, err
		}

		var result *inspection
		err = runTask(jc, "Inspecting "+spec.Slug, func(t job.Task) error {
			result, err = e.inspectSource(ctx, jc, t, cs, previous)
			return err
		})
		if err != nil {
			return nil, err
		}
		spec.StreamSets = result.streamSets
		schemas = append(schemas, result.schemas...)
	}

	next.Schemas = schema.MergeSchemas(schemas, e.Config.Inference.SampleSize)
	for _, s := range next.Schemas {
		if removed := s.RemoveUntypedProperties(); len(removed) > 0 {
			jc.Print(job.PrintWarn, fmt.Sprintf("Removed properties without values from %s: %s", s.Title, strings.Join(removed, ", ")))
		}
		s.CarryOver(old.SchemaByTitle(s.Title))
	}
	e.printInspection(jc, next)

	res, err := e.bumpVersion(ctx, jc, old, next)
	if err != nil {
		return nil, err
	}

	next.UpdatedDate = time.Now().UTC()
	saved := *loaded
	saved.File = next
	err = runTask(jc, "Saving package file", func(job.Task) error {
		return e.Packages.Save(ctx, &saved)
	})
	if err != nil {
		return nil, err
	}
	res.Location = saved.Location

	jc.Print(job.PrintSuccess, fmt.Sprintf("Updated %s from %s to %s (%s)",
		next.PackageSlug, res.PreviousVersion, next.Version, res.Compatibility))
	return res, nil
}

// checkEdit fails with a permission error unless the package may be
// edited and saved where it was found.
func (e *Env) checkEdit(ctx context.Context, loaded *packagefile.Loaded) error {
	pf := loaded.File
	status, err := e.Permissions.CheckPermission(ctx, pf.CatalogSlug, pf.PackageSlug, packagefile.PermissionEdit)
	if err != nil {
		return err
	}
	switch status {
	case packagefile.NotAuthorized:
		return errors.New(errors.ErrorTypePermission, "you do not have permission to edit this package")
	case packagefile.NotAuthenticated:
		return errors.New(errors.ErrorTypePermission, "you must be logged in to edit this package")
	}
	if !loaded.PermitsSaving {
		return errors.New(errors.ErrorTypePermission, "the package at "+loaded.Location+" cannot be saved; copy it to a local file first")
	}
	if !loaded.HasPermissionToSave {
		return errors.New(errors.ErrorTypePermission, "you do not have permission to write "+loaded.Location)
	}
	return nil
}

func (e *Env) printInspection(jc job.JobContext, pf *packagefile.PackageFile) {
	for _, s := range pf.Schemas {
		jc.Print(job.PrintInfo, fmt.Sprintf("Schema %s: %d properties, %d records", s.Title, len(s.Properties), s.RecordCount))
		for _, p := range s.Properties {
			types := make([]string, 0, len(p.ValueTypes))
			for _, t := range p.Types() {
				types = append(types, string(t))
			}
			line := fmt.Sprintf("  %s (%s)", p.Name, strings.Join(types, ", "))
			if labels := p.SortedLabels(); len(labels) > 0 {
				line += " [" + strings.Join(labels, ", ") + "]"
			}
			jc.Print(job.PrintInfo, line)
		}
	}
}

// bumpVersion compares old and next, prints the differences and moves next
// to the smallest version the differences allow. The version is bumped
// even when nothing changed.
func (e *Env) bumpVersion(ctx context.Context, jc job.JobContext, old, next *packagefile.PackageFile) (*UpdateResult, error) {
	_, st := e.startStage(ctx, "diff", attribute.String("package", next.PackageSlug))
	diffs := diff.Compare(old, next)
	compat := diff.Classify(diffs)

	for _, d := range diffs {
		jc.Print(job.PrintUpdate, diff.DifferenceString(d))
	}
	if len(diffs) == 0 {
		jc.Print(job.PrintWarn, "No differences found; the patch version is incremented anyway")
	}

	version, err := diff.NextVersionString(old.Version, compat)
	st.end(err)
	if err != nil {
		return nil, err
	}
	next.Version = version
	e.Logger.Info("package version derived",
		zap.String("package", next.PackageSlug),
		zap.String("from", old.Version),
		zap.String("to", version),
		zap.Stringer("compatibility", compat),
		zap.Int("differences", len(diffs)))

	return &UpdateResult{
		Package:         next,
		PreviousVersion: old.Version,
		Differences:     diffs,
		Compatibility:   compat,
	}, nil
}
