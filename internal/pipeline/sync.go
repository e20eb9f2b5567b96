package pipeline

import (
	"context"
	"fmt"
	"io"
	"time"

	json "github.com/goccy/go-json"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/ajitpratap0/datapkg/pkg/config"
	"github.com/ajitpratap0/datapkg/pkg/connector/base"
	"github.com/ajitpratap0/datapkg/pkg/connector/core"
	"github.com/ajitpratap0/datapkg/pkg/errors"
	"github.com/ajitpratap0/datapkg/pkg/formats"
	"github.com/ajitpratap0/datapkg/pkg/job"
	"github.com/ajitpratap0/datapkg/pkg/metrics"
	"github.com/ajitpratap0/datapkg/pkg/packagefile"
	"github.com/ajitpratap0/datapkg/pkg/schema"
	"github.com/ajitpratap0/datapkg/pkg/state"
)

// SyncOptions configure a sync job.
type SyncOptions struct {
	// Reference locates the package file; prompted for when empty
	Reference string
	Sink      SinkSpec
	// UpdateMethod is preferred over the stream set defaults when the sink supports it
	UpdateMethod core.UpdateMethod
	// ProcessingMethod is preferred over writing whole stream sets when the
	// sink supports it
	ProcessingMethod core.StreamSetProcessingMethod
	// NonInteractive fails on missing parameters instead of prompting
	NonInteractive bool
	// ProgressInterval overrides how often delivery progress is reported
	ProgressInterval time.Duration
}

// StreamSetResult is what happened to one stream set.
type StreamSetResult struct {
	Slug         string
	UpdateMethod core.UpdateMethod
	// Skipped is true when nothing changed since the last delivery
	Skipped   bool
	Records   int64
	Locations []string
}

// SyncResult describes a finished delivery.
type SyncResult struct {
	Package    *packagefile.PackageFile
	Key        state.Key
	StreamSets []StreamSetResult
	// PackageLocation is where the package file was written, if anywhere
	PackageLocation string
}

// SyncJob creates a job that delivers the streams of a package to a sink.
func SyncJob(env *Env, jc job.JobContext, opts SyncOptions) *job.Job[*SyncResult] {
	env = env.withDefaults()
	return job.New("sync", func(ctx context.Context) (job.Result[*SyncResult], error) {
		res, err := env.sync(ctx, jc, opts)
		if stopped(ctx, err) {
			jc.Print(job.PrintWarn, "Sync stopped; delivered stream sets are kept in the sink state")
			return job.Result[*SyncResult]{Value: res}, nil
		}
		return job.Result[*SyncResult]{Value: res}, err
	}, env.jobOptions("sync")...)
}

// syncRun is the state of one sync job.
type syncRun struct {
	env     *Env
	jc      job.JobContext
	opts    SyncOptions
	pkg     *packagefile.PackageFile
	sink    core.Sink
	sinkCfg config.Values
	key     state.Key
	prior   *state.SinkState
	current *state.SinkState
}

func (e *Env) sync(ctx context.Context, jc job.JobContext, opts SyncOptions) (*SyncResult, error) {
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
	pkg := loaded.File
	if err := e.checkView(ctx, pkg); err != nil {
		return nil, err
	}

	run := &syncRun{env: e, jc: jc, opts: opts, pkg: pkg}
	run.key = state.Key{CatalogSlug: pkg.CatalogSlug, PackageSlug: pkg.PackageSlug, MajorVersion: pkg.MajorVersion()}
	res := &SyncResult{Package: pkg, Key: run.key}

	err = runTask(jc, "Connecting to sink "+opts.Sink.Type, func(job.Task) error {
		run.sink, run.sinkCfg, err = r.connectSink(ctx, e.Registry, opts.Sink, e.Config.Storage.DataPath())
		return err
	})
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := run.sink.Close(context.WithoutCancel(ctx)); cerr != nil {
			e.Logger.Warn("failed to close sink", zap.Error(cerr))
		}
	}()

	err = runTask(jc, "Reading sink state", func(t job.Task) error {
		blob, err := run.sink.ReadState(ctx, run.key)
		if err != nil {
			return err
		}
		if run.prior, err = state.Decode(blob); err != nil {
			return err
		}
		if run.prior == nil {
			t.SetMessage("No sink state for " + run.key.String() + ", delivering everything")
			run.current = state.New(run.key)
		} else {
			run.current = run.prior
		}
		run.current.PackageVersion = pkg.Version
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, spec := range pkg.Sources {
		var cs *connectedSource
		err = runTask(jc, fmt.Sprintf("Connecting to %s (%s)", spec.Slug, spec.Type), func(job.Task) error {
			cs, err = r.connectSource(ctx, e.Registry, spec)
			return err
		})
		if err != nil {
			return res, err
		}
		for _, g := range groupStreams(cs.streams) {
			set := spec.StreamSet(g.slug)
			if set == nil {
				jc.Print(job.PrintWarn, fmt.Sprintf("Stream set %s is not in the package file; run update first", g.slug))
				continue
			}
			var out *StreamSetResult
			err = runTask(jc, "Delivering stream set "+g.slug, func(t job.Task) error {
				out, err = run.deliverStreamSet(ctx, t, cs, set, g)
				if err == nil && out.Skipped {
					t.SetMessage("Stream set " + g.slug + " is unchanged")
				}
				return err
			})
			if err != nil {
				return res, err
			}
			res.StreamSets = append(res.StreamSets, *out)
		}
	}

	err = runTask(jc, "Writing package files", func(job.Task) error {
		res.PackageLocation, err = writePackageFiles(jc, pkg)
		return err
	})
	if err != nil {
		return res, err
	}

	var records int64
	for _, s := range res.StreamSets {
		records += s.Records
	}
	jc.Print(job.PrintSuccess, fmt.Sprintf("Delivered %d records of %s %s to %s", records, pkg.PackageSlug, pkg.Version, run.sink.Type()))
	return res, nil
}

func (e *Env) checkView(ctx context.Context, pf *packagefile.PackageFile) error {
	status, err := e.Permissions.CheckPermission(ctx, pf.CatalogSlug, pf.PackageSlug, packagefile.PermissionView)
	if err != nil {
		return err
	}
	switch status {
	case packagefile.NotAuthorized:
		return errors.New(errors.ErrorTypePermission, "you do not have permission to read this package")
	case packagefile.NotAuthenticated:
		return errors.New(errors.ErrorTypePermission, "you must be logged in to read this package")
	}
	return nil
}

// chooseUpdateMethod picks the preferred method when the stream set and the
// sink allow it, otherwise the first method of the stream set the sink
// supports. Stream sets without methods accept both, batch first.
func chooseUpdateMethod(set *packagefile.StreamSet, opts core.SinkStreamOptions, preferred core.UpdateMethod) (core.UpdateMethod, error) {
	allowed := make([]core.UpdateMethod, 0, len(set.UpdateMethods))
	for _, m := range set.UpdateMethods {
		allowed = append(allowed, core.UpdateMethod(m))
	}
	if len(allowed) == 0 {
		allowed = []core.UpdateMethod{core.UpdateMethodBatchFullSet, core.UpdateMethodAppendOnlyLog}
	}
	if preferred != "" && opts.Supports(preferred) {
		for _, m := range allowed {
			if m == preferred {
				return m, nil
			}
		}
	}
	for _, m := range allowed {
		if opts.Supports(m) {
			return m, nil
		}
	}
	return "", errors.New(errors.ErrorTypeConfig,
		fmt.Sprintf("the sink supports none of the update methods of stream set %s", set.Slug)).
		WithDetail("stream_set", set.Slug)
}

// chooseProcessing picks the preferred processing method when the sink
// supports it, otherwise whole stream sets.
func chooseProcessing(opts core.SinkStreamOptions, preferred core.StreamSetProcessingMethod) core.StreamSetProcessingMethod {
	if len(opts.StreamSetProcessingMethods) == 0 {
		return core.ProcessPerStreamSet
	}
	if preferred != "" {
		for _, m := range opts.StreamSetProcessingMethods {
			if m == preferred {
				return m
			}
		}
	}
	for _, m := range opts.StreamSetProcessingMethods {
		if m == core.ProcessPerStreamSet {
			return m
		}
	}
	return opts.StreamSetProcessingMethods[0]
}

// ColumnTypes maps the properties of s to sink column types. Properties
// holding a single value type keep it; anything mixed becomes a string, as
// do integers a long cannot hold.
func ColumnTypes(s *schema.Schema) map[string]core.ColumnType {
	out := make(map[string]core.ColumnType, len(s.Properties))
	for _, p := range s.Properties {
		types := p.Types()
		if len(types) != 1 {
			out[p.Name] = core.ColumnString
			continue
		}
		switch types[0] {
		case schema.TypeNumber:
			stats := p.ValueTypes[schema.TypeNumber]
			switch {
			case stats == nil || stats.NumberMaxPrecision == nil || *stats.NumberMaxPrecision != 0:
				out[p.Name] = core.ColumnDouble
			case fitsLong(stats.NumberMin) && fitsLong(stats.NumberMax):
				out[p.Name] = core.ColumnLong
			default:
				out[p.Name] = core.ColumnString
			}
		case schema.TypeBoolean:
			out[p.Name] = core.ColumnBoolean
		default:
			out[p.Name] = core.ColumnString
		}
	}
	return out
}

func fitsLong(n *json.Number) bool {
	if n == nil {
		return true
	}
	_, err := n.Int64()
	return err == nil
}

// pendingStream is a stream that has to be delivered, with the number of
// its records already delivered.
type pendingStream struct {
	desc *core.StreamDescriptor
	skip int64
}

// writeUnit is the streams written through one RecordWriter.
type writeUnit struct {
	title   string
	stream  string
	streams []pendingStream
}

func (run *syncRun) deliverStreamSet(ctx context.Context, task job.Task, cs *connectedSource, set *packagefile.StreamSet, g *streamGroup) (*StreamSetResult, error) {
	options := run.sink.SupportedStreamOptions(run.sinkCfg, run.prior)
	method, err := chooseUpdateMethod(set, options, run.opts.UpdateMethod)
	if err != nil {
		return nil, err
	}
	processing := chooseProcessing(options, run.opts.ProcessingMethod)
	out := &StreamSetResult{Slug: set.Slug, UpdateMethod: method}

	// Offsets count every record read, so they stay valid across a switch:
	// appending resumes after what a batch delivered, and a batch rewrites
	// everything anyway.
	switched := false
	if prev := run.current.UpdateMethod(set.Slug); prev != "" && prev != string(method) {
		run.jc.Print(job.PrintWarn, fmt.Sprintf("Stream set %s switched from %s to %s; continuing from the delivered offsets", set.Slug, prev, method))
		run.current.SetUpdateMethod(set.Slug, string(method))
		switched = true
	}

	var pending []pendingStream
	for _, d := range g.streams {
		delivered, ok := run.current.Stream(set.Slug, d.Name)
		unchanged := ok && d.Fingerprint != "" && delivered.Fingerprint == d.Fingerprint
		if method != core.UpdateMethodAppendOnlyLog {
			pending = append(pending, pendingStream{desc: d})
			continue
		}
		if unchanged {
			metrics.StreamsSkipped.WithLabelValues("sync").Inc()
			continue
		}
		pending = append(pending, pendingStream{desc: d, skip: delivered.Offset})
	}
	if method == core.UpdateMethodBatchFullSet && allUnchanged(run.current, set.Slug, g.streams) {
		metrics.StreamsSkipped.WithLabelValues("sync").Add(float64(len(g.streams)))
		pending = nil
	}
	if len(pending) == 0 {
		out.Skipped = true
		if switched {
			return out, run.saveState(ctx)
		}
		return out, nil
	}
	if method == core.UpdateMethodBatchFullSet {
		run.current.Reset(set.Slug)
	}

	ctx, st := run.env.startStage(ctx, "deliver",
		attribute.String("stream_set", set.Slug),
		attribute.String("update_method", string(method)),
		attribute.String("sink", run.sink.Type()))
	err = run.deliverUnits(ctx, task, cs, set, method, groupUnits(pending, processing), out)
	st.end(err)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func allUnchanged(s *state.SinkState, slug string, streams []*core.StreamDescriptor) bool {
	for _, d := range streams {
		delivered, ok := s.Stream(slug, d.Name)
		if !ok || d.Fingerprint == "" || delivered.Fingerprint != d.Fingerprint {
			return false
		}
	}
	return true
}

// groupUnits writes a whole stream set per schema, or every stream on its own.
func groupUnits(pending []pendingStream, processing core.StreamSetProcessingMethod) []*writeUnit {
	var units []*writeUnit
	byTitle := map[string]*writeUnit{}
	for _, p := range pending {
		title := base.StreamTitle(p.desc.Name)
		if processing == core.ProcessPerStream {
			units = append(units, &writeUnit{title: title, stream: p.desc.Name, streams: []pendingStream{p}})
			continue
		}
		u, ok := byTitle[title]
		if !ok {
			u = &writeUnit{title: title}
			byTitle[title] = u
			units = append(units, u)
		}
		u.streams = append(u.streams, p)
	}
	return units
}

// deliverUnits writes every unit and persists the sink state after each
// commit, so a later failure does not lose what is already in the sink. A
// unit whose records cannot be decoded is aborted and left out of the state.
func (run *syncRun) deliverUnits(ctx context.Context, task job.Task, cs *connectedSource, set *packagefile.StreamSet, method core.UpdateMethod, units []*writeUnit, out *StreamSetResult) error {
	saved := false
	for _, u := range units {
		s := run.pkg.SchemaByTitle(u.title)
		if s == nil {
			run.jc.Print(job.PrintWarn, fmt.Sprintf("No schema %s in the package file; skipping %d streams", u.title, len(u.streams)))
			continue
		}
		target := core.WriteTarget{
			Key:            run.key,
			PackageVersion: run.pkg.Version,
			StreamSetSlug:  set.Slug,
			StreamName:     u.stream,
			SchemaTitle:    u.title,
			Columns:        s.PropertyNames(),
			ColumnTypes:    ColumnTypes(s),
			UpdateMethod:   method,
			Append:         method == core.UpdateMethodAppendOnlyLog,
		}

		sub := task.AddSubTask("Writing " + u.title)
		committed, offsets, err := run.writeUnit(ctx, sub, cs, target, u)
		if errors.IsType(err, errors.ErrorTypeFormat) {
			sub.End(job.TaskError, err.Error())
			run.jc.Print(job.PrintWarn, fmt.Sprintf("Skipping %s: %v", u.title, err))
			continue
		}
		if err != nil {
			sub.End(job.TaskError, err.Error())
			return err
		}
		sub.End(job.TaskSuccess, fmt.Sprintf("Wrote %d records to %s", committed.Records, committed.Location))

		now := time.Now().UTC()
		for i, p := range u.streams {
			run.current.Record(set.Slug, string(method), p.desc.Name, state.StreamState{
				Fingerprint: p.desc.Fingerprint,
				Offset:      offsets[i],
				UpdatedAt:   now,
			})
		}
		out.Records += committed.Records
		if committed.Location != "" {
			out.Locations = append(out.Locations, committed.Location)
		}
		metrics.RecordsDelivered.WithLabelValues(run.sink.Type(), string(method)).Add(float64(committed.Records))

		if err := run.saveState(ctx); err != nil {
			return err
		}
		saved = true
	}
	if saved {
		return nil
	}
	return run.saveState(ctx)
}

func (run *syncRun) saveState(ctx context.Context) error {
	blob, err := run.current.Encode()
	if err != nil {
		return err
	}
	return run.sink.WriteState(ctx, run.key, blob)
}

// writeUnit copies the records of every stream of u into one writer and
// commits it. offsets holds, per stream, the records read in total.
func (run *syncRun) writeUnit(ctx context.Context, task job.Task, cs *connectedSource, target core.WriteTarget, u *writeUnit) (*core.CommitResult, []int64, error) {
	writer, err := run.sink.OpenWriter(ctx, target)
	if err != nil {
		return nil, nil, err
	}

	pr := base.NewProgressReporter(run.env.Logger, cs.spec.Type, run.sink.Type())
	if run.opts.ProgressInterval > 0 {
		pr.SetReportInterval(run.opts.ProgressInterval)
	}
	pr.OnReport(func(processed int64) {
		task.SetMessage(fmt.Sprintf("Writing %s (%d records)", u.title, processed))
	})
	pr.Start()
	defer pr.Stop()

	offsets := make([]int64, len(u.streams))
	for i, p := range u.streams {
		n, err := run.copyStream(ctx, writer, p, pr)
		if err != nil {
			if aerr := writer.Abort(context.WithoutCancel(ctx)); aerr != nil {
				run.env.Logger.Warn("failed to abort writer", zap.Error(aerr))
			}
			return nil, nil, err
		}
		offsets[i] = n
	}

	committed, err := writer.Commit(ctx)
	if err != nil {
		return nil, nil, err
	}
	return committed, offsets, nil
}

// copyStream writes the records of one stream after the first p.skip and
// returns how many records the stream holds.
func (run *syncRun) copyStream(ctx context.Context, w core.RecordWriter, p pendingStream, pr *base.ProgressReporter) (int64, error) {
	opened, err := p.desc.Open(ctx)
	if err != nil {
		return 0, err
	}
	rs, err := base.NewRecordStream(p.desc.Name, opened, formats.ReaderOptions{})
	if err != nil {
		opened.Reader.Close()
		return 0, err
	}
	defer rs.Close()

	var n int64
	for {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		rec, err := rs.Next()
		if err == io.EOF {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		n++
		if n <= p.skip {
			continue
		}
		if err := w.Write(ctx, rec); err != nil {
			return n, err
		}
		pr.IncrementProcessed(1)
	}
}

// writePackageFiles writes the package file, readme and license of pkg
// through the job context and returns where the package file went.
func writePackageFiles(jc job.JobContext, pkg *packagefile.PackageFile) (string, error) {
	data, err := pkg.Encode()
	if err != nil {
		return "", err
	}
	location, err := writeArtifact(jc.PackageWritable, pkg, data)
	if err != nil {
		return "", err
	}
	if pkg.Readme != "" {
		if _, err := writeArtifact(jc.ReadmeWritable, pkg, []byte(pkg.Readme)); err != nil {
			return "", err
		}
	}
	if pkg.License != "" {
		if _, err := writeArtifact(jc.LicenseWritable, pkg, []byte(pkg.License)); err != nil {
			return "", err
		}
	}
	return location, nil
}

func writeArtifact(open func(catalogSlug, packageSlug, version string) (*job.Writable, error), pkg *packagefile.PackageFile, data []byte) (string, error) {
	w, err := open(pkg.CatalogSlug, pkg.PackageSlug, pkg.Version)
	if err != nil {
		return "", err
	}
	if w == nil {
		return "", nil
	}
	if _, err := w.Writer.Write(data); err != nil {
		w.Writer.Close()
		return "", errors.Wrap(err, errors.ErrorTypeFile, "failed to write "+w.Location)
	}
	if err := w.Writer.Close(); err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeFile, "failed to close "+w.Location)
	}
	return w.Location, nil
}
