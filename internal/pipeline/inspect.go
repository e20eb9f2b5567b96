package pipeline

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/datapkg/pkg/connector/base"
	"github.com/ajitpratap0/datapkg/pkg/connector/core"
	"github.com/ajitpratap0/datapkg/pkg/errors"
	"github.com/ajitpratap0/datapkg/pkg/formats"
	"github.com/ajitpratap0/datapkg/pkg/job"
	"github.com/ajitpratap0/datapkg/pkg/metrics"
	"github.com/ajitpratap0/datapkg/pkg/packagefile"
	"github.com/ajitpratap0/datapkg/pkg/schema"
	"github.com/ajitpratap0/datapkg/pkg/schema/detectors"
)

// streamGroup is the discovered streams of one stream set, in discovery order.
type streamGroup struct {
	slug    string
	streams []*core.StreamDescriptor
}

func groupStreams(streams []*core.StreamDescriptor) []*streamGroup {
	var groups []*streamGroup
	bySlug := map[string]*streamGroup{}
	for _, d := range streams {
		g, ok := bySlug[d.StreamSetSlug]
		if !ok {
			g = &streamGroup{slug: d.StreamSetSlug}
			bySlug[d.StreamSetSlug] = g
			groups = append(groups, g)
		}
		g.streams = append(g.streams, d)
	}
	return groups
}

func (g *streamGroup) fingerprints() map[string]string {
	out := make(map[string]string, len(g.streams))
	for _, d := range g.streams {
		out[d.Name] = d.Fingerprint
	}
	return out
}

// inspection is what one source contributes to a package.
type inspection struct {
	streamSets []*packagefile.StreamSet
	schemas    []*schema.Schema
}

// inspectSource infers the schemas of every stream set of cs. A stream set
// whose fingerprints all match the previous inspection reuses the schemas
// of previous instead of being opened.
func (e *Env) inspectSource(ctx context.Context, jc job.JobContext, task job.Task, cs *connectedSource, previous *packagefile.PackageFile) (*inspection, error) {
	ctx, st := e.startStage(ctx, "inspect",
		attribute.String("source", cs.spec.Slug),
		attribute.Int("streams", len(cs.streams)))
	out, err := e.inspectGroups(ctx, jc, task, cs, previous)
	st.end(err)
	return out, err
}

func (e *Env) inspectGroups(ctx context.Context, jc job.JobContext, task job.Task, cs *connectedSource, previous *packagefile.PackageFile) (*inspection, error) {
	metrics.StreamsDiscovered.WithLabelValues(cs.spec.Type).Add(float64(len(cs.streams)))

	var prevSource *packagefile.Source
	if previous != nil {
		prevSource = previous.Source(cs.spec.Slug)
	}

	out := &inspection{}
	for _, g := range groupStreams(cs.streams) {
		hash := packagefile.UpdateHash(g.fingerprints())

		var prevSet *packagefile.StreamSet
		if prevSource != nil {
			prevSet = prevSource.StreamSet(g.slug)
		}
		if reused := reuseStreamSet(prevSet, previous, hash); reused != nil {
			sub := task.AddSubTask("Stream set " + g.slug + " is unchanged")
			sub.End(job.TaskSuccess, "")
			metrics.StreamsSkipped.WithLabelValues("inspect").Add(float64(len(g.streams)))
			e.Logger.Debug("reusing unchanged stream set", zap.String("stream_set", g.slug), zap.String("hash", hash))
			out.streamSets = append(out.streamSets, prevSet)
			out.schemas = append(out.schemas, reused...)
			continue
		}

		sub := task.AddSubTask(fmt.Sprintf("Inspecting stream set %s (%d streams)", g.slug, len(g.streams)))
		set, schemas, err := e.inspectGroup(ctx, jc, cs, g)
		if err != nil {
			sub.End(job.TaskError, err.Error())
			return nil, err
		}
		if set == nil {
			sub.End(job.TaskError, "no readable streams in stream set "+g.slug)
			continue
		}
		set.LastUpdateHash = hash
		if prevSet != nil {
			set.Configuration = prevSet.Configuration
			set.UpdateMethods = prevSet.UpdateMethods
		}
		sub.End(job.TaskSuccess, fmt.Sprintf("Inspected stream set %s: %d records", g.slug, set.StreamStats.InspectedCount))
		out.streamSets = append(out.streamSets, set)
		out.schemas = append(out.schemas, schemas...)
	}
	return out, nil
}

// reuseStreamSet returns the schemas of prevSet when its hash matches and
// every schema it names still exists in previous.
func reuseStreamSet(prevSet *packagefile.StreamSet, previous *packagefile.PackageFile, hash string) []*schema.Schema {
	if prevSet == nil || hash == "" || prevSet.LastUpdateHash != hash || len(prevSet.SchemaTitles) == 0 {
		return nil
	}
	schemas := make([]*schema.Schema, 0, len(prevSet.SchemaTitles))
	for _, title := range prevSet.SchemaTitles {
		s := previous.SchemaByTitle(title)
		if s == nil {
			return nil
		}
		schemas = append(schemas, s)
	}
	return schemas
}

// inspectGroup opens every stream of g, waits for all opens to settle and
// then inspects the streams concurrently. A stream that cannot be decoded
// is skipped with a warning; any other failure fails the whole group.
func (e *Env) inspectGroup(ctx context.Context, jc job.JobContext, cs *connectedSource, g *streamGroup) (*packagefile.StreamSet, []*schema.Schema, error) {
	opened, err := base.OpenAll(ctx, g.streams, e.concurrency())
	if err != nil {
		return nil, nil, err
	}

	results := make([]*schema.Schema, len(g.streams))
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(e.concurrency())
	for i, d := range g.streams {
		i, d := i, d
		eg.Go(func() error {
			s, err := e.inspectStream(gctx, cs.spec.Type, d, opened[i])
			if errors.IsType(err, errors.ErrorTypeFormat) {
				jc.Print(job.PrintWarn, fmt.Sprintf("Skipping %s: %v", d.Name, err))
				e.Logger.Warn("stream skipped", zap.String("stream", d.Name), zap.Error(err))
				return nil
			}
			if err != nil {
				return err
			}
			results[i] = s
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, nil, err
	}

	set := &packagefile.StreamSet{Slug: g.slug, StreamStats: packagefile.StreamStats{ByteCountPrecise: true}}
	var inspected []*schema.Schema
	for i, s := range results {
		if s == nil {
			continue
		}
		inspected = append(inspected, s)
		set.StreamStats.InspectedCount += s.RecordCount
		size := opened[i].Size
		if size < 0 {
			size = g.streams[i].Size
		}
		if size < 0 {
			set.StreamStats.ByteCountPrecise = false
			continue
		}
		set.StreamStats.ByteCount += size
	}
	if len(inspected) == 0 {
		return nil, nil, nil
	}

	merged := schema.MergeSchemas(inspected, e.Config.Inference.SampleSize)
	for _, s := range merged {
		set.SchemaTitles = append(set.SchemaTitles, s.Title)
	}
	return set, merged, nil
}

// inspectStream decodes one opened stream and infers its schema. The
// stream is closed before returning.
func (e *Env) inspectStream(ctx context.Context, sourceType string, d *core.StreamDescriptor, s *core.OpenedStream) (*schema.Schema, error) {
	rs, err := base.NewRecordStream(d.Name, s, formats.ReaderOptions{})
	if err != nil {
		s.Reader.Close()
		return nil, err
	}
	defer rs.Close()

	in := schema.NewInspector(base.StreamTitle(d.Name), schema.InspectorOptions{
		SampleSize: e.Config.Inference.SampleSize,
		MaxRecords: e.Config.Inference.MaxRecords,
		Detectors:  detectors.Default(),
	})
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := rs.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		in.InspectRecord(rec.Keys, rec.Values)
	}

	metrics.RecordsInspected.WithLabelValues(sourceType).Add(float64(in.RecordCount()))
	e.Logger.Debug("stream inspected",
		zap.String("stream", d.Name),
		zap.String("format", string(rs.Format)),
		zap.Int64("records", in.RecordCount()))
	return in.Schema(), nil
}
