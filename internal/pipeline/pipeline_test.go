package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/datapkg/pkg/config"
	"github.com/ajitpratap0/datapkg/pkg/connector/core"
	"github.com/ajitpratap0/datapkg/pkg/connector/registry"
	filesink "github.com/ajitpratap0/datapkg/pkg/connector/sinks/file"
	filesource "github.com/ajitpratap0/datapkg/pkg/connector/sources/file"
	"github.com/ajitpratap0/datapkg/pkg/diff"
	"github.com/ajitpratap0/datapkg/pkg/errors"
	"github.com/ajitpratap0/datapkg/pkg/job"
	"github.com/ajitpratap0/datapkg/pkg/packagefile"
	"github.com/ajitpratap0/datapkg/pkg/schema"
	"github.com/ajitpratap0/datapkg/pkg/schema/detectors"
	"github.com/ajitpratap0/datapkg/pkg/state"
	"github.com/ajitpratap0/datapkg/pkg/testutil"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// touch moves the modification time forward so the file fingerprint changes.
func touch(t *testing.T, path string, by time.Duration) {
	t.Helper()
	later := time.Now().Add(by)
	require.NoError(t, os.Chtimes(path, later, later))
}

func testEnv(t *testing.T) *Env {
	cfg := config.NewDefaultConfig()
	cfg.Storage.HomeDir = t.TempDir()
	cfg.Pipeline.MaxConcurrency = 2
	return &Env{Config: cfg, Logger: zaptest.NewLogger(t)}
}

// newPackage writes a package file reading the given paths with the file source.
func newPackage(t *testing.T, dir string, connection config.Values) string {
	t.Helper()
	pf := packagefile.New("", "people", "People")
	pf.Sources = []*packagefile.Source{{
		Slug:                    "local",
		Type:                    filesource.Type,
		ConnectionConfiguration: connection,
	}}
	data, err := pf.Encode()
	require.NoError(t, err)
	path := filepath.Join(dir, packagefile.FileName("people"))
	writeFile(t, path, string(data))
	return path
}

func loadPackage(t *testing.T, path string) *packagefile.PackageFile {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	pf, err := packagefile.Parse(data)
	require.NoError(t, err)
	return pf
}

func runUpdate(t *testing.T, env *Env, jc job.JobContext, reference string) *UpdateResult {
	t.Helper()
	ctx, cancel := testutil.TestContext(t)
	defer cancel()
	j := UpdateJob(env, jc, UpdateOptions{Reference: reference, NonInteractive: true})
	res, err := j.Execute(ctx)
	require.NoError(t, err)
	require.Equal(t, job.StateCompleted, j.State())
	return res.Value
}

func TestUpdateInfersSchemaAndBumpsVersion(t *testing.T) {
	dir := t.TempDir()
	csv := filepath.Join(dir, "people.csv")
	writeFile(t, csv, "name,age,email\nAda,36,ada@example.com\nGrace,45,grace@example.com\n")
	ref := newPackage(t, dir, config.Values{"paths": []string{csv}})

	jc := testutil.NewJobContext(nil)
	res := runUpdate(t, testEnv(t), jc, ref)

	assert.Equal(t, "1.0.0", res.PreviousVersion)
	assert.Equal(t, diff.Compatible, res.Compatibility)
	assert.Equal(t, "1.1.0", res.Package.Version)
	assert.Equal(t, ref, res.Location)

	saved := loadPackage(t, ref)
	assert.Equal(t, "1.1.0", saved.Version)
	s := saved.SchemaByTitle("people")
	require.NotNil(t, s)
	assert.Equal(t, []string{"name", "age", "email"}, s.PropertyNames())
	assert.Equal(t, []schema.ValueType{schema.TypeNumber}, s.Property("age").Types())
	_, labelled := s.Property("email").Label(detectors.LabelEmailAddress)
	assert.True(t, labelled)

	set := saved.Source("local").StreamSet("people")
	require.NotNil(t, set)
	assert.Equal(t, []string{"people"}, set.SchemaTitles)
	assert.NotEmpty(t, set.LastUpdateHash)
	assert.Equal(t, int64(2), set.StreamStats.InspectedCount)
	assert.True(t, set.StreamStats.ByteCountPrecise)

	assert.Contains(t, jc.PrintedText(job.PrintUpdate), "Added schema")
	assert.Equal(t, job.TaskSuccess, jc.Task("Checking edit permissions").Status())
}

func TestUpdateUnchangedReusesSchemas(t *testing.T) {
	dir := t.TempDir()
	csv := filepath.Join(dir, "people.csv")
	writeFile(t, csv, "name,age\nAda,36\n")
	ref := newPackage(t, dir, config.Values{"paths": []string{csv}})
	env := testEnv(t)

	runUpdate(t, env, testutil.NewJobContext(nil), ref)

	jc := testutil.NewJobContext(nil)
	res := runUpdate(t, env, jc, ref)
	assert.Empty(t, res.Differences)
	assert.Equal(t, diff.Cosmetic, res.Compatibility)
	assert.Equal(t, "1.1.1", res.Package.Version)
	assert.Contains(t, jc.PrintedText(job.PrintWarn), "No differences found")

	inspect := jc.Task("Inspecting local")
	require.NotNil(t, inspect)
	require.Len(t, inspect.SubTasks(), 1)
	assert.Equal(t, "Stream set people is unchanged", inspect.SubTasks()[0].Message())
}

func TestUpdateDetectsTypeChange(t *testing.T) {
	dir := t.TempDir()
	csv := filepath.Join(dir, "people.csv")
	writeFile(t, csv, "name,age\nAda,36\n")
	ref := newPackage(t, dir, config.Values{"paths": []string{csv}})
	env := testEnv(t)
	runUpdate(t, env, testutil.NewJobContext(nil), ref)

	writeFile(t, csv, "name,age\nAda,thirty-six\n")
	touch(t, csv, time.Minute)

	res := runUpdate(t, env, testutil.NewJobContext(nil), ref)
	assert.Equal(t, diff.Breaking, res.Compatibility)
	assert.Equal(t, "2.0.0", res.Package.Version)
	assert.Contains(t, res.Differences, diff.Difference{Type: diff.ChangePropertyType, Pointer: "#/schemas/people/properties/age"})
}

func TestUpdateSkipsUndecodableStreams(t *testing.T) {
	dir := t.TempDir()
	csv := filepath.Join(dir, "people.csv")
	writeFile(t, csv, "name\nAda\n")
	writeFile(t, filepath.Join(dir, "notes.bin"), "\x00\x01")
	ref := newPackage(t, dir, config.Values{"paths": []string{csv, filepath.Join(dir, "notes.bin")}})

	jc := testutil.NewJobContext(nil)
	res := runUpdate(t, testEnv(t), jc, ref)

	require.Len(t, res.Package.Schemas, 1)
	assert.Equal(t, "people", res.Package.Schemas[0].Title)
	assert.Contains(t, jc.PrintedText(job.PrintWarn), "Skipping notes.bin")
}

func TestUpdatePromptsForMissingConnection(t *testing.T) {
	dir := t.TempDir()
	csv := filepath.Join(dir, "people.csv")
	writeFile(t, csv, "name\nAda\n")
	ref := newPackage(t, dir, nil)

	jc := testutil.NewJobContext(config.Values{"paths": []string{csv}})
	j := UpdateJob(testEnv(t), jc, UpdateOptions{Reference: ref})
	_, err := j.Execute(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"paths"}, jc.Prompted())
	saved := loadPackage(t, ref)
	assert.Equal(t, []string{csv}, saved.Source("local").ConnectionConfiguration.GetStrings("paths"))
}

func TestUpdateNonInteractiveWithoutReference(t *testing.T) {
	j := UpdateJob(testEnv(t), testutil.NewJobContext(nil), UpdateOptions{NonInteractive: true})
	res, err := j.Execute(context.Background())
	require.Error(t, err)
	assert.Equal(t, 2, res.ExitCode)
	assert.Equal(t, job.StateError, j.State())
}

func TestUpdatePermissionDenied(t *testing.T) {
	dir := t.TempDir()
	csv := filepath.Join(dir, "people.csv")
	writeFile(t, csv, "name\nAda\n")
	ref := newPackage(t, dir, config.Values{"paths": []string{csv}})

	env := testEnv(t)
	env.Permissions = packagefile.PermissionCheckerFunc(func(context.Context, string, string, packagefile.Permission) (packagefile.PermissionStatus, error) {
		return packagefile.NotAuthorized, nil
	})
	jc := testutil.NewJobContext(nil)
	j := UpdateJob(env, jc, UpdateOptions{Reference: ref})
	res, err := j.Execute(context.Background())
	require.Error(t, err)
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, job.TaskError, jc.Task("Checking edit permissions").Status())
	assert.Equal(t, "1.0.0", loadPackage(t, ref).Version)
}

func syncOptions(ref, out string, method core.UpdateMethod) SyncOptions {
	return SyncOptions{
		Reference:      ref,
		NonInteractive: true,
		UpdateMethod:   method,
		Sink: SinkSpec{
			Type:          filesink.Type,
			Connection:    config.Values{"path": out},
			Configuration: config.Values{"format": "jsonl"},
		},
	}
}

func runSync(t *testing.T, env *Env, opts SyncOptions) *SyncResult {
	t.Helper()
	ctx, cancel := testutil.TestContext(t)
	defer cancel()
	j := SyncJob(env, testutil.NewJobContext(nil), opts)
	res, err := j.Execute(ctx)
	require.NoError(t, err)
	require.Equal(t, job.StateCompleted, j.State())
	return res.Value
}

func lines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

func readState(t *testing.T, dir string, key state.Key) *state.SinkState {
	t.Helper()
	blob, err := state.FileStore{Dir: dir}.Read(key)
	require.NoError(t, err)
	st, err := state.Decode(blob)
	require.NoError(t, err)
	require.NotNil(t, st)
	return st
}

func TestSyncAppendDeliversOnlyNewRecords(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out")
	csv := filepath.Join(dir, "people.csv")
	writeFile(t, csv, "name,age\nAda,36\nGrace,45\n")
	ref := newPackage(t, dir, config.Values{"paths": []string{csv}})
	env := testEnv(t)
	runUpdate(t, env, testutil.NewJobContext(nil), ref)
	opts := syncOptions(ref, out, core.UpdateMethodAppendOnlyLog)
	artifact := filepath.Join(out, "people.jsonl")

	first := runSync(t, env, opts)
	require.Len(t, first.StreamSets, 1)
	assert.Equal(t, core.UpdateMethodAppendOnlyLog, first.StreamSets[0].UpdateMethod)
	assert.Equal(t, int64(2), first.StreamSets[0].Records)
	delivered := lines(t, artifact)
	require.Len(t, delivered, 2)

	second := runSync(t, env, opts)
	assert.True(t, second.StreamSets[0].Skipped)
	assert.Equal(t, int64(0), second.StreamSets[0].Records)
	assert.Equal(t, delivered, lines(t, artifact))

	writeFile(t, csv, "name,age\nAda,36\nGrace,45\nKatherine,101\n")
	touch(t, csv, time.Minute)

	third := runSync(t, env, opts)
	assert.Equal(t, int64(1), third.StreamSets[0].Records)
	now := lines(t, artifact)
	require.Len(t, now, 3)
	assert.Equal(t, delivered, now[:2])
	assert.Contains(t, now[2], "Katherine")

	st := readState(t, out, third.Key)
	stream, ok := st.Stream("people", "people.csv")
	require.True(t, ok)
	assert.Equal(t, int64(3), stream.Offset)
	assert.Equal(t, string(core.UpdateMethodAppendOnlyLog), st.UpdateMethod("people"))
	assert.Equal(t, "1.1.0", st.PackageVersion)
}

func TestSyncBatchRewritesChangedSets(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out")
	csv := filepath.Join(dir, "people.csv")
	writeFile(t, csv, "name,age\nAda,36\nGrace,45\n")
	ref := newPackage(t, dir, config.Values{"paths": []string{csv}})
	env := testEnv(t)
	runUpdate(t, env, testutil.NewJobContext(nil), ref)
	opts := syncOptions(ref, out, "")
	artifact := filepath.Join(out, "people.jsonl")

	first := runSync(t, env, opts)
	assert.Equal(t, core.UpdateMethodBatchFullSet, first.StreamSets[0].UpdateMethod)
	assert.Len(t, lines(t, artifact), 2)

	second := runSync(t, env, opts)
	assert.True(t, second.StreamSets[0].Skipped)

	writeFile(t, csv, "name,age\nGrace,45\n")
	touch(t, csv, time.Minute)
	third := runSync(t, env, opts)
	assert.Equal(t, int64(1), third.StreamSets[0].Records)
	assert.Len(t, lines(t, artifact), 1)
}

func TestSyncMethodSwitchKeepsDeliveredRecords(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out")
	csv := filepath.Join(dir, "people.csv")
	writeFile(t, csv, "name\nAda\nGrace\n")
	ref := newPackage(t, dir, config.Values{"paths": []string{csv}})
	env := testEnv(t)
	runUpdate(t, env, testutil.NewJobContext(nil), ref)
	artifact := filepath.Join(out, "people.jsonl")

	runSync(t, env, syncOptions(ref, out, core.UpdateMethodBatchFullSet))
	delivered := lines(t, artifact)
	require.Len(t, delivered, 2)

	switched := runSync(t, env, syncOptions(ref, out, core.UpdateMethodAppendOnlyLog))
	assert.True(t, switched.StreamSets[0].Skipped)
	assert.Equal(t, int64(0), switched.StreamSets[0].Records)
	assert.Equal(t, delivered, lines(t, artifact))
	st := readState(t, out, switched.Key)
	assert.Equal(t, string(core.UpdateMethodAppendOnlyLog), st.UpdateMethod("people"))

	writeFile(t, csv, "name\nAda\nGrace\nKatherine\n")
	touch(t, csv, time.Minute)
	appended := runSync(t, env, syncOptions(ref, out, core.UpdateMethodAppendOnlyLog))
	assert.Equal(t, int64(1), appended.StreamSets[0].Records)
	now := lines(t, artifact)
	require.Len(t, now, 3)
	assert.Equal(t, delivered, now[:2])
	assert.Contains(t, now[2], "Katherine")

	back := runSync(t, env, syncOptions(ref, out, core.UpdateMethodBatchFullSet))
	assert.True(t, back.StreamSets[0].Skipped)
	assert.Len(t, lines(t, artifact), 3)
}

func TestSyncPerStreamWritesOneArtifactPerStream(t *testing.T) {
	dir := t.TempDir()
	csv := filepath.Join(dir, "people.csv")
	jsonl := filepath.Join(dir, "people.jsonl")
	writeFile(t, csv, "name\nAda\n")
	writeFile(t, jsonl, `{"name":"Grace"}`+"\n")
	ref := newPackage(t, dir, config.Values{"paths": []string{csv, jsonl}})
	env := testEnv(t)
	runUpdate(t, env, testutil.NewJobContext(nil), ref)

	perStream := filepath.Join(dir, "per-stream")
	opts := syncOptions(ref, perStream, "")
	opts.ProcessingMethod = core.ProcessPerStream
	res := runSync(t, env, opts)
	require.Len(t, res.StreamSets, 1)
	assert.Equal(t, int64(2), res.StreamSets[0].Records)
	assert.Len(t, res.StreamSets[0].Locations, 2)
	ada := lines(t, filepath.Join(perStream, "people-csv.jsonl"))
	require.Len(t, ada, 1)
	assert.Contains(t, ada[0], "Ada")
	grace := lines(t, filepath.Join(perStream, "people-jsonl.jsonl"))
	require.Len(t, grace, 1)
	assert.Contains(t, grace[0], "Grace")
	assert.NoFileExists(t, filepath.Join(perStream, "people.jsonl"))

	perSet := filepath.Join(dir, "per-set")
	res = runSync(t, env, syncOptions(ref, perSet, ""))
	assert.Len(t, res.StreamSets[0].Locations, 1)
	assert.Len(t, lines(t, filepath.Join(perSet, "people.jsonl")), 2)
}

// failingSink is a file sink that cannot open a writer for one stream.
type failingSink struct {
	core.Sink
	stream string
}

func (s *failingSink) OpenWriter(ctx context.Context, target core.WriteTarget) (core.RecordWriter, error) {
	if target.StreamName == s.stream {
		return nil, errors.New(errors.ErrorTypeConnection, "sink went away")
	}
	return s.Sink.OpenWriter(ctx, target)
}

func TestSyncKeepsStateOfCommittedUnits(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out")
	csv := filepath.Join(dir, "people.csv")
	jsonl := filepath.Join(dir, "people.jsonl")
	writeFile(t, csv, "name\nAda\n")
	writeFile(t, jsonl, `{"name":"Grace"}`+"\n")
	ref := newPackage(t, dir, config.Values{"paths": []string{csv, jsonl}})

	reg := registry.NewRegistry()
	src, err := registry.GetRegistry().Source(filesource.Type)
	require.NoError(t, err)
	require.NoError(t, reg.RegisterSource(src.Info, src.Factory))
	fileSink, err := registry.GetRegistry().Sink(filesink.Type)
	require.NoError(t, err)
	info := fileSink.Info
	info.Name = "failing"
	require.NoError(t, reg.RegisterSink(info, func(ctx context.Context, settings core.SinkSettings) (core.Sink, error) {
		inner, err := filesink.NewSink(ctx, settings)
		if err != nil {
			return nil, err
		}
		return &failingSink{Sink: inner, stream: "people.jsonl"}, nil
	}))

	env := testEnv(t)
	env.Registry = reg
	runUpdate(t, env, testutil.NewJobContext(nil), ref)

	opts := syncOptions(ref, out, core.UpdateMethodAppendOnlyLog)
	opts.Sink.Type = "failing"
	opts.ProcessingMethod = core.ProcessPerStream
	ctx, cancel := testutil.TestContext(t)
	defer cancel()
	_, err = SyncJob(env, testutil.NewJobContext(nil), opts).Execute(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConnection))

	st := readState(t, out, state.Key{PackageSlug: "people", MajorVersion: 1})
	committed, ok := st.Stream("people", "people.csv")
	require.True(t, ok)
	assert.Equal(t, int64(1), committed.Offset)
	_, ok = st.Stream("people", "people.jsonl")
	assert.False(t, ok)
	assert.Len(t, lines(t, filepath.Join(out, "people-csv.jsonl")), 1)
}

func TestSyncWritesPackageFiles(t *testing.T) {
	dir := t.TempDir()
	csv := filepath.Join(dir, "people.csv")
	writeFile(t, csv, "name\nAda\n")
	ref := newPackage(t, dir, config.Values{"paths": []string{csv}})
	env := testEnv(t)
	runUpdate(t, env, testutil.NewJobContext(nil), ref)

	jc := testutil.NewJobContext(nil)
	j := SyncJob(env, jc, syncOptions(ref, filepath.Join(dir, "out"), ""))
	res, err := j.Execute(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "memory:///people/1.1.0/package", res.Value.PackageLocation)
	assert.Contains(t, jc.Artifact("package"), `"packageSlug": "people"`)
	assert.Empty(t, jc.Artifact("readme"))
}

func TestChooseUpdateMethod(t *testing.T) {
	both := core.SinkStreamOptions{UpdateMethods: []core.UpdateMethod{core.UpdateMethodBatchFullSet, core.UpdateMethodAppendOnlyLog}}
	batchOnly := core.SinkStreamOptions{UpdateMethods: []core.UpdateMethod{core.UpdateMethodBatchFullSet}}

	m, err := chooseUpdateMethod(&packagefile.StreamSet{}, both, "")
	require.NoError(t, err)
	assert.Equal(t, core.UpdateMethodBatchFullSet, m)

	m, err = chooseUpdateMethod(&packagefile.StreamSet{}, batchOnly, core.UpdateMethodAppendOnlyLog)
	require.NoError(t, err)
	assert.Equal(t, core.UpdateMethodBatchFullSet, m)

	appendOnly := &packagefile.StreamSet{Slug: "log", UpdateMethods: []string{string(core.UpdateMethodAppendOnlyLog)}}
	m, err = chooseUpdateMethod(appendOnly, both, core.UpdateMethodBatchFullSet)
	require.NoError(t, err)
	assert.Equal(t, core.UpdateMethodAppendOnlyLog, m)

	_, err = chooseUpdateMethod(appendOnly, batchOnly, "")
	assert.Error(t, err)
}

func TestChooseProcessing(t *testing.T) {
	both := core.SinkStreamOptions{StreamSetProcessingMethods: []core.StreamSetProcessingMethod{core.ProcessPerStreamSet, core.ProcessPerStream}}
	perStreamOnly := core.SinkStreamOptions{StreamSetProcessingMethods: []core.StreamSetProcessingMethod{core.ProcessPerStream}}

	assert.Equal(t, core.ProcessPerStreamSet, chooseProcessing(both, ""))
	assert.Equal(t, core.ProcessPerStream, chooseProcessing(both, core.ProcessPerStream))
	assert.Equal(t, core.ProcessPerStream, chooseProcessing(perStreamOnly, core.ProcessPerStreamSet))
	assert.Equal(t, core.ProcessPerStreamSet, chooseProcessing(core.SinkStreamOptions{}, core.ProcessPerStream))
}

func TestColumnTypes(t *testing.T) {
	zero, two := 0, 2
	huge := json.Number("18446744073709551615")
	s := &schema.Schema{Properties: []*schema.Property{
		{Name: "count", ValueTypes: map[schema.ValueType]*schema.ValueTypeStats{schema.TypeNumber: {NumberMaxPrecision: &zero}}},
		{Name: "price", ValueTypes: map[schema.ValueType]*schema.ValueTypeStats{schema.TypeNumber: {NumberMaxPrecision: &two}}},
		{Name: "active", ValueTypes: map[schema.ValueType]*schema.ValueTypeStats{schema.TypeBoolean: {}}},
		{Name: "mixed", ValueTypes: map[schema.ValueType]*schema.ValueTypeStats{schema.TypeNumber: {}, schema.TypeString: {}}},
		{Name: "born", ValueTypes: map[schema.ValueType]*schema.ValueTypeStats{schema.TypeDate: {}}},
		{Name: "serial", ValueTypes: map[schema.ValueType]*schema.ValueTypeStats{schema.TypeNumber: {NumberMaxPrecision: &zero, NumberMax: &huge}}},
	}}
	assert.Equal(t, map[string]core.ColumnType{
		"count":  core.ColumnLong,
		"price":  core.ColumnDouble,
		"active": core.ColumnBoolean,
		"mixed":  core.ColumnString,
		"born":   core.ColumnString,
		"serial": core.ColumnString,
	}, ColumnTypes(s))
}
