package core_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"conll-backend/internal/core"
	"conll-backend/internal/core/dataset"
	"conll-backend/internal/database"
	"conll-backend/internal/messaging"
	"conll-backend/internal/storage"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const dataBucket = "data"

type processorEnv struct {
	db       *gorm.DB
	storage  *storage.LocalProvider
	queue    *messaging.InMemoryQueue
	proc     *core.TaskProcessor
	modelDir string
}

func setupProcessor(t *testing.T) processorEnv {
	t.Helper()

	db, err := database.NewDatabase("file::memory:")
	require.NoError(t, err)

	provider, err := storage.NewLocalProvider(t.TempDir())
	require.NoError(t, err)

	modelDir := t.TempDir()
	queue := messaging.NewInMemoryQueue()

	return processorEnv{
		db:       db,
		storage:  provider,
		queue:    queue,
		proc:     core.NewTaskProcessor(db, provider, queue, queue, dataBucket, modelDir),
		modelDir: modelDir,
	}
}

func (env processorEnv) createConversion(t *testing.T, corpus string, modify ...func(*database.Conversion)) uuid.UUID {
	t.Helper()
	ctx := context.Background()

	outputDir, err := storage.NewOutputDir(ctx, env.storage, dataBucket, "test", time.Now())
	require.NoError(t, err)

	inputFile := outputDir + "/" + core.ConllDir + "/corpus.conll"
	require.NoError(t, env.storage.PutObject(ctx, dataBucket, inputFile, strings.NewReader(corpus)))

	conversion := database.Conversion{
		Id:           uuid.New(),
		Name:         "test",
		OutputDir:    outputDir,
		InputFile:    inputFile,
		Status:       database.JobQueued,
		TrainRatio:   0.8,
		ValRatio:     0.1,
		TestRatio:    0.1,
		Parquet:      true,
		CreationTime: time.Now().UTC(),
	}
	for _, m := range modify {
		m(&conversion)
	}
	require.NoError(t, env.db.Create(&conversion).Error)

	return conversion.Id
}

func TestRunConversion(t *testing.T) {
	env := setupProcessor(t)
	ctx := context.Background()

	id := env.createConversion(t, makeCorpusText(10))

	result, err := env.proc.RunConversion(ctx, id)
	require.NoError(t, err)
	assert.Len(t, result.Subsets, 3)

	conversion, err := database.GetConversion(ctx, env.db, id)
	require.NoError(t, err)
	assert.Equal(t, database.JobCompleted, conversion.Status)
	assert.Equal(t, 10, conversion.Documents)
	assert.Equal(t, 20, conversion.Sentences)
	assert.Empty(t, conversion.Errors)

	require.Len(t, conversion.Splits, 3)
	require.Len(t, conversion.Labels, 4)
	assert.Equal(t, "O", conversion.Labels[0].Label)
	assert.False(t, conversion.Labels[0].IsNew)
	assert.True(t, conversion.Labels[1].IsNew)

	for _, name := range []string{
		"conll_files/train.conll", "conll_files/val.conll", "conll_files/test.conll",
		"train.json", "val.json", "test.json",
		"train.parquet", "val.parquet", "test.parquet",
		core.ClassMappingFile, core.LabelMappingFile, core.StatsFile,
	} {
		_, err := env.storage.GetObject(ctx, dataBucket, conversion.OutputDir+"/"+name)
		assert.NoError(t, err, name)
	}

	data, err := env.storage.GetObject(ctx, dataBucket, conversion.OutputDir+"/train.json")
	require.NoError(t, err)
	records, err := dataset.ReadJSONL(strings.NewReader(string(data)))
	require.NoError(t, err)
	assert.Len(t, records, 16)

	data, err = env.storage.GetObject(ctx, dataBucket, conversion.OutputDir+"/"+core.StatsFile)
	require.NoError(t, err)
	var stats map[string]dataset.Stats
	require.NoError(t, json.Unmarshal(data, &stats))
	assert.Equal(t, 16, stats["train"].SentencesProcessed)
	assert.Equal(t, 2, stats["val"].SentencesProcessed)
}

func TestRunConversionSkipsEmptySubsets(t *testing.T) {
	env := setupProcessor(t)
	ctx := context.Background()

	id := env.createConversion(t, makeCorpusText(3), func(c *database.Conversion) {
		c.TrainRatio, c.ValRatio, c.TestRatio = 1, 0, 0
		c.Parquet = false
	})

	_, err := env.proc.RunConversion(ctx, id)
	require.NoError(t, err)

	conversion, err := database.GetConversion(ctx, env.db, id)
	require.NoError(t, err)

	objects, err := env.storage.ListObjects(ctx, dataBucket, conversion.OutputDir+"/")
	require.NoError(t, err)

	names := make([]string, 0, len(objects))
	for _, obj := range objects {
		names = append(names, strings.TrimPrefix(obj.Name, conversion.OutputDir+"/"))
	}
	assert.ElementsMatch(t, []string{
		storage.KeepObject, "conll_files/corpus.conll", "conll_files/train.conll", "train.json",
		core.ClassMappingFile, core.LabelMappingFile, core.StatsFile,
	}, names)
}

func TestRunConversionWithCustomMap(t *testing.T) {
	env := setupProcessor(t)
	ctx := context.Background()

	id := env.createConversion(t, makeCorpusText(3), func(c *database.Conversion) {
		c.CustomMap = datatypes.JSON(`{"0": "O", "7": "B-D1"}`)
	})

	result, err := env.proc.RunConversion(ctx, id)
	require.NoError(t, err)

	label, ok := result.Mapping.Label(7)
	require.True(t, ok)
	assert.Equal(t, "B-D1", label)
	assert.Equal(t, []string{"B-D0", "B-D2"}, result.NewEntities)

	data, err := env.storage.GetObject(ctx, dataBucket, "test-0001/"+core.ClassMappingFile)
	require.NoError(t, err)
	assert.Equal(t, "tag_mapping = {\n    0: 'O',\n    7: 'B-D1',\n    8: 'B-D0',\n    9: 'B-D2',\n}\n", string(data))
}

func TestRunConversionUsesLatestModelConfig(t *testing.T) {
	env := setupProcessor(t)

	for name, config := range map[string]string{
		"model-001": `{"id2label": {"0": "O", "1": "B-OLD"}}`,
		"model-002": `{"id2label": {"0": "O", "3": "B-D0"}}`,
	} {
		require.NoError(t, os.MkdirAll(filepath.Join(env.modelDir, name), os.ModePerm))
		require.NoError(t, os.WriteFile(filepath.Join(env.modelDir, name, "config.json"), []byte(config), 0644))
	}

	id := env.createConversion(t, makeCorpusText(3))

	result, err := env.proc.RunConversion(context.Background(), id)
	require.NoError(t, err)

	assert.Equal(t, map[string]int{"O": 0, "B-D0": 3, "B-D1": 4, "B-D2": 5}, result.Mapping.LabelToID())
}

func TestRunConversionMalformedInput(t *testing.T) {
	env := setupProcessor(t)
	ctx := context.Background()

	id := env.createConversion(t, "EU B-ORG\nrejects\n")

	_, err := env.proc.RunConversion(ctx, id)
	require.Error(t, err)

	conversion, err := database.GetConversion(ctx, env.db, id)
	require.NoError(t, err)
	assert.Equal(t, database.JobFailed, conversion.Status)
	require.Len(t, conversion.Errors, 1)
	assert.Contains(t, conversion.Errors[0].Error, "line 2")
}

func TestRunConversionSaveFailure(t *testing.T) {
	env := setupProcessor(t)
	ctx := context.Background()

	id := env.createConversion(t, makeCorpusText(10))

	require.NoError(t, env.db.Migrator().DropTable(&database.ConversionLabel{}))

	_, err := env.proc.RunConversion(ctx, id)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error saving conversion results")

	var conversion database.Conversion
	require.NoError(t, env.db.First(&conversion, "id = ?", id).Error)
	assert.Equal(t, database.JobFailed, conversion.Status)

	var errs []database.ConversionError
	require.NoError(t, env.db.Where("conversion_id = ?", id).Find(&errs).Error)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error, "error saving conversion results")
}

type fakeTask struct {
	queue    string
	payload  []byte
	acked    bool
	nacked   bool
	rejected bool
}

func (t *fakeTask) Type() string    { return t.queue }
func (t *fakeTask) Payload() []byte { return t.payload }
func (t *fakeTask) Ack() error      { t.acked = true; return nil }
func (t *fakeTask) Nack() error     { t.nacked = true; return nil }
func (t *fakeTask) Reject() error   { t.rejected = true; return nil }

func TestProcessTask(t *testing.T) {
	env := setupProcessor(t)
	ctx := context.Background()

	id := env.createConversion(t, makeCorpusText(4))
	require.NoError(t, env.queue.PublishConvertTask(ctx, messaging.ConvertTaskPayload{ConversionId: id}))

	env.proc.ProcessTask(<-env.queue.Tasks())

	conversion, err := database.GetConversion(ctx, env.db, id)
	require.NoError(t, err)
	assert.Equal(t, database.JobCompleted, conversion.Status)

	malformed := &fakeTask{queue: messaging.ConvertQueue, payload: []byte("{")}
	env.proc.ProcessTask(malformed)
	assert.True(t, malformed.rejected)

	unknown := &fakeTask{queue: "other_queue", payload: []byte("{}")}
	env.proc.ProcessTask(unknown)
	assert.True(t, unknown.rejected)

	missing, err := json.Marshal(messaging.ConvertTaskPayload{ConversionId: uuid.New()})
	require.NoError(t, err)
	failed := &fakeTask{queue: messaging.ConvertQueue, payload: missing}
	env.proc.ProcessTask(failed)
	assert.True(t, failed.nacked)

	done, err := json.Marshal(messaging.ConvertTaskPayload{ConversionId: id})
	require.NoError(t, err)
	again := &fakeTask{queue: messaging.ConvertQueue, payload: done}
	env.proc.ProcessTask(again)
	assert.True(t, again.acked)
}

func TestStartProcessesQueuedConversions(t *testing.T) {
	env := setupProcessor(t)
	ctx := context.Background()

	stopped := make(chan struct{})
	go func() {
		env.proc.Start()
		close(stopped)
	}()

	id := env.createConversion(t, makeCorpusText(5))
	require.NoError(t, env.queue.PublishConvertTask(ctx, messaging.ConvertTaskPayload{ConversionId: id}))

	require.Eventually(t, func() bool {
		conversion, err := database.GetConversion(ctx, env.db, id)
		return err == nil && conversion.Status == database.JobCompleted
	}, 5*time.Second, 20*time.Millisecond)

	env.proc.Stop()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("processor did not stop")
	}
}
