package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	backend "conll-backend/internal/api"
	"conll-backend/internal/core"
	"conll-backend/internal/database"
	"conll-backend/internal/messaging"
	"conll-backend/internal/storage"
	"conll-backend/pkg/api"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const dataBucket = "data"

type testEnv struct {
	db      *gorm.DB
	storage *storage.LocalProvider
	queue   *messaging.InMemoryQueue
	proc    *core.TaskProcessor
	router  http.Handler
}

func setupService(t *testing.T) testEnv {
	t.Helper()

	db, err := database.NewDatabase("file::memory:")
	require.NoError(t, err)

	provider, err := storage.NewLocalProvider(t.TempDir())
	require.NoError(t, err)

	queue := messaging.NewInMemoryQueue()
	proc := core.NewTaskProcessor(db, provider, queue, queue, dataBucket, t.TempDir())

	service := backend.NewBackendService(db, provider, queue, proc, dataBucket, 32<<20)
	router := chi.NewRouter()
	service.AddRoutes(router)

	return testEnv{db: db, storage: provider, queue: queue, proc: proc, router: router}
}

func makeCorpus(docs int) string {
	var sb strings.Builder
	for i := 0; i < docs; i++ {
		fmt.Fprintf(&sb, "-DOCSTART- -X- O O\n\n")
		fmt.Fprintf(&sb, "doc%d NN B-PER\nsays VBZ O\n\n", i)
		fmt.Fprintf(&sb, "second%d NN O\n\n", i)
	}
	return sb.String()
}

func multipartRequest(t *testing.T, target, filename, content string, fields map[string]string) *http.Request {
	t.Helper()

	buf := new(bytes.Buffer)
	writer := multipart.NewWriter(buf)

	for key, value := range fields {
		require.NoError(t, writer.WriteField(key, value))
	}

	if filename != "" {
		f, err := writer.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = f.Write([]byte(content))
		require.NoError(t, err)
	}

	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, target, buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func (env testEnv) serve(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	env := setupService(t)

	rec := env.serve(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestProcessConll(t *testing.T) {
	env := setupService(t)

	req := multipartRequest(t, "/process_conll", "corpus.conll", makeCorpus(10), map[string]string{
		"folder_name": "my data",
		"ratios":      "0.8,0.1,0.1",
		"parquet":     "false",
	})
	rec := env.serve(req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res api.ProcessConllResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))

	assert.Equal(t, "Processing completed successfully", res.Message)
	assert.Equal(t, "my_data-0001", res.OutputDirectory)
	require.Len(t, res.ProcessingInfo.Steps, 2)

	splitStep := res.ProcessingInfo.Steps[0]
	assert.Equal(t, "split", splitStep.Action)
	assert.Equal(t, []api.SplitFile{
		{Name: "train.conll", Documents: 8},
		{Name: "val.conll", Documents: 1},
		{Name: "test.conll", Documents: 1},
	}, splitStep.FilesCreated)
	assert.Equal(t, &api.Ratios{Train: 0.8, Val: 0.1, Test: 0.1}, splitStep.Ratios)

	convertStep := res.ProcessingInfo.Steps[1]
	assert.Equal(t, "convert_to_json", convertStep.Action)
	train := convertStep.Results["train.conll"]
	assert.Equal(t, 16, train.SentencesProcessed)
	assert.Equal(t, map[string]int{"O": 16, "B-PER": 8}, train.TagCounts)
	assert.Equal(t, []string{"B-PER"}, train.NewEntities)

	ctx := context.Background()
	_, err := env.storage.GetObject(ctx, dataBucket, "my_data-0001/conll_files/corpus.conll")
	assert.NoError(t, err)
	_, err = env.storage.GetObject(ctx, dataBucket, "my_data-0001/train.json")
	assert.NoError(t, err)
	_, err = env.storage.GetObject(ctx, dataBucket, "my_data-0001/train.parquet")
	assert.ErrorIs(t, err, storage.ErrObjectNotFound)

	rec = env.serve(multipartRequest(t, "/process_conll", "corpus.conll", makeCorpus(2), map[string]string{"folder_name": "my data"}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "my_data-0002", res.OutputDirectory)
}

func TestProcessConllDefaults(t *testing.T) {
	env := setupService(t)

	rec := env.serve(multipartRequest(t, "/process_conll", "corpus.conll", makeCorpus(20), nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res api.ProcessConllResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))

	assert.Regexp(t, regexp.MustCompile(`^\d{2}-[A-Z][a-z]{2}-\d{4}-0001$`), res.OutputDirectory)
	assert.Equal(t, &api.Ratios{Train: 0.7, Val: 0.15, Test: 0.15}, res.ProcessingInfo.Steps[0].Ratios)
	assert.Equal(t, []api.SplitFile{
		{Name: "train.conll", Documents: 14},
		{Name: "val.conll", Documents: 3},
		{Name: "test.conll", Documents: 3},
	}, res.ProcessingInfo.Steps[0].FilesCreated)

	_, err := env.storage.GetObject(context.Background(), dataBucket, res.OutputDirectory+"/train.parquet")
	assert.NoError(t, err)
}

func TestProcessConllErrors(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		content  string
		fields   map[string]string
		code     int
		message  string
	}{
		{name: "no file", code: http.StatusBadRequest, message: "No file uploaded"},
		{
			name: "two ratios", filename: "c.conll", content: makeCorpus(3),
			fields: map[string]string{"ratios": "0.5,0.5"},
			code:   http.StatusBadRequest, message: "Ratios must be three comma-separated numbers",
		},
		{
			name: "ratios not summing to one", filename: "c.conll", content: makeCorpus(3),
			fields: map[string]string{"ratios": "0.5,0.5,0.5"},
			code:   http.StatusBadRequest,
		},
		{
			name: "bad custom map", filename: "c.conll", content: makeCorpus(3),
			fields: map[string]string{"custom_map": "{not json"},
			code:   http.StatusBadRequest, message: "Invalid custom_map JSON format",
		},
		{
			name: "malformed corpus", filename: "c.conll", content: "EU B-ORG\nrejects\n",
			code: http.StatusBadRequest, message: "line 2",
		},
		{
			name: "bad seed", filename: "c.conll", content: makeCorpus(3),
			fields: map[string]string{"seed": "abc"},
			code:   http.StatusBadRequest,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			env := setupService(t)

			rec := env.serve(multipartRequest(t, "/process_conll", tc.filename, tc.content, tc.fields))
			assert.Equal(t, tc.code, rec.Code)

			var res api.ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
			assert.Contains(t, res.Error, tc.message)
		})
	}
}

func createConversion(t *testing.T, env testEnv, folder string) api.CreateConversionResponse {
	t.Helper()

	rec := env.serve(multipartRequest(t, "/conversions", "corpus.conll", makeCorpus(10), map[string]string{
		"folder_name": folder,
		"ratios":      "0.8,0.1,0.1",
	}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res api.CreateConversionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	return res
}

func getConversion(t *testing.T, env testEnv, id uuid.UUID) api.Conversion {
	t.Helper()

	rec := env.serve(httptest.NewRequest(http.MethodGet, "/conversions/"+id.String(), nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res api.Conversion
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	return res
}

func TestConversionWorkflow(t *testing.T) {
	env := setupService(t)

	created := createConversion(t, env, "async")
	assert.Equal(t, "async-0001", created.OutputDir)

	queued := getConversion(t, env, created.ConversionId)
	assert.Equal(t, database.JobQueued, queued.Status)
	assert.Nil(t, queued.CompletionTime)

	select {
	case task := <-env.queue.Tasks():
		env.proc.ProcessTask(task)
	case <-time.After(time.Second):
		t.Fatal("convert task was not published")
	}

	conversion := getConversion(t, env, created.ConversionId)
	assert.Equal(t, database.JobCompleted, conversion.Status)
	assert.NotNil(t, conversion.CompletionTime)
	assert.Equal(t, 10, conversion.Documents)
	assert.Equal(t, 20, conversion.Sentences)
	assert.Equal(t, api.Ratios{Train: 0.8, Val: 0.1, Test: 0.1}, conversion.Ratios)

	require.Len(t, conversion.Splits, 3)
	splits := make(map[string]api.ConversionSplit)
	for _, s := range conversion.Splits {
		splits[s.Split] = s
	}
	assert.Equal(t, 8, splits["train"].Documents)
	assert.Equal(t, 16, splits["train"].SentencesProcessed)
	assert.ElementsMatch(t, []string{"conll_files/train.conll", "train.json", "train.parquet"}, splits["train"].Files)

	assert.Equal(t, []api.ConversionLabel{
		{Id: 0, Label: "O", IsNew: false},
		{Id: 1, Label: "B-PER", IsNew: true},
	}, conversion.Labels)
}

func TestListConversions(t *testing.T) {
	env := setupService(t)

	first := createConversion(t, env, "first")
	second := createConversion(t, env, "second")

	env.proc.ProcessTask(<-env.queue.Tasks())

	rec := env.serve(httptest.NewRequest(http.MethodGet, "/conversions", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var all []api.Conversion
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &all))
	require.Len(t, all, 2)

	rec = env.serve(httptest.NewRequest(http.MethodGet, "/conversions?status=completed", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var completed []api.Conversion
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &completed))
	require.Len(t, completed, 1)
	assert.Equal(t, first.ConversionId, completed[0].Id)

	rec = env.serve(httptest.NewRequest(http.MethodGet, "/conversions?name=sec", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var named []api.Conversion
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &named))
	require.Len(t, named, 1)
	assert.Equal(t, second.ConversionId, named[0].Id)
	assert.Equal(t, database.JobQueued, named[0].Status)
}

func TestGetConversionNotFound(t *testing.T) {
	env := setupService(t)

	rec := env.serve(httptest.NewRequest(http.MethodGet, "/conversions/"+uuid.New().String(), nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.serve(httptest.NewRequest(http.MethodGet, "/conversions/not-a-uuid", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDownloadFile(t *testing.T) {
	env := setupService(t)

	rec := env.serve(multipartRequest(t, "/process_conll", "corpus.conll", makeCorpus(10), map[string]string{
		"ratios": "0.8,0.1,0.1",
	}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res api.ProcessConllResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	base := "/conversions/" + res.ConversionId.String() + "/files/"

	rec = env.serve(httptest.NewRequest(http.MethodGet, base+"train.json", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "train.json")
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	assert.Len(t, lines, 16)

	rec = env.serve(httptest.NewRequest(http.MethodGet, base+"conll_files/val.conll", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Body.String(), "-DOCSTART-"))

	rec = env.serve(httptest.NewRequest(http.MethodGet, base+"missing.json", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.serve(httptest.NewRequest(http.MethodGet, base+storage.KeepObject, nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
