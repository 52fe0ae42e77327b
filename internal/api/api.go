package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"conll-backend/internal/core"
	"conll-backend/internal/core/conll"
	"conll-backend/internal/core/labels"
	"conll-backend/internal/core/split"
	"conll-backend/internal/database"
	"conll-backend/internal/messaging"
	"conll-backend/internal/storage"
	"conll-backend/pkg/api"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	defaultInputName = "input.conll"
	maxListLimit     = 100
)

type ConversionRunner interface {
	RunConversion(ctx context.Context, conversionId uuid.UUID) (*core.ConversionResult, error)
}

type BackendService struct {
	db        *gorm.DB
	storage   storage.Provider
	publisher messaging.Publisher
	runner    ConversionRunner

	dataBucket     string
	maxUploadBytes int64
}

func NewBackendService(db *gorm.DB, storage storage.Provider, publisher messaging.Publisher, runner ConversionRunner, dataBucket string, maxUploadBytes int64) *BackendService {
	return &BackendService{
		db:             db,
		storage:        storage,
		publisher:      publisher,
		runner:         runner,
		dataBucket:     dataBucket,
		maxUploadBytes: maxUploadBytes,
	}
}

func (s *BackendService) AddRoutes(r chi.Router) {
	r.Get("/health", RestHandler(func(r *http.Request) (any, error) { return nil, nil }))
	r.Post("/process_conll", RestHandler(s.ProcessConll))
	r.Route("/conversions", func(r chi.Router) {
		r.Post("/", RestHandler(s.CreateConversion))
		r.Get("/", RestHandler(s.ListConversions))
		r.Get("/{conversion_id}", RestHandler(s.GetConversion))
		r.Get("/{conversion_id}/files/*", s.DownloadFile)
	})
}

type conversionForm struct {
	name      string
	ratios    split.Ratios
	customMap datatypes.JSON
	shuffle   bool
	seed      int64
	parquet   bool
}

func formBool(r *http.Request, key string, fallback bool) (bool, error) {
	value := strings.TrimSpace(r.FormValue(key))
	if value == "" {
		return fallback, nil
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return false, CodedErrorf(http.StatusBadRequest, "invalid %s value '%s'", key, value)
	}
	return parsed, nil
}

func parseConversionForm(r *http.Request) (conversionForm, error) {
	form := conversionForm{name: strings.TrimSpace(r.FormValue("folder_name"))}

	ratios, err := split.ParseRatios(r.FormValue("ratios"))
	if err != nil {
		var invalid *split.InvalidRatioError
		if errors.As(err, &invalid) && invalid.Input != "" {
			return form, CodedErrorf(http.StatusBadRequest, "Ratios must be three comma-separated numbers")
		}
		return form, CodedError(http.StatusBadRequest, err)
	}
	form.ratios = ratios

	if raw := strings.TrimSpace(r.FormValue("custom_map")); raw != "" {
		base, err := labels.ParseIDToLabel([]byte(raw))
		if err != nil {
			var invalid *labels.InvalidMappingError
			if errors.As(err, &invalid) {
				return form, CodedError(http.StatusBadRequest, err)
			}
			return form, CodedErrorf(http.StatusBadRequest, "Invalid custom_map JSON format")
		}
		if _, err := labels.NewMapping(base); err != nil {
			return form, CodedError(http.StatusBadRequest, err)
		}
		form.customMap = datatypes.JSON(raw)
	}

	if form.shuffle, err = formBool(r, "shuffle", false); err != nil {
		return form, err
	}
	if form.parquet, err = formBool(r, "parquet", true); err != nil {
		return form, err
	}

	if value := strings.TrimSpace(r.FormValue("seed")); value != "" {
		seed, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return form, CodedErrorf(http.StatusBadRequest, "invalid seed value '%s'", value)
		}
		form.seed = seed
	}

	return form, nil
}

// createConversion validates the multipart request, reserves an output
// directory, stores the uploaded corpus in it and records a queued conversion.
func (s *BackendService) createConversion(r *http.Request) (database.Conversion, error) {
	if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
		return database.Conversion{}, CodedErrorf(http.StatusBadRequest, "unable to parse multipart form: %v", err)
	}

	form, err := parseConversionForm(r)
	if err != nil {
		return database.Conversion{}, err
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return database.Conversion{}, CodedErrorf(http.StatusBadRequest, "No file uploaded")
		}
		return database.Conversion{}, CodedErrorf(http.StatusBadRequest, "unable to read uploaded file: %v", err)
	}
	defer file.Close()

	ctx := r.Context()

	outputDir, err := storage.NewOutputDir(ctx, s.storage, s.dataBucket, form.name, time.Now())
	if err != nil {
		slog.Error("error creating output directory", "error", err)
		return database.Conversion{}, CodedErrorf(http.StatusInternalServerError, "error creating output directory")
	}

	inputName := storage.SecureFilename(header.Filename)
	if inputName == "" {
		inputName = defaultInputName
	}
	inputFile := path.Join(outputDir, core.ConllDir, inputName)

	if err := s.storage.PutObject(ctx, s.dataBucket, inputFile, file); err != nil {
		slog.Error("error saving uploaded file", "output_dir", outputDir, "error", err)
		return database.Conversion{}, CodedErrorf(http.StatusInternalServerError, "error saving uploaded file")
	}

	name := form.name
	if name == "" {
		name = outputDir
	}

	conversion := database.Conversion{
		Id:           uuid.New(),
		Name:         name,
		OutputDir:    outputDir,
		InputFile:    inputFile,
		Status:       database.JobQueued,
		TrainRatio:   form.ratios.Train,
		ValRatio:     form.ratios.Val,
		TestRatio:    form.ratios.Test,
		Shuffle:      form.shuffle,
		Seed:         form.seed,
		Parquet:      form.parquet,
		CustomMap:    form.customMap,
		CreationTime: time.Now().UTC(),
	}

	if err := s.db.WithContext(ctx).Create(&conversion).Error; err != nil {
		slog.Error("error creating conversion", "error", err)
		return database.Conversion{}, CodedErrorf(http.StatusInternalServerError, "error creating conversion")
	}

	slog.Info("created conversion", "conversion_id", conversion.Id, "output_dir", outputDir, "input", inputFile)

	return conversion, nil
}

func conversionErrorCode(err error) int {
	var malformed *conll.MalformedLineError
	var invalidRatio *split.InvalidRatioError
	var invalidMapping *labels.InvalidMappingError

	if errors.As(err, &malformed) || errors.As(err, &invalidRatio) || errors.As(err, &invalidMapping) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func processingInfo(result *core.ConversionResult, ratios split.Ratios) api.ProcessingInfo {
	var files []api.SplitFile
	results := make(map[string]api.SplitStats)

	for _, subset := range result.Subsets {
		if len(subset.Documents) == 0 {
			continue
		}
		name := path.Base(core.ConllFileName(subset.Name))
		files = append(files, api.SplitFile{Name: name, Documents: len(subset.Documents)})
		results[name] = api.SplitStats{
			SentencesProcessed: subset.Stats.SentencesProcessed,
			UniqueTags:         subset.Stats.UniqueTags,
			TagCounts:          subset.Stats.TagCounts,
			NewEntities:        subset.Stats.NewEntities,
		}
	}

	return api.ProcessingInfo{
		Steps: []api.ProcessingStep{
			{
				Action:       "split",
				FilesCreated: files,
				Ratios:       &api.Ratios{Train: ratios.Train, Val: ratios.Val, Test: ratios.Test},
			},
			{
				Action:  "convert_to_json",
				Results: results,
			},
		},
	}
}

// ProcessConll converts the uploaded corpus within the request.
func (s *BackendService) ProcessConll(r *http.Request) (any, error) {
	conversion, err := s.createConversion(r)
	if err != nil {
		return nil, err
	}

	result, err := s.runner.RunConversion(r.Context(), conversion.Id)
	if err != nil {
		return nil, CodedError(conversionErrorCode(err), err)
	}

	return api.ProcessConllResponse{
		Message:         "Processing completed successfully",
		OutputDirectory: conversion.OutputDir,
		ConversionId:    conversion.Id,
		ProcessingInfo: processingInfo(result, split.Ratios{
			Train: conversion.TrainRatio, Val: conversion.ValRatio, Test: conversion.TestRatio,
		}),
	}, nil
}

// CreateConversion queues the uploaded corpus for a worker.
func (s *BackendService) CreateConversion(r *http.Request) (any, error) {
	conversion, err := s.createConversion(r)
	if err != nil {
		return nil, err
	}

	if err := s.publisher.PublishConvertTask(r.Context(), messaging.ConvertTaskPayload{ConversionId: conversion.Id}); err != nil {
		slog.Error("error publishing convert task", "conversion_id", conversion.Id, "error", err)
		database.SaveConversionError(r.Context(), s.db, conversion.Id, "failed to queue conversion")
		if err := database.UpdateConversionStatus(r.Context(), s.db, conversion.Id, database.JobFailed); err != nil {
			slog.Error("error marking conversion as failed", "conversion_id", conversion.Id, "error", err)
		}
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to queue conversion")
	}

	return api.CreateConversionResponse{ConversionId: conversion.Id, OutputDir: conversion.OutputDir}, nil
}

func (s *BackendService) ListConversions(r *http.Request) (any, error) {
	params, err := ParseRequestQueryParams[api.ListConversionsRequest](r)
	if err != nil {
		return nil, err
	}

	if params.Limit <= 0 || params.Limit > maxListLimit {
		params.Limit = maxListLimit
	}
	if params.Offset < 0 {
		return nil, CodedErrorf(http.StatusBadRequest, "offset must be non-negative")
	}

	query := s.db.WithContext(r.Context()).Order("creation_time DESC").Limit(params.Limit).Offset(params.Offset)
	if params.Status != "" {
		query = query.Where("status = ?", strings.ToUpper(params.Status))
	}
	if params.Name != "" {
		query = query.Where("name LIKE ?", "%"+params.Name+"%")
	}

	var conversions []database.Conversion
	if err := query.Find(&conversions).Error; err != nil {
		slog.Error("error listing conversions", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error listing conversions")
	}

	return convertConversions(conversions), nil
}

func (s *BackendService) getConversion(r *http.Request) (database.Conversion, error) {
	conversionId, err := URLParamUUID(r, "conversion_id")
	if err != nil {
		return database.Conversion{}, err
	}

	conversion, err := database.GetConversion(r.Context(), s.db, conversionId)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return database.Conversion{}, CodedErrorf(http.StatusNotFound, "conversion %s not found", conversionId)
		}
		slog.Error("error getting conversion", "conversion_id", conversionId, "error", err)
		return database.Conversion{}, CodedErrorf(http.StatusInternalServerError, "error getting conversion")
	}

	return conversion, nil
}

func (s *BackendService) GetConversion(r *http.Request) (any, error) {
	conversion, err := s.getConversion(r)
	if err != nil {
		return nil, err
	}
	return convertConversion(conversion)
}

// DownloadFile streams one artifact of a conversion, e.g.
// /conversions/{id}/files/train.json or /conversions/{id}/files/conll_files/val.conll.
func (s *BackendService) DownloadFile(w http.ResponseWriter, r *http.Request) {
	conversion, err := s.getConversion(r)
	if err != nil {
		writeError(w, err)
		return
	}

	name := chi.URLParam(r, "*")
	cleaned := path.Clean("/" + name)[1:]
	if name == "" || cleaned != name || strings.HasPrefix(path.Base(name), ".") {
		writeError(w, CodedErrorf(http.StatusBadRequest, "invalid file name '%s'", name))
		return
	}

	stream, err := s.storage.GetObjectStream(r.Context(), s.dataBucket, path.Join(conversion.OutputDir, name))
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			writeError(w, CodedErrorf(http.StatusNotFound, "file '%s' not found in conversion %s", name, conversion.Id))
			return
		}
		writeError(w, fmt.Errorf("error opening file %s: %w", name, err))
		return
	}
	defer stream.Close()

	contentType := mime.TypeByExtension(path.Ext(name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": path.Base(name)}))
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, stream); err != nil {
		slog.Error("error streaming file", "conversion_id", conversion.Id, "file", name, "error", err)
	}
}

func decodeJSON[T any](data datatypes.JSON, out *T) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}
