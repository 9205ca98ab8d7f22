// Package steps provides the four pipeline.Step adapters (C8): Extract
// (OCR), Structure (JSON generation via the Structure collaborator plus
// the auto-correction loop), Validate (quality policy), and Dataset
// (delegates to internal/dataset). Grounded on
// original_source/pipeline/steps/ocr_step.py and json_generation_step.py
// for per-step responsibilities and metrics call sites.
package steps

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/Fradkool/skilllab-sub000/internal/correction"
	"github.com/Fradkool/skilllab-sub000/internal/dataset"
	"github.com/Fradkool/skilllab-sub000/internal/docstore"
	"github.com/Fradkool/skilllab-sub000/internal/ocrclient"
	"github.com/Fradkool/skilllab-sub000/internal/pipeline"
	"github.com/Fradkool/skilllab-sub000/internal/quality"
	"github.com/Fradkool/skilllab-sub000/internal/resume"
	"github.com/Fradkool/skilllab-sub000/internal/structureclient"
)

// ExtractResult is what the Extract step stores under its own name in the
// pipeline Context, mirroring ocr_step.py's {"results", "count", "time"}.
type ExtractResult struct {
	Documents map[string]ocrclient.Result
}

// ExtractStep runs OCR over every PDF in InputDir, registering each
// document and recording its confidence and status.
type ExtractStep struct {
	InputDir string
	Client   *ocrclient.Client
	Store    docstore.Store
	Logger   *slog.Logger
	Options  ocrclient.Options

	// OCRResultsDir, if set, receives one "<docID>_ocr.json" file per
	// document so that a later, separate `run structure`/`run train`
	// invocation (a fresh process, with no in-memory pipeline.Context from
	// this run) can reconstruct this step's output from disk.
	OCRResultsDir string

	// Limit caps the number of PDFs processed this run (spec.md §6
	// pipeline.limit); 0 means no limit.
	Limit int

	// Concurrency bounds the worker pool processing documents within this
	// step (spec.md §5: "within a step, documents MAY be processed by a
	// bounded worker pool"). 0 or 1 means serial.
	Concurrency int
}

func (s *ExtractStep) Name() string { return "ocr" }

// Execute processes every *.pdf in InputDir through a bounded worker pool,
// continuing past per-file failures (ocr_step.py logs and moves on rather
// than aborting the run). Each worker calls the OCR collaborator as a
// blocking call, per spec.md §5's suspension-point model.
func (s *ExtractStep) Execute(ctx context.Context, pctx *pipeline.Context) error {
	matches, err := filepath.Glob(filepath.Join(s.InputDir, "*.pdf"))
	if err != nil {
		return fmt.Errorf("ocr: glob %s: %w", s.InputDir, err)
	}
	if s.Limit > 0 && len(matches) > s.Limit {
		matches = matches[:s.Limit]
	}

	result := ExtractResult{Documents: map[string]ocrclient.Result{}}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, s.Concurrency))

	for _, pdfPath := range matches {
		pdfPath := pdfPath
		g.Go(func() error {
			s.processOne(gctx, pdfPath, &result, &mu, pctx)
			return nil
		})
	}
	g.Wait()

	pctx.SetResult(s.Name(), result)
	return nil
}

func (s *ExtractStep) processOne(ctx context.Context, pdfPath string, result *ExtractResult, mu *sync.Mutex, pctx *pipeline.Context) {
	docID := docIDFromPath(pdfPath)
	filename := filepath.Base(pdfPath)

	if err := s.Store.Register(docID, filename); err != nil {
		s.Logger.Error("ocr: register failed", "doc_id", docID, "error", err)
		return
	}

	ocrResult, err := s.Client.ProcessPDF(ctx, pdfPath, s.Options)
	if err != nil {
		s.Logger.Error("ocr: process failed", "doc_id", docID, "error", err)
		return
	}

	confidence := ocrResult.AverageConfidence()
	if err := s.Store.SetConfidence(docID, &confidence, nil); err != nil {
		s.Logger.Error("ocr: set confidence failed", "doc_id", docID, "error", err)
	}
	if confidence < 75 {
		if err := s.Store.Flag(docID, docstore.IssueLowOCRConfidence, fmt.Sprintf("OCR confidence score (%.1f%%) below threshold", confidence)); err != nil {
			s.Logger.Error("ocr: flag failed", "doc_id", docID, "error", err)
		}
	}
	if err := s.Store.SetStatus(docID, docstore.StatusOCRComplete); err != nil {
		s.Logger.Error("ocr: set status failed", "doc_id", docID, "error", err)
	}
	if s.OCRResultsDir != "" {
		if err := writeOCRResultJSON(s.OCRResultsDir, docID, ocrResult); err != nil {
			s.Logger.Error("ocr: write result json failed", "doc_id", docID, "error", err)
		}
	}

	mu.Lock()
	result.Documents[docID] = ocrResult
	pctx.DocumentsProcessed++
	mu.Unlock()
}

func docIDFromPath(path string) string {
	base := filepath.Base(path)
	return base[:len(base)-len(filepath.Ext(base))]
}

// ocrResultFile is the on-disk shape of "<docID>_ocr.json", matching the
// fields internal/review reads back (readOCRText/readOCRImagePaths) and the
// page_results internal/reconcile averages for OCR confidence.
type ocrResultFile struct {
	CombinedText string                 `json:"combined_text"`
	ImagePaths   []string               `json:"image_paths"`
	PageResults  []ocrclient.PageResult `json:"page_results,omitempty"`
}

func ocrResultPath(dir, docID string) string {
	return filepath.Join(dir, docID+"_ocr.json")
}

func writeOCRResultJSON(dir, docID string, result ocrclient.Result) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("steps: create %s: %w", dir, err)
	}
	body, err := json.MarshalIndent(ocrResultFile{CombinedText: result.CombinedText, ImagePaths: result.ImagePaths, PageResults: result.PageResults}, "", "  ")
	if err != nil {
		return fmt.Errorf("steps: marshal ocr result %s: %w", docID, err)
	}
	if err := os.WriteFile(ocrResultPath(dir, docID), body, 0o644); err != nil {
		return fmt.Errorf("steps: write ocr result %s: %w", docID, err)
	}
	return nil
}

// readOCRResults loads every "*_ocr.json" file in dir, used by StructureStep
// when invoked in a fresh process with no in-memory "ocr" pipeline.Context
// result to build on.
func readOCRResults(dir string) (ExtractResult, error) {
	result := ExtractResult{Documents: map[string]ocrclient.Result{}}
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return result, nil
	}
	if err != nil {
		return result, fmt.Errorf("steps: read %s: %w", dir, err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), "_ocr.json") {
			continue
		}
		docID := strings.TrimSuffix(e.Name(), "_ocr.json")
		body, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		var f ocrResultFile
		if err := json.Unmarshal(body, &f); err != nil {
			continue
		}
		result.Documents[docID] = ocrclient.Result{CombinedText: f.CombinedText, ImagePaths: f.ImagePaths}
	}
	return result, nil
}

// Validation captures the auto-correction loop's verdict for one document,
// matching the GLOSSARY's "Validated record" sidecar shape
// (validation.{is_valid,coverage,correction_attempts,structure_valid}).
type Validation struct {
	IsValid            bool
	Coverage           float64
	CorrectionAttempts int
	StructureValid     bool
}

func (v Validation) asMap() map[string]any {
	return map[string]any{
		"is_valid":            v.IsValid,
		"coverage":            v.Coverage,
		"correction_attempts": v.CorrectionAttempts,
		"structure_valid":     v.StructureValid,
	}
}

// StructureResult is the Structure step's stored output.
type StructureResult struct {
	Records    map[string]resume.Record
	Validation map[string]Validation
}

// StructureStep turns each Extract result into a resume.Record via the
// Structure collaborator, then runs the auto-correction loop (C6) until
// coverage clears the threshold or attempts are exhausted.
type StructureStep struct {
	Client     *structureclient.Client
	Store      docstore.Store
	Logger     *slog.Logger
	GenOptions structureclient.GenerateOptions
	Correction correction.Options

	// OCRResultsDir is consulted when this step runs in a process that
	// never ran Extract itself (`run structure` invoked standalone).
	OCRResultsDir string

	// ValidatedDir, if set, receives one "<docID>_validated.json" file per
	// document for internal/review and internal/dataset to read back.
	ValidatedDir string
}

func (s *StructureStep) Name() string { return "json" }

func (s *StructureStep) Execute(ctx context.Context, pctx *pipeline.Context) error {
	extract, err := s.extractResult(pctx)
	if err != nil {
		return err
	}

	result := StructureResult{Records: map[string]resume.Record{}, Validation: map[string]Validation{}}
	regen := structureRegenerator{client: s.Client, opts: s.GenOptions}

	for docID, ocrResult := range extract.Documents {
		text := ocrResult.CombinedText

		raw, err := s.Client.Generate(ctx, buildExtractionPrompt(text), s.GenOptions)
		if err != nil {
			s.Logger.Error("json: generate failed", "doc_id", docID, "error", err)
			continue
		}
		record, valid := parseRecord(raw)

		corrected, err := correction.Run(ctx, regen, record, text, s.Correction)
		if err != nil {
			s.Logger.Error("json: correction loop failed", "doc_id", docID, "error", err)
		}
		record = corrected.Record

		for i := 0; i < corrected.Attempts; i++ {
			if _, err := s.Store.BumpCorrectionCount(docID); err != nil {
				s.Logger.Error("json: bump correction count failed", "doc_id", docID, "error", err)
			}
		}

		coverage := corrected.Coverage * 100
		if err := s.Store.SetConfidence(docID, nil, &coverage); err != nil {
			s.Logger.Error("json: set confidence failed", "doc_id", docID, "error", err)
		}
		if coverage < 75 {
			if err := s.Store.Flag(docID, docstore.IssueLowJSONConfidence, fmt.Sprintf("Confidence below threshold: %.0f%%", coverage)); err != nil {
				s.Logger.Error("json: flag failed", "doc_id", docID, "error", err)
			}
		}
		structureValid := valid && record.StructureValid()
		if !structureValid {
			if err := s.Store.Flag(docID, docstore.IssueSchemaValidation, "Structured record failed schema validation"); err != nil {
				s.Logger.Error("json: flag schema failed", "doc_id", docID, "error", err)
			}
		}
		if err := s.Store.SetStatus(docID, docstore.StatusJSONComplete); err != nil {
			s.Logger.Error("json: set status failed", "doc_id", docID, "error", err)
		}

		validation := Validation{
			IsValid:            corrected.Valid,
			Coverage:           corrected.Coverage,
			CorrectionAttempts: corrected.Attempts,
			StructureValid:     structureValid,
		}
		if s.ValidatedDir != "" {
			if err := WriteRecordJSON(s.ValidatedDir, docID, record, ocrResult.ImagePaths, validation.asMap()); err != nil {
				s.Logger.Error("json: write validated json failed", "doc_id", docID, "error", err)
			}
		}

		result.Records[docID] = record
		result.Validation[docID] = validation
	}

	pctx.SetResult(s.Name(), result)
	return nil
}

// extractResult returns the Extract step's output from pctx if this process
// ran it, otherwise reconstructs it from OCRResultsDir.
func (s *StructureStep) extractResult(pctx *pipeline.Context) (ExtractResult, error) {
	if prev, ok := pctx.Result("ocr"); ok {
		extract, ok := prev.(ExtractResult)
		if !ok {
			return ExtractResult{}, fmt.Errorf("json: unexpected ocr result type")
		}
		return extract, nil
	}
	if s.OCRResultsDir == "" {
		return ExtractResult{}, fmt.Errorf("json: no ocr result found in context and no OCRResultsDir configured")
	}
	return readOCRResults(s.OCRResultsDir)
}

func buildExtractionPrompt(text string) string {
	return "Extract the following fields from this resume text as JSON " +
		"(Name, Email, Phone, Current_Position, Skills, Experience):\n\n" + text
}

func parseRecord(raw string) (resume.Record, bool) {
	var decoded map[string]any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return resume.Template(), false
	}
	return resume.FromRaw(decoded)
}

type structureRegenerator struct {
	client *structureclient.Client
	opts   structureclient.GenerateOptions
}

func (r structureRegenerator) Regenerate(ctx context.Context, prompt string) (resume.Record, error) {
	raw, err := r.client.Generate(ctx, prompt, r.opts)
	if err != nil {
		return resume.Template(), err
	}
	record, _ := parseRecord(raw)
	return record, nil
}

// ValidateStep runs the quality policy (C5) over each structured record
// and flags documents that fail it, then advances status to validated.
type ValidateStep struct {
	Store      docstore.Store
	Thresholds quality.Thresholds
	Logger     *slog.Logger
}

func (s *ValidateStep) Name() string { return "validate" }

func (s *ValidateStep) Execute(ctx context.Context, pctx *pipeline.Context) error {
	prev, ok := pctx.Result("json")
	if !ok {
		return fmt.Errorf("validate: no json result found in context")
	}
	structure, ok := prev.(StructureResult)
	if !ok {
		return fmt.Errorf("validate: unexpected json result type")
	}

	for docID, record := range structure.Records {
		doc, err := s.Store.Get(docID)
		if err != nil {
			s.Logger.Error("validate: get document failed", "doc_id", docID, "error", err)
			continue
		}

		in := quality.Input{
			Document:          *doc,
			HasStructureCheck: true,
			StructureValid:    record.StructureValid(),
		}
		outcome := quality.Evaluate(in, s.Thresholds)
		for _, issue := range outcome.Issues {
			if err := s.Store.Flag(docID, issue.Type, issue.Details); err != nil {
				s.Logger.Error("validate: flag failed", "doc_id", docID, "error", err)
			}
		}
		if err := s.Store.SetStatus(docID, docstore.StatusValidated); err != nil {
			s.Logger.Error("validate: set status failed", "doc_id", docID, "error", err)
		}
	}

	return nil
}

// validatedRecordFile mirrors internal/review's validatedRecord: the
// on-disk shape of "<docID>_validated.json" that review/recycle and the
// Dataset step's filesystem fallback read back.
type validatedRecordFile struct {
	ResumeID   string         `json:"resume_id,omitempty"`
	JSONData   resume.Record  `json:"json_data"`
	ImagePaths []string       `json:"image_paths,omitempty"`
	Validation map[string]any `json:"validation,omitempty"`
}

// isValid reports the sidecar's validation.is_valid flag, matching
// spec.md §4.8 step 1's "skip unless validation.is_valid=true" (absent or
// unparseable counts as not valid, not as a free pass).
func (f validatedRecordFile) isValid() bool {
	v, ok := f.Validation["is_valid"].(bool)
	return ok && v
}

// WriteRecordJSON persists a validated resume.Record, its source image
// paths, and its validation sidecar to outDir as "<docID>_validated.json",
// the shape internal/review and internal/dataset's filesystem fallback
// expect to read back.
func WriteRecordJSON(outDir, docID string, record resume.Record, imagePaths []string, validation map[string]any) error {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("steps: create %s: %w", outDir, err)
	}
	b, err := json.MarshalIndent(validatedRecordFile{ResumeID: docID, JSONData: record, ImagePaths: imagePaths, Validation: validation}, "", "  ")
	if err != nil {
		return fmt.Errorf("steps: marshal record %s: %w", docID, err)
	}
	path := filepath.Join(outDir, docID+"_validated.json")
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("steps: write %s: %w", path, err)
	}
	return nil
}

// readValidatedRecords loads every "*_validated.json" file in dir, used by
// DatasetStep's filesystem fallback (`run train` invoked standalone, with
// no in-memory "json" pipeline.Context result from this process).
func readValidatedRecords(dir string) (map[string]validatedRecordFile, error) {
	records := map[string]validatedRecordFile{}
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return records, nil
	}
	if err != nil {
		return records, fmt.Errorf("steps: read %s: %w", dir, err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), "_validated.json") {
			continue
		}
		docID := strings.TrimSuffix(e.Name(), "_validated.json")
		body, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		var f validatedRecordFile
		if err := json.Unmarshal(body, &f); err != nil {
			continue
		}
		records[docID] = f
	}
	return records, nil
}

// DatasetStep builds the Donut-style training dataset (C9) from the
// records the Structure step produced and the images the Extract step
// recorded, matching dataset_builder.py's build_dataset being the final
// stage of the pipeline proper.
type DatasetStep struct {
	Builder *dataset.Builder
	Store   docstore.Store
	Logger  *slog.Logger

	// ValidatedDir is consulted when this step runs in a process that
	// never ran Structure itself (`run train` invoked standalone): each
	// record's image paths come from the validated-json file itself, not
	// a separate Extract lookup.
	ValidatedDir string
}

func (s *DatasetStep) Name() string { return "dataset" }

func (s *DatasetStep) Execute(ctx context.Context, pctx *pipeline.Context) error {
	samples, docIDs, err := s.gatherSamples(pctx)
	if err != nil {
		return err
	}

	stats, err := s.Builder.Build(samples)
	if err != nil {
		return fmt.Errorf("dataset: build: %w", err)
	}
	pctx.SetResult(s.Name(), stats)

	for _, docID := range docIDs {
		if err := s.Store.SetStatus(docID, docstore.StatusValidated); err != nil {
			s.Logger.Error("dataset: set status failed", "doc_id", docID, "error", err)
		}
	}
	return nil
}

// gatherSamples builds the dataset input set from this run's in-memory
// pipeline.Context results if Extract/Structure ran in this process, or
// from ValidatedDir's "*_validated.json" files otherwise.
func (s *DatasetStep) gatherSamples(pctx *pipeline.Context) ([]dataset.Sample, []string, error) {
	prevJSON, ok := pctx.Result("json")
	if !ok {
		if s.ValidatedDir == "" {
			return nil, nil, fmt.Errorf("dataset: no json result found in context and no ValidatedDir configured")
		}
		records, err := readValidatedRecords(s.ValidatedDir)
		if err != nil {
			return nil, nil, err
		}
		var samples []dataset.Sample
		var docIDs []string
		for docID, f := range records {
			samples = append(samples, dataset.Sample{ID: docID, Record: f.JSONData, ImagePaths: f.ImagePaths, IsValid: f.isValid()})
			docIDs = append(docIDs, docID)
		}
		return samples, docIDs, nil
	}

	structure, ok := prevJSON.(StructureResult)
	if !ok {
		return nil, nil, fmt.Errorf("dataset: unexpected json result type")
	}

	var imagePathsByDoc map[string][]string
	if prevOCR, ok := pctx.Result("ocr"); ok {
		if extract, ok := prevOCR.(ExtractResult); ok {
			imagePathsByDoc = make(map[string][]string, len(extract.Documents))
			for docID, r := range extract.Documents {
				imagePathsByDoc[docID] = r.ImagePaths
			}
		}
	}

	var samples []dataset.Sample
	var docIDs []string
	for docID, record := range structure.Records {
		samples = append(samples, dataset.Sample{
			ID:         docID,
			Record:     record,
			ImagePaths: imagePathsByDoc[docID],
			IsValid:    structure.Validation[docID].IsValid,
		})
		docIDs = append(docIDs, docID)
	}
	return samples, docIDs, nil
}
