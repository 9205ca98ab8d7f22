// Package dataset implements the Dataset Builder (C9): it turns validated
// resume records and their source page images into a Donut-style
// training dataset — shuffled, split into train/validation, images
// normalized to JPEG, with one metadata file and index per split.
// Grounded line-for-line on
// original_source/training/dataset_builder.py::DonutDatasetBuilder.
package dataset

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Fradkool/skilllab-sub000/internal/resume"
)

// Sample is one validated document ready to enter the dataset: its ID, its
// ground-truth record, and the page image paths produced by OCR.
type Sample struct {
	ID         string
	Record     resume.Record
	ImagePaths []string

	// IsValid mirrors validated_json's "validation.is_valid" (spec.md
	// §4.7): Build skips any sample where this is false (spec.md §4.8 step
	// 1, "skip unless validation.is_valid=true"). RecycleToTraining does
	// not consult it — a reviewer approving a document is itself the
	// validity signal, bypassing the automatic gate.
	IsValid bool
}

const (
	taskPromptTemplate     = "<s_docvqa><s_%s>"
	responseTemplateFormat = "<s_answer>%s</s_answer>"
	jpegQuality            = 95
)

// Metadata is one Donut training example's sidecar file.
type Metadata struct {
	GTParse    string `json:"gt_parse"`
	ImagePath  string `json:"image_path"`
	TaskPrompt string `json:"task_prompt"`
}

// Stats summarizes one build_dataset() run.
type Stats struct {
	TotalFiles        int
	ValidSamples      int
	TrainSamples      int
	ValSamples        int
	MultiPageSamples  int
	SinglePageSamples int
}

// Builder builds a Donut-style dataset directory from validated samples.
type Builder struct {
	OutputDir     string
	TrainValSplit float64
	TaskName      string

	// Rand is the shuffle source. Tests supply a seeded *rand.Rand for
	// determinism; production callers should do the same (spec.md §4.8
	// calls for a seeded shuffle, not crypto randomness).
	Rand *rand.Rand
}

// New builds a Builder writing to outputDir/{train,validation}.
func New(outputDir string, trainValSplit float64, taskName string, r *rand.Rand) *Builder {
	return &Builder{OutputDir: outputDir, TrainValSplit: trainValSplit, TaskName: taskName, Rand: r}
}

func (b *Builder) trainDir() string { return filepath.Join(b.OutputDir, "train") }
func (b *Builder) valDir() string   { return filepath.Join(b.OutputDir, "validation") }

// Build runs the full flatten->shuffle->split->convert->index pipeline
// over samples, matching DonutDatasetBuilder.build_dataset.
func (b *Builder) Build(samples []Sample) (Stats, error) {
	stats := Stats{TotalFiles: len(samples)}

	if err := os.MkdirAll(b.trainDir(), 0o755); err != nil {
		return stats, fmt.Errorf("dataset: create train dir: %w", err)
	}
	if err := os.MkdirAll(b.valDir(), 0o755); err != nil {
		return stats, fmt.Errorf("dataset: create validation dir: %w", err)
	}

	valid := make([]Sample, 0, len(samples))
	for _, s := range samples {
		if len(s.ImagePaths) == 0 {
			continue
		}
		if !s.IsValid {
			continue
		}
		valid = append(valid, s)
	}
	stats.ValidSamples = len(valid)

	shuffled := make([]Sample, len(valid))
	copy(shuffled, valid)
	b.Rand.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

	splitIdx := int(float64(len(shuffled)) * b.TrainValSplit)
	trainSamples := shuffled[:splitIdx]
	valSamples := shuffled[splitIdx:]
	stats.TrainSamples = len(trainSamples)
	stats.ValSamples = len(valSamples)

	if err := b.processSamples(trainSamples, b.trainDir(), &stats); err != nil {
		return stats, err
	}
	if err := b.processSamples(valSamples, b.valDir(), &stats); err != nil {
		return stats, err
	}

	if err := b.createIndex(b.trainDir(), "train"); err != nil {
		return stats, err
	}
	if err := b.createIndex(b.valDir(), "validation"); err != nil {
		return stats, err
	}

	return stats, nil
}

func (b *Builder) processSamples(samples []Sample, outDir string, stats *Stats) error {
	for _, s := range samples {
		if len(s.ImagePaths) > 1 {
			stats.MultiPageSamples++
		} else {
			stats.SinglePageSamples++
		}

		newPaths, err := convertImages(s.ID, s.ImagePaths, outDir)
		if err != nil {
			return err
		}
		if len(newPaths) == 0 {
			continue
		}

		formatted := resume.FlattenForDataset(s.Record)
		if err := b.saveMetadata(s.ID, newPaths[0], formatted, outDir); err != nil {
			return err
		}
	}
	return nil
}

// convertImages decodes each source image and re-encodes it as RGB JPEG at
// quality 95 in outDir, matching _copy_and_prepare_images.
func convertImages(sampleID string, imagePaths []string, outDir string) ([]string, error) {
	var newPaths []string
	for i, imgPath := range imagePaths {
		if _, err := os.Stat(imgPath); err != nil {
			continue
		}

		filename := fmt.Sprintf("%s.jpg", sampleID)
		if len(imagePaths) > 1 {
			filename = fmt.Sprintf("%s_%d.jpg", sampleID, i)
		}
		newPath := filepath.Join(outDir, filename)

		if err := convertToJPEG(imgPath, newPath); err != nil {
			return nil, fmt.Errorf("dataset: convert %s: %w", imgPath, err)
		}
		newPaths = append(newPaths, newPath)
	}
	return newPaths, nil
}

func convertToJPEG(srcPath, dstPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer src.Close()

	img, _, err := image.Decode(src)
	if err != nil {
		return err
	}

	dst, err := os.Create(dstPath)
	if err != nil {
		return err
	}
	defer dst.Close()

	return jpeg.Encode(dst, img, &jpeg.Options{Quality: jpegQuality})
}

func (b *Builder) saveMetadata(sampleID, imagePath, formattedJSON, outDir string) error {
	metadataPath := filepath.Join(outDir, sampleID+".json")
	answer := fmt.Sprintf(responseTemplateFormat, formattedJSON)

	meta := Metadata{
		GTParse:    answer,
		ImagePath:  filepath.Base(imagePath),
		TaskPrompt: fmt.Sprintf(taskPromptTemplate, b.TaskName),
	}
	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(meta); err != nil {
		return fmt.Errorf("dataset: marshal metadata %s: %w", sampleID, err)
	}
	if err := os.WriteFile(metadataPath, body.Bytes(), 0o644); err != nil {
		return fmt.Errorf("dataset: write metadata %s: %w", metadataPath, err)
	}
	return nil
}

// createIndex writes "<split>_index.txt" listing every metadata file's
// basename, sorted for determinism (the original iterates glob() order,
// which is filesystem-dependent; sorting is a strict improvement for
// idempotent rebuilds).
func (b *Builder) createIndex(dirPath, split string) error {
	entries, err := os.ReadDir(dirPath)
	if err != nil {
		return fmt.Errorf("dataset: read %s: %w", dirPath, err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	indexPath := filepath.Join(b.OutputDir, split+"_index.txt")
	var b2 strings.Builder
	for _, n := range names {
		b2.WriteString(n)
		b2.WriteString("\n")
	}
	if err := os.WriteFile(indexPath, []byte(b2.String()), 0o644); err != nil {
		return fmt.Errorf("dataset: write index %s: %w", indexPath, err)
	}
	return nil
}

// RecycleToTraining appends an approved review sample directly into the
// training split without reshuffling the rest of the dataset, matching
// spec.md §4.9's "recycle to training" operation. It is idempotent:
// recycling the same sample ID twice overwrites rather than duplicates.
func (b *Builder) RecycleToTraining(s Sample) error {
	if err := os.MkdirAll(b.trainDir(), 0o755); err != nil {
		return fmt.Errorf("dataset: create train dir: %w", err)
	}
	newPaths, err := convertImages(s.ID, s.ImagePaths, b.trainDir())
	if err != nil {
		return err
	}
	if len(newPaths) == 0 {
		return fmt.Errorf("dataset: no images available to recycle for %s", s.ID)
	}
	formatted := resume.FlattenForDataset(s.Record)
	if err := b.saveMetadata(s.ID, newPaths[0], formatted, b.trainDir()); err != nil {
		return err
	}
	return b.createIndex(b.trainDir(), "train")
}
