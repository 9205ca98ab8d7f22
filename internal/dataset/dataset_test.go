package dataset

import (
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Fradkool/skilllab-sub000/internal/resume"
)

func strPtr(s string) *string { return &s }

func writeTestPNG(t *testing.T, path string) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for x := 0; x < 4; x++ {
		for y := 0; y < 4; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 10), G: uint8(y * 10), B: 100, A: 255})
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
}

func sampleRecord() resume.Record {
	return resume.Record{
		Name:            strPtr("Alice Smith"),
		Email:           strPtr("alice@example.com"),
		Phone:           strPtr("555-123-4567"),
		CurrentPosition: strPtr("Engineer"),
		Skills:          []string{"Go", "Rust"},
		Experience:      []resume.Experience{{Company: "Acme", Title: "Engineer", Years: "2020-2022"}},
	}
}

func TestBuildSplitsShuffledSamplesAndWritesIndexes(t *testing.T) {
	imgDir := t.TempDir()
	outDir := t.TempDir()

	var samples []Sample
	for i := 0; i < 10; i++ {
		imgPath := filepath.Join(imgDir, string(rune('a'+i))+".png")
		writeTestPNG(t, imgPath)
		samples = append(samples, Sample{
			ID:         string(rune('a' + i)),
			Record:     sampleRecord(),
			ImagePaths: []string{imgPath},
			IsValid:    true,
		})
	}

	b := New(outDir, 0.8, "resume", rand.New(rand.NewSource(1)))
	stats, err := b.Build(samples)
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalFiles != 10 || stats.ValidSamples != 10 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.TrainSamples != 8 || stats.ValSamples != 2 {
		t.Fatalf("unexpected split: %+v", stats)
	}
	if stats.SinglePageSamples != 10 || stats.MultiPageSamples != 0 {
		t.Fatalf("unexpected page stats: %+v", stats)
	}

	trainIndex, err := os.ReadFile(filepath.Join(outDir, "train_index.txt"))
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(trainIndex)), "\n")
	if len(lines) != 8 {
		t.Fatalf("expected 8 train index lines, got %d: %v", len(lines), lines)
	}

	valIndex, err := os.ReadFile(filepath.Join(outDir, "validation_index.txt"))
	if err != nil {
		t.Fatal(err)
	}
	valLines := strings.Split(strings.TrimSpace(string(valIndex)), "\n")
	if len(valLines) != 2 {
		t.Fatalf("expected 2 validation index lines, got %d", len(valLines))
	}
}

func TestBuildSkipsSamplesWithoutImages(t *testing.T) {
	outDir := t.TempDir()
	samples := []Sample{
		{ID: "noimg", Record: sampleRecord(), ImagePaths: nil},
	}
	b := New(outDir, 0.8, "resume", rand.New(rand.NewSource(1)))
	stats, err := b.Build(samples)
	if err != nil {
		t.Fatal(err)
	}
	if stats.ValidSamples != 0 {
		t.Fatalf("expected 0 valid samples, got %d", stats.ValidSamples)
	}
}

func TestBuildSkipsSamplesNotMarkedValid(t *testing.T) {
	imgDir := t.TempDir()
	outDir := t.TempDir()

	validPath := filepath.Join(imgDir, "valid.png")
	invalidPath := filepath.Join(imgDir, "invalid.png")
	writeTestPNG(t, validPath)
	writeTestPNG(t, invalidPath)

	samples := []Sample{
		{ID: "valid", Record: sampleRecord(), ImagePaths: []string{validPath}, IsValid: true},
		{ID: "invalid", Record: sampleRecord(), ImagePaths: []string{invalidPath}, IsValid: false},
	}

	b := New(outDir, 1.0, "resume", rand.New(rand.NewSource(1)))
	stats, err := b.Build(samples)
	if err != nil {
		t.Fatal(err)
	}
	if stats.ValidSamples != 1 {
		t.Fatalf("expected 1 valid sample after is_valid gate, got %d", stats.ValidSamples)
	}
	if _, err := os.Stat(filepath.Join(outDir, "train", "invalid.jpg")); err == nil {
		t.Error("expected invalid sample not written to train dir")
	}
	if _, err := os.Stat(filepath.Join(outDir, "train", "valid.jpg")); err != nil {
		t.Errorf("expected valid sample written to train dir: %v", err)
	}
}

func TestBuildMultiPageSampleNamesImagesWithSuffix(t *testing.T) {
	imgDir := t.TempDir()
	outDir := t.TempDir()

	p1 := filepath.Join(imgDir, "page1.png")
	p2 := filepath.Join(imgDir, "page2.png")
	writeTestPNG(t, p1)
	writeTestPNG(t, p2)

	samples := []Sample{
		{ID: "multi", Record: sampleRecord(), ImagePaths: []string{p1, p2}, IsValid: true},
	}
	b := New(outDir, 1.0, "resume", rand.New(rand.NewSource(2)))
	stats, err := b.Build(samples)
	if err != nil {
		t.Fatal(err)
	}
	if stats.MultiPageSamples != 1 {
		t.Fatalf("expected 1 multi-page sample, got %d", stats.MultiPageSamples)
	}

	if _, err := os.Stat(filepath.Join(outDir, "train", "multi_0.jpg")); err != nil {
		t.Errorf("expected multi_0.jpg: %v", err)
	}
	if _, err := os.Stat(filepath.Join(outDir, "train", "multi_1.jpg")); err != nil {
		t.Errorf("expected multi_1.jpg: %v", err)
	}

	meta, err := os.ReadFile(filepath.Join(outDir, "train", "multi.json"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(meta), "<s_answer>") {
		t.Errorf("expected gt_parse wrapped in response template, got %s", meta)
	}
	if !strings.Contains(string(meta), "<s_docvqa><s_resume>") {
		t.Errorf("expected task prompt, got %s", meta)
	}
}

func TestRecycleToTrainingAppendsWithoutDuplicating(t *testing.T) {
	imgDir := t.TempDir()
	outDir := t.TempDir()
	imgPath := filepath.Join(imgDir, "recycled.png")
	writeTestPNG(t, imgPath)

	b := New(outDir, 0.8, "resume", rand.New(rand.NewSource(3)))
	sample := Sample{ID: "recycled", Record: sampleRecord(), ImagePaths: []string{imgPath}}

	if err := b.RecycleToTraining(sample); err != nil {
		t.Fatal(err)
	}
	if err := b.RecycleToTraining(sample); err != nil {
		t.Fatal(err)
	}

	entries, err := os.ReadDir(b.trainDir())
	if err != nil {
		t.Fatal(err)
	}
	jsonCount := 0
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".json") {
			jsonCount++
		}
	}
	if jsonCount != 1 {
		t.Fatalf("expected exactly 1 metadata file after recycling twice, got %d", jsonCount)
	}

	index, err := os.ReadFile(filepath.Join(outDir, "train_index.txt"))
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(index)), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 index line, got %d: %v", len(lines), lines)
	}
}
