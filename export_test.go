package lblfetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

// memStore is an in-memory AssetStore.
type memStore struct {
	assets  []Asset
	content map[string][]byte
	fetched []string
}

func (s *memStore) ListAssets(ctx context.Context, projectID string, pageSize int,
		fn func(page []Asset) error) error {

	for i := 0; i < len(s.assets); i += pageSize {
		end := i + pageSize
		if end > len(s.assets) {
			end = len(s.assets)
		}
		if err := fn(s.assets[i:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *memStore) FetchContent(ctx context.Context, asset Asset) ([]byte, error) {
	s.fetched = append(s.fetched, asset.ID)
	c, ok := s.content[asset.ID]
	if !ok {
		return nil, fmt.Errorf("no content for %s", asset.ID)
	}
	return c, nil
}

func newTestDataset(t *testing.T) *Dataset {
	t.Helper()
	return &Dataset{
		Path:  filepath.Join(t.TempDir(), "kili", "proj"),
		Train: "images/train",
		Names: Vocabulary{"person", "car"},
	}
}

func testStore() *memStore {
	return &memStore{
		assets: []Asset{
			{ID: "a1", Labels: []Label{
				label(LabelTypeDefault, 1, rect("person", 0, 0, 0.5, 0.5)),
				label(LabelTypeReview, 2, rect("car", 0.1, 0.2, 0.5, 0.6), KiliAnnotation{
					Categories: []Category{{Name: "car"}},
				}),
			}},
			{ID: "a2", Labels: []Label{label("PREDICTION", 3, rect("car", 0, 0, 1, 1))}},
			{ID: "a3", Labels: []Label{label(LabelTypeDefault, 1)}},
		},
		content: map[string][]byte{
			"a1": []byte("jpeg-a1"),
			"a2": []byte("jpeg-a2"),
			"a3": []byte("jpeg-a3"),
		},
	}
}

func TestExporterRun(t *testing.T) {
	store := testStore()
	d := newTestDataset(t)
	e := &Exporter{Store: store, Dataset: d, PageSize: 2}

	summary, err := e.Run(context.Background(), "proj")
	if err != nil {
		t.Fatal(err)
	}
	if summary != (ExportSummary{Listed: 3, Retained: 2, Boxes: 1}) {
		t.Errorf("summary = %+v", summary)
	}

	img, err := os.ReadFile(filepath.Join(d.Path, "images", "train", "a1.jpg"))
	if err != nil || string(img) != "jpeg-a1" {
		t.Errorf("a1.jpg = %q, %v", img, err)
	}
	lbl, err := os.ReadFile(filepath.Join(d.Path, "labels", "train", "a1.txt"))
	if err != nil || string(lbl) != "1 0.3 0.4 0.4 0.4\n" {
		t.Errorf("a1.txt = %q, %v", lbl, err)
	}
	if lbl, err := os.ReadFile(filepath.Join(d.Path, "labels", "train", "a3.txt")); err != nil || len(lbl) != 0 {
		t.Errorf("a3.txt = %q, %v, want an empty file", lbl, err)
	}

	// Assets without a DEFAULT or REVIEW label produce no files and are never fetched.
	for _, p := range []string{"images/train/a2.jpg", "labels/train/a2.txt"} {
		if _, err := os.Stat(filepath.Join(d.Path, p)); !os.IsNotExist(err) {
			t.Errorf("%s exists", p)
		}
	}
	for _, id := range store.fetched {
		if id == "a2" {
			t.Error("fetched the content of a2")
		}
	}
}

func TestExporterRunIsIdempotent(t *testing.T) {
	d := newTestDataset(t)
	path := filepath.Join(d.Path, "labels", "train", "a1.txt")

	var runs [][]byte
	for i := 0; i < 2; i++ {
		e := &Exporter{Store: testStore(), Dataset: d}
		if _, err := e.Run(context.Background(), "proj"); err != nil {
			t.Fatal(err)
		}
		b, err := os.ReadFile(path)
		if err != nil {
			t.Fatal(err)
		}
		runs = append(runs, b)
	}
	if !bytes.Equal(runs[0], runs[1]) {
		t.Errorf("label files differ between runs: %q != %q", runs[0], runs[1])
	}
}

func TestExporterRunUnknownCategory(t *testing.T) {
	store := testStore()
	store.assets = append(store.assets, Asset{ID: "a4", Labels: []Label{
		label(LabelTypeDefault, 1, rect("bicycle", 0, 0, 1, 1)),
	}})
	d := newTestDataset(t)
	e := &Exporter{Store: store, Dataset: d}

	_, err := e.Run(context.Background(), "proj")
	if !errors.Is(err, ErrUnknownCategory) {
		t.Fatalf("Run() error = %v, want ErrUnknownCategory", err)
	}
	if _, err := os.Stat(filepath.Join(d.Path, "labels")); !os.IsNotExist(err) {
		t.Error("label directory was created")
	}
	if len(store.fetched) != 0 {
		t.Errorf("fetched %v before failing", store.fetched)
	}
}

func TestExporterRunFetchError(t *testing.T) {
	store := testStore()
	delete(store.content, "a3")
	e := &Exporter{Store: store, Dataset: newTestDataset(t)}

	if _, err := e.Run(context.Background(), "proj"); err == nil {
		t.Error("Run() succeeded without content for a3")
	}
}

func TestExporterRunResizesImages(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 40, 20))
	for x := 0; x < 40; x++ {
		for y := 0; y < 20; y++ {
			src.Set(x, y, color.RGBA{R: uint8(x * 6), G: uint8(y * 12), B: 100, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, src); err != nil {
		t.Fatal(err)
	}

	store := testStore()
	store.assets = store.assets[:1]
	store.content["a1"] = buf.Bytes()
	d := newTestDataset(t)
	e := &Exporter{Store: store, Dataset: d, Images: ImageOptions{LongerSide: 20, JPEGQuality: 80}}

	if _, err := e.Run(context.Background(), "proj"); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(filepath.Join(d.Path, "images", "train", "a1.jpg"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	cfg, err := jpeg.DecodeConfig(f)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Width != 20 || cfg.Height != 10 {
		t.Errorf("resized image is %dx%d, want 20x10", cfg.Width, cfg.Height)
	}
}

func TestProcessImageRejectsUnknownFilter(t *testing.T) {
	_, err := processImage([]byte("x"), ImageOptions{LongerSide: 10, DownsamplingFilter: "cubic"})
	if err == nil {
		t.Error("processImage() accepted an unknown filter")
	}
}

func TestExporterRunValSplit(t *testing.T) {
	store := &memStore{content: map[string][]byte{}}
	for i := 0; i < 20; i++ {
		id := fmt.Sprintf("img%02d", i)
		store.assets = append(store.assets, Asset{ID: id, Labels: []Label{
			label(LabelTypeDefault, 1, rect("car", 0, 0, 1, 1)),
		}})
		store.content[id] = []byte(id)
	}
	d := newTestDataset(t)
	d.Val = "images/val"

	var placements []map[string]string
	for run := 0; run < 2; run++ {
		e := &Exporter{Store: store, Dataset: d, ValPercent: 50}
		summary, err := e.Run(context.Background(), "proj")
		if err != nil {
			t.Fatal(err)
		}

		placement := map[string]string{}
		for _, split := range []string{"train", "val"} {
			labels, err := os.ReadDir(filepath.Join(d.Path, "labels", split))
			if err != nil {
				t.Fatal(err)
			}
			for _, f := range labels {
				id := f.Name()[:len(f.Name())-len(".txt")]
				if prev, ok := placement[id]; ok && prev != split {
					t.Errorf("%s written to %s and %s", id, prev, split)
				}
				placement[id] = split
				if _, err := os.Stat(filepath.Join(d.Path, "images", split, id+".jpg")); err != nil {
					t.Errorf("image of %s: %v", id, err)
				}
			}
			if split == "val" && len(labels) != summary.Val {
				t.Errorf("val has %d files, summary says %d", len(labels), summary.Val)
			}
		}
		if len(placement) != 20 {
			t.Errorf("placed %d assets, want 20", len(placement))
		}
		placements = append(placements, placement)
	}

	for id, split := range placements[0] {
		if placements[1][id] != split {
			t.Errorf("%s moved from %s to %s between runs", id, split, placements[1][id])
		}
	}
}

func TestExporterRunValSplitNeedsValPath(t *testing.T) {
	e := &Exporter{Store: testStore(), Dataset: newTestDataset(t), ValPercent: 20}
	if _, err := e.Run(context.Background(), "proj"); err == nil {
		t.Error("Run() succeeded without a val path")
	}
}
