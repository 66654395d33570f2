package lblfetch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
)

// TFRecordOptions enables a TFRecord export of the fetched dataset.
type TFRecordOptions struct {
	RecordPath   string // Output path; the export is disabled when empty.
	LabelMapPath string
	NumShards    int
}

// Exporter fetches a Kili project into a YOLO dataset.
type Exporter struct {
	Store    AssetStore
	Dataset  *Dataset
	PageSize int
	Mapper   *LabelMapper // Optional label mappings applied before the vocabulary lookup.
	Images   ImageOptions
	TFRecord TFRecordOptions

	// ValPercent of the retained assets go to the dataset's val directories instead of train.
	ValPercent int
}

// ExportSummary describes a finished export.
type ExportSummary struct {
	Listed   int // Assets listed in the project.
	Retained int // Assets with a qualifying label, i.e. written image and label files.
	Val      int // Retained assets written to the val directories.
	Boxes    int // Label lines written.
}

// exportPart is a subset of the dataset with its output directories.
type exportPart struct {
	files    AnnotatedFiles
	imageDir string
	labelDir string
}

// Run fetches the assets of projectID, selects their labels, converts them and writes one image
// and one label file per retained asset, into the train or val directories of the dataset.
//
// All labels are converted before anything is written, so an unknown category aborts the run
// without producing label files.
func (e *Exporter) Run(ctx context.Context, projectID string) (ExportSummary, error) {
	var summary ExportSummary

	assets, err := e.listAssets(ctx, projectID)
	if err != nil {
		return summary, err
	}
	summary.Listed = len(assets)

	assets = SelectLatestLabels(assets)
	summary.Retained = len(assets)

	normalizer := Normalizer{Mapper: e.Mapper, Vocab: e.Dataset.Names}
	data, err := normalizer.Convert(assets)
	if err != nil {
		return summary, err
	}
	summary.Boxes = data.NumAnnotations()

	parts, err := e.split(data)
	if err != nil {
		return summary, err
	}
	if len(parts) > 1 {
		summary.Val = len(parts[1].files)
	}

	byFile := make(map[string]Asset, len(assets))
	for i, a := range assets {
		byFile[data[i].FilePath] = a
	}

	var written AnnotatedFiles
	for _, p := range parts {
		if err := os.MkdirAll(p.imageDir, 0755); err != nil {
			return summary, err
		}
		for i := range p.files {
			path := filepath.Join(p.imageDir, p.files[i].FilePath)
			if err := e.fetchImage(ctx, byFile[p.files[i].FilePath], path); err != nil {
				return summary, err
			}
			p.files[i].FilePath = path
		}

		if err := os.MkdirAll(p.labelDir, 0755); err != nil {
			return summary, err
		}
		if err := WriteYOLO(p.labelDir, ToYOLO(p.files)); err != nil {
			return summary, fmt.Errorf("failed to write labels: %w", err)
		}
		log.Printf("Successfully wrote labels for %d files to %s", len(p.files), p.labelDir)
		written = append(written, p.files...)
	}
	data = written

	if e.TFRecord.RecordPath != "" {
		err := WriteTFRecord(e.TFRecord.RecordPath, e.TFRecord.LabelMapPath, data, e.Dataset.Names,
				e.TFRecord.NumShards)
		if err != nil {
			return summary, err
		}
		log.Printf("Successfully wrote a TFRecord for %d files to %s", len(data),
				e.TFRecord.RecordPath)
	}

	return summary, nil
}

// split assigns the converted files to the train part and, if ValPercent is set, the val part.
func (e *Exporter) split(data AnnotatedFiles) ([]exportPart, error) {
	train := exportPart{files: data, imageDir: e.Dataset.ImageDir(), labelDir: e.Dataset.LabelDir()}
	if e.ValPercent <= 0 {
		return []exportPart{train}, nil
	}
	if e.ValPercent >= 100 {
		return nil, fmt.Errorf("invalid val percentage %d", e.ValPercent)
	}
	if e.Dataset.Val == "" {
		return nil, fmt.Errorf("a val split was requested but the dataset defines no val path")
	}

	splits, err := data.Split([]int{100 - e.ValPercent, 100})
	if err != nil {
		return nil, err
	}
	train.files = splits[0]
	val := exportPart{files: splits[1], imageDir: e.Dataset.ValImageDir(), labelDir: e.Dataset.ValLabelDir()}
	return []exportPart{train, val}, nil
}

// listAssets collects all assets of the project, logging progress per page.
func (e *Exporter) listAssets(ctx context.Context, projectID string) ([]Asset, error) {
	pageSize := e.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	var assets []Asset
	err := e.Store.ListAssets(ctx, projectID, pageSize, func(page []Asset) error {
		assets = append(assets, page...)
		log.WithField("project", projectID).Infof("Listed %d assets", len(assets))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list the assets of project %s: %w", projectID, err)
	}
	return assets, nil
}

// fetchImage downloads the content of a and writes it, processed as per e.Images, to path.
func (e *Exporter) fetchImage(ctx context.Context, a Asset, path string) error {
	content, err := e.Store.FetchContent(ctx, a)
	if err != nil {
		return fmt.Errorf("failed to fetch the content of asset %s: %w", a.ID, err)
	}
	content, err = processImage(content, e.Images)
	if err != nil {
		return fmt.Errorf("failed to process the image of asset %s: %w", a.ID, err)
	}
	if err := writeFile(path, content); err != nil {
		return err
	}

	log.WithFields(log.Fields{"asset": a.ID, "bytes": len(content)}).Debug("Wrote image")
	return nil
}
