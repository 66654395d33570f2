package main

import (
	"errors"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sensorable/lblfetch"
	"github.com/sensorable/lblfetch/kili"
)

// apiKeyEnv is the environment variable consulted when --api-key is not set.
const apiKeyEnv = "KILI_API_KEY"

var (
	dataPath    string   // The dataset definition (data.yaml).
	apiKey      string   // The Kili API key.
	apiEndpoint string   // The Kili GraphQL endpoint.
	pageSize    int      // Assets per listing request.
	labelMaps   []string // old=new category name replacements.
	valPercent  int      // Share of the assets written to the val split.

	imageOpts lblfetch.ImageOptions // Processing of fetched images.

	tfRecordOpts lblfetch.TFRecordOptions // Optional TFRecord export.
)

var kiliCmd = &cobra.Command{
	Use:   "kili",
	Short: "Fetch a Kili project into a YOLO dataset",
	Long: "Fetches the assets of the Kili project named by the dataset path (.../kili/<project-id>),\n" +
		"keeps the latest DEFAULT or REVIEW label of each asset and writes one image and one YOLO\n" +
		"label file per labelled asset. Datasets whose path does not contain /kili/ are skipped.",
	Args: cobra.NoArgs,
	RunE: runKili,
}

func init() {
	kiliCmd.Flags().StringVarP(&dataPath, "data", "d", "", "The dataset definition `path` (data.yaml)")
	kiliCmd.Flags().StringVar(&apiKey, "api-key", "",
		"The Kili API `key` (default $"+apiKeyEnv+")")
	kiliCmd.Flags().StringVar(&apiEndpoint, "api-url", kili.DefaultEndpoint,
		"The Kili GraphQL endpoint `url`")
	kiliCmd.Flags().IntVar(&pageSize, "page-size", lblfetch.DefaultPageSize,
		"The number of assets requested per page")
	kiliCmd.Flags().StringSliceVar(&labelMaps, "map-labels", nil,
		"Comma-separated list of old=new category name (sub-)string replacements, applied before"+
				" the lookup in the dataset names")

	kiliCmd.Flags().IntVar(&valPercent, "val-percent", 0,
		"The `percent`age of assets to write to the dataset's val directories instead of train")

	// Image processing arguments.
	kiliCmd.Flags().IntVar(&imageOpts.LongerSide, "resize-longer", 0,
		"The target `length` for the longer side of fetched images (zero to keep aspect ratio)")
	kiliCmd.Flags().IntVar(&imageOpts.ShorterSide, "resize-shorter", 0,
		"The target `length` for the shorter side of fetched images (zero to keep aspect ratio)")
	kiliCmd.Flags().StringVar(&imageOpts.DownsamplingFilter, "downsample-filter", "box",
		"The filter to use when downsampling an image {nearest, box, linear, gaussian, lanczos}")
	kiliCmd.Flags().StringVar(&imageOpts.UpsamplingFilter, "upsample-filter", "linear",
		"The filter to use when upsampling an image {nearest, box, linear, gaussian, lanczos}")
	kiliCmd.Flags().IntVar(&imageOpts.JPEGQuality, "jpeg-quality", 90,
		"The quality to use when re-encoding resized images [1, 100]")

	// TFRecord arguments.
	kiliCmd.Flags().StringVar(&tfRecordOpts.RecordPath, "tfrecord", "",
		"Also write the fetched dataset as TFRecord to this `path`")
	kiliCmd.Flags().StringVar(&tfRecordOpts.LabelMapPath, "tfrecord-label-map", "",
		"The TFRecord label map file `path`")
	kiliCmd.Flags().IntVar(&tfRecordOpts.NumShards, "num-shards", 1,
		"The number of TFRecord shard files to create")

	_ = kiliCmd.MarkFlagRequired("data")
}

func runKili(cmd *cobra.Command, args []string) error {
	// Validate arguments.
	if pageSize <= 0 {
		return errors.New("--page-size must be positive")
	}
	if valPercent < 0 || valPercent >= 100 {
		return errors.New("--val-percent must be in [0, 100)")
	}
	if imageOpts.LongerSide < 0 || imageOpts.ShorterSide < 0 {
		return errors.New("invalid resize length")
	}
	if imageOpts.JPEGQuality < 1 || imageOpts.JPEGQuality > 100 {
		imageOpts.JPEGQuality = 92
		log.Print("Invalid JPEG quality, setting it to ", imageOpts.JPEGQuality)
	}
	if tfRecordOpts.RecordPath != "" && tfRecordOpts.LabelMapPath == "" {
		return errors.New("missing --tfrecord-label-map")
	}
	if tfRecordOpts.RecordPath != "" {
		tfRecordOpts.RecordPath = filepath.Clean(tfRecordOpts.RecordPath)
		tfRecordOpts.LabelMapPath = filepath.Clean(tfRecordOpts.LabelMapPath)
	}

	dataset, err := lblfetch.LoadDataset(dataPath)
	if err != nil {
		return err
	}
	projectID, ok := dataset.KiliProjectID()
	if !ok {
		log.Infof("Dataset path %q is not a Kili project, nothing to fetch", dataset.Path)
		return nil
	}
	if len(dataset.Names) == 0 {
		return errors.New("the dataset defines no names")
	}

	key := apiKey
	if key == "" {
		key = os.Getenv(apiKeyEnv)
	}
	if key == "" {
		return errors.New("missing Kili API key, set --api-key or $" + apiKeyEnv)
	}

	var mapper *lblfetch.LabelMapper
	if len(labelMaps) > 0 {
		if mapper, err = lblfetch.NewLabelMapper(labelMaps); err != nil {
			return err
		}
	}

	exporter := &lblfetch.Exporter{
		Store:    kili.NewClient(kili.Options{APIKey: key, Endpoint: apiEndpoint}),
		Dataset:  dataset,
		PageSize: pageSize,
		Mapper:   mapper,
		Images:   imageOpts,
		TFRecord: tfRecordOpts,

		ValPercent: valPercent,
	}
	summary, err := exporter.Run(cmd.Context(), projectID)
	if err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"listed":   summary.Listed,
		"retained": summary.Retained,
		"val":      summary.Val,
		"boxes":    summary.Boxes,
	}).Info("Total number of labelled files: ", summary.Retained)
	return nil
}
