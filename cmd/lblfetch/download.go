package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sensorable/lblfetch/download"
)

var weightsRepo string // The GitHub repository publishing the weights.

var weightsCmd = &cobra.Command{
	Use:   "weights <file-or-url>...",
	Short: "Resolve model weights to local files, downloading them if needed",
	Long: "Resolves each reference to a local file. Existing files are used as is, URLs are\n" +
		"downloaded into the working directory and other names are looked up among the assets of\n" +
		"the latest GitHub release of --repo. The resolved paths are printed, one per line.",
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, ref := range args {
			path, err := downloader.AttemptDownload(cmd.Context(), ref, weightsRepo)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
		}
		return nil
	},
}

var (
	gdriveID   string // The Google Drive file ID.
	gdriveFile string // The output path.
)

var gdriveCmd = &cobra.Command{
	Use:   "gdrive",
	Short: "Download a file from Google Drive, extracting zip archives",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return downloader.GDriveDownload(cmd.Context(), gdriveID, gdriveFile)
	},
}

var gsutilSizeCmd = &cobra.Command{
	Use:   "gsutil-size gs://bucket/object",
	Short: "Print the size in bytes of a Google Cloud Storage object",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		size, err := downloader.GsutilGetSize(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), size)
		return nil
	},
}

func init() {
	weightsCmd.Flags().StringVar(&weightsRepo, "repo", download.DefaultRepo,
		"The GitHub `owner/repo` publishing the weights as release assets")

	gdriveCmd.Flags().StringVar(&gdriveID, "id", "", "The Google Drive file `id`")
	gdriveCmd.Flags().StringVar(&gdriveFile, "file", "tmp.zip", "The output `path`")
	gdriveCmd.Flags().StringVar(&downloader.CookiePath, "cookie", downloader.CookiePath,
		"The `path` of the temporary cookie jar")
	_ = gdriveCmd.MarkFlagRequired("id")
}
