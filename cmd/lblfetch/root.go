package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sensorable/lblfetch/download"
)

var (
	verbose   bool   // Enable debug logging.
	logFormat string // text or json.

	downloader = download.New()
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "lblfetch",
	Short: "Fetch YOLO training data and model weights",
	Long: "lblfetch fetches annotated images from Kili into YOLO datasets, converting the labels\n" +
		"to normalized bounding boxes, and downloads model weights and dataset archives.",
	SilenceUsage:      true,
	PersistentPreRunE: configureLogging,
}

// Execute adds all child commands to the root command and runs it until it finishes or the process
// is interrupted.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text",
		"The log `format` {text, json}")

	rootCmd.AddCommand(kiliCmd)
	rootCmd.AddCommand(weightsCmd)
	rootCmd.AddCommand(gdriveCmd)
	rootCmd.AddCommand(gsutilSizeCmd)
}

func configureLogging(cmd *cobra.Command, args []string) error {
	switch logFormat {
	case "text":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	default:
		return fmt.Errorf("unsupported log format %q", logFormat)
	}

	if verbose {
		log.SetLevel(log.DebugLevel)
	} else {
		log.SetLevel(log.InfoLevel)
	}
	return nil
}
