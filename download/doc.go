// Package download fetches model weights and dataset archives.
//
// Downloads go through an HTTP client first and fall back to curl, which retries and resumes.
// Google Drive downloads and Google Cloud Storage size queries are delegated to the curl and
// gsutil command line tools.
//
// Subprocesses are started through a Runner, without a shell:
//
//	d := download.New()
//	path, err := d.AttemptDownload(ctx, "yolov5s.pt", download.DefaultRepo)
package download
