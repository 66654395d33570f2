package download

import (
	"archive/zip"
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

const gdriveURL = "https://drive.google.com/uc?export=download"

// GDriveDownload downloads the Google Drive file with the given ID to file. Zip archives are
// extracted next to file and then removed.
//
// Large files need a confirmation token, which Google Drive sets as a cookie on a first request.
func (d *Downloader) GDriveDownload(ctx context.Context, id, file string) error {
	start := time.Now()
	cookie := d.CookiePath
	if cookie == "" {
		cookie = "cookie"
	}

	log.Infof("Downloading %s&id=%s as %s...", gdriveURL, id, file)
	if err := removeIfExists(file); err != nil {
		return err
	}
	if err := removeIfExists(cookie); err != nil {
		return err
	}

	_, err := d.Runner.Run(ctx, "curl", "-c", cookie, "-s", "-L", gdriveURL+"&id="+id, "-o", os.DevNull)
	if err != nil {
		log.WithError(err).Debug("Cookie probe failed")
	}

	var args []string
	if fileSize(cookie) >= 0 { // Large file.
		args = []string{"-Lb", cookie, fmt.Sprintf("%s&confirm=%s&id=%s", gdriveURL, GetToken(cookie), id),
			"-o", file}
	} else { // Small file.
		args = []string{"-s", "-L", "-o", file, gdriveURL + "&id=" + id}
	}
	_, err = d.Runner.Run(ctx, "curl", args...)
	if rmErr := removeIfExists(cookie); rmErr != nil {
		log.WithError(rmErr).Warn("Cannot remove the cookie file")
	}

	if err != nil {
		_ = removeIfExists(file)
		return fmt.Errorf("gdrive download of %s failed: %w", id, err)
	}

	if strings.EqualFold(filepath.Ext(file), ".zip") {
		log.Info("Unzipping...")
		if err := unzip(file, filepath.Dir(file)); err != nil {
			return err
		}
		if err := os.Remove(file); err != nil {
			return err
		}
	}

	log.Infof("Done (%.1fs)", time.Since(start).Seconds())
	return nil
}

// GetToken returns the Google Drive download confirmation token from the cookie jar at path: the
// last field of the first line mentioning "download". Returns "" if there is none.
func GetToken(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.Contains(line, "download") {
			continue
		}
		if fields := strings.Fields(line); len(fields) > 0 {
			return fields[len(fields)-1]
		}
	}
	return ""
}

// unzip extracts the archive at path into dir.
func unzip(path, dir string) error {
	r, err := zip.OpenReader(path)
	if err != nil {
		return fmt.Errorf("cannot open archive %q: %w", path, err)
	}
	defer r.Close()

	root, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	for _, zf := range r.File {
		target := filepath.Join(root, zf.Name)
		if target != root && !strings.HasPrefix(target, root+string(os.PathSeparator)) {
			return fmt.Errorf("archive %q: illegal file path %q", path, zf.Name)
		}
		if zf.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
			continue
		}
		if err := extractFile(zf, target); err != nil {
			return err
		}
	}
	return nil
}

func extractFile(zf *zip.File, target string) (err error) {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	rc, err := zf.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, zf.Mode().Perm()|0600)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	_, err = io.Copy(out, rc)
	return err
}
