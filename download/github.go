package download

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
)

// DefaultRepo is the GitHub repository that publishes the model weights.
const DefaultRepo = "ultralytics/yolov5"

// weightsMinBytes is the minimum plausible size of a weights file.
const weightsMinBytes = 1e5

// defaultTag is used when neither the GitHub API nor git can name the latest release.
const defaultTag = "v6.0"

// fallbackAssets are the release assets assumed when the GitHub API is unavailable.
var fallbackAssets = []string{
	"yolov5n.pt", "yolov5s.pt", "yolov5m.pt", "yolov5l.pt", "yolov5x.pt",
	"yolov5n6.pt", "yolov5s6.pt", "yolov5m6.pt", "yolov5l6.pt", "yolov5x6.pt",
}

// release is the subset of a GitHub release used here.
type release struct {
	TagName string `json:"tag_name"`
	Assets  []struct {
		Name string `json:"name"`
	} `json:"assets"`
}

// AttemptDownload resolves a weights reference to a local file, downloading it if it does not
// exist yet.
//
// An http(s) URL is downloaded into the working directory, named after the last URL path element
// without the query. Any other missing file is looked up by name among the assets of the latest
// release of repo and downloaded from there. Returns the path of the local file.
func (d *Downloader) AttemptDownload(ctx context.Context, file, repo string) (string, error) {
	file = strings.TrimSpace(strings.ReplaceAll(file, "'", ""))
	if fileSize(file) >= 0 {
		return file, nil
	}

	name := file
	if unescaped, err := url.PathUnescape(file); err == nil {
		name = unescaped
	}
	name = path.Base(filepath.ToSlash(name))

	if strings.HasPrefix(file, "http:/") || strings.HasPrefix(file, "https:/") {
		u := file
		if !strings.Contains(u, "://") {
			u = strings.Replace(u, ":/", "://", 1)
		}
		local := strings.SplitN(name, "?", 2)[0]
		if fileSize(local) >= 0 {
			log.Infof("Found %s locally at %s", u, local)
			return local, nil
		}
		if err := d.SafeDownload(ctx, local, u, "", weightsMinBytes, ""); err != nil {
			return "", err
		}
		return local, nil
	}

	if dir := filepath.Dir(file); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", err
		}
	}

	assets, tag, err := d.latestRelease(ctx, repo)
	if err != nil {
		log.WithError(err).Warn("Cannot query the latest release, using the fallback asset list")
		assets = fallbackAssets
		tag = d.latestGitTag(ctx)
	}

	if !contains(assets, name) {
		return file, nil
	}

	releaseURL := fmt.Sprintf("%s/%s/releases/download/%s/%s", d.GitHubURL, repo, tag, name)
	errorMsg := fmt.Sprintf("%s missing, try downloading from https://github.com/%s/releases/", file,
			repo)
	if err := d.SafeDownload(ctx, file, releaseURL, "", weightsMinBytes, errorMsg); err != nil {
		return "", err
	}
	return file, nil
}

// latestRelease returns the asset names and the tag of the latest release of repo.
func (d *Downloader) latestRelease(ctx context.Context, repo string) ([]string, string, error) {
	u := fmt.Sprintf("%s/repos/%s/releases/latest", d.GitHubAPI, repo)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := d.Client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("github api: unexpected status code: %d", resp.StatusCode)
	}

	var r release
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return nil, "", fmt.Errorf("github api: %w", err)
	}
	if r.TagName == "" {
		return nil, "", fmt.Errorf("github api: release of %s has no tag", repo)
	}

	names := make([]string, len(r.Assets))
	for i, a := range r.Assets {
		names[i] = a.Name
	}
	return names, r.TagName, nil
}

// latestGitTag returns the last tag listed by git in the working directory, or defaultTag.
func (d *Downloader) latestGitTag(ctx context.Context) string {
	out, err := d.Runner.Run(ctx, "git", "tag")
	if err != nil {
		return defaultTag
	}
	tags := strings.Fields(string(out))
	if len(tags) == 0 {
		return defaultTag
	}
	return tags[len(tags)-1]
}

func contains(l []string, v string) bool {
	for _, s := range l {
		if s == v {
			return true
		}
	}
	return false
}
