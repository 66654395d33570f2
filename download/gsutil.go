package download

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/gcsblob"
	"gocloud.dev/gcerrors"
)

// GsutilGetSize returns the size in bytes of the object at a gs:// URL. For a URL naming a
// "directory", the sizes of all objects below it are summed, as `gsutil du` does. A missing
// object yields 0.
//
// The bucket is read with the Go Cloud blob API. If it cannot be opened (e.g. there are no
// application default credentials), `gsutil du` is run instead.
func (d *Downloader) GsutilGetSize(ctx context.Context, gsURL string) (int64, error) {
	u, err := url.Parse(gsURL)
	if err != nil {
		return 0, fmt.Errorf("invalid url %q: %w", gsURL, err)
	}
	if u.Scheme != "gs" || u.Host == "" {
		return 0, fmt.Errorf("invalid url %q: expected gs://bucket[/object]", gsURL)
	}

	openBucket := d.OpenBucket
	if openBucket == nil {
		openBucket = blob.OpenBucket
	}
	bkt, err := openBucket(ctx, "gs://"+u.Host)
	if err != nil {
		log.WithError(err).Warn("Cannot open the bucket, falling back to gsutil")
		return d.gsutilDu(ctx, gsURL)
	}
	defer bkt.Close()

	return objectSize(ctx, bkt, strings.TrimPrefix(u.Path, "/"))
}

// objectSize returns the size of the object key, or the total size of the objects below key/.
func objectSize(ctx context.Context, bkt *blob.Bucket, key string) (int64, error) {
	if key != "" && !strings.HasSuffix(key, "/") {
		attrs, err := bkt.Attributes(ctx, key)
		if err == nil {
			return attrs.Size, nil
		}
		if gcerrors.Code(err) != gcerrors.NotFound {
			return 0, fmt.Errorf("cannot stat %q: %w", key, err)
		}
		key += "/"
	}

	var total int64
	iter := bkt.List(&blob.ListOptions{Prefix: key})
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("cannot list %q: %w", key, err)
		}
		total += obj.Size
	}
	return total, nil
}

// gsutilDu parses the first field of `gsutil du` as the size. Empty output yields 0.
func (d *Downloader) gsutilDu(ctx context.Context, gsURL string) (int64, error) {
	out, err := d.Runner.Run(ctx, "gsutil", "du", gsURL)
	if err != nil {
		return 0, err
	}

	fields := strings.Fields(string(out))
	if len(fields) == 0 {
		return 0, nil
	}
	size, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("unexpected gsutil du output %q: %w", strings.TrimSpace(string(out)), err)
	}
	return size, nil
}
