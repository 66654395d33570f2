package lblfetch

import (
	"bytes"
	"fmt"
	"image"
	"math"
	"os"

	"github.com/disintegration/imaging"
)

// ImageOptions controls the processing of fetched images.
type ImageOptions struct {
	LongerSide         int    // Target length of the longer side; zero keeps the aspect ratio.
	ShorterSide        int    // Target length of the shorter side; zero keeps the aspect ratio.
	DownsamplingFilter string // One of nearest, box, linear, gaussian, lanczos. Default box.
	UpsamplingFilter   string // One of nearest, box, linear, gaussian, lanczos. Default linear.
	JPEGQuality        int    // Quality of re-encoded JPEGs [1, 100]. Default 90.
}

// resizes reports whether any image processing is requested.
func (o ImageOptions) resizes() bool {
	return o.LongerSide > 0 || o.ShorterSide > 0
}

// resampleFilter returns the imaging filter with the given name, or def if name is empty.
func resampleFilter(name string, def imaging.ResampleFilter) (imaging.ResampleFilter, error) {
	switch name {
	case "":
		return def, nil
	case "nearest":
		return imaging.NearestNeighbor, nil
	case "box":
		return imaging.Box, nil
	case "linear":
		return imaging.Linear, nil
	case "gaussian":
		return imaging.Gaussian, nil
	case "lanczos":
		return imaging.Lanczos, nil
	}
	return imaging.ResampleFilter{}, fmt.Errorf("unknown resampling filter %q", name)
}

// processImage returns content unchanged unless a resize is requested. In that case the image is
// decoded, resized and re-encoded as JPEG. Normalized box coordinates are unaffected by this.
func processImage(content []byte, opts ImageOptions) ([]byte, error) {
	if !opts.resizes() {
		return content, nil
	}

	downsample, err := resampleFilter(opts.DownsamplingFilter, imaging.Box)
	if err != nil {
		return nil, err
	}
	upsample, err := resampleFilter(opts.UpsamplingFilter, imaging.Linear)
	if err != nil {
		return nil, err
	}
	quality := opts.JPEGQuality
	if quality < 1 || quality > 100 {
		quality = 90
	}

	img, err := imaging.Decode(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("failed to decode the image: %w", err)
	}
	resized, err := resizeImage(img, opts.LongerSide, opts.ShorterSide, downsample, upsample)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, resized, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("failed to encode the image: %w", err)
	}
	return buf.Bytes(), nil
}

// resizeImage resamples the image to match the longer and shorter sides (one may be 0).
func resizeImage(img image.Image, longerSide, shorterSide int,
		downsamplingFilter, upsamplingFilter imaging.ResampleFilter) (image.Image, error) {

	imgBounds := img.Bounds()
	imgWidth := imgBounds.Dx()
	imgHeight := imgBounds.Dy()
	if imgWidth == 0 || imgHeight == 0 {
		return nil, fmt.Errorf("cannot resize an empty image")
	}

	imgLonger := imgWidth
	imgShorter := imgHeight
	isLandscape := true
	if imgHeight > imgWidth {
		imgLonger = imgHeight
		imgShorter = imgWidth
		isLandscape = false
	}

	// Calculate the target dimensions.
	if longerSide <= 0 {
		longerSide = int(math.Round(float64(shorterSide) * (float64(imgLonger) / float64(imgShorter))))
	} else if shorterSide <= 0 {
		shorterSide = int(math.Round(float64(longerSide) * (float64(imgShorter) / float64(imgLonger))))
	}

	// Select the filter based on the direction of the rescaling operation.
	var filter imaging.ResampleFilter
	if longerSide*shorterSide < imgWidth*imgHeight {
		filter = downsamplingFilter
	} else {
		filter = upsamplingFilter
	}

	if isLandscape {
		return imaging.Resize(img, longerSide, shorterSide, filter), nil
	}
	return imaging.Resize(img, shorterSide, longerSide, filter), nil // Portrait.
}

// decodeImageConfig opens the file at path and returns the results of image.DecodeConfig.
func decodeImageConfig(path string) (config image.Config, format string, err error) {
	file, err := os.Open(path)
	if err != nil {
		return image.Config{}, "", err
	}
	defer file.Close()

	return image.DecodeConfig(file)
}
