package lblfetch

// YOLO text label specific functionality.

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// yoloPrecision is the number of decimal places written for box coordinates.
const yoloPrecision = 6

// YOLOAnnotation is a single line of a YOLO label file.
type YOLOAnnotation struct {
	Box      NormalizedBox
	Category int
}

// String formats the annotation as "{category} {center_x} {center_y} {width} {height}".
func (a YOLOAnnotation) String() string {
	return strings.Join([]string{
		strconv.Itoa(a.Category),
		formatCoord(a.Box.CenterX),
		formatCoord(a.Box.CenterY),
		formatCoord(a.Box.Width),
		formatCoord(a.Box.Height),
	}, " ")
}

// formatCoord rounds v to yoloPrecision decimals and trims trailing zeros, so that float noise
// such as 0.39999999999999997 is written as 0.4.
func formatCoord(v float64) string {
	s := strconv.FormatFloat(v, 'f', yoloPrecision, 64)
	s = strings.TrimRight(s, "0")
	s = strings.TrimSuffix(s, ".")
	if s == "-0" || s == "" {
		return "0"
	}
	return s
}

// YOLOAnnotatedFile defines the YOLO annotation structure for a single file.
type YOLOAnnotatedFile struct {
	Annotations []YOLOAnnotation
	FilePath    string
}

// ToYOLO converts the intermediate representation to YOLO format.
func ToYOLO(data []AnnotatedFile) []YOLOAnnotatedFile {
	yoloData := make([]YOLOAnnotatedFile, 0, len(data))
	for _, fileData := range data {
		yoloFileData := YOLOAnnotatedFile{
			Annotations: make([]YOLOAnnotation, len(fileData.Annotations)),
			FilePath:    fileData.FilePath,
		}
		for i, a := range fileData.Annotations {
			yoloFileData.Annotations[i] = YOLOAnnotation{Box: a.Box, Category: a.Category}
		}
		yoloData = append(yoloData, yoloFileData)
	}

	return yoloData
}

// EncodeYOLO writes one line per annotation to w.
func EncodeYOLO(w io.Writer, annotations []YOLOAnnotation) error {
	bw := bufio.NewWriter(w)
	for _, a := range annotations {
		if _, err := fmt.Fprintln(bw, a.String()); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// WriteYOLO writes data to dirPath, one file per element. The label file name is the base name
// of the image file with a ".txt" extension. A file without annotations gets an empty label file.
func WriteYOLO(dirPath string, data []YOLOAnnotatedFile) error {
	dirInfo, err := os.Stat(dirPath)
	if err != nil || !dirInfo.IsDir() {
		return fmt.Errorf("cannot access directory %q: %v", dirPath, err)
	}

	for _, fileData := range data {
		_, baseNoExt, _, err := splitPath(fileData.FilePath)
		if err != nil {
			return err
		}
		if err := writeYOLOFile(filepath.Join(dirPath, baseNoExt+".txt"), fileData); err != nil {
			return err
		}
	}

	return nil
}

func writeYOLOFile(path string, fileData YOLOAnnotatedFile) (err error) {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer closeWithErrCheck(file, &err)

	if err := EncodeYOLO(file, fileData.Annotations); err != nil {
		return fmt.Errorf("cannot write file %q: %w", path, err)
	}
	return nil
}
