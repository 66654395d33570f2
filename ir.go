// Package lblfetch fetches annotated assets from a labeling platform and converts them into
// normalized bounding box labels for YOLO-style training pipelines.
package lblfetch

// The intermediate annotation metadata representation.

import (
	"errors"
	"fmt"
	"hash/fnv"
	"path/filepath"
	"strings"
)

// NormalizedBox is an axis-aligned bounding box in center+size form. All values are fractions of
// the image width or height.
type NormalizedBox struct {
	CenterX float64
	CenterY float64
	Width   float64
	Height  float64
}

// Bounds returns the box as normalized x1, y1, x2, y2 corner coordinates.
func (b NormalizedBox) Bounds() [4]float64 {
	return [4]float64{
		b.CenterX - b.Width/2,
		b.CenterY - b.Height/2,
		b.CenterX + b.Width/2,
		b.CenterY + b.Height/2,
	}
}

// boxFromVertices returns the smallest box containing all vertices. vertices must not be empty.
func boxFromVertices(vertices []Vertex) NormalizedBox {
	xMin, yMin := vertices[0].X, vertices[0].Y
	xMax, yMax := xMin, yMin
	for _, v := range vertices[1:] {
		if v.X < xMin {
			xMin = v.X
		}
		if v.X > xMax {
			xMax = v.X
		}
		if v.Y < yMin {
			yMin = v.Y
		}
		if v.Y > yMax {
			yMax = v.Y
		}
	}

	return NormalizedBox{
		CenterX: (xMax + xMin) / 2,
		CenterY: (yMax + yMin) / 2,
		Width:   xMax - xMin,
		Height:  yMax - yMin,
	}
}

// Annotation is the intermediate representation of an object label.
type Annotation struct {
	Box      NormalizedBox
	Category int    // Index into the Vocabulary.
	Label    string // The category name.
}

// AnnotatedFile is the intermediate representation of file metadata.
type AnnotatedFile struct {
	Annotations []Annotation // The annotations.
	FilePath    string       // The annotated file.
}

// AnnotatedFiles is the annotation metadata for a list of files.
type AnnotatedFiles []AnnotatedFile

// NumAnnotations returns the total number of annotations over all files.
func (data AnnotatedFiles) NumAnnotations() int {
	n := 0
	for _, f := range data {
		n += len(f.Annotations)
	}
	return n
}

// Split divides the data into multiple datasets.
//
// The cumulativeSplits specify the cumulative distribution according to which the data is split
// into the returned datasets. Its values must be increasing and end at 100. Each file is assigned
// by a hash of its base name, so the same file always lands in the same dataset.
func (data AnnotatedFiles) Split(cumulativeSplits []int) ([]AnnotatedFiles, error) {
	datasets := make([]AnnotatedFiles, len(cumulativeSplits))

	var prev int
	for _, s := range cumulativeSplits {
		if s < prev {
			return nil, fmt.Errorf("the split percentages must be cumulative")
		}
		prev = s
	}
	if prev != 100 {
		return nil, fmt.Errorf("the split percentages do not add up to 100")
	}

outer:
	for _, d := range data {
		h := fnv.New32a()
		_, _ = h.Write([]byte(filepath.Base(d.FilePath)))
		r := int(h.Sum32() % 100)
		for i, s := range cumulativeSplits {
			if r < s {
				datasets[i] = append(datasets[i], d)
				continue outer
			}
		}
	}

	return datasets, nil
}

// ErrUnknownCategory is matched by errors.Is for every *UnknownCategoryError.
var ErrUnknownCategory = errors.New("unknown category")

// UnknownCategoryError reports an annotation whose category is not part of the vocabulary.
type UnknownCategoryError struct {
	Name    string
	AssetID string
}

func (e *UnknownCategoryError) Error() string {
	if e.AssetID == "" {
		return fmt.Sprintf("unknown category %q", e.Name)
	}
	return fmt.Sprintf("unknown category %q in asset %s", e.Name, e.AssetID)
}

// Is reports whether target is ErrUnknownCategory.
func (e *UnknownCategoryError) Is(target error) bool {
	return target == ErrUnknownCategory
}

// Vocabulary is the ordered list of category names. The index of a name is its category index.
type Vocabulary []string

// Index returns the category index of name.
func (v Vocabulary) Index(name string) (int, error) {
	for i, n := range v {
		if n == name {
			return i, nil
		}
	}
	return -1, &UnknownCategoryError{Name: name}
}

// LabelMapper replaces label (sub-)strings with substitution values.
type LabelMapper struct {
	replacements []struct{ old, new string }
}

// NewLabelMapper parses mappings of the form old=new.
func NewLabelMapper(mappings []string) (*LabelMapper, error) {
	m := &LabelMapper{replacements: make([]struct{ old, new string }, len(mappings))}
	for i, v := range mappings {
		a := strings.Split(v, "=")
		if len(a) != 2 || a[0] == "" {
			return nil, fmt.Errorf("invalid mapping: %v", v)
		}

		m.replacements[i].old = a[0]
		m.replacements[i].new = a[1]
	}
	return m, nil
}

// Map applies the replacements, in order, to label. A nil mapper returns label unchanged.
func (m *LabelMapper) Map(label string) string {
	if m == nil {
		return label
	}
	for _, r := range m.replacements {
		label = strings.Replace(label, r.old, r.new, -1)
	}
	return label
}
