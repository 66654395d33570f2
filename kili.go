package lblfetch

// Kili labeling platform specific functionality.

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"
)

// LabelType is the kind of a label submission.
type LabelType string

// Label types that qualify for selection. All other types are ignored.
const (
	LabelTypeDefault LabelType = "DEFAULT"
	LabelTypeReview  LabelType = "REVIEW"
)

// Allowed reports whether labels of type t take part in label selection.
func (t LabelType) Allowed() bool {
	return t == LabelTypeDefault || t == LabelTypeReview
}

// Vertex is a polygon vertex. The coordinates are normalised ratios of the image size.
type Vertex struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`

	incomplete bool // x or y was absent (or null) in the decoded document.
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Vertex) UnmarshalJSON(data []byte) error {
	var raw struct {
		X *float64 `json:"x"`
		Y *float64 `json:"y"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*v = Vertex{incomplete: raw.X == nil || raw.Y == nil}
	if raw.X != nil {
		v.X = *raw.X
	}
	if raw.Y != nil {
		v.Y = *raw.Y
	}
	return nil
}

// Complete reports whether both coordinates are known.
func (v Vertex) Complete() bool {
	return !v.incomplete
}

// Polygon is one ring of an annotation's bounding polygon.
type Polygon struct {
	NormalizedVertices []Vertex `json:"normalizedVertices"`
}

// hasVertexData reports whether the ring has at least one vertex and all of them are complete.
func (p Polygon) hasVertexData() bool {
	if len(p.NormalizedVertices) == 0 {
		return false
	}
	for _, v := range p.NormalizedVertices {
		if !v.Complete() {
			return false
		}
	}
	return true
}

// Category is a category assigned to an annotation.
type Category struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence,omitempty"` // Range [0, 100].
}

// KiliAnnotation is a single object annotation within a job.
type KiliAnnotation struct {
	BoundingPoly []Polygon  `json:"boundingPoly"`
	Categories   []Category `json:"categories"`
	MID          string     `json:"mid,omitempty"`
	Type         string     `json:"type,omitempty"`
}

// Job is the response for a single labeling job. Jobs without annotations (e.g. classification
// jobs) have a nil Annotations list.
type Job struct {
	Annotations []KiliAnnotation
	Name        string
}

// JSONResponse maps job names to job responses, in the key order of the JSON document.
//
// The platform delivers the response either as a JSON object or as a string holding a JSON
// object. Both decode to the same value.
type JSONResponse []Job

// UnmarshalJSON implements json.Unmarshaler.
func (r *JSONResponse) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		data = bytes.TrimSpace([]byte(s))
	}
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*r = nil
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	if tok, err := dec.Token(); err != nil {
		return err
	} else if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("json response: expected an object, got %v", tok)
	}

	jobs := JSONResponse{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := tok.(string)
		if !ok {
			return fmt.Errorf("json response: unexpected key %v", tok)
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("json response: job %q: %w", name, err)
		}

		job := Job{Name: name}
		// Only objects carry annotations. Anything else is kept as an empty job.
		if raw = bytes.TrimSpace(raw); len(raw) > 0 && raw[0] == '{' {
			var body struct {
				Annotations []KiliAnnotation `json:"annotations"`
			}
			if err := json.Unmarshal(raw, &body); err != nil {
				return fmt.Errorf("json response: job %q: %w", name, err)
			}
			job.Annotations = body.Annotations
		}
		jobs = append(jobs, job)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}

	*r = jobs
	return nil
}

// Label is one full annotation submission for an asset.
type Label struct {
	CreatedAt    time.Time    `json:"createdAt"`
	JSONResponse JSONResponse `json:"jsonResponse"`
	LabelType    LabelType    `json:"labelType"`
}

// Asset is one annotated image in the labeling platform.
type Asset struct {
	Content string  `json:"content"` // The image URL.
	ID      string  `json:"id"`
	Labels  []Label `json:"labels"`
}

// SelectLabel returns the most recent label of an allowed type. Labels with identical timestamps
// keep their listing order, so the last of them wins.
//
// Returns false if no label has an allowed type.
func SelectLabel(labels []Label) (Label, bool) {
	allowed := make([]Label, 0, len(labels))
	for _, l := range labels {
		if l.LabelType.Allowed() {
			allowed = append(allowed, l)
		}
	}
	if len(allowed) == 0 {
		return Label{}, false
	}

	sort.SliceStable(allowed, func(i, j int) bool {
		return allowed[i].CreatedAt.Before(allowed[j].CreatedAt)
	})
	return allowed[len(allowed)-1], true
}

// SelectLatestLabels returns the assets that have a label of an allowed type, each reduced to
// its selected label. The input is not modified and its order is preserved.
func SelectLatestLabels(assets []Asset) []Asset {
	selected := make([]Asset, 0, len(assets))
	for _, a := range assets {
		l, ok := SelectLabel(a.Labels)
		if !ok {
			log.WithField("asset", a.ID).Debug("No DEFAULT or REVIEW label, dropping asset")
			continue
		}
		a.Labels = []Label{l}
		selected = append(selected, a)
	}

	log.Printf("Selected labels for %d of %d assets", len(selected), len(assets))
	return selected
}

// Normalizer converts Kili labels to normalized bounding boxes.
type Normalizer struct {
	Mapper *LabelMapper // Optional. Applied to category names before the vocabulary lookup.
	Vocab  Vocabulary
}

// FromKili converts the selected label of each asset to the intermediate representation, using
// vocab to resolve category indices. Assets without a qualifying label are dropped.
func FromKili(assets []Asset, vocab Vocabulary) (AnnotatedFiles, error) {
	return Normalizer{Vocab: vocab}.Convert(assets)
}

// Convert works like FromKili, with the normalizer's label mappings applied.
//
// The file path of each returned AnnotatedFile is the asset ID with a ".jpg" extension.
func (n Normalizer) Convert(assets []Asset) (AnnotatedFiles, error) {
	data := make(AnnotatedFiles, 0, len(assets))
	for _, a := range assets {
		label, ok := SelectLabel(a.Labels)
		if !ok {
			continue
		}

		fileData := AnnotatedFile{FilePath: a.ID + ".jpg"}
		for _, job := range label.JSONResponse {
			for i, ka := range job.Annotations {
				annotation, ok, err := n.convertAnnotation(ka)
				if err != nil {
					if uc, isUC := err.(*UnknownCategoryError); isUC {
						uc.AssetID = a.ID
					}
					return nil, err
				}
				if !ok {
					log.WithFields(log.Fields{"asset": a.ID, "job": job.Name, "index": i}).
						Debug("Annotation lacks polygon vertex data, skipping")
					continue
				}
				fileData.Annotations = append(fileData.Annotations, annotation)
			}
		}
		data = append(data, fileData)
	}

	return data, nil
}

// convertAnnotation resolves the category and computes the bounding box of the first polygon
// ring. ok is false when the ring is missing, empty or has a vertex without both coordinates.
func (n Normalizer) convertAnnotation(ka KiliAnnotation) (a Annotation, ok bool, err error) {
	if len(ka.Categories) == 0 {
		return a, false, &UnknownCategoryError{}
	}
	a.Label = n.Mapper.Map(ka.Categories[0].Name)
	if a.Category, err = n.Vocab.Index(a.Label); err != nil {
		return a, false, err
	}

	if len(ka.BoundingPoly) == 0 || !ka.BoundingPoly[0].hasVertexData() {
		return a, false, nil
	}
	a.Box = boxFromVertices(ka.BoundingPoly[0].NormalizedVertices)

	return a, true, nil
}
