package lblfetch

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"
)

var t0 = time.Date(2022, 5, 10, 12, 0, 0, 0, time.UTC)

func rect(name string, x1, y1, x2, y2 float64) KiliAnnotation {
	return KiliAnnotation{
		Categories: []Category{{Name: name}},
		BoundingPoly: []Polygon{{NormalizedVertices: []Vertex{
			{X: x1, Y: y1}, {X: x2, Y: y1}, {X: x2, Y: y2}, {X: x1, Y: y2},
		}}},
	}
}

func label(typ LabelType, minutes int, annotations ...KiliAnnotation) Label {
	return Label{
		CreatedAt:    t0.Add(time.Duration(minutes) * time.Minute),
		LabelType:    typ,
		JSONResponse: JSONResponse{{Name: "OBJECT_DETECTION_JOB", Annotations: annotations}},
	}
}

func TestSelectLabel(t *testing.T) {
	tests := []struct {
		name    string
		labels  []Label
		wantOK  bool
		wantMin int // Minutes after t0 of the expected label.
		wantTyp LabelType
	}{
		{
			name:   "no labels",
			labels: nil,
		},
		{
			name:   "only ignored types",
			labels: []Label{label("PREDICTION", 5), label("INFERENCE", 7), label("AUTOSAVE", 9)},
		},
		{
			name:    "latest allowed wins",
			labels:  []Label{label(LabelTypeDefault, 1), label(LabelTypeReview, 3), label(LabelTypeDefault, 2)},
			wantOK:  true,
			wantMin: 3,
			wantTyp: LabelTypeReview,
		},
		{
			name:    "newer ignored type does not win",
			labels:  []Label{label(LabelTypeDefault, 1), label("PREDICTION", 10)},
			wantOK:  true,
			wantMin: 1,
			wantTyp: LabelTypeDefault,
		},
		{
			name:    "ties resolve to the last in listing order",
			labels:  []Label{label(LabelTypeReview, 4), label(LabelTypeDefault, 4)},
			wantOK:  true,
			wantMin: 4,
			wantTyp: LabelTypeDefault,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := SelectLabel(tt.labels)
			if ok != tt.wantOK {
				t.Fatalf("SelectLabel() ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			want := t0.Add(time.Duration(tt.wantMin) * time.Minute)
			if !got.CreatedAt.Equal(want) || got.LabelType != tt.wantTyp {
				t.Errorf("SelectLabel() = %s %v, want %s %v", got.LabelType, got.CreatedAt,
					tt.wantTyp, want)
			}
		})
	}
}

func TestSelectLatestLabels(t *testing.T) {
	assets := []Asset{
		{ID: "a", Labels: []Label{label(LabelTypeDefault, 1), label(LabelTypeReview, 2)}},
		{ID: "b", Labels: []Label{label("PREDICTION", 1)}},
		{ID: "c"},
		{ID: "d", Labels: []Label{label(LabelTypeDefault, 5)}},
	}

	got := SelectLatestLabels(assets)
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "d" {
		t.Fatalf("SelectLatestLabels() kept %v, want [a d]", got)
	}
	for _, a := range got {
		if len(a.Labels) != 1 {
			t.Errorf("asset %s has %d labels, want 1", a.ID, len(a.Labels))
		}
	}
	if got[0].Labels[0].LabelType != LabelTypeReview {
		t.Errorf("asset a kept a %s label, want REVIEW", got[0].Labels[0].LabelType)
	}
	if len(assets[0].Labels) != 2 {
		t.Error("SelectLatestLabels() modified its input")
	}
}

func TestFromKiliSquare(t *testing.T) {
	assets := []Asset{{
		ID:     "img1",
		Labels: []Label{label(LabelTypeDefault, 0, rect("car", 0.1, 0.2, 0.5, 0.6))},
	}}

	data, err := FromKili(assets, Vocabulary{"person", "car"})
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != 1 || len(data[0].Annotations) != 1 {
		t.Fatalf("FromKili() = %+v, want one file with one annotation", data)
	}
	if data[0].FilePath != "img1.jpg" {
		t.Errorf("FilePath = %q, want img1.jpg", data[0].FilePath)
	}

	got := ToYOLO(data)[0].Annotations[0].String()
	if want := "1 0.3 0.4 0.4 0.4"; got != want {
		t.Errorf("record = %q, want %q", got, want)
	}
}

func TestFromKiliIterationOrder(t *testing.T) {
	l := Label{
		LabelType: LabelTypeDefault,
		JSONResponse: JSONResponse{
			{Name: "JOB_2", Annotations: []KiliAnnotation{rect("b", 0, 0, 0.2, 0.2), rect("a", 0, 0, 0.4, 0.4)}},
			{Name: "CLASSIFICATION_JOB"},
			{Name: "JOB_1", Annotations: []KiliAnnotation{rect("c", 0, 0, 0.6, 0.6)}},
		},
	}
	data, err := FromKili([]Asset{{ID: "x", Labels: []Label{l}}}, Vocabulary{"a", "b", "c"})
	if err != nil {
		t.Fatal(err)
	}

	var categories []int
	for _, a := range data[0].Annotations {
		categories = append(categories, a.Category)
	}
	if len(categories) != 3 || categories[0] != 1 || categories[1] != 0 || categories[2] != 2 {
		t.Errorf("categories = %v, want [1 0 2]", categories)
	}
}

func TestFromKiliUnknownCategory(t *testing.T) {
	assets := []Asset{{
		ID:     "img7",
		Labels: []Label{label(LabelTypeReview, 0, rect("car", 0, 0, 1, 1), rect("truck", 0, 0, 1, 1))},
	}}

	_, err := FromKili(assets, Vocabulary{"car"})
	if !errors.Is(err, ErrUnknownCategory) {
		t.Fatalf("FromKili() error = %v, want ErrUnknownCategory", err)
	}
	var uc *UnknownCategoryError
	if !errors.As(err, &uc) || uc.Name != "truck" || uc.AssetID != "img7" {
		t.Errorf("error = %#v, want truck in img7", err)
	}
}

func TestFromKiliUnknownCategoryWithoutPolygon(t *testing.T) {
	a := KiliAnnotation{Categories: []Category{{Name: "bus"}}}
	assets := []Asset{{ID: "x", Labels: []Label{label(LabelTypeDefault, 0, a)}}}

	if _, err := FromKili(assets, Vocabulary{"car"}); !errors.Is(err, ErrUnknownCategory) {
		t.Errorf("FromKili() error = %v, want ErrUnknownCategory", err)
	}
}

func TestFromKiliSkipsMalformedAnnotations(t *testing.T) {
	noPolygon := KiliAnnotation{Categories: []Category{{Name: "car"}}}
	noVertices := KiliAnnotation{
		Categories:   []Category{{Name: "car"}},
		BoundingPoly: []Polygon{{}},
	}
	assets := []Asset{
		{ID: "x", Labels: []Label{label(LabelTypeDefault, 0,
			noPolygon, noVertices, rect("car", 0.2, 0.2, 0.4, 0.4))}},
		{ID: "y", Labels: []Label{label(LabelTypeDefault, 0, noPolygon)}},
	}

	data, err := FromKili(assets, Vocabulary{"car"})
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != 2 {
		t.Fatalf("got %d files, want 2", len(data))
	}
	if len(data[0].Annotations) != 1 {
		t.Errorf("asset x has %d annotations, want 1", len(data[0].Annotations))
	}
	if len(data[1].Annotations) != 0 {
		t.Errorf("asset y has %d annotations, want 0", len(data[1].Annotations))
	}
}

func TestFromKiliSkipsIncompleteVertices(t *testing.T) {
	const response = `{"JOB": {"annotations": [
		{"categories": [{"name": "car"}],
			"boundingPoly": [{"normalizedVertices": [{"x": 0.5, "y": 0.6}, {"x": 0.7}]}]},
		{"categories": [{"name": "car"}],
			"boundingPoly": [{"normalizedVertices": [{"y": 0.1}, {"x": 0.2, "y": null}]}]},
		{"categories": [{"name": "car"}],
			"boundingPoly": [{"normalizedVertices": [{"x": 0, "y": 0}, {"x": 0.5, "y": 1}]}]}
	]}}`
	var jobs JSONResponse
	if err := json.Unmarshal([]byte(response), &jobs); err != nil {
		t.Fatal(err)
	}
	vertices := jobs[0].Annotations[0].BoundingPoly[0].NormalizedVertices
	if !vertices[0].Complete() || vertices[1].Complete() {
		t.Errorf("Complete() = %v, %v, want true, false", vertices[0].Complete(), vertices[1].Complete())
	}

	assets := []Asset{{ID: "x", Labels: []Label{{CreatedAt: t0, LabelType: LabelTypeDefault, JSONResponse: jobs}}}}
	data, err := FromKili(assets, Vocabulary{"car"})
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != 1 || len(data[0].Annotations) != 1 {
		t.Fatalf("got %+v, want one file with one annotation", data)
	}
	if got := ToYOLO(data)[0].Annotations[0].String(); got != "0 0.25 0.5 0.5 1" {
		t.Errorf("record = %q, want %q", got, "0 0.25 0.5 0.5 1")
	}
}

func TestNormalizerMapsLabels(t *testing.T) {
	m, err := NewLabelMapper([]string{"Car=car", "_front="})
	if err != nil {
		t.Fatal(err)
	}
	assets := []Asset{{ID: "x", Labels: []Label{label(LabelTypeDefault, 0, rect("Car_front", 0, 0, 1, 1))}}}

	data, err := Normalizer{Mapper: m, Vocab: Vocabulary{"person", "car"}}.Convert(assets)
	if err != nil {
		t.Fatal(err)
	}
	if a := data[0].Annotations[0]; a.Category != 1 || a.Label != "car" {
		t.Errorf("annotation = %+v, want car (1)", a)
	}

	if _, err := NewLabelMapper([]string{"novalue"}); err == nil {
		t.Error("NewLabelMapper() accepted an invalid mapping")
	}
}

func TestJSONResponseUnmarshal(t *testing.T) {
	const response = `{
		"JOB_B": {"annotations": [{"categories": [{"name": "car"}],
			"boundingPoly": [{"normalizedVertices": [{"x": 0.1, "y": 0.2}, {"x": 0.3, "y": 0.4}]}]}]},
		"CLASSIFICATION": {"categories": [{"name": "day"}]},
		"JOB_A": {"annotations": []},
		"SCALAR": 3
	}`
	stringEncoded, err := json.Marshal(response)
	if err != nil {
		t.Fatal(err)
	}

	for name, input := range map[string]string{"object": response, "string": string(stringEncoded)} {
		t.Run(name, func(t *testing.T) {
			var l Label
			doc := `{"createdAt": "2022-05-10T12:34:56.789Z", "labelType": "REVIEW", "jsonResponse": ` +
				input + `}`
			if err := json.Unmarshal([]byte(doc), &l); err != nil {
				t.Fatal(err)
			}

			if l.LabelType != LabelTypeReview || l.CreatedAt.Year() != 2022 {
				t.Errorf("label = %+v", l)
			}
			var names []string
			for _, j := range l.JSONResponse {
				names = append(names, j.Name)
			}
			want := []string{"JOB_B", "CLASSIFICATION", "JOB_A", "SCALAR"}
			if len(names) != len(want) {
				t.Fatalf("jobs = %v, want %v", names, want)
			}
			for i := range want {
				if names[i] != want[i] {
					t.Fatalf("jobs = %v, want %v", names, want)
				}
			}

			job := l.JSONResponse[0]
			if len(job.Annotations) != 1 || len(job.Annotations[0].BoundingPoly[0].NormalizedVertices) != 2 {
				t.Errorf("job JOB_B = %+v", job)
			}
			if l.JSONResponse[1].Annotations != nil || l.JSONResponse[3].Annotations != nil {
				t.Error("jobs without annotations must have none")
			}
		})
	}
}

func TestJSONResponseUnmarshalNull(t *testing.T) {
	var r JSONResponse
	for _, input := range []string{`null`, `""`} {
		if err := json.Unmarshal([]byte(input), &r); err != nil || r != nil {
			t.Errorf("Unmarshal(%s) = %v, %v", input, r, err)
		}
	}
	if err := json.Unmarshal([]byte(`[1, 2]`), &r); err == nil {
		t.Error("Unmarshal() accepted an array")
	}
}

func TestAnnotatedFilesSplit(t *testing.T) {
	var data AnnotatedFiles
	for i := 0; i < 50; i++ {
		data = append(data, AnnotatedFile{FilePath: fmt.Sprintf("dir/%d.jpg", i)})
	}

	tests := []struct {
		splits  []int
		want    []int
		wantErr bool
	}{
		{splits: []int{100}, want: []int{50}},
		{splits: []int{0, 100}, want: []int{0, 50}},
		{splits: []int{100, 100}, want: []int{50, 0}},
		{splits: []int{80, 90}, wantErr: true},
		{splits: []int{60, 40, 100}, wantErr: true},
	}
	for _, tt := range tests {
		got, err := data.Split(tt.splits)
		if tt.wantErr {
			if err == nil {
				t.Errorf("Split(%v) succeeded", tt.splits)
			}
			continue
		}
		if err != nil {
			t.Fatalf("Split(%v): %v", tt.splits, err)
		}
		for i := range tt.want {
			if len(got[i]) != tt.want[i] {
				t.Errorf("Split(%v) part %d has %d files, want %d", tt.splits, i, len(got[i]), tt.want[i])
			}
		}
	}

	// The assignment depends only on the file name.
	a, _ := data.Split([]int{70, 100})
	moved := make(AnnotatedFiles, len(data))
	for i := range data {
		moved[len(data)-1-i] = AnnotatedFile{FilePath: "other/" + filepath.Base(data[i].FilePath)}
	}
	b, _ := moved.Split([]int{70, 100})
	if len(a[0]) != len(b[0]) || len(a[0])+len(a[1]) != len(data) {
		t.Errorf("split sizes %d/%d and %d/%d differ", len(a[0]), len(a[1]), len(b[0]), len(b[1]))
	}
}
