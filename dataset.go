package lblfetch

// YOLO dataset configuration (data.yaml).

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// kiliPathMarker marks dataset roots that are backed by a Kili project.
const kiliPathMarker = "/kili/"

var imagesPrefix = regexp.MustCompile(`^images`)

// Dataset is a YOLO dataset definition.
type Dataset struct {
	Path  string     `yaml:"path"`  // The dataset root directory.
	Train string     `yaml:"train"` // The training images, relative to Path.
	Val   string     `yaml:"val,omitempty"`
	Test  string     `yaml:"test,omitempty"`
	NC    int        `yaml:"nc,omitempty"` // The number of classes.
	Names Vocabulary `yaml:"-"`
}

// UnmarshalYAML implements yaml.Unmarshaler. The names may be given as a list or as a map from
// class index to name.
func (d *Dataset) UnmarshalYAML(value *yaml.Node) error {
	type plain Dataset
	var raw struct {
		plain `yaml:",inline"`
		Names yaml.Node `yaml:"names"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	*d = Dataset(raw.plain)

	switch raw.Names.Kind {
	case 0:
		// Absent.
	case yaml.SequenceNode:
		if err := raw.Names.Decode(&d.Names); err != nil {
			return fmt.Errorf("names: %w", err)
		}
	case yaml.MappingNode:
		var m map[int]string
		if err := raw.Names.Decode(&m); err != nil {
			return fmt.Errorf("names: %w", err)
		}
		keys := make([]int, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Ints(keys)
		d.Names = make(Vocabulary, len(keys))
		for i, k := range keys {
			if k != i {
				return fmt.Errorf("names: class indices must be contiguous from 0, missing %d", i)
			}
			d.Names[i] = m[k]
		}
	default:
		return fmt.Errorf("names: expected a list or a map, got %q", raw.Names.Tag)
	}

	if d.NC != 0 && d.NC != len(d.Names) {
		return fmt.Errorf("nc is %d but %d names are defined", d.NC, len(d.Names))
	}
	return nil
}

// LoadDataset reads and parses the dataset definition at path.
func LoadDataset(path string) (*Dataset, error) {
	enc, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var d Dataset
	if err := yaml.Unmarshal(enc, &d); err != nil {
		return nil, fmt.Errorf("failed to parse dataset definition %q: %w", path, err)
	}
	return &d, nil
}

// KiliProjectID returns the Kili project ID, which is the last element of the dataset path. ok
// is false if the dataset is not backed by Kili.
func (d *Dataset) KiliProjectID() (id string, ok bool) {
	if !strings.Contains(d.Path, kiliPathMarker) {
		return "", false
	}
	parts := strings.Split(strings.TrimRight(d.Path, "/"), "/")
	id = parts[len(parts)-1]
	return id, id != ""
}

// ImageDir is the directory for the training images.
func (d *Dataset) ImageDir() string {
	return filepath.Join(d.Path, d.Train)
}

// LabelDir is the directory for the training labels. It mirrors ImageDir, with a leading "images"
// in the training subpath replaced by "labels".
func (d *Dataset) LabelDir() string {
	return labelDir(d.Path, d.Train)
}

// ValImageDir is the directory for the validation images.
func (d *Dataset) ValImageDir() string {
	return filepath.Join(d.Path, d.Val)
}

// ValLabelDir is the directory for the validation labels, derived like LabelDir.
func (d *Dataset) ValLabelDir() string {
	return labelDir(d.Path, d.Val)
}

func labelDir(root, images string) string {
	return filepath.Join(root, imagesPrefix.ReplaceAllString(images, "labels"))
}
