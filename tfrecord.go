package lblfetch

// TFRecord object detection specific functionality.

import (
	"fmt"
	"io"
	"math"
	"os"

	"github.com/golang/protobuf/proto"
	"github.com/ryszard/tfutils/go/example"
	"github.com/ryszard/tfutils/go/tfrecord"
	"github.com/ryszard/tfutils/proto/tensorflow/core/example" // package tensorflow
	protos "github.com/sensorable/lblfetch/protos"
	log "github.com/sirupsen/logrus"
)

// TFFeatureMap maps feature names to their values. Values must be convertible to
// tensorflow.Feature.
type TFFeatureMap map[string]interface{}

// toTFRecord converts the intermediate representation for a single file to the TFRecord format.
// The class IDs are the vocabulary indices plus one, as ID 0 is reserved for the background.
func toTFRecord(fileData AnnotatedFile) (TFFeatureMap, error) {
	// Get the image width and height.
	img, format, err := decodeImageConfig(fileData.FilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to decode the image metadata: %v", err)
	}

	imgData, err := os.ReadFile(fileData.FilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read the image: %v", err)
	}

	f := make(TFFeatureMap, 16)
	f["image/height"] = img.Height
	f["image/width"] = img.Width
	f["image/filename"] = fileData.FilePath
	f["image/source_id"] = fileData.FilePath
	f["image/encoded"] = imgData
	f["image/format"] = format

	// The boxes are already normalised.
	numLabels := len(fileData.Annotations)
	xmins := make([]float32, numLabels)
	ymins := make([]float32, numLabels)
	xmaxs := make([]float32, numLabels)
	ymaxs := make([]float32, numLabels)
	classes := make([]string, numLabels)
	classIDs := make([]int64, numLabels)
	for i, a := range fileData.Annotations {
		b := a.Box.Bounds()
		xmins[i] = float32(b[0])
		ymins[i] = float32(b[1])
		xmaxs[i] = float32(b[2])
		ymaxs[i] = float32(b[3])
		classes[i] = a.Label
		classIDs[i] = int64(a.Category + 1)
	}
	f["image/object/bbox/xmin"] = xmins
	f["image/object/bbox/ymin"] = ymins
	f["image/object/bbox/xmax"] = xmaxs
	f["image/object/bbox/ymax"] = ymaxs
	f["image/object/class/text"] = classes
	f["image/object/class/label"] = classIDs

	return f, nil
}

// WriteTFRecord does a streaming conversion, serialisation and file write for the annotation data
// to one or more TFRecord files stored under recordFilePath (with suffixes added when
// numShards>1). The FilePath of each element must point to a readable image.
//
// The label map for vocab is written to labelMapPath. An existing label map must match vocab, so
// that class IDs stay stable across exports.
func WriteTFRecord(recordFilePath, labelMapPath string, data []AnnotatedFile, vocab Vocabulary,
		numShards int) (err error) {
	defer func() {
		if e := recover(); e != nil {
			err = fmt.Errorf("conversion to TensorFlow Example failed: %v", e)
		}
	}()

	if numShards <= 0 {
		numShards = 1
	}
	if err := checkTFRecordLabelMap(labelMapPath, vocab); err != nil {
		return err
	}

	fmtShardSuffix := func(idx int) string {
		return fmt.Sprintf("-%05d-of-%05d", idx, numShards)
	}

	var shardFile *os.File
	defer func() {
		if shardFile != nil {
			closeWithErrCheck(shardFile, &err)
		}
	}()
	shardSize := int(math.Ceil(float64(len(data)) / float64(numShards)))
	shardIdx := -1

	// Convert and serialise one data element at a time.
	for i, fileData := range data {
		// Check if a new shard file needs to be opened for writing.
		if i%shardSize == 0 {
			shardIdx++

			if shardFile != nil {
				if err := shardFile.Close(); err != nil {
					return err
				}
				shardFile = nil
			}

			shardPath := recordFilePath
			if numShards > 1 {
				shardPath += fmtShardSuffix(shardIdx)
			}
			f, err := os.Create(shardPath)
			if err != nil {
				return fmt.Errorf("failed to create shard at %q: %v", shardPath, err)
			}
			shardFile = f
		}

		features, err := toTFRecord(fileData)
		if err != nil {
			log.Printf("Failed to convert %q: %v", fileData.FilePath, err)
			continue
		}
		tfExample := example.New(features)

		if err := writeTFRecordExample(shardFile, tfExample); err != nil {
			return fmt.Errorf("failed to write example for %q: %w", fileData.FilePath, err)
		}
	}

	return saveTFRecordLabelMap(labelMapPath, vocab)
}

// checkTFRecordLabelMap verifies that an existing label map at path assigns the same IDs as vocab.
// It is not an error if the file does not exist.
func checkTFRecordLabelMap(path string, vocab Vocabulary) error {
	existing, err := loadTFRecordLabelMap(path)
	if os.IsNotExist(err) {
		log.Print("Creating a new label map")
		return nil
	} else if err != nil {
		return fmt.Errorf("failed to read the label map from %q: %v", path, err)
	}

	if len(existing) != len(vocab) {
		return fmt.Errorf("the label map %q has %d classes, expected %d", path, len(existing),
				len(vocab))
	}
	for i := range vocab {
		if existing[i] != vocab[i] {
			return fmt.Errorf("the label map %q assigns ID %d to %q, expected %q", path, i+1,
					existing[i], vocab[i])
		}
	}
	log.Print("Label map loaded successfully")
	return nil
}

// writeTFRecordExample serialises the example and writes it as a TFRecord to w.
func writeTFRecordExample(w io.Writer, e *tensorflow.Example) error {
	enc, err := proto.Marshal(e)
	if err != nil {
		return err
	}

	return tfrecord.Write(w, enc)
}

// tfRecordLabelMap converts vocab to the label map structure.
func tfRecordLabelMap(vocab Vocabulary) *protos.StringIntLabelMap {
	siLabelMap := &protos.StringIntLabelMap{}
	siLabelMap.Item = make([]*protos.StringIntLabelMapItem, 0, len(vocab))
	for i, name := range vocab {
		siLabelMap.Item = append(siLabelMap.Item, &protos.StringIntLabelMapItem{
			Name: proto.String(name),
			Id:   proto.Int32(int32(i + 1)),
		})
	}
	return siLabelMap
}

// saveTFRecordLabelMap converts vocab to prototxt format and writes it to path.
func saveTFRecordLabelMap(path string, vocab Vocabulary) (err error) {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create the label map file %q: %v", path, err)
	}
	defer closeWithErrCheck(file, &err)

	if err := proto.MarshalText(file, tfRecordLabelMap(vocab)); err != nil {
		return fmt.Errorf("failed to write the label map %q: %v", path, err)
	}

	return nil
}

// loadTFRecordLabelMap loads the label map from path and returns it as a vocabulary, ordered by
// ID.
func loadTFRecordLabelMap(path string) (Vocabulary, error) {
	text, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var siLabelMap protos.StringIntLabelMap
	if err := proto.UnmarshalText(string(text), &siLabelMap); err != nil {
		return nil, err
	}

	vocab := make(Vocabulary, len(siLabelMap.Item))
	for _, item := range siLabelMap.Item {
		k, v := item.GetName(), item.GetId()
		if k == "" || v <= 0 || int(v) > len(vocab) || vocab[v-1] != "" {
			return nil, fmt.Errorf("invalid entry: %s: %d", k, v)
		}
		vocab[v-1] = k
	}

	return vocab, nil
}
