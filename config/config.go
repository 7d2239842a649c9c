// Package config - Loading detector configuration files.
package config

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/nvr-ai/go-detections/anchors"
	"github.com/nvr-ai/go-detections/decoder"
	"github.com/nvr-ai/go-detections/inference"
	"github.com/nvr-ai/go-detections/pipeline"
)

// MaxFileSize is the largest configuration file Load accepts.
const MaxFileSize = 1 << 20

// ErrUnsupportedFile is returned for files with an unknown extension or over
// MaxFileSize.
var ErrUnsupportedFile = errors.New("unsupported config file")

// Model describes the ONNX model feeding the pipeline.
type Model struct {
	Path        string `json:"path"         yaml:"path"`
	InputName   string `json:"input_name"   yaml:"input_name"`
	InputWidth  int    `json:"input_width"  yaml:"input_width"`
	InputHeight int    `json:"input_height" yaml:"input_height"`
	// OutputNames lists the model outputs in tensor mapping order.
	OutputNames []string                  `json:"output_names" yaml:"output_names"`
	Provider    inference.Provider        `json:"provider"     yaml:"provider"`
	Providers   inference.ProviderOptions `json:"providers"    yaml:"providers"`
	Threads     int                       `json:"threads"      yaml:"threads"`
}

// SessionArgs returns the inference session arguments for a model whose
// outputs feed cfg.
func (m Model) SessionArgs(cfg decoder.Config) (inference.SessionArgs, error) {
	shapes, err := inference.OutputShapesFor(cfg, len(m.OutputNames))
	if err != nil {
		return inference.SessionArgs{}, err
	}
	return inference.SessionArgs{
		ModelPath:    m.Path,
		InputName:    m.InputName,
		InputShape:   []int64{1, 3, int64(m.InputHeight), int64(m.InputWidth)},
		OutputNames:  m.OutputNames,
		OutputShapes: shapes,
		Provider:     m.Provider,
		Options:      m.Providers,
		Threads:      m.Threads,
	}, nil
}

// File is the full configuration file. Only Pipeline is required.
type File struct {
	Pipeline pipeline.Options `json:"pipeline" yaml:"pipeline"`
	Model    *Model           `json:"model,omitempty"   yaml:"model,omitempty"`
	// Anchors generates the anchor list when the model does not output one.
	Anchors *anchors.GenerateOptions `json:"anchors,omitempty" yaml:"anchors,omitempty"`
}

// Validate checks the pipeline options and, when present, the model section.
func (f File) Validate() error {
	if err := f.Pipeline.Validate(); err != nil {
		return err
	}
	if f.Model == nil {
		return nil
	}
	if f.Model.InputWidth <= 0 || f.Model.InputHeight <= 0 {
		return errors.Wrapf(decoder.ErrInvalidConfig, "model input size %dx%d must be positive",
			f.Model.InputWidth, f.Model.InputHeight)
	}
	args, err := f.Model.SessionArgs(f.Pipeline.Decoder)
	if err != nil {
		return errors.Wrap(decoder.ErrInvalidConfig, err.Error())
	}
	if err := args.Validate(); err != nil {
		return errors.Wrap(decoder.ErrInvalidConfig, err.Error())
	}
	return nil
}

// Load reads the pipeline options from a YAML or JSON file.
//
// Arguments:
//   - path: a .yaml, .yml or .json file of at most MaxFileSize bytes.
//
// Returns:
//   - pipeline.Options: the validated options.
//   - error: ErrUnsupportedFile, a parse error, or decoder.ErrInvalidConfig.
func Load(path string) (pipeline.Options, error) {
	f, err := LoadFile(path)
	if err != nil {
		return pipeline.Options{}, err
	}
	return f.Pipeline, nil
}

// LoadFile reads and validates a whole configuration file. Fields absent from
// the file keep the values of pipeline.DefaultOptions and
// anchors.DefaultGenerateOptions.
func LoadFile(path string) (File, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" && ext != ".json" {
		return File{}, errors.Wrapf(ErrUnsupportedFile, "%s: extension %q", path, ext)
	}
	info, err := os.Stat(path)
	if err != nil {
		return File{}, errors.Wrap(err, "reading config")
	}
	if info.Size() > MaxFileSize {
		return File{}, errors.Wrapf(ErrUnsupportedFile, "%s: %d bytes exceeds %d", path, info.Size(), MaxFileSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, errors.Wrap(err, "reading config")
	}

	f, err := parse(data, ext == ".json")
	if err != nil {
		return File{}, errors.Wrapf(err, "parsing %s", path)
	}
	if err := f.Validate(); err != nil {
		return File{}, errors.Wrapf(err, "validating %s", path)
	}
	return f, nil
}

func parse(data []byte, isJSON bool) (File, error) {
	// Decode over defaults so omitted fields keep them.
	f := File{Pipeline: pipeline.DefaultOptions()}
	gen := anchors.DefaultGenerateOptions()
	f.Anchors = &gen

	if isJSON {
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&f); err != nil {
			return File{}, err
		}
	} else {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&f); err != nil {
			return File{}, err
		}
	}

	// Generation needs at least one layer, so zero layers means no anchors section.
	if f.Anchors != nil && f.Anchors.NumLayers == 0 {
		f.Anchors = nil
	}
	return f, nil
}
