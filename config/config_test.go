package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-detections/decoder"
	"github.com/nvr-ai/go-detections/inference"
	"github.com/nvr-ai/go-detections/postprocess"
)

const faceYAML = `
pipeline:
  backend: graph
  decoder:
    num_boxes: 896
    num_coords: 16
    num_classes: 1
    num_keypoints: 6
    keypoint_coord_offset: 4
    x_scale: 128
    y_scale: 128
    h_scale: 128
    w_scale: 128
    sigmoid_score: true
    score_clipping_thresh: 100
    min_score_thresh: 0.5
    label_map:
      0: face
  nms:
    algorithm: weighted
    iou_threshold: 0.3
model:
  path: face_detection_short_range.onnx
  input_name: input
  input_width: 128
  input_height: 128
  output_names: [regressors, classificators]
  provider: cuda
  providers:
    cuda:
      device_id: 1
anchors:
  num_layers: 4
  min_scale: 0.1484375
  max_scale: 0.75
  input_size_width: 128
  input_size_height: 128
  strides: [8, 16, 16, 16]
  aspect_ratios: [1.0]
  fixed_anchor_size: true
`

const faceJSON = `{
  "pipeline": {
    "decoder": {
      "num_boxes": 896,
      "num_coords": 16,
      "num_classes": 1,
      "num_keypoints": 6,
      "keypoint_coord_offset": 4,
      "x_scale": 128, "y_scale": 128, "h_scale": 128, "w_scale": 128,
      "sigmoid_score": true,
      "min_score_thresh": 0.5,
      "label_map": {"0": "face"}
    }
  }
}`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadFileYAML(t *testing.T) {
	f, err := LoadFile(writeFile(t, "face.yaml", faceYAML))
	require.NoError(t, err)

	cfg := f.Pipeline.Decoder
	assert.Equal(t, decoder.BackendGraph, f.Pipeline.Backend)
	assert.Equal(t, decoder.ModeRaw, cfg.Mode)
	assert.Equal(t, 896, cfg.NumBoxes)
	assert.Equal(t, 2, cfg.NumValuesPerKeypoint, "default kept")
	assert.Equal(t, float32(128), cfg.WScale)
	require.NotNil(t, cfg.ScoreClippingThresh)
	assert.Equal(t, float32(100), *cfg.ScoreClippingThresh)
	assert.Nil(t, cfg.MaxResults)
	assert.Equal(t, map[int]string{0: "face"}, cfg.LabelMap)

	require.NotNil(t, f.Pipeline.NMS)
	assert.Equal(t, postprocess.Weighted, f.Pipeline.NMS.Algorithm)

	require.NotNil(t, f.Model)
	assert.Equal(t, inference.ProviderCUDA, f.Model.Provider)
	assert.Equal(t, 1, f.Model.Providers.CUDA.DeviceID)
	args, err := f.Model.SessionArgs(cfg)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3, 128, 128}, args.InputShape)
	assert.Equal(t, [][]int64{{1, 896, 16}, {1, 896, 1}}, args.OutputShapes)

	require.NotNil(t, f.Anchors)
	assert.Equal(t, 4, f.Anchors.NumLayers)
	assert.Equal(t, float32(0.5), f.Anchors.AnchorOffsetX, "default kept")
	assert.Equal(t, float32(1), f.Anchors.InterpolatedScaleAspectRatio, "default kept")
}

func TestLoadJSON(t *testing.T) {
	opts, err := Load(writeFile(t, "face.json", faceJSON))
	require.NoError(t, err)
	assert.Equal(t, decoder.BackendCPU, opts.Backend)
	assert.Equal(t, 6, opts.Decoder.NumKeypoints)
	assert.Equal(t, map[int]string{0: "face"}, opts.Decoder.LabelMap)
	assert.Nil(t, opts.NMS)

	f, err := LoadFile(writeFile(t, "face.json", faceJSON))
	require.NoError(t, err)
	assert.Nil(t, f.Model)
	assert.Nil(t, f.Anchors)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		wantErr error
	}{
		{
			name:    "unknown extension",
			file:    "face.toml",
			content: "num_boxes = 1",
			wantErr: ErrUnsupportedFile,
		},
		{
			name:    "too large",
			file:    "big.yaml",
			content: "# " + strings.Repeat("x", MaxFileSize),
			wantErr: ErrUnsupportedFile,
		},
		{
			name:    "invalid decoder config",
			file:    "bad.yaml",
			content: "pipeline:\n  decoder:\n    num_boxes: 1\n    num_classes: 1\n    num_coords: 10\n",
			wantErr: decoder.ErrInvalidConfig,
		},
		{
			name:    "invalid model section",
			file:    "bad.json",
			content: `{"pipeline": {"decoder": {"num_boxes": 1, "num_classes": 1, "num_coords": 4}}, "model": {"path": "m.onnx", "input_name": "in", "input_width": 0, "input_height": 8, "output_names": ["a", "b"]}}`,
			wantErr: decoder.ErrInvalidConfig,
		},
		{
			name:    "output count does not fit mapping",
			file:    "bad.yaml",
			content: "pipeline:\n  decoder:\n    num_boxes: 1\n    num_classes: 1\n    num_coords: 4\nmodel:\n  path: m.onnx\n  input_name: in\n  input_width: 8\n  input_height: 8\n  output_names: [boxes]\n",
			wantErr: decoder.ErrInvalidConfig,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tt.file, tt.content))
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	_, err := Load(writeFile(t, "typo.yaml", "pipeline:\n  decoder:\n    num_box: 1\n"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "typo.json", `{"pipeline": {"decodr": {}}}`))
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
