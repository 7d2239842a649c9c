package main

import (
	"image"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-detections/anchors"
	"github.com/nvr-ai/go-detections/config"
	"github.com/nvr-ai/go-detections/decoder"
	"github.com/nvr-ai/go-detections/detection"
	"github.com/nvr-ai/go-detections/images"
	"github.com/nvr-ai/go-detections/postprocess"
)

func TestParseFlags(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr bool
	}{
		{"minimal", []string{"-config", "c.yaml", "-image", "i.jpg"}, false},
		{"all", []string{"-config", "c.yaml", "-image", "i.jpg", "-backend", "graph", "-nms", "0.4", "-out", "o.jpg"}, false},
		{"missing image", []string{"-config", "c.yaml"}, true},
		{"nms out of range", []string{"-config", "c.yaml", "-image", "i.jpg", "-nms", "1.5"}, true},
		{"unknown flag", []string{"-config", "c.yaml", "-image", "i.jpg", "-gpu"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseFlags(tt.args)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestApplyOverrides(t *testing.T) {
	cfg := config.File{Model: &config.Model{Path: "a.onnx"}}
	applyOverrides(&cfg, flags{backend: "graph", nms: 0.45, model: "b.onnx"})

	assert.Equal(t, decoder.BackendGraph, cfg.Pipeline.Backend)
	require.NotNil(t, cfg.Pipeline.NMS)
	assert.Equal(t, postprocess.Greedy, cfg.Pipeline.NMS.Algorithm)
	assert.InDelta(t, 0.45, cfg.Pipeline.NMS.IoUThreshold, 1e-6)
	assert.Equal(t, "b.onnx", cfg.Model.Path)
}

func TestSideAnchors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "anchors.json")
	require.NoError(t, os.WriteFile(path,
		[]byte(`[{"y_center": 0.25, "x_center": 0.5, "h": 1, "w": 1}]`), 0o600))

	list, err := sideAnchors(path, nil)
	require.NoError(t, err)
	assert.Equal(t, []anchors.Anchor{{YCenter: 0.25, XCenter: 0.5, H: 1, W: 1}}, list)

	bad := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"y_center": 1}`), 0o600))
	_, err = sideAnchors(bad, nil)
	assert.ErrorIs(t, err, anchors.ErrInvalidAnchors)

	list, err = sideAnchors("", nil)
	require.NoError(t, err)
	assert.Nil(t, list)

	gen := anchors.DefaultGenerateOptions()
	gen.NumLayers, gen.MinScale, gen.MaxScale = 1, 0.2, 0.2
	gen.InputSizeWidth, gen.InputSizeHeight = 16, 16
	gen.Strides, gen.AspectRatios = []int{8}, []float32{1}
	gen.FixedAnchorSize = true
	list, err = sideAnchors("", &gen)
	require.NoError(t, err)
	assert.Len(t, list, 2*2*2)
}

func TestFormatDetection(t *testing.T) {
	d := detection.Detection{
		Score: 0.875,
		Label: detection.NameLabel("face"),
		Box:   detection.BoundingBox{XMin: 0.1, YMin: 0.2, Width: 0.3, Height: 0.4},
	}
	assert.Equal(t, "face 0.8750 0.1000 0.2000 0.3000 0.4000", formatDetection(d))
	assert.Equal(t, "face 0.88", formatLabel(d))
}

func TestPixelRect(t *testing.T) {
	b := detection.BoundingBox{XMin: 0.5, YMin: -0.25, Width: 0.75, Height: 0.5}
	assert.Equal(t, image.Rect(50, 0, 100, 25), pixelRect(b, 100, 100))
}

func TestInputImages(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"frame-1.jpg", "frame-0.png", "readme.md"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o600))
	}

	files, err := inputImages(dir)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, filepath.Join(dir, "frame-0.png"), files[0].Path)

	files, err = inputImages(filepath.Join(dir, "frame-1.jpg"))
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, images.FormatJPEG, files[0].Format)

	_, err = inputImages(filepath.Join(dir, "readme.md"))
	assert.ErrorIs(t, err, images.ErrUnsupportedFormat)

	_, err = inputImages(t.TempDir())
	assert.Error(t, err)
}

func TestOutputPath(t *testing.T) {
	assert.Equal(t, "out.jpg", outputPath("out.jpg", "in/a.jpg", false))
	assert.Equal(t, filepath.Join("out", "a.jpg"), outputPath("out", "in/a.jpg", true))
}
