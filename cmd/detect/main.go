// Command detect runs a detection model over images and prints their detections.
//
// Usage:
//
//	detect -config face.yaml -image frame.jpg [-model m.onnx] [-backend graph] [-nms 0.3] [-out annotated.jpg]
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/nvr-ai/go-detections/anchors"
	"github.com/nvr-ai/go-detections/config"
	"github.com/nvr-ai/go-detections/decoder"
	"github.com/nvr-ai/go-detections/detection"
	"github.com/nvr-ai/go-detections/images"
	"github.com/nvr-ai/go-detections/inference"
	"github.com/nvr-ai/go-detections/pipeline"
	"github.com/nvr-ai/go-detections/postprocess"
)

// flags holds the parsed command line.
type flags struct {
	config      string
	model       string
	image       string
	anchorsJSON string
	backend     string
	out         string
	nms         float64
	verbose     bool
}

func parseFlags(args []string) (flags, error) {
	var f flags
	fs := flag.NewFlagSet("detect", flag.ContinueOnError)
	fs.StringVar(&f.config, "config", "", "Path to the YAML or JSON configuration file")
	fs.StringVar(&f.model, "model", "", "Path to the ONNX model, overriding model.path")
	fs.StringVar(&f.image, "image", "", "Path to the input image (.jpg, .jpeg, .png, .webp) or a directory of images")
	fs.StringVar(&f.anchorsJSON, "anchors-json", "", "Optional JSON file with the anchor list")
	fs.StringVar(&f.backend, "backend", "", "Decoder backend (cpu, graph), overriding pipeline.backend")
	fs.StringVar(&f.out, "out", "", "Optional annotated output image, or output directory when -image is a directory")
	fs.Float64Var(&f.nms, "nms", 0, "Greedy NMS IoU threshold; 0 keeps the configured suppression")
	fs.BoolVar(&f.verbose, "v", false, "Enable debug logging")
	if err := fs.Parse(args); err != nil {
		return flags{}, err
	}
	if f.config == "" || f.image == "" {
		return flags{}, errors.New("-config and -image are required")
	}
	if f.nms < 0 || f.nms > 1 {
		return flags{}, errors.Errorf("-nms %v must be in [0,1]", f.nms)
	}
	return f, nil
}

func main() {
	f, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if f.verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}
	if err := run(f, os.Stdout); err != nil {
		logrus.WithError(err).Fatal("detection failed")
	}
}

// run loads the configuration, runs the model on every input image and writes
// one line per detection to w.
func run(f flags, w io.Writer) error {
	cfg, err := config.LoadFile(f.config)
	if err != nil {
		return err
	}
	applyOverrides(&cfg, f)
	if cfg.Model == nil {
		return errors.Wrap(decoder.ErrInvalidConfig, "configuration has no model section")
	}

	side, err := sideAnchors(f.anchorsJSON, cfg.Anchors)
	if err != nil {
		return err
	}

	p, err := pipeline.New(cfg.Pipeline)
	if err != nil {
		return err
	}
	defer p.Close()

	args, err := cfg.Model.SessionArgs(cfg.Pipeline.Decoder)
	if err != nil {
		return err
	}
	session, err := inference.NewSession(args)
	if err != nil {
		return err
	}
	defer session.Close()

	inputs, err := inputImages(f.image)
	if err != nil {
		return err
	}
	d := &detector{cfg: cfg, pipeline: p, session: session, anchors: side}
	for _, in := range inputs {
		if len(inputs) > 1 {
			fmt.Fprintf(w, "# %s\n", in.Path)
		}
		dets, err := d.detect(in)
		if err != nil {
			return errors.Wrap(err, in.Path)
		}
		for _, det := range dets {
			fmt.Fprintln(w, formatDetection(det))
		}
		if f.out != "" {
			if err := annotate(in.Path, outputPath(f.out, in.Path, len(inputs) > 1), dets); err != nil {
				return err
			}
		}
	}
	logrus.WithFields(logrus.Fields{
		"images":  len(inputs),
		"dropped": p.DroppedTotal(),
	}).Info("detection finished")
	return nil
}

// detector runs one image through the session and the pipeline.
type detector struct {
	cfg      config.File
	pipeline *pipeline.Pipeline
	session  *inference.Session
	anchors  []anchors.Anchor
}

func (d *detector) detect(in images.ImageFile) ([]detection.Detection, error) {
	img, err := openImage(in)
	if err != nil {
		return nil, err
	}
	w, h := d.cfg.Model.InputWidth, d.cfg.Model.InputHeight
	boxed, padding := images.Letterbox(img, w, h)
	input := make([]float32, 3*w*h)
	if err := images.ToCHW(boxed, input); err != nil {
		return nil, err
	}

	outputs, err := d.session.Run(input)
	if err != nil {
		return nil, err
	}
	out, err := d.pipeline.Process(pipeline.Frame{Tensors: outputs, Anchors: d.anchors, Padding: &padding})
	if err != nil {
		return nil, err
	}
	logrus.WithFields(logrus.Fields{
		"image":      in.Path,
		"detections": len(out.Detections),
		"dropped":    out.Dropped,
	}).Debug("frame processed")
	return out.Detections, nil
}

// inputImages returns path itself, or every image in it when path is a
// directory.
func inputImages(path string) ([]images.ImageFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading input")
	}
	if !info.IsDir() {
		format, err := images.FormatFromPath(path)
		if err != nil {
			return nil, err
		}
		return []images.ImageFile{{Path: path, Format: format, Frame: -1}}, nil
	}
	files, err := images.LoadDirectory(path)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, errors.Errorf("no images in %s", path)
	}
	return files, nil
}

// outputPath returns out, or the input's name inside out for directory runs.
func outputPath(out, input string, dir bool) string {
	if !dir {
		return out
	}
	return filepath.Join(out, filepath.Base(input))
}

func applyOverrides(cfg *config.File, f flags) {
	if f.backend != "" {
		cfg.Pipeline.Backend = decoder.Backend(f.backend)
	}
	if f.nms > 0 {
		cfg.Pipeline.NMS = &postprocess.NMSConfig{Algorithm: postprocess.Greedy, IoUThreshold: float32(f.nms)}
	}
	if f.model != "" && cfg.Model != nil {
		cfg.Model.Path = f.model
	}
}

// sideAnchors returns the externally supplied anchor list: the JSON file when
// given, otherwise anchors generated from the configuration, otherwise nil so
// the model's anchor tensor is used.
func sideAnchors(path string, gen *anchors.GenerateOptions) ([]anchors.Anchor, error) {
	if path != "" {
		return readAnchors(path)
	}
	if gen != nil {
		return anchors.Generate(*gen)
	}
	return nil, nil
}

func readAnchors(path string) ([]anchors.Anchor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading anchors")
	}
	var list []anchors.Anchor
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, errors.Wrapf(anchors.ErrInvalidAnchors, "parsing %s: %v", path, err)
	}
	return list, nil
}

func formatDetection(d detection.Detection) string {
	return fmt.Sprintf("%s %.4f %.4f %.4f %.4f %.4f",
		d.Label, d.Score, d.Box.XMin, d.Box.YMin, d.Box.Width, d.Box.Height)
}
