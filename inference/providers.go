package inference

import (
	"fmt"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

// Provider names an ONNX Runtime execution provider.
type Provider string

const (
	ProviderCPU      Provider = "cpu"
	ProviderCUDA     Provider = "cuda"
	ProviderCoreML   Provider = "coreml"
	ProviderOpenVINO Provider = "openvino"
)

// ErrUnknownProvider is returned for a provider name this package cannot
// configure.
var ErrUnknownProvider = errors.New("unknown execution provider")

// CUDAOptions configures the CUDA execution provider.
type CUDAOptions struct {
	DeviceID            int   `json:"device_id" yaml:"device_id"`
	GPUMemLimit         int64 `json:"gpu_mem_limit" yaml:"gpu_mem_limit"`
	ArenaExtendStrategy int   `json:"arena_extend_strategy" yaml:"arena_extend_strategy"`
	CudnnConvAlgoSearch int   `json:"cudnn_conv_algo_search" yaml:"cudnn_conv_algo_search"`
	// DoCopyInDefaultStream makes host/device copies use the default stream.
	DoCopyInDefaultStream bool `json:"do_copy_in_default_stream" yaml:"do_copy_in_default_stream"`
	EnableCudaGraph       bool `json:"enable_cuda_graph" yaml:"enable_cuda_graph"`
	UseTF32               bool `json:"use_tf32" yaml:"use_tf32"`
}

// Map returns the options as ONNX Runtime CUDA provider keys. A zero
// GPUMemLimit leaves the runtime default in place.
func (o CUDAOptions) Map() map[string]string {
	m := map[string]string{
		"device_id":                 fmt.Sprintf("%d", o.DeviceID),
		"arena_extend_strategy":     arenaStrategy(o.ArenaExtendStrategy),
		"cudnn_conv_algo_search":    convAlgoSearch(o.CudnnConvAlgoSearch),
		"do_copy_in_default_stream": boolFlag(o.DoCopyInDefaultStream),
		"enable_cuda_graph":         boolFlag(o.EnableCudaGraph),
		"use_tf32":                  boolFlag(o.UseTF32),
	}
	if o.GPUMemLimit > 0 {
		m["gpu_mem_limit"] = fmt.Sprintf("%d", o.GPUMemLimit)
	}
	return m
}

func (o CUDAOptions) native() (*ort.CUDAProviderOptions, error) {
	opts, err := ort.NewCUDAProviderOptions()
	if err != nil {
		return nil, err
	}
	if err := opts.Update(o.Map()); err != nil {
		opts.Destroy()
		return nil, err
	}
	return opts, nil
}

// CoreMLOptions configures the CoreML execution provider.
type CoreMLOptions struct {
	// Flags is the COREML_FLAG_* bit set passed to the provider.
	Flags uint32 `json:"flags" yaml:"flags"`
}

// OpenVINOOptions configures the OpenVINO execution provider.
type OpenVINOOptions struct {
	DeviceType   string `json:"device_type" yaml:"device_type"`
	Precision    string `json:"precision" yaml:"precision"`
	NumOfThreads int    `json:"num_of_threads" yaml:"num_of_threads"`
	NumStreams   int    `json:"num_streams" yaml:"num_streams"`
	CacheDir     string `json:"cache_dir" yaml:"cache_dir"`
}

// Map returns the non-zero options as ONNX Runtime OpenVINO provider keys.
func (o OpenVINOOptions) Map() map[string]string {
	m := map[string]string{}
	if o.DeviceType != "" {
		m["device_type"] = o.DeviceType
	}
	if o.Precision != "" {
		m["precision"] = o.Precision
	}
	if o.NumOfThreads > 0 {
		m["num_of_threads"] = fmt.Sprintf("%d", o.NumOfThreads)
	}
	if o.NumStreams > 0 {
		m["num_streams"] = fmt.Sprintf("%d", o.NumStreams)
	}
	if o.CacheDir != "" {
		m["cache_dir"] = o.CacheDir
	}
	return m
}

// ProviderOptions groups the per-provider settings. Only the block matching the
// selected Provider is read.
type ProviderOptions struct {
	CUDA     CUDAOptions     `json:"cuda" yaml:"cuda"`
	CoreML   CoreMLOptions   `json:"coreml" yaml:"coreml"`
	OpenVINO OpenVINOOptions `json:"openvino" yaml:"openvino"`
}

// appendProvider enables p on the session options. The CPU provider needs no
// registration.
func appendProvider(so *ort.SessionOptions, p Provider, opts ProviderOptions) error {
	switch p {
	case "", ProviderCPU:
		return nil
	case ProviderCUDA:
		cuda, err := opts.CUDA.native()
		if err != nil {
			return errors.Wrap(err, "creating CUDA provider options")
		}
		defer cuda.Destroy()
		return errors.Wrap(so.AppendExecutionProviderCUDA(cuda), "enabling CUDA")
	case ProviderCoreML:
		return errors.Wrap(so.AppendExecutionProviderCoreML(opts.CoreML.Flags), "enabling CoreML")
	case ProviderOpenVINO:
		return errors.Wrap(so.AppendExecutionProviderOpenVINO(opts.OpenVINO.Map()), "enabling OpenVINO")
	default:
		return errors.Wrapf(ErrUnknownProvider, "%q", p)
	}
}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func arenaStrategy(v int) string {
	if v == 1 {
		return "kSameAsRequested"
	}
	return "kNextPowerOfTwo"
}

func convAlgoSearch(v int) string {
	switch v {
	case 1:
		return "HEURISTIC"
	case 2:
		return "DEFAULT"
	default:
		return "EXHAUSTIVE"
	}
}
