package inference

import (
	"os"
	"runtime"
)

// LibraryEnv overrides the ONNX Runtime shared library location.
const LibraryEnv = "ONNXRUNTIME_LIB"

// SharedLibPath returns the ONNX Runtime shared library for this platform. The
// LibraryEnv variable takes precedence over the bundled third_party paths.
func SharedLibPath() string {
	if p := os.Getenv(LibraryEnv); p != "" {
		return p
	}
	return defaultLibPath(runtime.GOOS, runtime.GOARCH)
}

func defaultLibPath(goos, goarch string) string {
	switch goos {
	case "windows":
		return "./third_party/onnxruntime.dll"
	case "darwin":
		return "./third_party/libonnxruntime.1.23.0.dylib"
	default:
		if goarch == "arm64" {
			return "./third_party/onnxruntime_arm64.so"
		}
		return "./third_party/onnxruntime.so"
	}
}
