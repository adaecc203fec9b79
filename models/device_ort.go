//go:build ORT || ALL

package models

// The onnxruntime build can place encoder inference on CUDA through the
// runtime's execution providers.
const acceleratorSupported = true
