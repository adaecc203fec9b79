//go:build !(ORT || ALL)

package models

// The pure-Go build carries no accelerator-capable backend.
const acceleratorSupported = false
