package models

import "github.com/phuslu/log"

// Device is an immutable placement decision, made once when a learner is
// constructed and never migrated afterwards.
type Device struct {
	Kind        string
	Accelerator bool
}

// ResolveDevice turns a requested device kind ("cpu" or "cuda") into the
// device the process can actually use. When no accelerator support is
// compiled in or none is available the request falls back to the CPU with a
// single log line, it is not an error.
func ResolveDevice(requested string) Device {
	switch requested {
	case "", "cpu":
		return Device{Kind: "cpu"}
	case "cuda":
		if acceleratorSupported {
			log.Info().Msg("Accelerator found.")
			return Device{Kind: "cuda", Accelerator: true}
		}
		log.Info().Msg("No accelerator found, falling back to CPU.")
		return Device{Kind: "cpu"}
	default:
		log.Warn().Str("device", requested).Msg("Unknown device kind, falling back to CPU.")
		return Device{Kind: "cpu"}
	}
}
