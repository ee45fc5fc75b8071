// Package gateway defines the capability boundary to the external generative
// model provider. The core pipeline depends only on this interface; concrete
// adapters live under internal/platform.
package gateway

import (
	"context"
	"errors"
)

// ErrUnavailable is returned (wrapped) by adapters when the provider cannot be
// reached or refuses the call: network failure, bad credentials, quota.
// Callers must recover from it per stage, never propagate it to clients.
var ErrUnavailable = errors.New("model gateway unavailable")

// ModelGateway is the provider-agnostic interface to a multimodal model.
// Both methods return unstructured text that is expected, but not guaranteed,
// to embed JSON; callers must treat it as untrusted.
type ModelGateway interface {
	// DescribeImage sends one image together with an instruction prompt and
	// returns the model's raw text response.
	DescribeImage(ctx context.Context, image []byte, prompt string) (string, error)

	// GenerateText sends a text-only prompt, with an optional system preamble
	// (empty string for none), and returns the model's raw text response.
	GenerateText(ctx context.Context, prompt, system string) (string, error)
}
