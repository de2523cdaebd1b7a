// Package backend provides the model connectors and their registry.
//
// # Overview
//
// Every supported provider speaks the OpenAI-compatible chat completions
// protocol, so a single Client covers them all; only the base URL, the API
// key and the served model set differ. The Registry holds one connector per
// provider and resolves a model identifier to the connector that serves it.
//
// # Resolution
//
// Resolution never fails: a model no provider claims routes to the primary
// (OpenAI) connector. This keeps stored conversations working even when
// their model disappears from the catalog.
//
//	registry := backend.NewRegistry(cfg.Providers)
//	client := registry.Resolve("deepseek-chat")
//	reply, err := client.Complete(ctx, "deepseek-chat", messages)
//
// The catalog in registry.go is display metadata for the selection menu and
// is deliberately separate from the routing sets.
//
// # Image Generation
//
// The primary connector also serves image generation via the images API:
//
//	img, err := registry.Primary().GenerateImage(ctx, prompt)
package backend
