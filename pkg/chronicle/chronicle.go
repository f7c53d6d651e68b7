// Package chronicle provides the public API for embedding the gateway.
// This is the stable API for external consumers; internal/runtime is the
// implementation.
package chronicle

import (
	"github.com/chronicle-run/chronicle/internal/runtime"
)

// Gateway is the main entry point for running the gateway. See
// internal/runtime.Gateway for full documentation.
type Gateway = runtime.Gateway

// Option is a functional option for configuring a Gateway.
type Option = runtime.Option

// New creates a new Gateway with the given options.
// Example:
//
//	gw, err := chronicle.New(
//	    chronicle.WithConfigPath("config.yaml"),
//	)
var New = runtime.New

// Configuration options
var (
	WithConfigPath = runtime.WithConfigPath
	WithLogger     = runtime.WithLogger
	WithHTTPClient = runtime.WithHTTPClient
)
