// Package api holds the OpenAPI description of the serve command's HTTP surface.
package api

import _ "embed"

// OpenAPI is the contents of openapi.yaml, compiled into the binary.
//
//go:embed openapi.yaml
var OpenAPI []byte
