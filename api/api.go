// Package api holds the HTTP API description served by the server.
package api

import _ "embed"

// OpenAPISpec is the OpenAPI 3 document for the letmeask HTTP API.
//
//go:embed openapi/openapi.yaml
var OpenAPISpec []byte
