package api

import _ "embed"

// OpenAPISpec отдаётся роутером на /swagger/openapi.json.
//
//go:embed openapi.json
var OpenAPISpec []byte
