// Package docs registers the Swagger template served at /docs. Keep it in
// step with the swag annotations on the handlers in internal/api/handlers.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/": {
            "get": {
                "description": "Get basic worker information and capabilities",
                "produces": ["application/json"],
                "tags": ["health"],
                "summary": "Worker information",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.WorkerInfoResponse"}}
                }
            }
        },
        "/health": {
            "get": {
                "description": "Check if the worker is healthy and responsive",
                "produces": ["application/json"],
                "tags": ["health"],
                "summary": "Health check",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.HealthResponse"}}
                }
            }
        },
        "/pipeline/play": {
            "post": {
                "description": "Start ingestion, batching and inference for all sources. No-op when already playing.",
                "produces": ["application/json"],
                "tags": ["pipeline"],
                "summary": "Start the pipeline",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.SuccessResponse"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/pipeline/stop": {
            "post": {
                "description": "Stop all sources and wait for in-flight work to finish. No-op when already stopped.",
                "produces": ["application/json"],
                "tags": ["pipeline"],
                "summary": "Stop the pipeline",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.SuccessResponse"}}
                }
            }
        },
        "/pipeline/status": {
            "get": {
                "produces": ["application/json"],
                "tags": ["pipeline"],
                "summary": "Pipeline status",
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object"}}
                }
            }
        },
        "/sources": {
            "get": {
                "description": "List configured sources in slot order",
                "produces": ["application/json"],
                "tags": ["sources"],
                "summary": "List sources",
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "array", "items": {"$ref": "#/definitions/models.SourceResponse"}}}
                }
            }
        },
        "/sources/{index}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["sources"],
                "summary": "Get source details",
                "parameters": [{"type": "integer", "description": "Source slot", "name": "index", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/models.SourceResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/sources/{index}/counts": {
            "get": {
                "description": "Per-frame counts, most recent last",
                "produces": ["application/json"],
                "tags": ["sources"],
                "summary": "Recent counts",
                "parameters": [{"type": "integer", "description": "Source slot", "name": "index", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.CountsResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/sources/{index}/positions": {
            "get": {
                "description": "Per-frame inset rectangles, most recent last",
                "produces": ["application/json"],
                "tags": ["sources"],
                "summary": "Recent positions",
                "parameters": [{"type": "integer", "description": "Source slot", "name": "index", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.PositionsResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/sources/{index}/frame.jpg": {
            "get": {
                "produces": ["image/jpeg"],
                "tags": ["sources"],
                "summary": "Latest frame",
                "parameters": [{"type": "integer", "description": "Source slot", "name": "index", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "file"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/sources/{index}/mjpeg": {
            "get": {
                "produces": ["multipart/x-mixed-replace"],
                "tags": ["sources"],
                "summary": "MJPEG stream",
                "parameters": [{"type": "integer", "description": "Source slot", "name": "index", "in": "path", "required": true}],
                "responses": {}
            }
        },
        "/sources/{index}/ws": {
            "get": {
                "tags": ["sources"],
                "summary": "Live detections",
                "parameters": [{"type": "integer", "description": "Source slot", "name": "index", "in": "path", "required": true}],
                "responses": {}
            }
        },
        "/system/stats": {
            "get": {
                "description": "Get process and pipeline statistics",
                "produces": ["application/json"],
                "tags": ["system"],
                "summary": "Get system stats",
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object", "additionalProperties": true}}
                }
            }
        }
    },
    "definitions": {
        "handlers.CountsResponse": {
            "type": "object",
            "properties": {
                "counts": {"type": "array", "items": {"type": "integer"}},
                "source_index": {"type": "integer", "example": 0}
            }
        },
        "handlers.ErrorResponse": {
            "type": "object",
            "properties": {
                "error": {"type": "string", "example": "source not found"}
            }
        },
        "handlers.HealthResponse": {
            "type": "object",
            "properties": {
                "pipeline": {"type": "string", "example": "playing"},
                "status": {"type": "string", "example": "healthy"},
                "worker_id": {"type": "string", "example": "worker-1"}
            }
        },
        "handlers.PositionsResponse": {
            "type": "object",
            "properties": {
                "positions": {"type": "array", "items": {"type": "array", "items": {"$ref": "#/definitions/models.Rectangle"}}},
                "source_index": {"type": "integer", "example": 0}
            }
        },
        "handlers.SuccessResponse": {
            "type": "object",
            "properties": {
                "message": {"type": "string", "example": "Pipeline playing"}
            }
        },
        "handlers.WorkerInfoResponse": {
            "type": "object",
            "properties": {
                "capabilities": {"type": "array", "items": {"type": "string"}},
                "status": {"type": "string", "example": "running"},
                "version": {"type": "string", "example": "1.0.0"},
                "worker_id": {"type": "string", "example": "worker-1"}
            }
        },
        "models.Rectangle": {
            "type": "object",
            "properties": {
                "x1": {"type": "integer"},
                "x2": {"type": "integer"},
                "y1": {"type": "integer"},
                "y2": {"type": "integer"}
            }
        },
        "models.SourceResponse": {
            "type": "object",
            "properties": {
                "address": {"type": "string"},
                "created_at": {"type": "string"},
                "frames_stored": {"type": "integer"},
                "index": {"type": "integer"},
                "internal_id": {"type": "integer"},
                "last_count": {"type": "integer"},
                "last_seq": {"type": "integer"},
                "live": {"type": "boolean"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{"http", "https"},
	Title:            "Kepler Multi-Camera Worker API",
	Description:      "Batched people detection across multiple RTSP/file sources with per-source counts, positions and annotated frames",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
