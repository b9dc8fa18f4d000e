package audit

import (
	"strings"
)

// resourceSegments are the collection names that appear in tracker URLs,
// in both the HTML routes and under /api/v1.
var resourceSegments = map[string]string{
	"components":  "component",
	"tests":       "test",
	"connections": "connection",
	"logs":        "log",
	"jobs":        "job",
	"images":      "image",
}

func pathParts(path string) []string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) >= 2 && parts[0] == "api" && strings.HasPrefix(parts[1], "v") {
		parts = parts[2:]
	}
	return parts
}

// extractResource returns the resource type and id addressed by a path.
// For /api/v1/components/M-1/install it returns ("component", "M-1").
// For /components/M-1/log it returns ("component", "M-1").
// For /upload/edge-image it returns ("upload", "edge-image").
// Only the first collection counts, so /tests/7/files is ("test", "7").
func extractResource(path string) (resourceType, resourceID string) {
	parts := pathParts(path)
	if len(parts) == 0 || parts[0] == "" {
		return "", ""
	}
	if parts[0] == "upload" {
		if len(parts) > 1 {
			return "upload", parts[1]
		}
		return "upload", ""
	}

	for i, p := range parts {
		kind, ok := resourceSegments[p]
		if !ok {
			continue
		}
		if i+1 < len(parts) {
			return kind, parts[i+1]
		}
		return kind, ""
	}
	return "", ""
}

// extractActionVerb returns a human-readable action name from the HTTP method and path.
func extractActionVerb(method, path string) string {
	parts := pathParts(path)
	if n := len(parts); n >= 3 {
		switch last := parts[n-1]; last {
		case "install", "remove", "assemble", "disassemble", "status",
			"resolve", "cancel", "result", "attributes", "location", "log", "images":
			return last
		}
	}
	if len(parts) == 2 && parts[0] == "upload" {
		return "upload-" + parts[1]
	}

	switch method {
	case "POST":
		return "create"
	case "PUT":
		return "update"
	case "PATCH":
		return "patch"
	case "DELETE":
		return "delete"
	default:
		return strings.ToLower(method)
	}
}

// isAudited returns true if the request should be recorded. Mutating
// methods are audited; browsing (GET, HEAD) and health checks are not.
func isAudited(method, path string) bool {
	if isHealthEndpoint(path) {
		return false
	}
	switch method {
	case "POST", "PUT", "PATCH", "DELETE":
		return true
	}
	return false
}

// isHealthEndpoint returns true for health-check paths.
func isHealthEndpoint(path string) bool {
	switch path {
	case "/livez", "/readyz", "/healthz", "/metrics":
		return true
	}
	return false
}
