package packages

import "strings"

var extContentType = map[string]string{
	".html": "text/html",
	".htm":  "text/html",
	".js":   "application/javascript",
	".css":  "text/css",
	".json": "application/json",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".svg":  "image/svg+xml",
	".woff": "font/woff",
	".woff2": "font/woff2",
	".eot":  "application/vnd.ms-fontobject",
	".ttf":  "font/ttf",
	".txt":  "text/plain",
	".xml":  "application/xml",
}

// contentTypeFor infers the Content-Type for path from its extension,
// defaulting to application/octet-stream (spec §4.E "Serve").
func contentTypeFor(path string) string {
	idx := strings.LastIndexByte(path, '.')
	if idx < 0 {
		return "application/octet-stream"
	}
	if ct, ok := extContentType[strings.ToLower(path[idx:])]; ok {
		return ct
	}
	return "application/octet-stream"
}
