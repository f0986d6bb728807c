package artifact

import (
	"fmt"
	"mime"
	"strings"

	"github.com/p-blackswan/studio-agent/internal/catalog"
)

// DefaultContentType applies when a save omits the content type.
const DefaultContentType = "text/markdown"

var extensions = map[string]string{
	"text/markdown":            ".md",
	"text/plain":               ".txt",
	"application/json":         ".json",
	"application/octet-stream": ".bin",
	"image/png":                ".png",
	"image/jpeg":               ".jpg",
}

// Extension maps a content type to a file extension. Parameters such as
// charset are ignored. Unknown text types get ".txt", anything else ".bin".
func Extension(contentType string) string {
	mediaType := strings.ToLower(strings.TrimSpace(contentType))
	if parsed, _, err := mime.ParseMediaType(contentType); err == nil {
		mediaType = parsed
	}
	if ext, ok := extensions[mediaType]; ok {
		return ext
	}
	if strings.HasPrefix(mediaType, "text/") {
		return ".txt"
	}
	return ".bin"
}

// StoragePath builds the canonical location of a version.
//
//	projects/{pid}/{template}/v{version:03}{ext}
//	projects/{pid}/episodes/{episode:02}/{template}/v{version:03}{ext}
func StoragePath(projectID string, code catalog.Code, episode *int, version int, contentType string) string {
	file := fmt.Sprintf("v%03d%s", version, Extension(contentType))
	if episode == nil {
		return fmt.Sprintf("projects/%s/%s/%s", projectID, code, file)
	}
	return fmt.Sprintf("projects/%s/episodes/%02d/%s/%s", projectID, *episode, code, file)
}
