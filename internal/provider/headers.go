package provider

import (
	"mime"
	"net/http"
	"regexp"
	"strconv"

	"medialoader/internal/entity"
)

var filenameParam = regexp.MustCompile(`filename="?([^";]+)"?`)

// infoFromResponse reads the file name from Content-Disposition and the size from Content-Length.
func infoFromResponse(resp *http.Response) entity.DownloadInfo {
	return entity.DownloadInfo{
		FileName: fileName(resp.Header.Get("Content-Disposition")),
		Size:     contentLength(resp),
	}
}

func fileName(disposition string) string {
	if disposition == "" {
		return ""
	}

	_, params, err := mime.ParseMediaType(disposition)
	if err == nil && params["filename"] != "" {
		return params["filename"]
	}

	// lenient fallback for headers mime rejects, e.g. unquoted names with spaces
	match := filenameParam.FindStringSubmatch(disposition)
	if match == nil {
		return ""
	}

	return match[1]
}

func contentLength(resp *http.Response) *int64 {
	if raw := resp.Header.Get("Content-Length"); raw != "" {
		size, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || size < 0 {
			return nil
		}

		return &size
	}

	if resp.ContentLength >= 0 && resp.Request != nil && resp.Request.Method != http.MethodHead {
		size := resp.ContentLength

		return &size
	}

	return nil
}
