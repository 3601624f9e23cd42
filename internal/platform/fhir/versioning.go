package fhir

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
)

// SetVersionHeaders writes ETag and Last-Modified from the resource's meta.
// Resources without meta get neither header.
func SetVersionHeaders(c echo.Context, resource map[string]interface{}) {
	meta, _ := resource["meta"].(map[string]interface{})
	if meta == nil {
		return
	}
	h := c.Response().Header()
	if v, ok := meta["versionId"].(string); ok && v != "" {
		h.Set("ETag", FormatETag(v))
	}
	if lu, ok := meta["lastUpdated"].(string); ok && lu != "" {
		if t, err := time.Parse(time.RFC3339Nano, lu); err == nil {
			h.Set(echo.HeaderLastModified, t.UTC().Format(http.TimeFormat))
		}
	}
}

// ParseETag reads the version out of W/"3", "3" or a bare 3.
func ParseETag(etag string) (int, error) {
	v := strings.Trim(strings.TrimPrefix(strings.TrimSpace(etag), "W/"), `"`)
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("ETag must contain a numeric version: %q", etag)
	}
	return n, nil
}

// FormatETag renders versionID as a weak ETag.
func FormatETag(versionID string) string {
	return `W/"` + versionID + `"`
}
