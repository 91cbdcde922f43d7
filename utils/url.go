package utils

import (
	"fmt"
	"mime"
	"net/url"
	"path"
	"strings"
)

// ZoneFileSuffix is appended to names derived from a download URL
const ZoneFileSuffix = ".txt.gz"

// FilenameFromContentDisposition extracts the filename parameter of a
// Content-Disposition header. Only the base name is kept so a hostile header
// cannot escape the output directory.
func FilenameFromContentDisposition(header string) string {
	if strings.TrimSpace(header) == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(header)
	if err != nil {
		return ""
	}
	return sanitizeFilename(params["filename"])
}

// FilenameFromURL derives a zone file name from the last path segment of a
// download link with its final extension replaced: .../com.zone -> com.txt.gz
func FilenameFromURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid download URL %q: %w", rawURL, err)
	}

	segment := path.Base(strings.TrimRight(u.Path, "/"))
	if segment == "" || segment == "." || segment == "/" {
		return "", fmt.Errorf("download URL %q has no path segment", rawURL)
	}
	if unescaped, err := url.PathUnescape(segment); err == nil {
		segment = unescaped
	}

	if ext := path.Ext(segment); ext != "" && ext != segment {
		segment = strings.TrimSuffix(segment, ext)
	}

	name := sanitizeFilename(segment + ZoneFileSuffix)
	if name == "" {
		return "", fmt.Errorf("download URL %q has no usable file name", rawURL)
	}
	return name, nil
}

// ZoneNameFromURL returns the TLD label a download link refers to (com for .../com.zone)
func ZoneNameFromURL(rawURL string) string {
	name, err := FilenameFromURL(rawURL)
	if err != nil {
		return rawURL
	}
	return strings.TrimSuffix(name, ZoneFileSuffix)
}

// sanitizeFilename reduces name to a single safe path element
func sanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(strings.TrimSpace(name))
	switch name {
	case "", ".", "..", "/":
		return ""
	}
	return name
}

// ValidateProxyURL validates the proxy URL format
func ValidateProxyURL(proxyURL string) error {
	if proxyURL == "" {
		return fmt.Errorf("proxy URL cannot be empty")
	}

	if !strings.HasPrefix(proxyURL, "http://") &&
		!strings.HasPrefix(proxyURL, "https://") &&
		!strings.HasPrefix(proxyURL, "socks5://") {
		return fmt.Errorf("unsupported proxy scheme, use http://, https://, or socks5://")
	}

	u, err := url.Parse(proxyURL)
	if err != nil {
		return fmt.Errorf("invalid proxy URL: %w", err)
	}
	if u.Host == "" {
		return fmt.Errorf("proxy URL must include a host")
	}
	return nil
}
