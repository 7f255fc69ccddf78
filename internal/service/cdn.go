package service

import (
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/timmy/slidefix/internal/domain"
)

// CDN URL shapes from which a stable image id can be recovered.
var (
	unsplashPattern = regexp.MustCompile(`images\.unsplash\.com/photo-([a-zA-Z0-9_-]+)`)
	pexelsPattern   = regexp.MustCompile(`images\.pexels\.com/photos/(\d+)/`)
	pixabayPattern  = regexp.MustCompile(`cdn\.pixabay\.com/photo/([^?#\s]+)`)
)

var imageExtensions = map[string]struct{}{
	".jpg": {}, ".jpeg": {}, ".png": {}, ".gif": {}, ".webp": {},
	".svg": {}, ".bmp": {}, ".tif": {}, ".tiff": {}, ".avif": {},
}

// ExtractImageID returns the provider-specific id of a CDN image URL, or
// empty values when the URL matches no known CDN.
func ExtractImageID(rawURL string) (string, domain.Provider) {
	if m := unsplashPattern.FindStringSubmatch(rawURL); m != nil {
		return m[1], domain.ProviderUnsplash
	}
	if m := pexelsPattern.FindStringSubmatch(rawURL); m != nil {
		return m[1], domain.ProviderPexels
	}
	if m := pixabayPattern.FindStringSubmatch(rawURL); m != nil {
		return m[1], domain.ProviderPixabay
	}
	return "", ""
}

// BuildURL is the inverse of ExtractImageID.
func BuildURL(provider domain.Provider, id string) string {
	if id == "" {
		return ""
	}
	switch provider {
	case domain.ProviderUnsplash, "":
		return "https://images.unsplash.com/photo-" + id
	case domain.ProviderPexels:
		return "https://images.pexels.com/photos/" + id + "/pexels-photo-" + id + ".jpeg"
	case domain.ProviderPixabay:
		return "https://cdn.pixabay.com/photo/" + id
	default:
		return ""
	}
}

// QuickCheck reports whether rawURL looks like a fetchable image URL without
// any network access: http(s), a host, and either a known CDN or an image
// file extension.
func QuickCheck(rawURL string) bool {
	if isDataImage(rawURL) {
		return true
	}
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	if id, _ := ExtractImageID(rawURL); id != "" {
		return true
	}
	_, ok := imageExtensions[strings.ToLower(path.Ext(u.Path))]
	return ok
}

// HostOf returns the lower-cased host of rawURL, "inline" for data URIs and
// "invalid" when it cannot be parsed.
func HostOf(rawURL string) string {
	if isDataImage(rawURL) {
		return "inline"
	}
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return "invalid"
	}
	return strings.ToLower(u.Hostname())
}

func isDataImage(rawURL string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(rawURL)), "data:image/")
}
