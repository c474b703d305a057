package validation

import (
	"fmt"
	"net"
	"net/url"
	"slices"
	"strings"
	"syscall"

	apperrors "go-dimension-detective/internal/errors"
)

// URLValidator decides which remote image URLs the service may fetch
type URLValidator struct {
	allowedSchemes []string
	allowedHosts   []string
	allowPrivate   bool
}

// NewURLValidator allows http(s) to any public host
func NewURLValidator() *URLValidator {
	return &URLValidator{
		allowedSchemes: []string{"http", "https"},
	}
}

// NewURLValidatorWithOptions creates a URL validator with custom options.
// An empty host list allows every host.
func NewURLValidatorWithOptions(schemes []string, hosts []string, allowPrivate bool) *URLValidator {
	return &URLValidator{
		allowedSchemes: schemes,
		allowedHosts:   hosts,
		allowPrivate:   allowPrivate,
	}
}

// ValidateImageURL validates if the provided URL is acceptable for image acquisition
func (v *URLValidator) ValidateImageURL(imageURL string) error {
	if strings.TrimSpace(imageURL) == "" {
		return apperrors.NewValidationError("URL cannot be empty", nil)
	}

	parsedURL, err := url.Parse(imageURL)
	if err != nil {
		return apperrors.NewValidationError("Invalid URL format", err)
	}

	if !slices.Contains(v.allowedSchemes, strings.ToLower(parsedURL.Scheme)) {
		return apperrors.NewValidationError("URL scheme not allowed", nil)
	}

	host := parsedURL.Hostname()
	if host == "" {
		return apperrors.NewValidationError("URL must have a valid host", nil)
	}

	if len(v.allowedHosts) > 0 && !slices.Contains(v.allowedHosts, strings.ToLower(host)) {
		return apperrors.NewValidationError("URL host not allowed", nil)
	}

	if !v.allowPrivate && isPrivateHost(host) {
		return apperrors.NewValidationError("URL host resolves to a private address", nil)
	}

	return nil
}

// DialControl rejects connections to private addresses. It runs after name
// resolution, so it also covers hostnames and redirects that lead inward.
func (v *URLValidator) DialControl(network, address string, _ syscall.RawConn) error {
	if v.allowPrivate {
		return nil
	}
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		host = address
	}
	ip := net.ParseIP(host)
	if ip == nil || IsPrivateIP(ip) {
		return apperrors.NewValidationError(fmt.Sprintf("refusing to connect to %s", address), nil)
	}
	return nil
}

// IsPrivateIP reports loopback, private, link-local and unspecified addresses
func IsPrivateIP(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() || ip.IsUnspecified()
}

// isPrivateHost only inspects literal addresses and localhost; resolved
// names are checked by DialControl
func isPrivateHost(host string) bool {
	if strings.EqualFold(strings.TrimSuffix(host, "."), "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return IsPrivateIP(ip)
}
