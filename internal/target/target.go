// Package target validates operator-supplied engagement targets before they
// reach any tool.
package target

import (
	"fmt"
	"net/netip"
	"regexp"
	"strings"
)

var urlPattern = regexp.MustCompile(`^(https?://)?(www\.)?([a-zA-Z0-9-]+\.)+[a-zA-Z]{2,}(:\d{1,5})?(/.*)?$`)

var localhostPattern = regexp.MustCompile(`^(https?://)?localhost(:\d{1,5})?(/.*)?$`)

// IsIPv4 reports whether s is a dotted-quad IPv4 address.
func IsIPv4(s string) bool {
	addr, err := netip.ParseAddr(s)
	return err == nil && addr.Is4()
}

// IsCIDR reports whether s is an IPv4 CIDR range.
func IsCIDR(s string) bool {
	prefix, err := netip.ParsePrefix(s)
	return err == nil && prefix.Addr().Is4()
}

// IsURL reports whether s looks like an http(s) URL with a real hostname.
func IsURL(s string) bool {
	if s == "" {
		return false
	}
	return urlPattern.MatchString(s) || localhostPattern.MatchString(s)
}

// ValidateHost accepts an IPv4 address, an IPv4 CIDR range or a hostname.
// Used for scan targets.
func ValidateHost(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return fmt.Errorf("target is empty")
	}
	if IsIPv4(s) || IsCIDR(s) {
		return nil
	}
	if s == "localhost" || urlHostPattern.MatchString(s) {
		return nil
	}
	return fmt.Errorf("%q is not a valid IPv4 address, CIDR range or hostname", s)
}

// ValidateURL accepts an http(s) URL. Used for web-application targets.
func ValidateURL(s string) error {
	s = strings.TrimSpace(s)
	if !IsURL(s) {
		return fmt.Errorf("%q is not a valid URL", s)
	}
	return nil
}

var urlHostPattern = regexp.MustCompile(`^([a-zA-Z0-9-]+\.)+[a-zA-Z]{2,}$`)
