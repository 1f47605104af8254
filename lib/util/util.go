// Package util contains helper functions used around the code.
package util

import (
	"net"
)

// In returns true if s is found in ss, false otherwise
func In(ss []string, s string) bool {
	for _, v := range ss {
		if s == v {
			return true
		}
	}
	return false
}

// ValidHostPort returns true if s is a host:port pair with a non-empty port.
func ValidHostPort(s string) bool {
	_, port, err := net.SplitHostPort(s)

	return err == nil && port != ""
}
