//go:build !openni

package openni

import "errors"

// ErrNoNative is generated when the binary was built without the openni tag
var ErrNoNative = errors.New("built without OpenNI support, rebuild with -tags openni or use the mock generator")

// Native is unavailable without the openni build tag
type Native struct {
	IRGenerator
}

// OpenIRGenerator always fails without the openni build tag
func OpenIRGenerator() (*Native, error) {
	return nil, ErrNoNative
}

// Close does nothing
func (n *Native) Close() error { return nil }

// WaitAndUpdate does nothing
func (n *Native) WaitAndUpdate() error { return ErrNoNative }
