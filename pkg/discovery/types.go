package discovery

import (
	"errors"
	"time"

	"github.com/healthwatch/healthwatch-go/pkg/datatype"
)

// Service constants for mDNS.
const (
	// ServiceType is the DNS-SD service type of a bridge.
	ServiceType = "_healthwatch._tcp"

	// Domain is the mDNS domain.
	Domain = "local"

	// DefaultPort matches transport.DefaultAddress.
	DefaultPort = 7421

	// MaxInstanceNameLen is the DNS label limit for instance names.
	MaxInstanceNameLen = 63
)

// TXT record keys.
const (
	TXTKeyChannel = "ch"
	TXTKeyTypes   = "types"
	TXTKeyVersion = "ver"
)

// Errors.
var (
	ErrMissingRequired     = errors.New("missing required TXT record")
	ErrInstanceNameTooLong = errors.New("instance name exceeds 63 bytes")
	ErrNotAdvertising      = errors.New("not advertising")
	ErrNotFound            = errors.New("bridge not found")
)

// BridgeInfo describes an advertised bridge.
type BridgeInfo struct {
	// Instance is the DNS-SD instance name.
	Instance string

	// Port is the bridge TCP port. Zero means DefaultPort.
	Port uint16

	// Channel is the method channel the bridge serves.
	Channel string

	// Types are the observed data types.
	Types []datatype.ID

	// Version is the bridge software version.
	Version string
}

// BridgeService is a bridge found by browsing.
type BridgeService struct {
	BridgeInfo

	Host      string
	Addresses []string
}

// AdvertiserConfig configures advertiser behavior.
type AdvertiserConfig struct {
	// Interface specifies which network interface to use.
	// Empty string means all interfaces.
	Interface string

	// TTL is the DNS record TTL.
	// Default: 120 seconds.
	TTL time.Duration
}

// DefaultAdvertiserConfig returns the default advertiser configuration.
func DefaultAdvertiserConfig() AdvertiserConfig {
	return AdvertiserConfig{
		TTL: 120 * time.Second,
	}
}

// BrowserConfig configures browser behavior.
type BrowserConfig struct {
	// Interface specifies which network interface to use.
	// Empty string means all interfaces.
	Interface string

	// BrowseTimeout bounds Find. Default: 10 seconds.
	BrowseTimeout time.Duration
}

// DefaultBrowserConfig returns the default browser configuration.
func DefaultBrowserConfig() BrowserConfig {
	return BrowserConfig{
		BrowseTimeout: 10 * time.Second,
	}
}
