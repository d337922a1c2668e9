package discovery

import (
	"context"
	"sync"
)

// Advertiser announces a bridge on the local network.
type Advertiser interface {
	// Advertise starts advertising info, replacing any previous registration.
	Advertise(ctx context.Context, info *BridgeInfo) error

	// Update replaces the TXT records of the current registration.
	Update(info *BridgeInfo) error

	// Stop withdraws the registration. It is safe to call when not advertising.
	Stop() error
}

// NoopAdvertiser records what it would advertise. It is used when mDNS is
// disabled.
type NoopAdvertiser struct {
	mu      sync.Mutex
	current *BridgeInfo
}

// Advertise implements Advertiser.
func (a *NoopAdvertiser) Advertise(_ context.Context, info *BridgeInfo) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.current = info
	return nil
}

// Update implements Advertiser.
func (a *NoopAdvertiser) Update(info *BridgeInfo) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current == nil {
		return ErrNotAdvertising
	}
	a.current = info
	return nil
}

// Stop implements Advertiser.
func (a *NoopAdvertiser) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.current = nil
	return nil
}

// Current returns the registration, or nil when not advertising.
func (a *NoopAdvertiser) Current() *BridgeInfo {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

var (
	_ Advertiser = (*NoopAdvertiser)(nil)
	_ Advertiser = (*MDNSAdvertiser)(nil)
)
