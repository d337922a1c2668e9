// Package service provides the Observation Registration Coordinator.
//
// The Coordinator turns one setup request into a single boolean:
//
//	Idle → AuthorizationPending → FanningOut → AwaitingCompletion → Resolved
//
// It checks that the platform can provide health data, requests read
// authorization for the configured types, starts one subscription.Unit per
// authorized type and resolves with the conjunction of their background
// delivery outcomes. Units stay alive after resolution and keep forwarding
// updates to the configured Forwarder, normally a relay.Relay.
//
// Example usage:
//
//	cfg := service.DefaultConfig()
//	cfg.Logger = logger
//
//	coord, err := service.NewCoordinator(source, rel, cfg)
//	ok := coord.SetupObservers(ctx)
//	defer coord.Close()
//
// Only one setup runs at a time. A second request made while one is in
// flight resolves false with ErrSetupInProgress. A later request stops the
// observations of the previous one before fanning out again.
package service
