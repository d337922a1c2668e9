// Package subscription implements the per-type setup of live observations
// and the join that folds their outcomes into one result.
//
// # Units
//
// A Unit owns the observation of one data type. Start registers the live
// watch first, so no update is lost while background delivery is still
// being enabled, then enables background delivery on its own goroutine.
// The enable outcome moves the unit from Pending to Enabled or Failed
// exactly once and is reported to the Aggregator exactly once.
//
// Every update the watch delivers is handed to a Forwarder and then
// acknowledged, whatever state the unit is in. Updates that carry an error
// are logged and acknowledged without being forwarded.
//
// # Aggregator
//
// An Aggregator is a counting join over N outcomes. It resolves exactly
// once, to true only if every outcome was a success, on the goroutine that
// records the last outcome. An Aggregator for zero outcomes is resolved at
// construction.
package subscription
