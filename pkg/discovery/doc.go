// Package discovery advertises and finds bridge servers over mDNS/DNS-SD.
//
// A bridge registers one _healthwatch._tcp instance. Its TXT records carry
// the channel name (ch), the observed data types (types, comma separated)
// and the bridge version (ver). Hosts browse for the service instead of
// configuring an address.
package discovery
