package discovery

import (
	"fmt"
	"sort"
	"strings"

	"github.com/healthwatch/healthwatch-go/pkg/datatype"
)

// TXTRecordMap is a map of TXT record key-value pairs.
type TXTRecordMap map[string]string

// EncodeBridgeTXT creates the TXT records for a bridge.
func EncodeBridgeTXT(info *BridgeInfo) TXTRecordMap {
	txt := TXTRecordMap{
		TXTKeyChannel: info.Channel,
		TXTKeyTypes:   strings.Join(datatype.Names(info.Types), ","),
	}
	if info.Version != "" {
		txt[TXTKeyVersion] = info.Version
	}
	return txt
}

// DecodeBridgeTXT parses bridge TXT records. Unknown type names are skipped
// so newer bridges stay discoverable.
func DecodeBridgeTXT(txt TXTRecordMap) (*BridgeInfo, error) {
	info := &BridgeInfo{}

	var ok bool
	info.Channel, ok = txt[TXTKeyChannel]
	if !ok || info.Channel == "" {
		return nil, fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyChannel)
	}

	if types := txt[TXTKeyTypes]; types != "" {
		for _, name := range strings.Split(types, ",") {
			t, err := datatype.Parse(strings.TrimSpace(name))
			if err != nil {
				continue
			}
			info.Types = append(info.Types, t)
		}
	}

	info.Version = txt[TXTKeyVersion]
	return info, nil
}

// TXTRecordsToStrings converts a TXTRecordMap to sorted "key=value" strings.
func TXTRecordsToStrings(txt TXTRecordMap) []string {
	result := make([]string, 0, len(txt))
	for k, v := range txt {
		result = append(result, k+"="+v)
	}
	sort.Strings(result)
	return result
}

// StringsToTXTRecords parses "key=value" strings into a TXTRecordMap.
func StringsToTXTRecords(strs []string) TXTRecordMap {
	txt := make(TXTRecordMap)
	for _, s := range strs {
		k, v, _ := strings.Cut(s, "=")
		if k != "" {
			txt[k] = v
		}
	}
	return txt
}

// ValidateInstanceName checks if an instance name is valid for mDNS.
func ValidateInstanceName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInstanceNameTooLong)
	}
	if len(name) > MaxInstanceNameLen {
		return ErrInstanceNameTooLong
	}
	return nil
}
