package discovery

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/healthwatch/healthwatch-go/pkg/datatype"
)

func TestBridgeTXTRoundTrip(t *testing.T) {
	info := &BridgeInfo{
		Channel: "com.example.healthkitIntegrationTesting/background",
		Types:   []datatype.ID{datatype.HeartRate, datatype.Steps, datatype.BloodGlucose},
		Version: "0.3.0",
	}

	strs := TXTRecordsToStrings(EncodeBridgeTXT(info))
	assert.Equal(t, []string{
		"ch=com.example.healthkitIntegrationTesting/background",
		"types=heartRate,steps,bloodGlucose",
		"ver=0.3.0",
	}, strs)

	decoded, err := DecodeBridgeTXT(StringsToTXTRecords(strs))
	require.NoError(t, err)
	assert.Equal(t, info, decoded)
}

func TestDecodeBridgeTXT(t *testing.T) {
	tests := []struct {
		name    string
		txt     TXTRecordMap
		want    []datatype.ID
		wantErr error
	}{
		{"missing channel", TXTRecordMap{TXTKeyTypes: "steps"}, nil, ErrMissingRequired},
		{"empty channel", TXTRecordMap{TXTKeyChannel: ""}, nil, ErrMissingRequired},
		{"no types", TXTRecordMap{TXTKeyChannel: "ch"}, nil, nil},
		{"unknown type skipped", TXTRecordMap{TXTKeyChannel: "ch", TXTKeyTypes: "steps, sleep ,heartRate"},
			[]datatype.ID{datatype.Steps, datatype.HeartRate}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, err := DecodeBridgeTXT(tt.txt)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, info.Types)
		})
	}
}

func TestStringsToTXTRecords(t *testing.T) {
	txt := StringsToTXTRecords([]string{"a=1", "flag", "b=x=y", ""})
	assert.Equal(t, TXTRecordMap{"a": "1", "flag": "", "b": "x=y"}, txt)
}

func TestValidateInstanceName(t *testing.T) {
	assert.NoError(t, ValidateInstanceName("healthwatch-bridge"))
	assert.ErrorIs(t, ValidateInstanceName(""), ErrInstanceNameTooLong)
	assert.ErrorIs(t, ValidateInstanceName(strings.Repeat("x", 64)), ErrInstanceNameTooLong)
}

func TestNoopAdvertiser(t *testing.T) {
	var adv NoopAdvertiser
	info := &BridgeInfo{Instance: "bridge", Channel: "ch"}

	assert.ErrorIs(t, adv.Update(info), ErrNotAdvertising)
	require.NoError(t, adv.Advertise(context.Background(), info))
	assert.Same(t, info, adv.Current())

	updated := &BridgeInfo{Instance: "bridge", Channel: "ch", Version: "2"}
	require.NoError(t, adv.Update(updated))
	assert.Same(t, updated, adv.Current())

	require.NoError(t, adv.Stop())
	assert.Nil(t, adv.Current())
}

func TestMDNSAdvertiserRejectsBadInstance(t *testing.T) {
	adv := NewMDNSAdvertiser(DefaultAdvertiserConfig())
	defer adv.Stop()

	err := adv.Advertise(context.Background(), &BridgeInfo{Instance: strings.Repeat("x", 64), Channel: "ch"})
	assert.ErrorIs(t, err, ErrInstanceNameTooLong)
	assert.ErrorIs(t, adv.Update(&BridgeInfo{Channel: "ch"}), ErrNotAdvertising)
}

func TestBridgeServiceAddress(t *testing.T) {
	svc := &BridgeService{BridgeInfo: BridgeInfo{Port: 7421}, Host: "phone.local.", Addresses: []string{"192.168.1.5"}}
	assert.Equal(t, "192.168.1.5:7421", svc.Address())

	svc.Addresses = nil
	assert.Equal(t, "phone.local.:7421", svc.Address())
}
