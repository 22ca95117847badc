package spp_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/btspp/spp"
)

func TestParseServiceID(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "full dashed lowercase",
			input: "00001101-0000-1000-8000-00805f9b34fb",
			want:  "00001101-0000-1000-8000-00805f9b34fb",
		},
		{
			name:  "full dashed uppercase",
			input: "00001101-0000-1000-8000-00805F9B34FB",
			want:  "00001101-0000-1000-8000-00805f9b34fb",
		},
		{
			name:  "undashed",
			input: "6e400001b5a3f393e0a9e50e24dcca9e",
			want:  "6e400001-b5a3-f393-e0a9-e50e24dcca9e",
		},
		{
			name:  "16-bit short form",
			input: "1101",
			want:  "00001101-0000-1000-8000-00805f9b34fb",
		},
		{
			name:  "16-bit short form with 0x prefix",
			input: "0x1101",
			want:  "00001101-0000-1000-8000-00805f9b34fb",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := spp.ParseServiceID(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, id.String())
		})
	}
}

func TestParseServiceIDRejectsGarbage(t *testing.T) {
	for _, input := range []string{"", "110", "not-a-uuid", "00001101-0000-1000-8000"} {
		_, err := spp.ParseServiceID(input)
		assert.Error(t, err, "input %q", input)
	}
}

func TestSerialPortDefault(t *testing.T) {
	assert.Equal(t, "00001101-0000-1000-8000-00805f9b34fb", spp.SerialPort.String())
	assert.Equal(t, "1101", spp.SerialPort.Short())
	assert.False(t, spp.SerialPort.IsZero())
}

func TestShortFormOnlyForBaseUUIDs(t *testing.T) {
	id, err := spp.ParseServiceID("6e400001-b5a3-f393-e0a9-e50e24dcca9e")
	require.NoError(t, err)
	assert.Equal(t, "6e400001-b5a3-f393-e0a9-e50e24dcca9e", id.Short())
}
