package utils

import (
	"testing"
)

func TestFormatDataSize(t *testing.T) {
	tests := []struct {
		input    int64
		expected string
	}{
		{0, "0 B"},
		{1, "1 B"},
		{1023, "1023 B"},
		{1024, "1 KB"},
		{1536, "1.5 KB"},
		{10240, "10 KB"},
		{1048576, "1 MB"},
		{1572864, "1.5 MB"},
		{104857600, "100 MB"},
		{1073741824, "1 GB"},
		{1610612736, "1.5 GB"},
		{42949672960, "40 GB"},
		{1099511627776, "1 TB"},
		{1649267441664, "1.5 TB"},
		{1125899906842624, "1 PB"},
		{-1, "invalid"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			got := FormatDataSize(tt.input)
			if got != tt.expected {
				t.Errorf("FormatDataSize(%v) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}
