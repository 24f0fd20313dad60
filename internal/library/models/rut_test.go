package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRUT(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"plain digits with dash", "12345678-5", "12345678-5", false},
		{"dotted format", "12.345.678-5", "12345678-5", false},
		{"no separators", "123456785", "12345678-5", false},
		{"lowercase k check digit", "1000005-k", "1000005-K", false},
		{"uppercase K check digit", "1000005-K", "1000005-K", false},
		{"seven digit body", "7654321-6", "7654321-6", false},
		{"wrong check digit", "12345678-9", "", true},
		{"too short", "12345-1", "", true},
		{"letters in body", "12a45678-5", "", true},
		{"empty", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRUT(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
