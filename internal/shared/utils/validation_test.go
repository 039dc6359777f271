package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateEnvelope(t *testing.T) {
	deep := strings.Repeat(`{"a":`, MaxEnvelopeDepth+1) + "1" + strings.Repeat("}", MaxEnvelopeDepth+1)

	tests := []struct {
		name    string
		data    string
		wantErr string
	}{
		{name: "message", data: `{"message":"hi","key":"bidi1"}`},
		{name: "response", data: `{"response":{"key":"binding3","ok":true}}`},
		{name: "empty object", data: `{}`},
		{name: "array", data: `[1,2]`, wantErr: "JSON object"},
		{name: "string", data: `"hi"`, wantErr: "JSON object"},
		{name: "broken", data: `{"message":`, wantErr: "invalid JSON"},
		{name: "too deep", data: deep, wantErr: "nesting depth"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateEnvelope([]byte(tt.data))
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestValidateEnvelopeSize(t *testing.T) {
	big := `{"message":"` + strings.Repeat("x", MaxEnvelopeSize) + `"}`

	err := ValidateEnvelope([]byte(big))
	var sizeErr *SizeError
	require.ErrorAs(t, err, &sizeErr)
	assert.Equal(t, "envelope", sizeErr.What)
	assert.Equal(t, MaxEnvelopeSize, sizeErr.Limit)
}

func TestValidateScripts(t *testing.T) {
	half := strings.Repeat("x", MaxScriptSize/2)

	assert.NoError(t, ValidateScripts())
	assert.NoError(t, ValidateScripts(half, half))

	var sizeErr *SizeError
	require.ErrorAs(t, ValidateScripts(half, half, "x"), &sizeErr)
	assert.Equal(t, MaxScriptSize+1, sizeErr.Size)
}

func TestValidateString(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		required bool
		wantErr  bool
	}{
		{name: "optional empty", value: "", required: false},
		{name: "required empty", value: "", required: true, wantErr: true},
		{name: "ok", value: "checkout", required: true},
		{name: "too long", value: strings.Repeat("é", MaxNameLength+1), wantErr: true},
		{name: "at limit in runes", value: strings.Repeat("é", MaxNameLength)},
		{name: "null byte", value: "a\x00b", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateString(tt.value, "name", 1, MaxNameLength, tt.required)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	assert.Error(t, ValidateName("bad\x00name"))
	assert.NoError(t, ValidateName(""))
}
