// Copyright (c) 2025, the syncwell contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeRequest(t *testing.T, body string, dst any, fields []string) error {
	t.Helper()

	r := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(body))
	return DecodeNormalized(r, dst, fields)
}

func TestDecodeNormalized(t *testing.T) {
	fields := []string{"licenseKey", "deviceHash", "deviceName"}

	tests := []struct {
		name string
		body string
	}{
		{"camelCase", `{"licenseKey":"k","deviceHash":"h","deviceName":"n"}`},
		{"snake_case", `{"license_key":"k","device_hash":"h","device_name":"n"}`},
		{"PascalCase", `{"LicenseKey":"k","DeviceHash":"h","DeviceName":"n"}`},
		{"mixed", `{"license_key":"k","deviceHash":"h","Device_Name":"n"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req BindRequest
			require.NoError(t, decodeRequest(t, tt.body, &req, fields))
			assert.Equal(t, "k", req.LicenseKey)
			assert.Equal(t, "h", req.DeviceHash)
			assert.Equal(t, "n", req.DeviceName)
		})
	}
}

func TestDecodeNormalizedIgnoresUnknownFields(t *testing.T) {
	var req BindRequest
	err := decodeRequest(t, `{"licenseKey":"k","deviceHash":"h","bogus":42}`,
		&req, []string{"licenseKey", "deviceHash"})
	require.NoError(t, err)
	assert.Equal(t, "k", req.LicenseKey)
}

func TestDecodeNormalizedRejectsMalformedJSON(t *testing.T) {
	var req BindRequest
	assert.Error(t, decodeRequest(t, `{broken`, &req, []string{"licenseKey"}))
}

func TestMaskLicenseKey(t *testing.T) {
	assert.Equal(t, "SYNC-ABC***", maskLicenseKey("SYNC-ABC1DE-XYZ9FG"))
	assert.Equal(t, "***", maskLicenseKey("short"))
	assert.Equal(t, "***", maskLicenseKey(""))
}
