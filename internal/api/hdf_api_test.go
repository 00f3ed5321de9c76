package api_test

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tejusbharadwaj/esbmeter/internal/api"
	"github.com/tejusbharadwaj/esbmeter/internal/auth"
	"github.com/tejusbharadwaj/esbmeter/internal/portaltest"
	"github.com/tejusbharadwaj/esbmeter/internal/usage"
)

func TestParseHDF(t *testing.T) {
	payload := "Read Date and End Time,Read Value\n" +
		"01-03-2024 00:30,1.250\n" +
		"01-03-2024 01:00,0.800\n"

	readings, err := api.ParseHDF(strings.NewReader(payload), "", time.UTC)
	require.NoError(t, err)
	require.Len(t, readings, 2)

	assert.Equal(t, time.Date(2024, 3, 1, 0, 30, 0, 0, time.UTC), readings[0].Time)
	assert.InDelta(t, 1.25, readings[0].KWh, 1e-9)
	assert.Equal(t, time.Date(2024, 3, 1, 1, 0, 0, 0, time.UTC), readings[1].Time)

	since := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	assert.InDelta(t, 2.05, usage.WindowedSum(readings, since), 1e-9)
}

func TestParseHDF_FullHeader(t *testing.T) {
	readings, err := api.ParseHDF(strings.NewReader("\ufeff"+portaltest.DefaultCSV), portaltest.MPRN, time.UTC)
	require.NoError(t, err)
	require.Len(t, readings, 2)
	assert.Equal(t, portaltest.MPRN, readings[0].MPRN)
	assert.Equal(t, "000000000024591111", readings[0].MeterSerial)
	assert.Equal(t, "Active Import Interval (kWh)", readings[0].ReadType)
}

func TestParseHDF_HeaderOnly(t *testing.T) {
	readings, err := api.ParseHDF(strings.NewReader("Read Value,Read Date and End Time\n"), "", time.UTC)
	require.NoError(t, err)
	assert.Empty(t, readings)
}

func TestParseHDF_Malformed(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		row     int
	}{
		{name: "empty payload", payload: "", row: 1},
		{name: "missing time column", payload: "Read Value\n1.0\n", row: 1},
		{name: "missing value column", payload: "Read Date and End Time\n01-03-2024 00:30\n", row: 1},
		{name: "html instead of csv", payload: "<html><body>Sign in</body></html>\n", row: 1},
		{
			name:    "unparsable value",
			payload: "Read Date and End Time,Read Value\n01-03-2024 00:30,1.0\n01-03-2024 01:00,abc\n",
			row:     3,
		},
		{
			name:    "unparsable date",
			payload: "Read Date and End Time,Read Value\n2024-03-01T00:30,1.0\n",
			row:     2,
		},
		{
			name:    "short row",
			payload: "Read Date and End Time,Read Value\n01-03-2024 00:30\n",
			row:     2,
		},
		{
			name:    "empty value",
			payload: "Read Date and End Time,Read Value\n01-03-2024 00:30,\n",
			row:     2,
		},
		{
			name:    "negative value",
			payload: "Read Date and End Time,Read Value\n01-03-2024 00:30,-1\n",
			row:     2,
		},
		{
			name:    "other meter",
			payload: "MPRN,Read Date and End Time,Read Value\n10099999999,01-03-2024 00:30,1\n",
			row:     2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			readings, err := api.ParseHDF(strings.NewReader(tt.payload), portaltest.MPRN, time.UTC)
			require.Error(t, err)
			assert.Nil(t, readings)

			var fetchErr *api.FetchError
			require.True(t, errors.As(err, &fetchErr))
			assert.Equal(t, api.KindMalformedRow, fetchErr.Kind)
			assert.Equal(t, tt.row, fetchErr.Row)
		})
	}
}

func TestClient_Load(t *testing.T) {
	portal := portaltest.New(t)
	client := api.NewClient(
		auth.NewAuthenticator(portal.Options(), nil),
		api.NewDataFetcher(portal.Server.URL, time.UTC, nil),
	)

	readings, err := client.Load(context.Background(), portal.Credentials())
	require.NoError(t, err)
	require.Len(t, readings, 2)
	assert.Equal(t, 1, portal.Calls(portaltest.StepDownload))
}

func TestClient_LoadFailures(t *testing.T) {
	tests := []struct {
		name      string
		behaviour func(b *portaltest.Behaviour)
		kind      api.FetchKind
		status    int
	}{
		{
			name:      "server error",
			behaviour: func(b *portaltest.Behaviour) { b.DownloadStatus = http.StatusServiceUnavailable },
			kind:      api.KindHTTPStatus,
			status:    http.StatusServiceUnavailable,
		},
		{
			name: "one bad row fails the whole download",
			behaviour: func(b *portaltest.Behaviour) {
				b.CSV = "Read Date and End Time,Read Value\n01-03-2024 00:30,1.250\n01-03-2024 01:00,abc\n"
			},
			kind: api.KindMalformedRow,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			portal := portaltest.New(t)
			portal.Update(tt.behaviour)
			client := api.NewClient(
				auth.NewAuthenticator(portal.Options(), nil),
				api.NewDataFetcher(portal.Server.URL, time.UTC, nil),
			)

			readings, err := client.Load(context.Background(), portal.Credentials())
			require.Error(t, err)
			assert.Empty(t, readings)

			var fetchErr *api.FetchError
			require.True(t, errors.As(err, &fetchErr))
			assert.Equal(t, tt.kind, fetchErr.Kind)
			assert.Equal(t, tt.status, fetchErr.StatusCode)
		})
	}
}

func TestClient_LoginFailureSkipsDownload(t *testing.T) {
	portal := portaltest.New(t)
	portal.Update(func(b *portaltest.Behaviour) { b.RejectConfirm = true })
	client := api.NewClient(
		auth.NewAuthenticator(portal.Options(), nil),
		api.NewDataFetcher(portal.Server.URL, time.UTC, nil),
	)

	_, err := client.Load(context.Background(), portal.Credentials())
	var authErr *auth.AuthError
	require.True(t, errors.As(err, &authErr))
	assert.Equal(t, auth.KindRejected, authErr.Kind)
	assert.Equal(t, 0, portal.Calls(portaltest.StepDownload))
}
