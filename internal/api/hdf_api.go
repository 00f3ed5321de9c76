package api

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tejusbharadwaj/esbmeter/internal/auth"
	"github.com/tejusbharadwaj/esbmeter/internal/metrics"
	"github.com/tejusbharadwaj/esbmeter/internal/models"
)

// Column names of the HDF (harmonised data file) download.
const (
	ColumnReadTime    = "Read Date and End Time"
	ColumnReadValue   = "Read Value"
	ColumnMPRN        = "MPRN"
	ColumnMeterSerial = "Meter Serial Number"
	ColumnReadType    = "Read Type"
)

// FetchKind classifies download failures.
type FetchKind string

const (
	KindHTTPStatus   FetchKind = "http_status"
	KindMalformedRow FetchKind = "malformed_row"
)

// FetchError is returned by Fetch and ParseHDF. Row is the 1-based line of
// the payload, the header being line 1.
type FetchError struct {
	Kind       FetchKind
	StatusCode int
	Row        int
	Err        error
}

func (e *FetchError) Error() string {
	switch e.Kind {
	case KindMalformedRow:
		return fmt.Sprintf("malformed HDF row %d: %v", e.Row, e.Err)
	default:
		if e.Err != nil {
			return fmt.Sprintf("HDF download failed (status %d): %v", e.StatusCode, e.Err)
		}
		return fmt.Sprintf("HDF download failed with status %d", e.StatusCode)
	}
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

var (
	errEmptyPayload  = errors.New("payload is empty")
	errMissingField  = errors.New("missing field")
	errNegativeValue = errors.New("negative or non-finite read value")
	errOtherMeter    = errors.New("row belongs to another meter")
)

// Doer sends HTTP requests; *auth.Session implements it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// DataFetcher downloads the interval readings of a meter.
type DataFetcher struct {
	portalURL string
	location  *time.Location
	logger    *logrus.Logger
}

// NewDataFetcher creates a fetcher. Read times are interpreted in loc, which
// defaults to time.Local.
func NewDataFetcher(portalURL string, loc *time.Location, logger *logrus.Logger) *DataFetcher {
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	return &DataFetcher{
		portalURL: strings.TrimRight(portalURL, "/"),
		location:  loc,
		logger:    logger,
	}
}

// Fetch downloads and decodes the HDF file of mprn through an authenticated
// client. Either every row decodes or nothing is returned.
func (f *DataFetcher) Fetch(ctx context.Context, client Doer, mprn string) ([]models.Reading, error) {
	readings, err := f.fetch(ctx, client, mprn)
	if err != nil {
		metrics.Downloads.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.Downloads.WithLabelValues("success").Inc()
	return readings, nil
}

func (f *DataFetcher) fetch(ctx context.Context, client Doer, mprn string) ([]models.Reading, error) {
	endpoint := fmt.Sprintf("%s/DataHub/DownloadHdf?mprn=%s", f.portalURL, url.QueryEscape(mprn))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &FetchError{Kind: KindHTTPStatus, Err: err}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, &FetchError{Kind: KindHTTPStatus, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &FetchError{Kind: KindHTTPStatus, StatusCode: resp.StatusCode}
	}

	readings, err := ParseHDF(resp.Body, mprn, f.location)
	if err != nil {
		return nil, err
	}

	f.logger.WithFields(logrus.Fields{
		"mprn":     mprn,
		"readings": len(readings),
	}).Debug("Downloaded HDF readings")
	return readings, nil
}

// ParseHDF decodes a comma separated HDF payload with a header row. When mprn
// is not empty, rows carrying a different MPRN are rejected.
func ParseHDF(r io.Reader, mprn string, loc *time.Location) ([]models.Reading, error) {
	if loc == nil {
		loc = time.Local
	}
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, malformed(1, errEmptyPayload)
	}
	if err != nil {
		return nil, malformed(1, err)
	}

	columns := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		columns[name] = i
	}
	timeIdx, ok := columns[ColumnReadTime]
	if !ok {
		return nil, malformed(1, fmt.Errorf("%w: column %q", errMissingField, ColumnReadTime))
	}
	valueIdx, ok := columns[ColumnReadValue]
	if !ok {
		return nil, malformed(1, fmt.Errorf("%w: column %q", errMissingField, ColumnReadValue))
	}
	optional := func(record []string, column string) string {
		if i, ok := columns[column]; ok && i < len(record) {
			return strings.TrimSpace(record[i])
		}
		return ""
	}

	var readings []models.Reading
	for row := 2; ; row++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, malformed(row, err)
		}

		rawTime, rawValue := field(record, timeIdx), field(record, valueIdx)
		if rawTime == "" {
			return nil, malformed(row, fmt.Errorf("%w: %s", errMissingField, ColumnReadTime))
		}
		if rawValue == "" {
			return nil, malformed(row, fmt.Errorf("%w: %s", errMissingField, ColumnReadValue))
		}

		ts, err := time.ParseInLocation(models.HDFTimeLayout, rawTime, loc)
		if err != nil {
			return nil, malformed(row, err)
		}
		kwh, err := strconv.ParseFloat(rawValue, 64)
		if err != nil {
			return nil, malformed(row, err)
		}
		if kwh < 0 || math.IsNaN(kwh) || math.IsInf(kwh, 0) {
			return nil, malformed(row, fmt.Errorf("%w: %s", errNegativeValue, rawValue))
		}

		rowMPRN := optional(record, ColumnMPRN)
		if mprn != "" && rowMPRN != "" && rowMPRN != mprn {
			return nil, malformed(row, fmt.Errorf("%w: %s", errOtherMeter, rowMPRN))
		}

		readings = append(readings, models.Reading{
			Time:        ts,
			KWh:         kwh,
			MPRN:        rowMPRN,
			MeterSerial: optional(record, ColumnMeterSerial),
			ReadType:    optional(record, ColumnReadType),
		})
	}
	return readings, nil
}

func field(record []string, i int) string {
	if i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}

func malformed(row int, err error) *FetchError {
	return &FetchError{Kind: KindMalformedRow, Row: row, Err: err}
}

// Client signs in and downloads the readings of one account. Each Load runs
// a complete login; the session is closed once the download ends.
type Client struct {
	auth    *auth.Authenticator
	fetcher *DataFetcher
}

func NewClient(authenticator *auth.Authenticator, fetcher *DataFetcher) *Client {
	return &Client{auth: authenticator, fetcher: fetcher}
}

// Load signs in with creds and downloads the readings of creds.MPRN.
func (c *Client) Load(ctx context.Context, creds models.Credentials) ([]models.Reading, error) {
	session, err := c.auth.Login(ctx, creds)
	if err != nil {
		return nil, err
	}
	defer session.Close()

	return c.fetcher.Fetch(ctx, session, creds.MPRN)
}
