package models

import (
	"strings"
	"time"
)

// HDFTimeLayout is the layout of the "Read Date and End Time" column.
const HDFTimeLayout = "02-01-2006 15:04"

// Reading is one interval row of the HDF download.
type Reading struct {
	// Time is a wall-clock time in the portal's local zone.
	Time time.Time `json:"time"`
	// KWh is the "Read Value" column.
	KWh float64 `json:"kwh"`

	MPRN        string `json:"mprn,omitempty"`
	MeterSerial string `json:"meter_serial,omitempty"`
	ReadType    string `json:"read_type,omitempty"`
}

// Credentials identifies one portal account and the meter read through it.
type Credentials struct {
	Username string `mapstructure:"username" json:"-"`
	Password string `mapstructure:"password" json:"-"`
	MPRN     string `mapstructure:"mprn" json:"mprn"`
}

// Key is the identity used to coalesce refreshes. The password is left out
// so it never ends up in logs or metric labels.
func (c Credentials) Key() string {
	return strings.ToLower(c.Username) + "|" + c.MPRN
}

// Usage holds the six windowed consumption totals in kWh.
type Usage struct {
	MPRN        string    `json:"mprn"`
	Today       float64   `json:"today"`
	Last24Hours float64   `json:"last_24_hours"`
	ThisWeek    float64   `json:"this_week"`
	Last7Days   float64   `json:"last_7_days"`
	ThisMonth   float64   `json:"this_month"`
	Last30Days  float64   `json:"last_30_days"`
	Readings    int       `json:"readings"`
	ComputedAt  time.Time `json:"computed_at"`
	FetchedAt   time.Time `json:"fetched_at"`
}
