// Package status turns heterogeneous upstream print-job records into a single
// normalized printer status. Everything in this package is pure: no I/O, no
// session access, and time comes from an injected clock.
package status

import "time"

// StatusCode is the normalized printer state. Unrecognized upstream states are
// passed through uppercased, so the set is open.
type StatusCode string

const (
	Printing        StatusCode = "PRINTING"
	Paused          StatusCode = "PAUSED"
	Success         StatusCode = "SUCCESS"
	Failed          StatusCode = "FAILED"
	Idle            StatusCode = "IDLE"
	Unknown         StatusCode = "UNKNOWN"
	NoData          StatusCode = "NO_DATA"
	NoDataForSerial StatusCode = "NO_DATA_FOR_SERIAL"
)

// RawDeviceRecord is one upstream print-job or device entry. Every field is
// optional; pointer fields are nil when the upstream omitted them.
type RawDeviceRecord struct {
	DeviceID    string
	DeviceName  string
	ProductName string
	Online      *bool

	Status   *string
	Progress *string // raw text, parsed leniently by the normalizer

	StartTime        *time.Time
	EndTime          *time.Time
	RemainingSeconds *float64 // "prediction"

	NozzleTemp       *float64
	NozzleTargetTemp *float64
	BedTemp          *float64
	BedTargetTemp    *float64

	FilamentType string
	TaskName     string
}

// RegisteredPrinter is a locally tracked printer.
type RegisteredPrinter struct {
	Serial string
	Name   string
}

// PrinterSummary is one entry of the printer switcher list.
type PrinterSummary struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Online bool   `json:"online"`
}

// NormalizedStatus is the result of one Compute call.
type NormalizedStatus struct {
	StatusCode     StatusCode `json:"statusCode"`
	DisplayMessage string     `json:"displayMessage"`
	Detail         string     `json:"detail,omitempty"`

	DeviceID    string `json:"deviceId,omitempty"`
	DeviceName  string `json:"deviceName,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
	Online      *bool  `json:"online,omitempty"`

	ProgressPercent             float64 `json:"progressPercent"`
	EstimatedFinishEpochSeconds *int64  `json:"estimatedFinishEpochSeconds,omitempty"`

	NozzleTemp       *float64 `json:"nozzleTemp,omitempty"`
	NozzleTargetTemp *float64 `json:"nozzleTargetTemp,omitempty"`
	BedTemp          *float64 `json:"bedTemp,omitempty"`
	BedTargetTemp    *float64 `json:"bedTargetTemp,omitempty"`

	FilamentType string `json:"filamentType,omitempty"`
	TaskName     string `json:"taskName,omitempty"`
	RawStatus    string `json:"rawStatus,omitempty"`

	AvailablePrinters []PrinterSummary `json:"availablePrinters"`
}
