package status

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// RemainingStrategy selects how the "prediction" field is turned into a
// finish-time estimate when no absolute end time is present.
type RemainingStrategy int

const (
	// RemainingSeconds treats prediction as seconds remaining.
	RemainingSeconds RemainingStrategy = iota
	// RemainingScaled treats prediction as the stage total and scales it by
	// the unfinished fraction: prediction * (100 - progress) / 100.
	RemainingScaled
)

func (s RemainingStrategy) String() string {
	if s == RemainingScaled {
		return "scaled"
	}
	return "seconds"
}

// ParseRemainingStrategy accepts "seconds" (or "") and "scaled".
func ParseRemainingStrategy(s string) (RemainingStrategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "seconds":
		return RemainingSeconds, nil
	case "scaled":
		return RemainingScaled, nil
	default:
		return RemainingSeconds, fmt.Errorf("unknown remaining strategy %q (want seconds or scaled)", s)
	}
}

// Options configures a Normalizer.
type Options struct {
	Now       func() time.Time
	Remaining RemainingStrategy
	Locale    string
}

// Normalizer computes NormalizedStatus values. It holds no mutable state and
// is safe for concurrent use.
type Normalizer struct {
	now       func() time.Time
	remaining RemainingStrategy
	catalog   Catalog
}

// NewNormalizer returns a Normalizer; a nil clock means time.Now.
func NewNormalizer(opts Options) *Normalizer {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Normalizer{now: now, remaining: opts.Remaining, catalog: CatalogFor(opts.Locale)}
}

// rawToCode maps known upstream states; anything else passes through uppercased.
var rawToCode = map[string]StatusCode{
	"RUNNING": Printing,
	"PAUSE":   Paused,
	"FINISH":  Success,
	"FAILED":  Failed,
}

// Compute selects the relevant record and normalizes it.
//
// requested narrows to one device id; otherwise configured printers narrow the
// records, and an empty registry means all records count. availablePrinters
// always lists every device seen in records.
func (n *Normalizer) Compute(records []RawDeviceRecord, configured []RegisteredPrinter, requested string) NormalizedStatus {
	c := n.catalog

	if len(records) == 0 {
		return NormalizedStatus{
			StatusCode:        NoData,
			DisplayMessage:    c.NoData,
			Detail:            c.NoDataDetail,
			AvailablePrinters: []PrinterSummary{},
		}
	}

	names := make(map[string]string, len(configured))
	for _, p := range configured {
		if p.Serial != "" {
			names[p.Serial] = p.Name
		}
	}

	available := availablePrinters(records, names)

	requested = strings.TrimSpace(requested)
	working := records
	switch {
	case requested != "":
		working = filterByID(records, func(id string) bool { return id == requested })
		if len(working) == 0 {
			return NormalizedStatus{
				StatusCode:        NoDataForSerial,
				DisplayMessage:    fmt.Sprintf(c.NoDataForSerial, requested),
				Detail:            fmt.Sprintf(c.NoDataForSerialDetail, requested),
				DeviceID:          requested,
				AvailablePrinters: available,
			}
		}
	case len(names) > 0:
		working = filterByID(records, func(id string) bool {
			_, ok := names[id]
			return ok
		})
	}

	if len(working) == 0 {
		return NormalizedStatus{
			StatusCode:        Idle,
			DisplayMessage:    c.Idle,
			Detail:            c.IdleDetail,
			AvailablePrinters: available,
		}
	}

	latest := mostRecent(working)
	out := NormalizedStatus{
		DeviceID:          latest.DeviceID,
		DeviceName:        firstNonEmpty(latest.DeviceName, latest.DeviceID),
		Online:            latest.Online,
		NozzleTemp:        latest.NozzleTemp,
		NozzleTargetTemp:  latest.NozzleTargetTemp,
		BedTemp:           latest.BedTemp,
		BedTargetTemp:     latest.BedTargetTemp,
		FilamentType:      latest.FilamentType,
		TaskName:          latest.TaskName,
		AvailablePrinters: available,
	}
	out.DisplayName = firstNonEmpty(names[latest.DeviceID], out.DeviceName)
	out.Detail = fmt.Sprintf(c.PrinterDetail, out.DisplayName)

	if latest.Status == nil || strings.TrimSpace(*latest.Status) == "" {
		out.StatusCode = Unknown
	} else {
		raw := *latest.Status
		out.RawStatus = raw
		if code, ok := rawToCode[raw]; ok {
			out.StatusCode = code
		} else {
			out.StatusCode = StatusCode(strings.ToUpper(raw))
		}
	}
	out.DisplayMessage = c.forCode(out.StatusCode, out.RawStatus)

	progress, hasProgress := parseProgress(latest.Progress)
	out.ProgressPercent = progress
	out.EstimatedFinishEpochSeconds = n.finishTime(latest, progress, hasProgress)

	return out
}

func (n *Normalizer) finishTime(rec RawDeviceRecord, progress float64, hasProgress bool) *int64 {
	if rec.EndTime != nil {
		v := rec.EndTime.Unix()
		return &v
	}
	if rec.RemainingSeconds == nil {
		return nil
	}
	remaining := *rec.RemainingSeconds
	if n.remaining == RemainingScaled && hasProgress {
		p := math.Min(math.Max(progress, 0), 100)
		remaining = remaining * (100 - p) / 100
	}
	if remaining < 0 {
		remaining = 0
	}
	v := n.now().Unix() + int64(math.Round(remaining))
	return &v
}

func availablePrinters(records []RawDeviceRecord, names map[string]string) []PrinterSummary {
	seen := make(map[string]bool, len(records))
	out := make([]PrinterSummary, 0, len(records))
	for _, r := range records {
		if r.DeviceID == "" || seen[r.DeviceID] {
			continue
		}
		seen[r.DeviceID] = true
		out = append(out, PrinterSummary{
			ID:     r.DeviceID,
			Name:   firstNonEmpty(names[r.DeviceID], r.DeviceName, r.DeviceID),
			Online: r.Online != nil && *r.Online,
		})
	}
	return out
}

func filterByID(records []RawDeviceRecord, keep func(string) bool) []RawDeviceRecord {
	var out []RawDeviceRecord
	for _, r := range records {
		if keep(r.DeviceID) {
			out = append(out, r)
		}
	}
	return out
}

// mostRecent folds left to right, replacing the pick only on a strictly later
// start time. Missing start times count as the Unix epoch.
func mostRecent(records []RawDeviceRecord) RawDeviceRecord {
	latest := records[0]
	latestAt := startOf(latest)
	for _, r := range records[1:] {
		if at := startOf(r); at.After(latestAt) {
			latest, latestAt = r, at
		}
	}
	return latest
}

func startOf(r RawDeviceRecord) time.Time {
	if r.StartTime == nil {
		return time.Unix(0, 0)
	}
	return *r.StartTime
}

// parseProgress parses the raw text as a float, falling back to its leading
// decimal number so "42%" still parses. Absent or unparsable input, NaN and
// infinities yield 0, false.
func parseProgress(raw *string) (float64, bool) {
	if raw == nil {
		return 0, false
	}
	s := strings.TrimSpace(*raw)
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, false
		}
		return v, true
	}
	end := 0
	for end < len(s) {
		ch := s[end]
		if (ch >= '0' && ch <= '9') || ch == '.' || ((ch == '-' || ch == '+') && end == 0) {
			end++
			continue
		}
		break
	}
	for end > 0 {
		if v, err := strconv.ParseFloat(s[:end], 64); err == nil {
			return v, true
		}
		end--
	}
	return 0, false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
