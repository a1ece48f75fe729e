package status

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// Source field names per canonical field, in probe order. The first alias
// holding a usable value wins.
var (
	aliasDeviceID     = []string{"deviceId", "dev_id", "device_id", "devId"}
	aliasDeviceName   = []string{"deviceName", "dev_name", "device_name", "name"}
	aliasProductName  = []string{"productName", "dev_product_name", "product_name"}
	aliasOnline       = []string{"online", "dev_online", "isOnline"}
	aliasStatus       = []string{"status", "task_status", "print_status"}
	aliasProgress     = []string{"progress", "mc_percent"}
	aliasStartTime    = []string{"startTime", "start_time", "created_at", "createdAt"}
	aliasEndTime      = []string{"endTime", "end_time"}
	aliasPrediction   = []string{"prediction", "remaining_time", "remainingTime"}
	aliasNozzleTemp   = []string{"nozzleTemp", "nozzle_temper", "nozzle_temp"}
	aliasNozzleTarget = []string{"nozzleTempTarget", "nozzle_target_temper", "nozzle_target_temp"}
	aliasBedTemp      = []string{"bedTemp", "bed_temper", "bed_temp"}
	aliasBedTarget    = []string{"bedTempTarget", "bed_target_temper", "bed_target_temp"}
	aliasFilament     = []string{"filamentType", "filament_type"}
	aliasTaskName     = []string{"taskName", "task_name", "title", "designTitle"}
)

// epoch values above this are milliseconds
const epochMillisThreshold = 1e12

// UnmarshalJSON decodes one upstream record. It never fails on unexpected
// field types; such fields are treated as absent. Only a non-object input is
// an error.
func (r *RawDeviceRecord) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	*r = RawDeviceRecord{}
	f := fieldSet(fields)

	r.DeviceID, _ = f.str(aliasDeviceID)
	r.DeviceName, _ = f.str(aliasDeviceName)
	r.ProductName, _ = f.str(aliasProductName)
	if v, ok := f.boolean(aliasOnline); ok {
		r.Online = &v
	}
	if v, ok := f.str(aliasStatus); ok {
		r.Status = &v
	}
	if v, ok := f.str(aliasProgress); ok {
		r.Progress = &v
	}
	r.StartTime = f.timestamp(aliasStartTime)
	r.EndTime = f.timestamp(aliasEndTime)
	r.RemainingSeconds = f.number(aliasPrediction)
	r.NozzleTemp = f.number(aliasNozzleTemp)
	r.NozzleTargetTemp = f.number(aliasNozzleTarget)
	r.BedTemp = f.number(aliasBedTemp)
	r.BedTargetTemp = f.number(aliasBedTarget)
	r.FilamentType, _ = f.str(aliasFilament)
	r.TaskName, _ = f.str(aliasTaskName)
	return nil
}

// DecodeRecords extracts the record list from an upstream print-job body,
// accepting either a "prints" or a "devices" array. ok is false when neither
// key holds an array; individual malformed entries are skipped.
func DecodeRecords(body []byte) (records []RawDeviceRecord, ok bool) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, false
	}
	for _, key := range []string{"prints", "devices"} {
		raw, present := envelope[key]
		if !present {
			continue
		}
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil || items == nil {
			continue
		}
		records = make([]RawDeviceRecord, 0, len(items))
		for _, item := range items {
			var rec RawDeviceRecord
			if err := json.Unmarshal(item, &rec); err != nil {
				continue
			}
			records = append(records, rec)
		}
		return records, true
	}
	return nil, false
}

type fieldSet map[string]json.RawMessage

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// str returns the first non-empty string or number (as its text).
func (f fieldSet) str(aliases []string) (string, bool) {
	for _, key := range aliases {
		raw, ok := f[key]
		if !ok || isNull(raw) {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			if strings.TrimSpace(s) != "" {
				return s, true
			}
			continue
		}
		var n json.Number
		if err := json.Unmarshal(raw, &n); err == nil {
			return n.String(), true
		}
	}
	return "", false
}

// number returns the first value that is a JSON number or a numeric string.
func (f fieldSet) number(aliases []string) *float64 {
	for _, key := range aliases {
		raw, ok := f[key]
		if !ok || isNull(raw) {
			continue
		}
		if v, ok := parseNumber(raw); ok {
			return &v
		}
	}
	return nil
}

func parseNumber(raw json.RawMessage) (float64, bool) {
	var v float64
	if err := json.Unmarshal(raw, &v); err == nil {
		return v, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if v, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil && !math.IsNaN(v) && !math.IsInf(v, 0) {
			return v, true
		}
	}
	return 0, false
}

func (f fieldSet) boolean(aliases []string) (bool, bool) {
	for _, key := range aliases {
		raw, ok := f[key]
		if !ok || isNull(raw) {
			continue
		}
		var b bool
		if err := json.Unmarshal(raw, &b); err == nil {
			return b, true
		}
		if v, ok := parseNumber(raw); ok {
			return v != 0, true
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
				return b, true
			}
		}
	}
	return false, false
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// timestamp accepts RFC 3339-like strings and epoch seconds or milliseconds.
func (f fieldSet) timestamp(aliases []string) *time.Time {
	for _, key := range aliases {
		raw, ok := f[key]
		if !ok || isNull(raw) {
			continue
		}
		if t, ok := parseTimestamp(raw); ok {
			return &t
		}
	}
	return nil
}

func parseTimestamp(raw json.RawMessage) (time.Time, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.TrimSpace(s)
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, true
			}
		}
	}
	if v, ok := parseNumber(raw); ok && v > 0 {
		return EpochToTime(v), true
	}
	return time.Time{}, false
}

// EpochToTime converts epoch seconds, or milliseconds for large values, to UTC.
func EpochToTime(v float64) time.Time {
	if v > epochMillisThreshold {
		return time.UnixMilli(int64(v)).UTC()
	}
	sec, frac := math.Modf(v)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}
