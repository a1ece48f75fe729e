package mqttfeed

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"bambuwatch/server/status"
)

// deviceState accumulates the partial reports of one printer. Printers send
// deltas, so a field absent from a report keeps its previous value.
type deviceState struct {
	serial       string
	state        *string
	progress     *float64
	remainingMin *float64
	finishAt     *time.Time
	startAt      *time.Time
	nozzle       *float64
	nozzleTarget *float64
	bed          *float64
	bedTarget    *float64
	filament     string
	taskName     string
	lastReport   time.Time
}

// report is the subset of a device report this feed reads. Two layouts are
// accepted: the "print" block sent by current firmware and the older
// "print_status" block with nested temperature objects.
type report struct {
	Print       map[string]json.RawMessage `json:"print"`
	PrintStatus map[string]json.RawMessage `json:"print_status"`
}

// decodeReport reports ok=false for payloads that are not JSON or carry
// neither block.
func decodeReport(payload []byte) (report, bool) {
	var r report
	if err := json.Unmarshal(payload, &r); err != nil {
		return report{}, false
	}
	return r, r.Print != nil || r.PrintStatus != nil
}

// merge applies a report to the accumulated state.
func (d *deviceState) merge(r report, now time.Time) {
	d.lastReport = now
	if p := r.Print; p != nil {
		setString(&d.state, p, "gcode_state")
		setNumber(&d.progress, p, "mc_percent")
		setNumber(&d.remainingMin, p, "mc_remaining_time")
		setNumber(&d.nozzle, p, "nozzle_temper")
		setNumber(&d.nozzleTarget, p, "nozzle_target_temper")
		setNumber(&d.bed, p, "bed_temper")
		setNumber(&d.bedTarget, p, "bed_target_temper")
		if v := stringValue(p, "subtask_name"); v != "" {
			d.taskName = v
		} else if v := stringValue(p, "gcode_file"); v != "" {
			d.taskName = v
		}
		if v, ok := epochValue(p, "gcode_start_time"); ok {
			d.startAt = &v
		}
		if v := firstTrayType(p); v != "" {
			d.filament = v
		}
	}
	if p := r.PrintStatus; p != nil {
		setString(&d.state, p, "state")
		setNumber(&d.progress, p, "progress")
		if stage, ok := p["mc_print_stage"]; ok {
			var nested map[string]json.RawMessage
			if json.Unmarshal(stage, &nested) == nil {
				if v, ok := epochValue(nested, "finish_time"); ok {
					d.finishAt = &v
				}
			}
		}
		if d.finishAt == nil {
			if v, ok := epochValue(p, "estimated_finish_time"); ok {
				d.finishAt = &v
			}
		}
		setCurrentTarget(&d.nozzle, &d.nozzleTarget, p, "nozzle_temper")
		setCurrentTarget(&d.bed, &d.bedTarget, p, "bed_temper")
		if v := stringValue(p, "gcode_file"); v != "" {
			d.taskName = v
		}
		if v := firstTrayType(p); v != "" {
			d.filament = v
		}
	}
}

// record converts the accumulated state into the normalizer's input form.
func (d *deviceState) record(name string) status.RawDeviceRecord {
	online := true
	rec := status.RawDeviceRecord{
		DeviceID:         d.serial,
		DeviceName:       name,
		Online:           &online,
		Status:           d.state,
		StartTime:        d.startAt,
		EndTime:          d.finishAt,
		NozzleTemp:       d.nozzle,
		NozzleTargetTemp: d.nozzleTarget,
		BedTemp:          d.bed,
		BedTargetTemp:    d.bedTarget,
		FilamentType:     d.filament,
		TaskName:         d.taskName,
	}
	if d.startAt == nil {
		// Last report time orders devices that never sent a start time.
		at := d.lastReport
		rec.StartTime = &at
	}
	if d.progress != nil {
		s := strconv.FormatFloat(*d.progress, 'f', -1, 64)
		rec.Progress = &s
	}
	if d.remainingMin != nil {
		secs := *d.remainingMin * 60
		rec.RemainingSeconds = &secs
	}
	return rec
}

// serialFromTopic extracts <serial> from device/<serial>/report.
func serialFromTopic(topic string) (string, error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[0] != "device" || parts[2] != "report" || parts[1] == "" {
		return "", fmt.Errorf("unexpected topic %q", topic)
	}
	return parts[1], nil
}

func reportTopic(serial string) string {
	return "device/" + serial + "/report"
}

func setString(dst **string, fields map[string]json.RawMessage, key string) {
	if v := stringValue(fields, key); v != "" {
		*dst = &v
	}
}

func setNumber(dst **float64, fields map[string]json.RawMessage, key string) {
	if v, ok := numberValue(fields[key]); ok {
		*dst = &v
	}
}

// setCurrentTarget reads {"current": n, "target": n} objects.
func setCurrentTarget(current, target **float64, fields map[string]json.RawMessage, key string) {
	raw, ok := fields[key]
	if !ok {
		return
	}
	var nested struct {
		Current json.RawMessage `json:"current"`
		Target  json.RawMessage `json:"target"`
	}
	if json.Unmarshal(raw, &nested) != nil {
		if v, ok := numberValue(raw); ok {
			*current = &v
		}
		return
	}
	if v, ok := numberValue(nested.Current); ok {
		*current = &v
	}
	if v, ok := numberValue(nested.Target); ok {
		*target = &v
	}
}

func stringValue(fields map[string]json.RawMessage, key string) string {
	raw, ok := fields[key]
	if !ok {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

// numberValue accepts JSON numbers and numeric strings.
func numberValue(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, false
	}
	var f float64
	if json.Unmarshal(raw, &f) == nil {
		return f, true
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		if v, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return v, true
		}
	}
	return 0, false
}

func epochValue(fields map[string]json.RawMessage, key string) (time.Time, bool) {
	v, ok := numberValue(fields[key])
	if !ok || v <= 0 {
		return time.Time{}, false
	}
	return status.EpochToTime(v), true
}

// firstTrayType reads ams.ams[0].tray[0].tray_type (print block) or
// current_ams.tray_info[0].tray_type (print_status block).
func firstTrayType(fields map[string]json.RawMessage) string {
	var current struct {
		TrayInfo []struct {
			TrayType string `json:"tray_type"`
		} `json:"tray_info"`
	}
	if raw, ok := fields["current_ams"]; ok && json.Unmarshal(raw, &current) == nil {
		if len(current.TrayInfo) > 0 && current.TrayInfo[0].TrayType != "" {
			return current.TrayInfo[0].TrayType
		}
	}
	var ams struct {
		AMS []struct {
			Tray []struct {
				TrayType string `json:"tray_type"`
			} `json:"tray"`
		} `json:"ams"`
	}
	if raw, ok := fields["ams"]; ok && json.Unmarshal(raw, &ams) == nil {
		if len(ams.AMS) > 0 && len(ams.AMS[0].Tray) > 0 {
			return ams.AMS[0].Tray[0].TrayType
		}
	}
	return ""
}
