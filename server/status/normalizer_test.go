package status

import (
	"encoding/json"
	"testing"
	"time"
)

var fixedNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestNormalizer(strategy RemainingStrategy) *Normalizer {
	return NewNormalizer(Options{Now: func() time.Time { return fixedNow }, Remaining: strategy})
}

func strPtr(s string) *string { return &s }
func f64Ptr(v float64) *float64 { return &v }
func boolPtr(b bool) *bool { return &b }
func timePtr(t time.Time) *time.Time { return &t }

func TestComputeNoData(t *testing.T) {
	t.Parallel()

	n := newTestNormalizer(RemainingSeconds)
	for _, requested := range []string{"", "X1"} {
		got := n.Compute(nil, []RegisteredPrinter{{Serial: "A"}}, requested)
		if got.StatusCode != NoData {
			t.Errorf("requested=%q: StatusCode = %q, want NO_DATA", requested, got.StatusCode)
		}
		if got.AvailablePrinters == nil || len(got.AvailablePrinters) != 0 {
			t.Errorf("requested=%q: AvailablePrinters = %v, want empty non-nil", requested, got.AvailablePrinters)
		}
	}

	raw, _ := json.Marshal(n.Compute([]RawDeviceRecord{}, nil, ""))
	var decoded map[string]interface{}
	json.Unmarshal(raw, &decoded)
	if list, ok := decoded["availablePrinters"].([]interface{}); !ok || len(list) != 0 {
		t.Errorf("availablePrinters should serialize as [], got %s", raw)
	}
}

func TestComputeNoDataForSerial(t *testing.T) {
	t.Parallel()

	records := []RawDeviceRecord{
		{DeviceID: "A", DeviceName: "Workshop", Status: strPtr("RUNNING")},
		{DeviceID: "B", Status: strPtr("FINISH")},
	}
	got := newTestNormalizer(RemainingSeconds).Compute(records, nil, "X")

	if got.StatusCode != NoDataForSerial {
		t.Fatalf("StatusCode = %q, want NO_DATA_FOR_SERIAL", got.StatusCode)
	}
	if len(got.AvailablePrinters) != 2 {
		t.Errorf("AvailablePrinters should still list both devices, got %v", got.AvailablePrinters)
	}
	if got.DisplayMessage != "No print data for printer X." {
		t.Errorf("DisplayMessage = %q", got.DisplayMessage)
	}
}

func TestComputeIdleWhenConfiguredPrintersHaveNoJobs(t *testing.T) {
	t.Parallel()

	records := []RawDeviceRecord{{DeviceID: "A", Status: strPtr("RUNNING")}}
	got := newTestNormalizer(RemainingSeconds).Compute(records, []RegisteredPrinter{{Serial: "Z"}}, "")

	if got.StatusCode != Idle {
		t.Fatalf("StatusCode = %q, want IDLE", got.StatusCode)
	}
	if len(got.AvailablePrinters) != 1 || got.AvailablePrinters[0].ID != "A" {
		t.Errorf("AvailablePrinters = %v", got.AvailablePrinters)
	}
}

func TestComputeSelectsMostRecent(t *testing.T) {
	t.Parallel()

	t1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)
	records := []RawDeviceRecord{
		{DeviceID: "A", Status: strPtr("FINISH"), StartTime: timePtr(t1), TaskName: "old"},
		{DeviceID: "A", Status: strPtr("RUNNING"), StartTime: timePtr(t2), TaskName: "new"},
		{DeviceID: "A", Status: strPtr("FAILED"), TaskName: "undated"},
	}
	got := newTestNormalizer(RemainingSeconds).Compute(records, nil, "")

	if got.TaskName != "new" || got.StatusCode != Printing {
		t.Errorf("selected %q (%s), want the T2 job", got.TaskName, got.StatusCode)
	}
	if len(got.AvailablePrinters) != 1 {
		t.Errorf("AvailablePrinters should be de-duplicated, got %v", got.AvailablePrinters)
	}
}

func TestComputeTieKeepsFirst(t *testing.T) {
	t.Parallel()

	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	records := []RawDeviceRecord{
		{DeviceID: "A", StartTime: timePtr(ts), TaskName: "first"},
		{DeviceID: "B", StartTime: timePtr(ts), TaskName: "second"},
		{DeviceID: "C", TaskName: "no time"},
	}
	got := newTestNormalizer(RemainingSeconds).Compute(records, nil, "")
	if got.TaskName != "first" {
		t.Errorf("tie should keep the first record, got %q", got.TaskName)
	}

	undated := []RawDeviceRecord{{DeviceID: "A", TaskName: "one"}, {DeviceID: "B", TaskName: "two"}}
	if got := newTestNormalizer(RemainingSeconds).Compute(undated, nil, ""); got.TaskName != "one" {
		t.Errorf("records without times tie at epoch 0, got %q", got.TaskName)
	}
}

func TestComputeStatusMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw      *string
		wantCode StatusCode
		wantMsg  string
	}{
		{strPtr("RUNNING"), Printing, "Printing"},
		{strPtr("PAUSE"), Paused, "Paused"},
		{strPtr("FINISH"), Success, "Finished successfully"},
		{strPtr("FAILED"), Failed, "Failed"},
		{strPtr("SLICING"), "SLICING", "Status: SLICING"},
		{strPtr("prepare"), "PREPARE", "Status: prepare"},
		{nil, Unknown, "Status unknown"},
		{strPtr(""), Unknown, "Status unknown"},
	}

	n := newTestNormalizer(RemainingSeconds)
	for _, tt := range tests {
		got := n.Compute([]RawDeviceRecord{{DeviceID: "A", Status: tt.raw}}, nil, "")
		if got.StatusCode != tt.wantCode {
			t.Errorf("raw %v: StatusCode = %q, want %q", tt.raw, got.StatusCode, tt.wantCode)
		}
		if got.DisplayMessage != tt.wantMsg {
			t.Errorf("raw %v: DisplayMessage = %q, want %q", tt.raw, got.DisplayMessage, tt.wantMsg)
		}
	}
}

func TestComputeScenarioPrinting(t *testing.T) {
	t.Parallel()

	body := []byte(`{"prints":[{"deviceId":"A","status":"RUNNING","progress":"42","startTime":"2024-01-01T00:00:00Z"}]}`)
	records, ok := DecodeRecords(body)
	if !ok {
		t.Fatal("DecodeRecords() rejected a prints body")
	}

	got := newTestNormalizer(RemainingSeconds).Compute(records, []RegisteredPrinter{{Serial: "A"}}, "")
	if got.StatusCode != Printing || got.DeviceID != "A" || got.ProgressPercent != 42 {
		t.Errorf("got %+v", got)
	}
	if got.DeviceName != "A" || got.DisplayName != "A" {
		t.Errorf("names should fall back to the id, got %q / %q", got.DeviceName, got.DisplayName)
	}
}

func TestComputeRegistryNames(t *testing.T) {
	t.Parallel()

	records := []RawDeviceRecord{
		{DeviceID: "A", DeviceName: "P1S-1", Online: boolPtr(true)},
		{DeviceID: "B", DeviceName: "X1C"},
	}
	configured := []RegisteredPrinter{{Serial: "A", Name: "Garage"}, {Serial: "B"}}

	got := newTestNormalizer(RemainingSeconds).Compute(records, configured, "A")
	if got.DeviceName != "P1S-1" || got.DisplayName != "Garage" {
		t.Errorf("DeviceName=%q DisplayName=%q", got.DeviceName, got.DisplayName)
	}
	want := []PrinterSummary{{ID: "A", Name: "Garage", Online: true}, {ID: "B", Name: "X1C"}}
	for i, p := range want {
		if got.AvailablePrinters[i] != p {
			t.Errorf("AvailablePrinters[%d] = %+v, want %+v", i, got.AvailablePrinters[i], p)
		}
	}
	if got.Detail != "Printer: Garage" {
		t.Errorf("Detail = %q", got.Detail)
	}
}

func TestComputeProgressParsing(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw  *string
		want float64
	}{
		{nil, 0},
		{strPtr("42"), 42},
		{strPtr("42.5"), 42.5},
		{strPtr(" 17%"), 17},
		{strPtr("n/a"), 0},
		{strPtr("1e2"), 100},
		{strPtr("4.2e1"), 42},
		{strPtr("NaN"), 0},
		{strPtr("Inf"), 0},
	}

	n := newTestNormalizer(RemainingSeconds)
	for _, tt := range tests {
		got := n.Compute([]RawDeviceRecord{{DeviceID: "A", Progress: tt.raw}}, nil, "")
		if got.ProgressPercent != tt.want {
			t.Errorf("progress %v: got %v, want %v", tt.raw, got.ProgressPercent, tt.want)
		}
	}
}

func TestComputeProgressFromExponentNumbers(t *testing.T) {
	t.Parallel()

	body := []byte(`{"prints":[
		{"deviceId":"A","status":"RUNNING","progress":4.2e1,"startTime":"2024-01-01T00:00:00Z"},
		{"deviceId":"B","status":"RUNNING","progress":"1e2","startTime":"2024-01-01T00:00:00Z"}
	]}`)
	records, ok := DecodeRecords(body)
	if !ok || len(records) != 2 {
		t.Fatalf("DecodeRecords() = %d records, ok=%v", len(records), ok)
	}

	n := newTestNormalizer(RemainingSeconds)
	if got := n.Compute(records, nil, "A").ProgressPercent; got != 42 {
		t.Errorf("numeric 4.2e1: ProgressPercent = %v, want 42", got)
	}
	if got := n.Compute(records, nil, "B").ProgressPercent; got != 100 {
		t.Errorf(`string "1e2": ProgressPercent = %v, want 100`, got)
	}
}

func TestComputeFinishTime(t *testing.T) {
	t.Parallel()

	end := time.Date(2025, 6, 1, 14, 30, 0, 0, time.UTC)

	tests := []struct {
		name     string
		strategy RemainingStrategy
		rec      RawDeviceRecord
		want     *int64
	}{
		{
			name: "absolute end time wins",
			rec:  RawDeviceRecord{EndTime: timePtr(end), RemainingSeconds: f64Ptr(60)},
			want: int64Ptr(end.Unix()),
		},
		{
			name: "seconds remaining",
			rec:  RawDeviceRecord{RemainingSeconds: f64Ptr(600), Progress: strPtr("50")},
			want: int64Ptr(fixedNow.Unix() + 600),
		},
		{
			name:     "scaled by progress",
			strategy: RemainingScaled,
			rec:      RawDeviceRecord{RemainingSeconds: f64Ptr(600), Progress: strPtr("25")},
			want:     int64Ptr(fixedNow.Unix() + 450),
		},
		{
			name:     "scaled without progress falls back to seconds",
			strategy: RemainingScaled,
			rec:      RawDeviceRecord{RemainingSeconds: f64Ptr(600)},
			want:     int64Ptr(fixedNow.Unix() + 600),
		},
		{
			name:     "scaled clamps progress over 100",
			strategy: RemainingScaled,
			rec:      RawDeviceRecord{RemainingSeconds: f64Ptr(600), Progress: strPtr("140")},
			want:     int64Ptr(fixedNow.Unix()),
		},
		{
			name: "no time basis",
			rec:  RawDeviceRecord{Progress: strPtr("10")},
			want: nil,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tt.rec.DeviceID = "A"
			got := newTestNormalizer(tt.strategy).Compute([]RawDeviceRecord{tt.rec}, nil, "")
			switch {
			case tt.want == nil && got.EstimatedFinishEpochSeconds != nil:
				t.Errorf("finish = %d, want none", *got.EstimatedFinishEpochSeconds)
			case tt.want != nil && got.EstimatedFinishEpochSeconds == nil:
				t.Errorf("finish missing, want %d", *tt.want)
			case tt.want != nil && *got.EstimatedFinishEpochSeconds != *tt.want:
				t.Errorf("finish = %d, want %d", *got.EstimatedFinishEpochSeconds, *tt.want)
			}
		})
	}
}

func TestComputeCarriesTemperatures(t *testing.T) {
	t.Parallel()

	rec := RawDeviceRecord{
		DeviceID:         "A",
		NozzleTemp:       f64Ptr(219.5),
		NozzleTargetTemp: f64Ptr(220),
		BedTemp:          f64Ptr(55),
		FilamentType:     "PLA",
	}
	got := newTestNormalizer(RemainingSeconds).Compute([]RawDeviceRecord{rec}, nil, "")
	if *got.NozzleTemp != 219.5 || *got.NozzleTargetTemp != 220 || *got.BedTemp != 55 {
		t.Errorf("temperatures not carried: %+v", got)
	}
	if got.BedTargetTemp != nil {
		t.Error("absent temperature must stay absent")
	}
	if got.FilamentType != "PLA" {
		t.Errorf("FilamentType = %q", got.FilamentType)
	}
}

func TestComputeGermanCatalog(t *testing.T) {
	t.Parallel()

	n := NewNormalizer(Options{Locale: "de-DE"})
	if got := n.Compute(nil, nil, ""); got.DisplayMessage != "Keine Druckdaten verfügbar" {
		t.Errorf("NO_DATA message = %q", got.DisplayMessage)
	}
	got := n.Compute([]RawDeviceRecord{{DeviceID: "A", Status: strPtr("RUNNING")}}, nil, "")
	if got.DisplayMessage != "Druckt" {
		t.Errorf("PRINTING message = %q", got.DisplayMessage)
	}
	if !SupportedLocale("de_AT") || SupportedLocale("fr") {
		t.Error("SupportedLocale mismatch")
	}
	if CatalogFor("fr").Printing != "Printing" {
		t.Error("unknown locale should fall back to English")
	}
}

func TestParseRemainingStrategy(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]RemainingStrategy{"": RemainingSeconds, "seconds": RemainingSeconds, " Scaled ": RemainingScaled} {
		got, err := ParseRemainingStrategy(in)
		if err != nil || got != want {
			t.Errorf("ParseRemainingStrategy(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseRemainingStrategy("minutes"); err == nil {
		t.Error("expected error for unknown strategy")
	}
	if RemainingScaled.String() != "scaled" {
		t.Errorf("String() = %q", RemainingScaled.String())
	}
}

func int64Ptr(v int64) *int64 { return &v }
