package models

import (
	"errors"
	"testing"
	"time"
)

func TestAvailabilityWindowValidate(t *testing.T) {
	tests := []struct {
		name    string
		window  AvailabilityWindow
		wantErr bool
	}{
		{"same-day window", AvailabilityWindow{Day: time.Monday, Start: 9 * 60, End: 17 * 60}, false},
		{"overnight window", AvailabilityWindow{Day: time.Friday, Start: 22 * 60, End: 6 * 60}, false},
		{"empty window", AvailabilityWindow{Day: time.Monday, Start: 600, End: 600}, true},
		{"start past midnight", AvailabilityWindow{Day: time.Monday, Start: 24 * 60, End: 60}, true},
		{"negative start", AvailabilityWindow{Day: time.Monday, Start: -1, End: 60}, true},
		{"end past midnight", AvailabilityWindow{Day: time.Monday, Start: 0, End: 24*60 + 1}, true},
		{"invalid weekday", AvailabilityWindow{Day: time.Weekday(7), Start: 0, End: 60}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.window.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	empty := AvailabilityWindow{Day: time.Monday, Start: 600, End: 600}
	if err := empty.Validate(); !errors.Is(err, ErrInvalidScheduleWindow) {
		t.Errorf("empty window error = %v, want ErrInvalidScheduleWindow", err)
	}
}
