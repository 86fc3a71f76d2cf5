package queue

import (
	"testing"

	"webhook-delivery/internal/common/errors"
)

func TestJob_Validate(t *testing.T) {
	valid := Job{
		RequestAttemptID: "att-1",
		EventID:          "evt-1",
		SubscriptionID:   "sub-1",
		AttemptNumber:    1,
	}

	tests := []struct {
		name    string
		mutate  func(j *Job)
		wantErr bool
	}{
		{"valid", func(j *Job) {}, false},
		{"missing attempt id", func(j *Job) { j.RequestAttemptID = "" }, true},
		{"missing event id", func(j *Job) { j.EventID = "" }, true},
		{"missing subscription id", func(j *Job) { j.SubscriptionID = "" }, true},
		{"zero attempt number", func(j *Job) { j.AttemptNumber = 0 }, true},
		{"negative attempt number", func(j *Job) { j.AttemptNumber = -3 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := valid
			tt.mutate(&job)
			err := job.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestUnmarshalJob(t *testing.T) {
	original := Job{
		RequestAttemptID: "att-9",
		EventID:          "evt-9",
		SubscriptionID:   "sub-9",
		AttemptNumber:    4,
	}
	data, err := original.Marshal()
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	decoded, err := UnmarshalJob(data)
	if err != nil {
		t.Fatalf("UnmarshalJob() error = %v", err)
	}
	if decoded != original {
		t.Errorf("round trip mismatch: got %+v, want %+v", decoded, original)
	}

	if _, err := UnmarshalJob([]byte("not json")); err == nil {
		t.Error("UnmarshalJob accepted garbage")
	} else if !errors.IsType(err, errors.ErrTypeValidation) {
		t.Errorf("expected validation error, got %v", err)
	}

	// Well-formed JSON that fails validation is rejected too.
	if _, err := UnmarshalJob([]byte(`{"event_id":"evt-1"}`)); err == nil {
		t.Error("UnmarshalJob accepted an incomplete job")
	}
}
