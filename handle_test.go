package tiercache

import "testing"

func TestUpdateOutcomeString(t *testing.T) {
	cases := map[UpdateOutcome]string{
		UpdateSuccess:             "success",
		UpdateFactoryReturnedNull: "factory_returned_null",
		UpdateItemDidNotExist:     "item_did_not_exist",
		UpdateTooManyRetries:      "too_many_retries",
		UpdateOutcome(99):         "unknown",
	}
	for outcome, want := range cases {
		if got := outcome.String(); got != want {
			t.Errorf("UpdateOutcome(%d).String() = %q, want %q", outcome, got, want)
		}
	}
}
