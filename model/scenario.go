package model

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// ScenarioID accepts both JSON strings and numbers; generated scenario files
// use either.
type ScenarioID string

func (id *ScenarioID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ScenarioID(s)
		return nil
	}
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = ScenarioID(n.String())
	return nil
}

func (id ScenarioID) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(string(id))), nil
}

// Scenario is a single structured test case of a test's scenario set
type Scenario struct {
	ID    ScenarioID `json:"id"`
	Title string     `json:"title"`
	// The remaining fields are free-form JSON authored by the pipeline or the
	// client and passed through as is
	Steps           json.RawMessage `json:"steps,omitempty"`
	ExpectedResults json.RawMessage `json:"expected_results,omitempty"`
	Preconditions   json.RawMessage `json:"preconditions,omitempty"`
	Priority        json.RawMessage `json:"priority,omitempty"`
	Kind            json.RawMessage `json:"kind,omitempty"`
}
