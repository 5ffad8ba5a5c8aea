package model

import "encoding/json"

// EventStatusFinished marks the terminal event of a run stream.
const EventStatusFinished = "finished"

// Event is one item of a run's live stream: either an output line or the
// terminal finished marker.
type Event struct {
	Line   string
	Status string
}

// LineEvent wraps an output line.
func LineEvent(line string) Event {
	return Event{Line: line}
}

// FinishedEvent is the terminal event of every run.
func FinishedEvent() Event {
	return Event{Status: EventStatusFinished}
}

// Finished reports whether this is the terminal event.
func (e Event) Finished() bool {
	return e.Status == EventStatusFinished
}

func (e Event) MarshalJSON() ([]byte, error) {
	if e.Status != "" {
		return json.Marshal(struct {
			Status string `json:"status"`
		}{e.Status})
	}
	return json.Marshal(struct {
		Line string `json:"line"`
	}{e.Line})
}

func (e *Event) UnmarshalJSON(data []byte) error {
	var raw struct {
		Line   string `json:"line"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	e.Line = raw.Line
	e.Status = raw.Status
	return nil
}
