package importer

import "encoding/json"

// Local outcomes of an import item
const (
	StatusCreated = "created"
	StatusUpdated = "updated"
	StatusError   = "error"
)

// Upstream outcomes of an import item. Failures are reported as "error: <detail>".
const (
	NSPDSuccess  = "success"
	NSPDNotFound = "not_found"
	NSPDSkipped  = "skipped"
)

// Item is one plot to create or update
type Item struct {
	CadastralNumber string  `json:"cadastral_number"`
	Price           *int64  `json:"price,omitempty"`
	Comment         *string `json:"comment,omitempty"`
}

// Result is the outcome of one item. The local status and the upstream
// status are independent.
type Result struct {
	CadastralNumber string  `json:"cadastral_number"`
	PlotID          *int64  `json:"plot_id"`
	Status          string  `json:"status"`
	Message         *string `json:"message"`
	NSPDStatus      string  `json:"nspd_status"`
}

// Summary aggregates a run
type Summary struct {
	Total   int      `json:"total"`
	Created int      `json:"created"`
	Updated int      `json:"updated"`
	Errors  int      `json:"errors"`
	Items   []Result `json:"items"`
}

func (s *Summary) add(r Result) {
	switch r.Status {
	case StatusCreated:
		s.Created++
	case StatusUpdated:
		s.Updated++
	default:
		s.Errors++
	}
	s.Items = append(s.Items, r)
}

// Event is a progress notification of a streaming run. Events marshal to one
// JSON object with a "type" field.
type Event interface {
	EventType() string
}

// StartEvent opens a run
type StartEvent struct {
	Total int `json:"total"`
}

// ProcessingEvent is sent before an item is handled. Current is 1-based.
type ProcessingEvent struct {
	Current         int    `json:"current"`
	Total           int    `json:"total"`
	CadastralNumber string `json:"cadastral_number"`
}

// ProgressEvent carries the result of the item just handled
type ProgressEvent struct {
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Item    Result `json:"item"`
}

// FinishEvent closes a run
type FinishEvent struct {
	Summary Summary `json:"summary"`
}

func (StartEvent) EventType() string      { return "start" }
func (ProcessingEvent) EventType() string { return "processing" }
func (ProgressEvent) EventType() string   { return "progress" }
func (FinishEvent) EventType() string     { return "finish" }

func (e StartEvent) MarshalJSON() ([]byte, error) {
	type fields StartEvent
	return json.Marshal(struct {
		Type string `json:"type"`
		fields
	}{e.EventType(), fields(e)})
}

func (e ProcessingEvent) MarshalJSON() ([]byte, error) {
	type fields ProcessingEvent
	return json.Marshal(struct {
		Type string `json:"type"`
		fields
	}{e.EventType(), fields(e)})
}

func (e ProgressEvent) MarshalJSON() ([]byte, error) {
	type fields ProgressEvent
	return json.Marshal(struct {
		Type string `json:"type"`
		fields
	}{e.EventType(), fields(e)})
}

func (e FinishEvent) MarshalJSON() ([]byte, error) {
	type fields FinishEvent
	return json.Marshal(struct {
		Type string `json:"type"`
		fields
	}{e.EventType(), fields(e)})
}
