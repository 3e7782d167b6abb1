// Package model holds the feedback domain types shared by the store and
// service layers.
package model

import (
	"time"
)

// Scheme names the kind of entity a submission is about. Each scheme keys
// duplicate suppression independently.
type Scheme string

const (
	SchemeVehicle  Scheme = "vehicle"  // keyed by normalized plate
	SchemeOperator Scheme = "operator" // keyed by personnel matriculation
)

// Kind is the nature of the feedback.
type Kind string

const (
	KindCompliment Kind = "compliment"
	KindIncident   Kind = "incident"
)

// Location is where the submitter was, optionally labeled by the geocoder.
type Location struct {
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
	Locality string  `json:"locality,omitempty"`
	Region   string  `json:"region,omitempty"`
}

// Submission is one persisted feedback record. It is never updated once stored.
type Submission struct {
	ID            string    `json:"id"`
	Scheme        Scheme    `json:"scheme"`
	EntityKey     string    `json:"entity_key"`
	ActorToken    string    `json:"-"`
	Kind          Kind      `json:"kind"`
	Message       string    `json:"message"`
	ReporterName  string    `json:"reporter_name,omitempty"`
	ReporterPhone string    `json:"reporter_phone,omitempty"`
	OperatorName  string    `json:"operator_name,omitempty"`
	Location      *Location `json:"location,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}
