package feedback

import (
	"github.com/sells-group/fleet-feedback/internal/model"
)

// LocationInput is the submitter's position, if the client shared it.
type LocationInput struct {
	Lat float64 `json:"lat" validate:"latitude"`
	Lon float64 `json:"lon" validate:"longitude"`
}

// VehicleFeedback is a public submission about whoever drives a vehicle.
type VehicleFeedback struct {
	Plate         string         `json:"plate" validate:"required,max=16"`
	Kind          model.Kind     `json:"kind" validate:"required,oneof=compliment incident"`
	Message       string         `json:"message" validate:"required,min=3,max=2000"`
	ReporterName  string         `json:"reporter_name" validate:"omitempty,max=120"`
	ReporterPhone string         `json:"reporter_phone" validate:"omitempty,phone_br"`
	Location      *LocationInput `json:"location"`
}

// OperatorFeedback is a submission about a specific staff member.
type OperatorFeedback struct {
	Matricula     int64          `json:"matricula" validate:"required,gt=0"`
	Kind          model.Kind     `json:"kind" validate:"required,oneof=compliment incident"`
	Message       string         `json:"message" validate:"required,min=3,max=2000"`
	ReporterName  string         `json:"reporter_name" validate:"omitempty,max=120"`
	ReporterPhone string         `json:"reporter_phone" validate:"omitempty,phone_br"`
	Location      *LocationInput `json:"location"`
}

// VehicleStatus tells a client whether a plate can receive feedback.
type VehicleStatus struct {
	Plate    string `json:"plate"`
	Active   bool   `json:"active"`
	Operator string `json:"operator,omitempty"`
}
