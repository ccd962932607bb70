package models

// CreateTurnRequest is the body of POST /api/turns.
type CreateTurnRequest struct {
	VenueID      *int64 `json:"venue_id" validate:"omitempty,gt=0"`
	RotatingCode string `json:"rotating_code" validate:"omitempty,max=100"`
	Simulated    bool   `json:"simulated"`
}

// PublicTurnRequest is the body of POST /api/turns/public.
type PublicTurnRequest struct {
	StudentCode  string `json:"student_code" validate:"required,max=20"`
	VenueID      *int64 `json:"venue_id" validate:"omitempty,gt=0"`
	RotatingCode string `json:"rotating_code" validate:"omitempty,max=100"`
}

type ValidateCodeRequest struct {
	VenueID int64  `json:"venue_id" validate:"required,gt=0"`
	Code    string `json:"code" validate:"required,max=100"`
}

type ValidateCodeResponse struct {
	Valid     bool   `json:"valid"`
	VenueName string `json:"venue_name,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

type NotifyUserRequest struct {
	Title string `json:"title" validate:"required,max=100"`
	Body  string `json:"body" validate:"required"`
}
