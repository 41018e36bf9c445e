package dto

// CreateParticipationRequest asks to join a festa.
type CreateParticipationRequest struct {
	Note string `json:"note" validate:"max=1000"`
}

// ReviewParticipationRequest confirms or rejects a pending request.
type ReviewParticipationRequest struct {
	Stato string  `json:"stato" validate:"required"`
	Note  *string `json:"note" validate:"omitempty,max=1000"`
}
