package dto

// CreateEventRequest defines the payload for creating a festa. Dates accept
// RFC3339, "2006-01-02T15:04" or "2006-01-02".
type CreateEventRequest struct {
	Titolo          string   `json:"titolo" validate:"required,max=200"`
	Descrizione     string   `json:"descrizione" validate:"max=5000"`
	DataInizio      string   `json:"data_inizio" validate:"required"`
	DataFine        *string  `json:"data_fine"`
	Location        string   `json:"location" validate:"required,max=200"`
	MaxPartecipanti int      `json:"max_partecipanti" validate:"gte=0"`
	Stato           string   `json:"stato"`
	Prezzo          *float64 `json:"prezzo" validate:"omitempty,gte=0"`
	ImmagineURL     string   `json:"immagine_url" validate:"omitempty,url"`
	Tags            []string `json:"tags" validate:"omitempty,dive,max=50"`
}

// UpdateEventRequest carries a partial update; nil fields are left untouched.
// An empty data_fine string clears the end date.
type UpdateEventRequest struct {
	Titolo          *string   `json:"titolo" validate:"omitempty,max=200"`
	Descrizione     *string   `json:"descrizione" validate:"omitempty,max=5000"`
	DataInizio      *string   `json:"data_inizio"`
	DataFine        *string   `json:"data_fine"`
	Location        *string   `json:"location" validate:"omitempty,max=200"`
	MaxPartecipanti *int      `json:"max_partecipanti" validate:"omitempty,gte=0"`
	Stato           *string   `json:"stato"`
	Prezzo          *float64  `json:"prezzo" validate:"omitempty,gte=0"`
	ImmagineURL     *string   `json:"immagine_url" validate:"omitempty,url"`
	Tags            *[]string `json:"tags"`
}

// EventListQuery filters the event listing.
type EventListQuery struct {
	Search   string `form:"search"`
	Stato    string `form:"stato"`
	Tempo    string `form:"tempo"`
	Data     string `form:"data"`
	Page     int    `form:"page"`
	PageSize int    `form:"page_size"`
}
