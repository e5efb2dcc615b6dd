package dto

import "time"

// CitizenRequest payload for POST /citizens and PUT /citizens/:document.
type CitizenRequest struct {
	Name         string `json:"name"`
	Document     string `json:"document"`
	Preferential bool   `json:"preferential"`
	Phone        string `json:"phone"`
	PostalCode   string `json:"postal_code"`
	Street       string `json:"street"`
	Number       string `json:"number"`
	District     string `json:"district"`
	City         string `json:"city"`
}

// CitizenResponse describes a registered citizen.
type CitizenResponse struct {
	ID           string    `json:"id,omitempty"`
	Name         string    `json:"name"`
	Document     string    `json:"document"`
	Preferential bool      `json:"preferential"`
	Phone        string    `json:"phone,omitempty"`
	PostalCode   string    `json:"postal_code,omitempty"`
	Street       string    `json:"street,omitempty"`
	Number       string    `json:"number,omitempty"`
	District     string    `json:"district,omitempty"`
	City         string    `json:"city,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
