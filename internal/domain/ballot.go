package domain

import "time"

// Ballot is one drop-box scan event. Date, time and location arrive as strings
// from the scanner station and are stored as scanned.
type Ballot struct {
	ID          string    `json:"ballot_id"`
	BarcodeData string    `json:"barcode_data"`
	Name        string    `json:"name"`
	Date        string    `json:"date"`
	Time        string    `json:"time"`
	Location    string    `json:"location"`
	CreatedAt   time.Time `json:"created_at"`
}
