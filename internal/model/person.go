package model

import "time"

// Person holds the attributes shared by participants and companions.  The
// values come straight from the uploaded spreadsheet.
type Person struct {
	Name       string     `json:"name"`
	BirthPlace string     `json:"birth_place"`
	BirthDate  *time.Time `json:"birth_date"`
	Address    string     `json:"address"`
	BloodType  string     `json:"blood_type"`
	EntryYear  int        `json:"entry_year"`
	Phone      string     `json:"phone"`
	Gender     string     `json:"gender"`
}

// Participant is a student attending the camp.  PhotoPath points into the
// object store and is rewritten when the registration's photos are
// promoted to the permanent namespace.
type Participant struct {
	ID             uint64  `json:"id"`              // participants.id
	RegistrationID uint64  `json:"registration_id"` // participants.registration_id
	Person                 // embedded spreadsheet columns
	PhotoPath      *string `json:"photo_path"`      // participants.photo_path (nullable)
}

// Companion is an accompanying teacher or parent.
type Companion struct {
	ID             uint64 `json:"id"`              // companions.id
	RegistrationID uint64 `json:"registration_id"` // companions.registration_id
	Person
}
