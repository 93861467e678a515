package domain

import "time"

// Account is a dashboard user. Stored as one document per account; email is
// unique and case-sensitive as stored.
type Account struct {
	Email        string    `bson:"email"`
	PasswordHash []byte    `bson:"password_hash"`
	CreatedAt    time.Time `bson:"created_at"`
}
