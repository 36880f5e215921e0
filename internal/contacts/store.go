// Package contacts serves the recipient records used to personalize
// outgoing mail.
package contacts

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"

	_ "github.com/lib/pq"
)

// Contact is one recipient record. Custom holds campaign-specific
// fields beyond the fixed identity columns.
type Contact struct {
	Email      string
	FirstName  string
	LastName   string
	Company    string
	AgencyName string
	Custom     map[string]string
}

// Fields flattens the contact into the placeholder substitution map.
// Fixed columns win over custom fields of the same name.
func (c *Contact) Fields() map[string]string {
	fields := make(map[string]string, len(c.Custom)+5)
	for k, v := range c.Custom {
		fields[k] = v
	}
	fields["email"] = c.Email
	fields["first_name"] = c.FirstName
	fields["last_name"] = c.LastName
	fields["company"] = c.Company
	fields["agency_name"] = c.AgencyName
	return fields
}

// Directory looks up contacts by email address.
type Directory struct {
	db *sql.DB
}

// NewDirectory creates a directory on an open database handle.
func NewDirectory(db *sql.DB) *Directory {
	return &Directory{db: db}
}

// Open connects to the contact database.
func Open(databaseURL string) (*Directory, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("opening contact database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("connecting to contact database: %w", err)
	}
	return &Directory{db: db}, nil
}

// Lookup fetches the contact for an address. An address with no record
// yields a contact holding just the email, so personalization degrades
// to empty identity fields instead of failing the send.
func (d *Directory) Lookup(ctx context.Context, email string) (*Contact, error) {
	contact := &Contact{Email: email}
	if d == nil || d.db == nil {
		return contact, nil
	}

	var customJSON []byte
	err := d.db.QueryRowContext(ctx, `
		SELECT COALESCE(first_name, ''), COALESCE(last_name, ''), COALESCE(company, ''),
		       COALESCE(agency_name, ''), COALESCE(custom_fields, '{}')
		FROM contacts
		WHERE email = $1`, email,
	).Scan(&contact.FirstName, &contact.LastName, &contact.Company, &contact.AgencyName, &customJSON)
	if err == sql.ErrNoRows {
		return contact, nil
	}
	if err != nil {
		return nil, fmt.Errorf("looking up contact: %w", err)
	}

	if len(customJSON) > 0 {
		if err := json.Unmarshal(customJSON, &contact.Custom); err != nil {
			log.Printf("[Contacts] Ignoring malformed custom fields for %s: %v", email, err)
			contact.Custom = nil
		}
	}
	return contact, nil
}

// Close releases the database handle.
func (d *Directory) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}
