// Package doctor manages doctor records: the public directory, the
// doctor's own profile and the admin add and delete operations. Booking
// reads fees and availability from here.
package doctor

import (
	"errors"
	"time"
)

var (
	ErrNotFound       = errors.New("doctor not found")
	ErrMissingDetails = errors.New("missing details")
	ErrInvalidEmail   = errors.New("please enter a valid email")
	ErrInvalidFees    = errors.New("fees must not be negative")
	ErrEmailTaken     = errors.New("a doctor with this email already exists")
)

// Address is the two line practice address.
type Address struct {
	Line1 string `json:"line1"`
	Line2 string `json:"line2"`
}

// Doctor is a bookable doctor record.
type Doctor struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Email      string    `json:"email,omitempty"`
	Image      string    `json:"image"`
	Speciality string    `json:"speciality"`
	Degree     string    `json:"degree"`
	Experience string    `json:"experience"`
	About      string    `json:"about"`
	Fees       float64   `json:"fees"`
	Address    Address   `json:"address"`
	Available  bool      `json:"available"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Clone returns a copy safe to hand out.
func (d *Doctor) Clone() *Doctor {
	c := *d
	return &c
}

// Public returns a copy without contact details, as shown in the
// patient-facing directory.
func (d *Doctor) Public() *Doctor {
	c := d.Clone()
	c.Email = ""
	return c
}
