package entity

import "time"

// Type controls how a notice is styled by the client.
type Type string

const (
	TypeNormal Type = "normal"
	TypeAlert  Type = "alert"
	TypeBlue   Type = "blue"
	TypeRed    Type = "red"
)

// Types lists every accepted notification type.
var Types = []Type{TypeNormal, TypeAlert, TypeBlue, TypeRed}

// Notification is an in-app notice addressed to one account.
type Notification struct {
	ID          string     `db:"id" json:"id"`
	AccountID   string     `db:"account_id" json:"user"`
	Title       string     `db:"title" json:"title"`
	Description string     `db:"description" json:"description"`
	Type        Type       `db:"type" json:"type"`
	DateCreated time.Time  `db:"date_created" json:"dateCreated"`
	ExpiredDate *time.Time `db:"expired_date" json:"expiredDate,omitempty"`
}

// Active reports whether the notice is still visible at now.
func (n *Notification) Active(now time.Time) bool {
	return n.ExpiredDate == nil || n.ExpiredDate.After(now)
}
