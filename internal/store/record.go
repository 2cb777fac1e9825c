package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/go-tangra/go-tangra-assets/internal/timeparse"
)

// Status is the operational state of an asset.
type Status int

const (
	StatusOk Status = iota
	StatusMaintenance
	StatusMissing
)

var statusNames = []string{"Ok", "Maintenance", "Missing"}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("Status(%d)", int(s))
	}
	return statusNames[s]
}

// ParseStatus matches a status name case-insensitively.
func ParseStatus(s string) (Status, bool) {
	s = strings.TrimSpace(s)
	for i, name := range statusNames {
		if strings.EqualFold(s, name) {
			return Status(i), true
		}
	}
	return StatusOk, false
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	if len(strings.TrimSpace(string(b))) == 0 {
		*s = StatusOk
		return nil
	}
	v, ok := ParseStatus(string(b))
	if !ok {
		return fmt.Errorf("unknown status %q", string(b))
	}
	*s = v
	return nil
}

// resolveStatus prefers the text column and falls back to the legacy flag
// for rows written before the column existed.
func resolveStatus(text sql.NullString, maintenance sql.NullInt64) Status {
	if text.Valid {
		if st, ok := ParseStatus(text.String); ok {
			return st
		}
	}
	if maintenance.Valid && maintenance.Int64 == 1 {
		return StatusMaintenance
	}
	return StatusOk
}

// Record is one asset row.
type Record struct {
	ID               int64      `json:"id"`
	Hostname         string     `json:"hostname"`
	SerialNumber     string     `json:"serial_number,omitempty"`
	Model            string     `json:"model,omitempty"`
	AssignedUser     string     `json:"assigned_user,omitempty"`
	Location         string     `json:"location,omitempty"`
	Site             string     `json:"site,omitempty"`
	Room             string     `json:"room,omitempty"`
	IPv4Wired        string     `json:"ipv4_wired,omitempty"`
	IPv4WiFi         string     `json:"ipv4_wifi,omitempty"`
	MACWired         string     `json:"mac_wired,omitempty"`
	MACWiFi          string     `json:"mac_wifi,omitempty"`
	VLAN             string     `json:"vlan,omitempty"`
	Note             string     `json:"note,omitempty"`
	Warranty         bool       `json:"warranty"`
	Status           Status     `json:"status"`
	PurchaseDate     *time.Time `json:"purchase_date,omitempty"`
	CommissionedDate *time.Time `json:"commissioned_date,omitempty"`
	ModifiedAt       *time.Time `json:"modified_at,omitempty"`
}

// row mirrors the table for sqlx scanning. Every column may be NULL in
// databases migrated from older revisions.
type row struct {
	ID               int64          `db:"id"`
	Hostname         string         `db:"hostname"`
	SerialNumber     sql.NullString `db:"serial_number"`
	Model            sql.NullString `db:"model"`
	AssignedUser     sql.NullString `db:"assigned_user"`
	Location         sql.NullString `db:"location"`
	Site             sql.NullString `db:"site"`
	Room             sql.NullString `db:"room"`
	IPv4Wired        sql.NullString `db:"ipv4_wired"`
	IPv4WiFi         sql.NullString `db:"ipv4_wifi"`
	MACWired         sql.NullString `db:"mac_wired"`
	MACWiFi          sql.NullString `db:"mac_wifi"`
	VLAN             sql.NullString `db:"vlan"`
	Note             sql.NullString `db:"note"`
	Warranty         sql.NullInt64  `db:"warranty"`
	Maintenance      sql.NullInt64  `db:"maintenance"`
	Status           sql.NullString `db:"status"`
	PurchaseDate     sql.NullString `db:"purchase_date"`
	CommissionedDate sql.NullString `db:"commissioned_date"`
	ModifiedAt       sql.NullString `db:"modified_at"`
}

const selectColumns = `id, hostname, serial_number, model, assigned_user, location, site, room,
	ipv4_wired, ipv4_wifi, mac_wired, mac_wifi, vlan, note, warranty, maintenance, status,
	purchase_date, commissioned_date, modified_at`

// writeColumns is the column order of Record.values.
const writeColumns = `hostname, serial_number, model, assigned_user, location, site, room,
	ipv4_wired, ipv4_wifi, mac_wired, mac_wifi, vlan, note, warranty, maintenance, status,
	purchase_date, commissioned_date, modified_at`

func (r row) record() Record {
	rec := Record{
		ID:           r.ID,
		Hostname:     r.Hostname,
		SerialNumber: r.SerialNumber.String,
		Model:        r.Model.String,
		AssignedUser: r.AssignedUser.String,
		Location:     r.Location.String,
		Site:         r.Site.String,
		Room:         r.Room.String,
		IPv4Wired:    r.IPv4Wired.String,
		IPv4WiFi:     r.IPv4WiFi.String,
		MACWired:     r.MACWired.String,
		MACWiFi:      r.MACWiFi.String,
		VLAN:         r.VLAN.String,
		Note:         r.Note.String,
		Warranty:     r.Warranty.Valid && r.Warranty.Int64 != 0,
		Status:       resolveStatus(r.Status, r.Maintenance),
	}
	if r.PurchaseDate.Valid {
		rec.PurchaseDate = optional(timeparse.Date(r.PurchaseDate.String))
	}
	if r.CommissionedDate.Valid {
		rec.CommissionedDate = optional(timeparse.Date(r.CommissionedDate.String))
	}
	if r.ModifiedAt.Valid {
		rec.ModifiedAt = optional(timeparse.Timestamp(r.ModifiedAt.String))
	}
	return rec
}

func (r *Record) values() []any {
	maintenance := 0
	if r.Status == StatusMaintenance {
		maintenance = 1
	}
	warranty := 0
	if r.Warranty {
		warranty = 1
	}
	return []any{
		r.Hostname,
		text(r.SerialNumber),
		text(r.Model),
		text(r.AssignedUser),
		text(r.Location),
		text(r.Site),
		text(r.Room),
		text(r.IPv4Wired),
		text(r.IPv4WiFi),
		text(r.MACWired),
		text(r.MACWiFi),
		text(r.VLAN),
		text(r.Note),
		warranty,
		maintenance,
		r.Status.String(),
		date(r.PurchaseDate),
		date(r.CommissionedDate),
		timestamp(r.ModifiedAt),
	}
}

func optional(t time.Time, ok bool) *time.Time {
	if !ok {
		return nil
	}
	return &t
}

func text(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func date(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: timeparse.FormatDate(*t), Valid: true}
}

func timestamp(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: timeparse.FormatTimestamp(*t), Valid: true}
}
