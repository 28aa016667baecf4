// Package model defines domain entities shared by the transport, broker and CLI.
package model

import (
	"encoding/json"
	"time"
)

// Role is the normalized (uppercase) role of a logged-in person.
type Role string

// Well-known roles. Other backend roles are kept verbatim in uppercase.
const (
	RoleUnknown       Role = ""
	RoleStudent       Role = "STUDENT"
	RoleTeacher       Role = "TEACHER"
	RoleLegalGuardian Role = "LEGAL_GUARDIAN"
)

// Warning records a recovered, non-fatal failure.
type Warning struct {
	Op  string
	Err error
}

func (w Warning) String() string {
	if w.Err == nil {
		return w.Op
	}
	return w.Op + ": " + w.Err.Error()
}

// IdentityBundle is the unit of cached authentication state. Once returned by the
// broker a bundle is never mutated; refreshes publish a new value.
type IdentityBundle struct {
	Token                string          // bearer token for REST calls
	CookieString         string          // serialized session cookies for Server
	TenantID             string          // opaque backend tenant id
	SchoolYearID         string          // opaque current school-year id
	AppData              *AppData        // compacted account metadata; nil if the fetch failed
	RawAppData           json.RawMessage // full metadata payload, only kept for diagnostics
	PersonID             int64           // person that logged in
	Role                 Role            // role of PersonID
	School               string
	Server               string
	ExpiresAt            time.Time // cache expiry, shorter than the backend token lifetime
	LastCookieValidation time.Time // zero if never validated
	Warnings             []Warning
}

// AppData is the compacted account metadata kept in the cache.
type AppData struct {
	Holidays          json.RawMessage    `json:"holidays,omitempty"`
	CurrentSchoolYear *CurrentSchoolYear `json:"currentSchoolYear,omitempty"`
	User              *AppUser           `json:"user,omitempty"`
	Tenant            *Tenant            `json:"tenant,omitempty"`
}

// CurrentSchoolYear holds the fields of the active school year used downstream.
type CurrentSchoolYear struct {
	ID       json.RawMessage `json:"id,omitempty"`
	TimeGrid json.RawMessage `json:"timeGrid,omitempty"`
}

// AppUser is the logged-in account as reported by the app data endpoint.
type AppUser struct {
	Students []map[string]any `json:"students,omitempty"`
	Person   map[string]any   `json:"person,omitempty"`
	Roles    json.RawMessage  `json:"roles,omitempty"` // string, object or array of either
}

// Tenant identifies the backend institution.
type Tenant struct {
	ID json.RawMessage `json:"id,omitempty"`
}

// Session is a (possibly partial) authenticated session: cookies plus an optional token.
type Session struct {
	CookieString string
	Token        string
	PersonID     int64
	PersonType   string
	School       string
	Server       string
}

// QRLogin is the result of a QR/OTP login.
type QRLogin struct {
	Cookies    string
	SessionID  string
	PersonID   int64
	PersonType string
	School     string
	Server     string
}

// Credentials describe a username/password login.
type Credentials struct {
	School   string
	Username string
	Password string
	Server   string
}

// CredentialLogin is the result of a username/password login.
type CredentialLogin struct {
	Cookies   string
	SessionID string
	PersonID  int64
	School    string
	Server    string
}

// RPCCall is a generic JSON-RPC request against the backend.
type RPCCall struct {
	Server  string
	School  string
	Method  string
	Params  any
	Cookies string
}

// LogoutResult reports the outcome of a best-effort logout.
type LogoutResult struct {
	Warning *Warning
}

// TargetMode selects which login a RestTarget uses.
type TargetMode string

const (
	TargetModeQR     TargetMode = "qr"
	TargetModeParent TargetMode = "parent"
)

// RestTarget describes which credentials and which person a data query uses.
type RestTarget struct {
	Mode     TargetMode `json:"mode"`
	School   string     `json:"school"`
	Server   string     `json:"server"`
	Username string     `json:"username,omitempty"`
	Password string     `json:"-"`
	PersonID int64      `json:"personId"`
	Role     Role       `json:"role"`
}

// Student is a child entry derived from account metadata.
type Student struct {
	Title     string `json:"title"`
	StudentID int64  `json:"studentId"`
	ImageURL  string `json:"imageUrl,omitempty"`
}

// StudentConfig is one configured student entry.
type StudentConfig struct {
	Title         string `yaml:"title"`
	StudentID     int64  `yaml:"student_id"`      // manually configured
	AutoStudentID int64  `yaml:"auto_student_id"` // previously auto-discovered
	QRCode        string `yaml:"qrcode"`
	Username      string `yaml:"username"`
	Password      string `yaml:"password"`
	School        string `yaml:"school"`
	Server        string `yaml:"server"`
}

// ModuleConfig carries module-level defaults and parent credentials.
type ModuleConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	School   string `yaml:"school"`
	Server   string `yaml:"server"`
	QRCode   string `yaml:"qrcode"`
}
