package backend

import (
	"dmarc-dash/internal/stats"
	"dmarc-dash/internal/timeseries"
)

// Role values reported by the backend.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User is an account as returned by /api/user/profile and /api/users.
type User struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Role      string `json:"role"`
}

// LoginResponse is the body of a successful POST /api/login.
type LoginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type,omitempty"`
	User        User   `json:"user"`
}

// ProfileUpdate carries editable profile fields.
type ProfileUpdate struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
}

// NewUser is the body of POST /api/users.
type NewUser struct {
	Username  string `json:"username"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email,omitempty"`
	Role      string `json:"role"`
}

// UserUpdate is the body of PUT /api/users/{id}. Empty fields are omitted.
type UserUpdate struct {
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Email     string `json:"email,omitempty"`
	Role      string `json:"role,omitempty"`
	Password  string `json:"password,omitempty"`
}

// Stats is the dashboard aggregate for a time window.
type Stats struct {
	TotalReports   int64              `json:"total_reports"`
	TotalVolume    int64              `json:"total_volume"`
	Dispositions   stats.Dispositions `json:"disposition_stats"`
	RecentActivity []ReportRow        `json:"recent_activity"`
	VolumeSeries   []timeseries.Point `json:"volume_series"`
}

// ReportRow is one aggregate report in list views.
type ReportRow struct {
	ID         int64  `json:"id"`
	ReportID   string `json:"report_id"`
	OrgName    string `json:"org_name"`
	Domain     string `json:"domain"`
	DateBegin  int64  `json:"date_begin,omitempty"`
	DateEnd    int64  `json:"date_end"`
	CreatedAt  string `json:"created_at,omitempty"`
	TotalCount int64  `json:"total_count"`
	PassCount  int64  `json:"pass_count"`
	FailCount  int64  `json:"fail_count"`
}

// PassRate returns the row's pass share in percent.
func (r ReportRow) PassRate() float64 {
	return stats.Rate(r.PassCount, r.TotalCount)
}

// ReportPage is the paginated body of GET /api/reports.
type ReportPage struct {
	Items    []ReportRow `json:"items"`
	Total    int         `json:"total"`
	Page     int         `json:"page"`
	PageSize int         `json:"page_size"`
	Pages    int         `json:"pages"`
}

// Record is one source row of an aggregate report.
type Record struct {
	ID          int64  `json:"id"`
	SourceIP    string `json:"source_ip"`
	Count       int64  `json:"count"`
	Disposition string `json:"disposition"`
	DKIM        string `json:"dkim"`
	SPF         string `json:"spf"`
	HeaderFrom  string `json:"header_from,omitempty"`
}

// ReportDetail is the body of GET /api/reports/{id}.
type ReportDetail struct {
	ID              int64          `json:"id"`
	ReportID        string         `json:"report_id"`
	OrgName         string         `json:"org_name"`
	Email           string         `json:"email,omitempty"`
	Domain          string         `json:"domain"`
	DateBegin       int64          `json:"date_begin"`
	DateEnd         int64          `json:"date_end"`
	PolicyPublished map[string]any `json:"policy_published,omitempty"`
	CreatedAt       string         `json:"created_at,omitempty"`
	Records         []Record       `json:"records"`
}

// DomainRow is the per-domain rollup from GET /api/domains.
type DomainRow struct {
	Domain          string `json:"domain"`
	ReportCount     int64  `json:"report_count"`
	LastSeen        int64  `json:"last_seen"`
	TotalVolume     int64  `json:"total_volume"`
	PassCount       int64  `json:"pass_count"`
	QuarantineCount int64  `json:"quarantine_count"`
	RejectCount     int64  `json:"reject_count"`
}

// PassRate returns the domain's pass share in percent.
func (d DomainRow) PassRate() float64 {
	return stats.Rate(d.PassCount, d.TotalVolume)
}

// AllPass reports whether no message for the domain failed.
func (d DomainRow) AllPass() bool {
	return d.QuarantineCount == 0 && d.RejectCount == 0
}

// FileEntry is one uploaded report file from GET /api/files.
type FileEntry struct {
	Name      string `json:"name"`
	Size      int64  `json:"size"`
	Created   string `json:"created"`
	Processed bool   `json:"processed"`
}

// UploadResult is the body of POST /api/upload.
type UploadResult struct {
	Message string   `json:"message"`
	Files   []string `json:"files"`
}

// DeleteResult is the body of DELETE /api/reports.
type DeleteResult struct {
	Deleted int64 `json:"deleted"`
}

// APIKey is a programmatic access key. Secret is only set on creation.
type APIKey struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Prefix    string `json:"prefix,omitempty"`
	Secret    string `json:"key,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
	LastUsed  string `json:"last_used,omitempty"`
}

// VersionInfo is the body of GET /api/version.
type VersionInfo struct {
	Version string `json:"version"`
}
