// Package lists binds the backend's list endpoints to query controllers.
package lists

import (
	"context"
	"net/url"
	"strings"
	"time"

	"dmarc-dash/internal/backend"
	"dmarc-dash/internal/query"
)

// ReportsAPI is the paginated report list endpoint.
type ReportsAPI interface {
	Reports(ctx context.Context, q url.Values) (backend.ReportPage, error)
}

// Reports returns a fetcher for the server-paginated report list.
func Reports(api ReportsAPI) query.Fetcher[backend.ReportRow] {
	return func(ctx context.Context, q query.Query) (query.Result[backend.ReportRow], error) {
		page, err := api.Reports(ctx, q.Values())
		if err != nil {
			return query.Result[backend.ReportRow]{}, err
		}
		items := page.Items
		if items == nil {
			items = []backend.ReportRow{}
		}
		return query.Result[backend.ReportRow]{Items: items, Total: page.Total, Pages: page.Pages}, nil
	}
}

// Domains returns a cached source over GET /api/domains, searched by
// domain name.
func Domains(load func(ctx context.Context) ([]backend.DomainRow, error), ttl time.Duration) *query.LocalSource[backend.DomainRow] {
	return query.NewLocalSource(load, MatchDomain, ttl)
}

// Files returns a cached source over GET /api/files, searched by file
// name.
func Files(load func(ctx context.Context) ([]backend.FileEntry, error), ttl time.Duration) *query.LocalSource[backend.FileEntry] {
	return query.NewLocalSource(load, MatchFile, ttl)
}

// MatchDomain matches a case-insensitive substring of the domain.
func MatchDomain(d backend.DomainRow, q query.Query) bool {
	return contains(d.Domain, q.Search)
}

// MatchFile matches a case-insensitive substring of the file name. The
// "processed" filter, when set to true or false, also has to agree.
func MatchFile(f backend.FileEntry, q query.Query) bool {
	switch q.Filters["processed"] {
	case "true":
		if !f.Processed {
			return false
		}
	case "false":
		if f.Processed {
			return false
		}
	}
	return contains(f.Name, q.Search)
}

func contains(s, sub string) bool {
	sub = strings.TrimSpace(sub)
	if sub == "" {
		return true
	}
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}
