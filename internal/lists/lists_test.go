package lists

import (
	"context"
	"errors"
	"net/url"
	"testing"

	"dmarc-dash/internal/backend"
	"dmarc-dash/internal/query"
)

type reportsFunc func(ctx context.Context, q url.Values) (backend.ReportPage, error)

func (f reportsFunc) Reports(ctx context.Context, q url.Values) (backend.ReportPage, error) {
	return f(ctx, q)
}

func TestReports_PassesQuery(t *testing.T) {
	var got url.Values
	fetch := Reports(reportsFunc(func(ctx context.Context, q url.Values) (backend.ReportPage, error) {
		got = q
		return backend.ReportPage{Items: []backend.ReportRow{{ID: 1}}, Total: 21, Pages: 2}, nil
	}))

	res, err := fetch(context.Background(), query.Query{Page: 2, PageSize: 20, Search: "acme", Filters: map[string]string{"domain": "example.com"}})
	if err != nil {
		t.Fatalf("fetch error = %v", err)
	}
	if got.Get("page") != "2" || got.Get("limit") != "20" || got.Get("search") != "acme" || got.Get("domain") != "example.com" {
		t.Errorf("query = %v", got)
	}
	if res.Total != 21 || res.Pages != 2 || len(res.Items) != 1 {
		t.Errorf("result = %+v", res)
	}
}

func TestReports_NilItems(t *testing.T) {
	fetch := Reports(reportsFunc(func(ctx context.Context, q url.Values) (backend.ReportPage, error) {
		return backend.ReportPage{}, nil
	}))
	res, _ := fetch(context.Background(), query.Query{Page: 1, PageSize: 20})
	if res.Items == nil {
		t.Error("Items should be an empty slice")
	}

	boom := errors.New("boom")
	fetch = Reports(reportsFunc(func(ctx context.Context, q url.Values) (backend.ReportPage, error) {
		return backend.ReportPage{}, boom
	}))
	if _, err := fetch(context.Background(), query.Query{Page: 1}); !errors.Is(err, boom) {
		t.Errorf("error = %v, want boom", err)
	}
}

func TestMatchDomain(t *testing.T) {
	d := backend.DomainRow{Domain: "Mail.Example.com"}
	tests := []struct {
		search string
		want   bool
	}{
		{"", true},
		{"example", true},
		{"EXAMPLE.COM", true},
		{"  mail ", true},
		{"other", false},
	}
	for _, tt := range tests {
		if got := MatchDomain(d, query.Query{Search: tt.search}); got != tt.want {
			t.Errorf("MatchDomain(%q) = %v, want %v", tt.search, got, tt.want)
		}
	}
}

func TestMatchFile(t *testing.T) {
	f := backend.FileEntry{Name: "google.com!example.com!1704067200.xml.gz", Processed: true}
	if !MatchFile(f, query.Query{Search: "GOOGLE"}) {
		t.Error("search should match case-insensitively")
	}
	if !MatchFile(f, query.Query{Filters: map[string]string{"processed": "true"}}) {
		t.Error("processed=true should match a processed file")
	}
	if MatchFile(f, query.Query{Filters: map[string]string{"processed": "false"}}) {
		t.Error("processed=false should not match a processed file")
	}
}

func TestDomainsSource(t *testing.T) {
	src := Domains(func(ctx context.Context) ([]backend.DomainRow, error) {
		return []backend.DomainRow{{Domain: "a.com"}, {Domain: "b.org"}, {Domain: "c.com"}}, nil
	}, 0)
	res, err := src.Fetch(context.Background(), query.Query{Page: 1, PageSize: 10, Search: ".com"})
	if err != nil || res.Total != 2 {
		t.Errorf("Fetch = %+v, %v", res, err)
	}
}
