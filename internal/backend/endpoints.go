package backend

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
)

// Login exchanges credentials for a bearer token.
func (c *Client) Login(ctx context.Context, username, password string) (LoginResponse, error) {
	cl, err := jsonCall(http.MethodPost, "/api/login", "/api/login", map[string]string{
		"username": username,
		"password": password,
	})
	if err != nil {
		return LoginResponse{}, err
	}
	var out LoginResponse
	if err := c.do(ctx, cl, &out); err != nil {
		return LoginResponse{}, err
	}
	if out.AccessToken == "" {
		return LoginResponse{}, &Error{Kind: KindServer, Status: http.StatusOK, Route: cl.route, Err: fmt.Errorf("response has no access_token")}
	}
	return out, nil
}

// WhoAmI resolves the user owning token.
func (c *Client) WhoAmI(ctx context.Context, token string) (User, error) {
	var out User
	err := c.do(ctx, call{method: http.MethodGet, route: "/api/user/profile", path: "/api/user/profile", token: token}, &out)
	return out, err
}

// Profile returns the signed-in user's profile.
func (c *Client) Profile(ctx context.Context) (User, error) {
	var out User
	err := c.do(ctx, call{method: http.MethodGet, route: "/api/user/profile", path: "/api/user/profile", auth: true}, &out)
	return out, err
}

// UpdateProfile saves the signed-in user's profile.
func (c *Client) UpdateProfile(ctx context.Context, upd ProfileUpdate) error {
	cl, err := jsonCall(http.MethodPut, "/api/user/profile", "/api/user/profile", upd)
	if err != nil {
		return err
	}
	cl.auth = true
	return c.do(ctx, cl, nil)
}

// ChangePassword updates the signed-in user's password.
func (c *Client) ChangePassword(ctx context.Context, current, next string) error {
	cl, err := jsonCall(http.MethodPut, "/api/user/password", "/api/user/password", map[string]string{
		"current_password": current,
		"new_password":     next,
	})
	if err != nil {
		return err
	}
	cl.auth = true
	return c.do(ctx, cl, nil)
}

// Stats returns dashboard aggregates for [start, end] in Unix seconds.
// The dashboard is visible without a session, so the token is optional.
func (c *Client) Stats(ctx context.Context, start, end int64) (Stats, error) {
	q := url.Values{}
	q.Set("start", strconv.FormatInt(start, 10))
	q.Set("end", strconv.FormatInt(end, 10))
	var out Stats
	err := c.do(ctx, call{method: http.MethodGet, route: "/api/stats", path: "/api/stats", query: q, auth: true}, &out)
	return out, err
}

// Reports returns one page of the report list. q carries page, limit and
// the optional search and domain filters.
func (c *Client) Reports(ctx context.Context, q url.Values) (ReportPage, error) {
	var out ReportPage
	err := c.do(ctx, call{method: http.MethodGet, route: "/api/reports", path: "/api/reports", query: q, auth: true}, &out)
	return out, err
}

// Report returns one report with its records.
func (c *Client) Report(ctx context.Context, id string) (ReportDetail, error) {
	var out ReportDetail
	err := c.do(ctx, call{method: http.MethodGet, route: "/api/reports/{id}", path: "/api/reports/" + url.PathEscape(id), auth: true}, &out)
	return out, err
}

// DeleteReports removes every report matching the filter and returns the
// number deleted. An empty filter deletes everything.
func (c *Client) DeleteReports(ctx context.Context, filter url.Values) (int64, error) {
	var out DeleteResult
	err := c.do(ctx, call{method: http.MethodDelete, route: "/api/reports", path: "/api/reports", query: filter, auth: true}, &out)
	return out.Deleted, err
}

// Domains returns the per-domain rollup.
func (c *Client) Domains(ctx context.Context) ([]DomainRow, error) {
	var out []DomainRow
	err := c.do(ctx, call{method: http.MethodGet, route: "/api/domains", path: "/api/domains", auth: true}, &out)
	return out, err
}

// Files lists uploaded report files, newest first.
func (c *Client) Files(ctx context.Context) ([]FileEntry, error) {
	var out []FileEntry
	err := c.do(ctx, call{method: http.MethodGet, route: "/api/files", path: "/api/files", auth: true}, &out)
	return out, err
}

// DeleteFile removes one uploaded file.
func (c *Client) DeleteFile(ctx context.Context, name string) error {
	return c.do(ctx, call{method: http.MethodDelete, route: "/api/files/{name}", path: "/api/files/" + url.PathEscape(name), auth: true}, nil)
}

// UploadFile is one file for Upload.
type UploadFile struct {
	Name string
	Body io.Reader
}

// Upload sends report files as multipart "files" parts. The backend
// parses them asynchronously.
func (c *Client) Upload(ctx context.Context, files []UploadFile) (UploadResult, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		for _, f := range files {
			part, err := mw.CreateFormFile("files", f.Name)
			if err != nil {
				pw.CloseWithError(err)
				return
			}
			if _, err := io.Copy(part, f.Body); err != nil {
				pw.CloseWithError(err)
				return
			}
		}
		pw.CloseWithError(mw.Close())
	}()

	var out UploadResult
	err := c.do(ctx, call{
		method:      http.MethodPost,
		route:       "/api/upload",
		path:        "/api/upload",
		body:        pr,
		contentType: mw.FormDataContentType(),
		auth:        true,
	}, &out)
	// Unblock the writer if the request ended before the body was consumed.
	pr.CloseWithError(io.ErrClosedPipe)
	return out, err
}

// Version returns the backend version string.
func (c *Client) Version(ctx context.Context) (string, error) {
	var out VersionInfo
	if err := c.do(ctx, call{method: http.MethodGet, route: "/api/version", path: "/api/version"}, &out); err != nil {
		return "", err
	}
	return out.Version, nil
}

// Users lists accounts. Admin only.
func (c *Client) Users(ctx context.Context) ([]User, error) {
	var out []User
	err := c.do(ctx, call{method: http.MethodGet, route: "/api/users", path: "/api/users", auth: true}, &out)
	return out, err
}

// CreateUser adds an account. Admin only.
func (c *Client) CreateUser(ctx context.Context, u NewUser) (User, error) {
	cl, err := jsonCall(http.MethodPost, "/api/users", "/api/users", u)
	if err != nil {
		return User{}, err
	}
	cl.auth = true
	var out User
	err = c.do(ctx, cl, &out)
	return out, err
}

// UpdateUser edits an account. Admin only.
func (c *Client) UpdateUser(ctx context.Context, id int64, upd UserUpdate) (User, error) {
	cl, err := jsonCall(http.MethodPut, "/api/users/{id}", "/api/users/"+strconv.FormatInt(id, 10), upd)
	if err != nil {
		return User{}, err
	}
	cl.auth = true
	var out User
	err = c.do(ctx, cl, &out)
	return out, err
}

// DeleteUser removes an account. Admin only.
func (c *Client) DeleteUser(ctx context.Context, id int64) error {
	return c.do(ctx, call{method: http.MethodDelete, route: "/api/users/{id}", path: "/api/users/" + strconv.FormatInt(id, 10), auth: true}, nil)
}

// Settings returns the global settings document. Admin only.
func (c *Client) Settings(ctx context.Context) (map[string]any, error) {
	out := map[string]any{}
	err := c.do(ctx, call{method: http.MethodGet, route: "/api/settings", path: "/api/settings", auth: true}, &out)
	return out, err
}

// UpdateSettings replaces the global settings document. Admin only.
func (c *Client) UpdateSettings(ctx context.Context, settings map[string]any) error {
	cl, err := jsonCall(http.MethodPut, "/api/settings", "/api/settings", settings)
	if err != nil {
		return err
	}
	cl.auth = true
	return c.do(ctx, cl, nil)
}

// APIKeys lists the caller's API keys.
func (c *Client) APIKeys(ctx context.Context) ([]APIKey, error) {
	var out []APIKey
	err := c.do(ctx, call{method: http.MethodGet, route: "/api/keys", path: "/api/keys", auth: true}, &out)
	return out, err
}

// CreateAPIKey issues a key. The returned Secret is shown once.
func (c *Client) CreateAPIKey(ctx context.Context, name string) (APIKey, error) {
	cl, err := jsonCall(http.MethodPost, "/api/keys", "/api/keys", map[string]string{"name": name})
	if err != nil {
		return APIKey{}, err
	}
	cl.auth = true
	var out APIKey
	err = c.do(ctx, cl, &out)
	return out, err
}

// RevokeAPIKey deletes a key.
func (c *Client) RevokeAPIKey(ctx context.Context, id int64) error {
	return c.do(ctx, call{method: http.MethodDelete, route: "/api/keys/{id}", path: "/api/keys/" + strconv.FormatInt(id, 10), auth: true}, nil)
}
