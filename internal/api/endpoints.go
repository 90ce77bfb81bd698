package api

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"relief-cli/internal/model"
)

const formContentType = "application/x-www-form-urlencoded"
const jsonContentType = "application/json"

// Token exchanges username/password for a bearer credential.
func (c *Client) Token(ctx context.Context, username, password string) (model.TokenResponse, error) {
	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)
	var out model.TokenResponse
	err := c.call(ctx, request{
		op:          "authenticate",
		method:      http.MethodPost,
		path:        "/auth/token",
		body:        strings.NewReader(form.Encode()),
		contentType: formContentType,
	}, &out)
	if err != nil {
		return model.TokenResponse{}, err
	}
	if strings.TrimSpace(out.AccessToken) == "" {
		return model.TokenResponse{}, &FetchError{Op: "authenticate", Method: http.MethodPost, Path: "/auth/token", Status: http.StatusOK, Err: errors.New("empty access token")}
	}
	return out, nil
}

func (c *Client) Signup(ctx context.Context, in model.SignupRequest) (model.User, error) {
	body, err := jsonBody(in)
	if err != nil {
		return model.User{}, err
	}
	var out model.User
	err = c.call(ctx, request{op: "register", method: http.MethodPost, path: "/auth/signup", body: body, contentType: jsonContentType}, &out)
	return out, err
}

func (c *Client) DashboardMetrics(ctx context.Context) (model.DashboardMetrics, error) {
	var out model.DashboardMetrics
	err := c.call(ctx, request{op: "dashboard metrics", method: http.MethodGet, path: "/dashboard/metrics"}, &out)
	return out, err
}

func (c *Client) Me(ctx context.Context) (model.User, error) {
	var out model.User
	err := c.call(ctx, request{op: "current user", method: http.MethodGet, path: "/user/me"}, &out)
	return out, err
}

func (c *Client) UpdateUserID(ctx context.Context, newUserID string) error {
	body, err := jsonBody(map[string]string{"new_user_id": newUserID})
	if err != nil {
		return err
	}
	return c.call(ctx, request{op: "change identifier", method: http.MethodPost, path: "/user/update_user_id", body: body, contentType: jsonContentType}, nil)
}

func (c *Client) ChangePassword(ctx context.Context, oldPassword, newPassword string) error {
	body, err := jsonBody(map[string]string{"old_password": oldPassword, "new_password": newPassword})
	if err != nil {
		return err
	}
	return c.call(ctx, request{op: "change password", method: http.MethodPost, path: "/user/change_password", body: body, contentType: jsonContentType}, nil)
}

func (c *Client) SubmitReport(ctx context.Context, text string) (model.Report, error) {
	body, err := jsonBody(map[string]string{"text": text})
	if err != nil {
		return model.Report{}, err
	}
	var out model.Report
	err = c.call(ctx, request{op: "submit report", method: http.MethodPost, path: "/report", body: body, contentType: jsonContentType}, &out)
	return out, err
}

func (c *Client) GetReport(ctx context.Context, id int64) (model.Report, error) {
	var out model.Report
	err := c.call(ctx, request{op: "get report", method: http.MethodGet, path: reportPath(id)}, &out)
	return out, err
}

// ListReports fetches one page. The returned Page echoes the query's keyword,
// page number and size.
func (c *Client) ListReports(ctx context.Context, q model.ListQuery) (model.Page, error) {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize < 1 {
		q.PageSize = model.DefaultPageSize
	}
	vals := url.Values{}
	vals.Set("q", q.Keyword)
	vals.Set("page", strconv.Itoa(q.Page))
	vals.Set("page_size", strconv.Itoa(q.PageSize))

	var out struct {
		Items []model.Report `json:"items"`
		Total int            `json:"total"`
	}
	if err := c.call(ctx, request{op: "list reports", method: http.MethodGet, path: "/reports", query: vals}, &out); err != nil {
		return model.Page{}, err
	}
	items := out.Items
	if items == nil {
		items = []model.Report{}
	}
	return model.Page{
		Keyword: q.Keyword,
		Number:  q.Page,
		Size:    q.PageSize,
		Total:   out.Total,
		Items:   items,
	}, nil
}

// ReextractReport replaces the report text; the server re-runs extraction and
// returns the authoritative summary and tuples.
func (c *Client) ReextractReport(ctx context.Context, id int64, text string) (model.Report, error) {
	body, err := jsonBody(map[string]string{"text": text})
	if err != nil {
		return model.Report{}, err
	}
	var out model.Report
	err = c.call(ctx, request{op: "re-extract report", method: http.MethodPut, path: reportPath(id), body: body, contentType: jsonContentType}, &out)
	return out, err
}

func (c *Client) DeleteReport(ctx context.Context, id int64) error {
	return c.call(ctx, request{op: "delete report", method: http.MethodDelete, path: reportPath(id)}, nil)
}

func (c *Client) UpdateDisasterInfo(ctx context.Context, id int64, in model.DisasterInfoUpdate) error {
	body, err := jsonBody(in)
	if err != nil {
		return err
	}
	return c.call(ctx, request{
		op:          "update tuple",
		method:      http.MethodPut,
		path:        "/disaster-info/" + strconv.FormatInt(id, 10),
		body:        body,
		contentType: jsonContentType,
	}, nil)
}

// ExportReports downloads the spreadsheet for the keyword filter.
func (c *Client) ExportReports(ctx context.Context, keyword string) ([]byte, error) {
	vals := url.Values{}
	vals.Set("q", keyword)
	b, _, err := c.send(ctx, request{op: "export", method: http.MethodGet, path: "/reports/export_excel", query: vals})
	return b, err
}

func (c *Client) RunDedup(ctx context.Context) (model.DedupRunResult, error) {
	var out model.DedupRunResult
	err := c.call(ctx, request{op: "run dedup", method: http.MethodPost, path: "/dedup", body: strings.NewReader("{}"), contentType: jsonContentType}, &out)
	if err != nil {
		return model.DedupRunResult{}, err
	}
	if out.ClusterDetails == nil {
		out.ClusterDetails = []model.ClusterDetail{}
	}
	return out, nil
}

func (c *Client) DedupLogs(ctx context.Context) ([]model.DedupLog, error) {
	var out []model.DedupLog
	if err := c.call(ctx, request{op: "dedup logs", method: http.MethodGet, path: "/dedup/logs"}, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []model.DedupLog{}
	}
	return out, nil
}

func reportPath(id int64) string {
	return "/report/" + strconv.FormatInt(id, 10)
}
