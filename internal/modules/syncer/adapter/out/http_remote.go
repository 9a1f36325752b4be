package out

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/xerrors"

	ledgerdto "dwell/internal/modules/ledger/dto"
	syncerout "dwell/internal/modules/syncer/port/out"
	apperrors "dwell/internal/platform/errors"
	"dwell/internal/platform/httpapi"
)

const maxResponseBytes = 1 << 20

// HTTPRemote is the ledger API client.
type HTTPRemote struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewHTTPRemote(rawURL, token string, client *http.Client) (*HTTPRemote, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, xerrors.Errorf("parse remote url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, xerrors.Errorf("remote url %q must be http or https: %w", rawURL, apperrors.ErrInvalidInput)
	}
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPRemote{baseURL: strings.TrimRight(u.String(), "/"), token: token, client: client}, nil
}

var _ syncerout.RemoteClient = (*HTTPRemote)(nil)

func (r *HTTPRemote) UpsertAggregate(ctx context.Context, req ledgerdto.AggregateRequest) (ledgerdto.AggregateResponse, error) {
	var out ledgerdto.AggregateResponse
	err := r.do(ctx, http.MethodPut, "/api/v2/aggregates", req, &out)
	return out, err
}

func (r *HTTPRemote) CreateSession(ctx context.Context, req ledgerdto.SessionRequest) (ledgerdto.SessionCreated, error) {
	var out ledgerdto.SessionCreated
	err := r.do(ctx, http.MethodPost, "/api/v2/sessions", req, &out)
	return out, err
}

func (r *HTTPRemote) UpdateSession(ctx context.Context, sessionID string, patch ledgerdto.SessionPatch) error {
	return r.do(ctx, http.MethodPatch, "/api/v2/sessions/"+url.PathEscape(sessionID), patch, nil)
}

func (r *HTTPRemote) do(ctx context.Context, method, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return xerrors.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return xerrors.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "dwell")
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}

	res, err := r.client.Do(req)
	if err != nil {
		return &apperrors.TransportError{Err: err}
	}
	defer res.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		return &apperrors.TransportError{Status: res.StatusCode, Err: xerrors.Errorf("read response: %w", err)}
	}

	if res.StatusCode >= 200 && res.StatusCode < 300 {
		if out == nil || len(raw) == 0 {
			return nil
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return &apperrors.TransportError{Status: res.StatusCode, Err: xerrors.Errorf("decode response: %w", err)}
		}
		return nil
	}

	var apiResp httpapi.Response
	_ = json.Unmarshal(raw, &apiResp)
	message := apiResp.Message
	if message == "" {
		message = http.StatusText(res.StatusCode)
	}
	if retryable(res.StatusCode) {
		return &apperrors.TransportError{Status: res.StatusCode, Err: xerrors.New(message)}
	}
	fields := make([]apperrors.FieldError, len(apiResp.Errors))
	for i, f := range apiResp.Errors {
		fields[i] = apperrors.FieldError{Field: f.Field, Detail: f.Detail}
	}
	return &apperrors.ValidationError{
		Status:  res.StatusCode,
		Code:    apiResp.Code,
		Message: message,
		Fields:  fields,
	}
}

// retryable reports statuses that say nothing about the payload itself.
// Authentication failures are retried so a bad token never discards data.
func retryable(status int) bool {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusRequestTimeout,
		http.StatusTooEarly, http.StatusTooManyRequests:
		return true
	}
	return status >= 500
}
