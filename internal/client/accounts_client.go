package client

import (
	"context"
	"net/url"
	"time"
)

// AccountsClient validates GL account / cost center pairs against the
// accounts service.
type AccountsClient struct {
	http *httpClient
}

func NewAccountsClient(baseURL string, timeout time.Duration) *AccountsClient {
	return &AccountsClient{http: newHTTPClient(baseURL, timeout)}
}

func (c *AccountsClient) IsValidAccount(ctx context.Context, glAccount, costCenter string) (bool, error) {
	path := "/api/v1/accounts/validate?gl_account=" + url.QueryEscape(glAccount) +
		"&cost_center=" + url.QueryEscape(costCenter)

	var resp struct {
		Valid   bool   `json:"valid"`
		Message string `json:"message"`
	}
	if err := c.http.get(ctx, path, &resp); err != nil {
		return false, err
	}
	return resp.Valid, nil
}
