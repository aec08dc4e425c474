package client

import (
	"context"
	"net/url"
	"time"
)

// VendorsClient is the HTTP client for the vendor master service.
type VendorsClient struct {
	http *httpClient
}

func NewVendorsClient(baseURL string, timeout time.Duration) *VendorsClient {
	return &VendorsClient{http: newHTTPClient(baseURL, timeout)}
}

func (c *VendorsClient) GetVendor(ctx context.Context, vendorID string) (*Vendor, error) {
	var v Vendor
	if err := c.http.get(ctx, "/api/v1/vendors/get?id="+url.QueryEscape(vendorID), &v); err != nil {
		return nil, err
	}
	return &v, nil
}
