package client

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/finvera/be-ap-workflow/internal/apperr"
)

// OrgDirectoryClient resolves approvers from the org-directory service.
type OrgDirectoryClient struct {
	http *httpClient
}

func NewOrgDirectoryClient(baseURL string, timeout time.Duration) *OrgDirectoryClient {
	return &OrgDirectoryClient{http: newHTTPClient(baseURL, timeout)}
}

func (c *OrgDirectoryClient) ResolveApprover(ctx context.Context, role, department string) (*Identity, error) {
	path := "/api/v1/approvers/resolve?role=" + url.QueryEscape(role) +
		"&department=" + url.QueryEscape(department)

	var id Identity
	if err := c.http.get(ctx, path, &id); err != nil {
		return nil, err
	}
	if id.ID == "" {
		return nil, apperr.Newf(apperr.ErrCodeNoApprovalRule,
			"org directory has no approver for role %q in department %q", role, department)
	}
	return &id, nil
}

func (c *OrgDirectoryClient) IsDelegateOf(ctx context.Context, identityID, approverID string) (bool, error) {
	path := "/api/v1/approvers/delegate?identity=" + url.QueryEscape(identityID) +
		"&approver=" + url.QueryEscape(approverID)

	var resp struct {
		IsDelegate bool `json:"is_delegate"`
	}
	if err := c.http.get(ctx, path, &resp); err != nil {
		return false, err
	}
	return resp.IsDelegate, nil
}

// StaticOrgDirectory is an in-process directory seeded from configuration.
// Used as the default wiring when no org-directory service is configured.
type StaticOrgDirectory struct {
	mu sync.RWMutex
	// approvers maps "role/department" then "role" (any department) to an identity.
	approvers map[string]Identity
	delegates map[string]map[string]bool // approverID -> delegate set
}

func NewStaticOrgDirectory() *StaticOrgDirectory {
	return &StaticOrgDirectory{
		approvers: make(map[string]Identity),
		delegates: make(map[string]map[string]bool),
	}
}

// AddApprover registers an identity for a role. An empty department matches
// every department.
func (d *StaticOrgDirectory) AddApprover(role, department string, id Identity) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.approvers[role+"/"+department] = id
}

// AddDelegate permits delegateID to act on behalf of approverID.
func (d *StaticOrgDirectory) AddDelegate(approverID, delegateID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.delegates[approverID] == nil {
		d.delegates[approverID] = make(map[string]bool)
	}
	d.delegates[approverID][delegateID] = true
}

func (d *StaticOrgDirectory) ResolveApprover(_ context.Context, role, department string) (*Identity, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if id, ok := d.approvers[role+"/"+department]; ok {
		return &id, nil
	}
	if id, ok := d.approvers[role+"/"]; ok {
		return &id, nil
	}
	return nil, apperr.Newf(apperr.ErrCodeNoApprovalRule,
		"no approver registered for role %q in department %q", role, department)
}

func (d *StaticOrgDirectory) IsDelegateOf(_ context.Context, identityID, approverID string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.delegates[approverID][identityID], nil
}
