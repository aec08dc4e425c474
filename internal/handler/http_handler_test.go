package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finvera/be-ap-workflow/internal/client"
	"github.com/finvera/be-ap-workflow/internal/lock"
	"github.com/finvera/be-ap-workflow/internal/logger"
	"github.com/finvera/be-ap-workflow/internal/repository"
	"github.com/finvera/be-ap-workflow/internal/repository/memory"
	"github.com/finvera/be-ap-workflow/internal/service"
)

func newTestServer(t *testing.T) (*httptest.Server, *repository.Stores) {
	t.Helper()

	stores := memory.New()
	locks := lock.NewKeyLocker()
	log := logger.Nop()
	notify := client.NewNotificationPublisher(nil, log.Logger)

	dir := client.NewStaticOrgDirectory()
	dir.AddApprover("manager", "", client.Identity{ID: "mgr-1", Name: "Dana Brooks"})

	vendors := client.NewStaticVendorMaster()
	vendors.AddVendor(&client.Vendor{ID: "vendor-acme", Name: "Acme Corp", Status: "active"})

	accounts := client.NewStaticAccountsValidator()
	channel := client.NewStaticPaymentChannel()

	h := NewHTTPHandler(
		service.NewInvoiceService(stores, locks, vendors, accounts, dir, notify, log),
		service.NewApprovalService(stores, locks, dir, notify, log),
		service.NewBatchService(stores, locks, channel, notify, log),
		service.NewRuleService(stores, log),
		service.NewAnalyticsService(stores, log),
		log,
	)

	r := chi.NewRouter()
	h.Register(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, stores
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCreateAndSubmitInvoiceOverHTTP(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/v1/rules", map[string]any{
		"actor": "admin-1",
		"rule": map[string]any{
			"name":     "default",
			"priority": 10,
			"approvers": []map[string]any{
				{"role": "manager", "threshold": 0},
			},
		},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, srv.URL+"/api/v1/invoices", map[string]any{
		"invoice_number": "INV-1001",
		"vendor_id":      "vendor-acme",
		"invoice_date":   "2026-08-01",
		"due_date":       "2026-09-01",
		"gross_amount":   12_500,
		"gl_account":     "6000",
		"cost_center":    "CC-100",
		"department":     "engineering",
		"created_by":     "clerk-1",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var inv repository.Invoice
	decodeBody(t, resp, &inv)
	assert.NotEmpty(t, inv.ID)
	assert.Equal(t, repository.InvoiceDraft, inv.Status)

	resp = postJSON(t, srv.URL+"/api/v1/invoices/"+inv.ID+"/submit", map[string]any{
		"actor": "clerk-1",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	decodeBody(t, resp, &inv)
	assert.Equal(t, repository.InvoicePendingApproval, inv.Status)
	require.Len(t, inv.Steps, 1)
	assert.Equal(t, "mgr-1", inv.Steps[0].ApproverID)
}

func TestErrorMapping(t *testing.T) {
	srv, _ := newTestServer(t)

	// Unknown invoice id maps to 404.
	resp, err := http.Get(srv.URL + "/api/v1/invoices/no-such-id")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	decodeBody(t, resp, &body)
	assert.Equal(t, "NOT_FOUND", body.Error.Code)

	// Submitting with no matching rule maps to 400.
	resp = postJSON(t, srv.URL+"/api/v1/invoices", map[string]any{
		"invoice_number": "INV-2001",
		"vendor_id":      "vendor-acme",
		"invoice_date":   "2026-08-01",
		"due_date":       "2026-09-01",
		"gross_amount":   5_000,
		"gl_account":     "6000",
		"created_by":     "clerk-1",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var inv repository.Invoice
	decodeBody(t, resp, &inv)

	resp = postJSON(t, srv.URL+"/api/v1/invoices/"+inv.ID+"/submit", map[string]any{
		"actor": "clerk-1",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	decodeBody(t, resp, &body)
	assert.Equal(t, "NO_APPROVAL_RULE", body.Error.Code)

	// Malformed body maps to 400.
	resp, err = http.Post(srv.URL+"/api/v1/invoices", "application/json", bytes.NewReader([]byte("{")))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestListInvoicesFilterOverHTTP(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/v1/invoices", map[string]any{
		"invoice_number": "INV-3001",
		"vendor_id":      "vendor-acme",
		"invoice_date":   "2026-08-01",
		"due_date":       "2026-09-01",
		"gross_amount":   9_900,
		"gl_account":     "6000",
		"created_by":     "clerk-1",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp, err := http.Get(srv.URL + "/api/v1/invoices?status=draft")
	require.NoError(t, err)
	var list struct {
		Invoices []*repository.Invoice `json:"invoices"`
		Total    int                   `json:"total"`
	}
	decodeBody(t, resp, &list)
	assert.Equal(t, 1, list.Total)

	resp, err = http.Get(srv.URL + "/api/v1/invoices?status=paid")
	require.NoError(t, err)
	decodeBody(t, resp, &list)
	assert.Equal(t, 0, list.Total)
}

func TestBatchValidationOverHTTP(t *testing.T) {
	srv, _ := newTestServer(t)

	// No approved invoices: building a batch fails with 400 EMPTY_BATCH.
	resp := postJSON(t, srv.URL+"/api/v1/batches", map[string]any{
		"payment_date":   "2026-09-05",
		"payment_method": "ach",
		"bank_account":   "OPER-001",
		"created_by":     "ap-mgr-1",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	decodeBody(t, resp, &body)
	assert.Equal(t, "EMPTY_BATCH", body.Error.Code)
}
