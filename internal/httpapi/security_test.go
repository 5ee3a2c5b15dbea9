package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"tokobill/backend/internal/domain"
)

func TestMiddlewareSetsSecurityHeaders(t *testing.T) {
	api := newTestAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)

	if got := res.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("expected X-Content-Type-Options nosniff, got %q", got)
	}
	if got := res.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Fatalf("expected X-Frame-Options DENY, got %q", got)
	}
	if got := res.Header().Get("Referrer-Policy"); got == "" {
		t.Fatalf("expected Referrer-Policy to be set")
	}
}

func TestLoginRateLimitReturns429(t *testing.T) {
	api := newTestAPI(t)
	body, _ := json.Marshal(domain.LoginRequest{Username: "owner", Password: "wrong-pass"})

	for i := 0; i < 6; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = "127.0.0.1:5000"
		res := httptest.NewRecorder()

		api.Handler().ServeHTTP(res, req)

		if i < 5 && res.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d expected 401 before limit, got %d", i+1, res.Code)
		}
		if i == 5 && res.Code != http.StatusTooManyRequests {
			t.Fatalf("attempt 6 expected 429, got %d", res.Code)
		}
	}
}

func TestRegisterRateLimitReturns429(t *testing.T) {
	api := newTestAPI(t)

	var lastCode int
	for i := 0; i < 4; i++ {
		body, _ := json.Marshal(domain.ShopRegisterRequest{
			Username:  fmt.Sprintf("shopowner%d", i),
			Password:  "longenough",
			ShopName:  "Toko Uji",
			OwnerName: "Pemilik Uji",
		})
		req := httptest.NewRequest(http.MethodPost, "/api/v1/shops/register", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = "127.0.0.1:5002"
		res := httptest.NewRecorder()

		api.Handler().ServeHTTP(res, req)
		lastCode = res.Code
	}

	if lastCode != http.StatusTooManyRequests {
		t.Fatalf("attempt 4 expected 429, got %d", lastCode)
	}
}

func TestJSONBodyTooLargeRejected(t *testing.T) {
	api := newTestAPI(t)
	veryLong := strings.Repeat("a", (1<<20)+1024)
	body := fmt.Sprintf(`{"username":"%s","password":"x"}`, veryLong)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for too large body, got %d", res.Code)
	}
}

func TestMutatingRequestWithoutCSRFRejected(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := login(t, handler, "owner", "owner123").AccessToken

	body, _ := json.Marshal(map[string]string{"name": "Pelanggan Baru"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/customers", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	res := httptest.NewRecorder()

	handler.ServeHTTP(res, req)

	if res.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without CSRF token, got %d", res.Code)
	}
}

func TestMutatingRequestWithCSRFAccepted(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := login(t, handler, "owner", "owner123").AccessToken
	csrf := fetchCSRFToken(t, api)

	body, _ := json.Marshal(map[string]string{"name": "Pelanggan Baru"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/customers", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-CSRF-Token", csrf)
	res := httptest.NewRecorder()

	handler.ServeHTTP(res, req)

	if res.Code != http.StatusCreated {
		t.Fatalf("expected 201 with CSRF token, got %d (body: %s)", res.Code, res.Body.String())
	}
}

func TestTenantIsolationOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	// Register a second shop and create a customer in the demo shop.
	regBody, _ := json.Marshal(domain.ShopRegisterRequest{
		Username:  "secondowner",
		Password:  "longenough",
		ShopName:  "Toko Kedua",
		OwnerName: "Pemilik Kedua",
	})
	regReq := httptest.NewRequest(http.MethodPost, "/api/v1/shops/register", bytes.NewReader(regBody))
	regReq.Header.Set("Content-Type", "application/json")
	regRes := httptest.NewRecorder()
	handler.ServeHTTP(regRes, regReq)
	if regRes.Code != http.StatusCreated {
		t.Fatalf("register second shop: %d %s", regRes.Code, regRes.Body.String())
	}
	var reg domain.ShopRegisterResponse
	if err := json.NewDecoder(regRes.Body).Decode(&reg); err != nil {
		t.Fatalf("decode register response: %v", err)
	}

	demoToken := login(t, handler, "owner", "owner123").AccessToken
	custRec := authedRequest(t, api, handler, http.MethodPost, "/api/v1/customers", demoToken, map[string]string{
		"name": "Hanya Milik Demo",
	})
	if custRec.Code != http.StatusCreated {
		t.Fatalf("create customer: %d %s", custRec.Code, custRec.Body.String())
	}
	var custBody struct {
		Customer domain.Customer `json:"customer"`
	}
	if err := json.NewDecoder(custRec.Body).Decode(&custBody); err != nil {
		t.Fatalf("decode customer: %v", err)
	}

	// The second shop must not be able to read the demo shop's customer.
	crossRec := authedRequest(t, api, handler, http.MethodGet, "/api/v1/customers/"+custBody.Customer.ID, reg.Login.AccessToken, nil)
	if crossRec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for cross-tenant read, got %d", crossRec.Code)
	}
}

func TestParsePositiveLimitCaps(t *testing.T) {
	if got := parsePositiveLimit("9999", 50, 200); got != 200 {
		t.Fatalf("expected capped limit 200, got %d", got)
	}
	if got := parsePositiveLimit("", 50, 200); got != 50 {
		t.Fatalf("expected fallback limit 50, got %d", got)
	}
	if got := parsePositiveLimit("invalid", 50, 200); got != 50 {
		t.Fatalf("expected fallback on invalid input, got %d", got)
	}
}

// fetchCSRFToken calls the CSRF token endpoint and returns the token string.
func fetchCSRFToken(t *testing.T, api *API) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/csrf-token", nil)
	res := httptest.NewRecorder()
	api.Handler().ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("csrf-token endpoint returned status %d", res.Code)
	}
	var payload map[string]string
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode csrf-token response failed: %v", err)
	}
	tok := payload["csrf_token"]
	if strings.TrimSpace(tok) == "" {
		t.Fatalf("expected non-empty csrf_token in response")
	}
	return tok
}
