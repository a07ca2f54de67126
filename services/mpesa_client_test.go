package services

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"savegame-system/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDarajaStub(t *testing.T, oauthCalls *int32, stkResponse string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/v1/generate", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(oauthCalls, 1)
		want := "Basic " + base64.StdEncoding.EncodeToString([]byte("key:secret"))
		assert.Equal(t, want, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"access_token":"tok-1","expires_in":"3599"}`))
	})
	mux.HandleFunc("/mpesa/stkpush/v1/processrequest", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "174379", body["BusinessShortCode"])
		assert.Equal(t, "20260116130000", body["Timestamp"])
		assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("174379passkey20260116130000")), body["Password"])
		assert.EqualValues(t, 1500, body["Amount"])
		assert.Equal(t, "254712345678", body["PartyA"])
		assert.Equal(t, "https://example.com/webhooks/mpesa", body["CallBackURL"])
		_, _ = w.Write([]byte(stkResponse))
	})
	mux.HandleFunc("/mpesa/stkpushquery/v1/query", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ResponseCode":"0","ResultCode":"1032","ResultDesc":"Request cancelled by user","CheckoutRequestID":"ws_CO_1"}`))
	})
	return httptest.NewServer(mux)
}

func newTestMpesaClient(baseURL string) *MpesaClient {
	c := NewMpesaClient(baseURL, "key", "secret", "174379", "passkey", "https://example.com/webhooks/mpesa")
	c.Now = func() time.Time { return time.Date(2026, 1, 16, 10, 0, 0, 0, time.UTC) } // 13:00 EAT
	return c
}

func TestInitiateSTKPush(t *testing.T) {
	var oauthCalls int32
	srv := newDarajaStub(t, &oauthCalls, `{"MerchantRequestID":"m-1","CheckoutRequestID":"ws_CO_1","ResponseCode":"0","ResponseDescription":"Success. Request accepted for processing"}`)
	defer srv.Close()
	c := newTestMpesaClient(srv.URL)

	res, err := c.InitiateSTKPush(context.Background(), STKPushRequest{
		PhoneNumber:      "0712345678",
		Amount:           decimal.RequireFromString("1500.90"),
		AccountReference: "SAVINGS",
		Description:      "Savings deposit",
	})
	require.NoError(t, err)
	assert.Equal(t, "ws_CO_1", res.CheckoutRequestID)
	assert.Equal(t, "m-1", res.MerchantRequestID)

	// token is cached between calls
	_, err = c.InitiateSTKPush(context.Background(), STKPushRequest{PhoneNumber: "0712345678", Amount: decimal.NewFromInt(1500)})
	require.NoError(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&oauthCalls))
}

func TestInitiateSTKPushRejected(t *testing.T) {
	var oauthCalls int32
	srv := newDarajaStub(t, &oauthCalls, `{"ResponseCode":"1","ResponseDescription":"Invalid shortcode"}`)
	defer srv.Close()

	_, err := newTestMpesaClient(srv.URL).InitiateSTKPush(context.Background(), STKPushRequest{PhoneNumber: "0712345678", Amount: decimal.NewFromInt(1500)})
	assert.ErrorIs(t, err, models.ErrExternalService)
}

func TestInitiateSTKPushBelowMinimum(t *testing.T) {
	c := newTestMpesaClient("http://127.0.0.1:1")
	_, err := c.InitiateSTKPush(context.Background(), STKPushRequest{PhoneNumber: "0712345678", Amount: decimal.RequireFromString("0.5")})
	assert.ErrorIs(t, err, models.ErrInvalidArgument)
}

func TestQuerySTKPush(t *testing.T) {
	var oauthCalls int32
	srv := newDarajaStub(t, &oauthCalls, "")
	defer srv.Close()

	res, err := newTestMpesaClient(srv.URL).QuerySTKPush(context.Background(), "ws_CO_1")
	require.NoError(t, err)
	assert.Equal(t, "1032", res.ResultCode)
}

func TestSTKPushRejectsInvalidPhone(t *testing.T) {
	c := newTestMpesaClient("http://127.0.0.1:1")
	_, err := c.InitiateSTKPush(context.Background(), STKPushRequest{PhoneNumber: "0712", Amount: decimal.NewFromInt(100)})
	assert.ErrorIs(t, err, models.ErrInvalidArgument)
}
