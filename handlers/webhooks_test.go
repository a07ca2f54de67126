package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"savegame-system/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mpesaSuccess = `{"Body":{"stkCallback":{"MerchantRequestID":"29115-34620561-1","CheckoutRequestID":"ws_CO_1","ResultCode":0,"ResultDesc":"The service request is processed successfully.","CallbackMetadata":{"Item":[{"Name":"Amount","Value":1500},{"Name":"MpesaReceiptNumber","Value":"NLJ7RT61SV"},{"Name":"TransactionDate","Value":20261016102115},{"Name":"PhoneNumber","Value":254708374149}]}}}}`

type memoryArchive struct {
	mu   sync.Mutex
	keys []string
}

func (a *memoryArchive) Archive(_ context.Context, key string, _ []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.keys = append(a.keys, key)
	return nil
}

func postWebhook(t *testing.T, env *testEnv, path, contentType, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", contentType)
	return env.do(t, req)
}

func countTransactions(t *testing.T, env *testEnv) int64 {
	t.Helper()
	var n int64
	require.NoError(t, env.db.Model(&models.Transaction{}).Count(&n).Error)
	return n
}

func TestMpesaCallbackRecordsOnce(t *testing.T) {
	env := newTestEnv(t)
	user := env.seedUser(t, "+254708374149")

	for i := 0; i < 2; i++ {
		status, body := postWebhook(t, env, "/webhooks/mpesa", "application/json", mpesaSuccess)
		assert.Equal(t, http.StatusOK, status)
		assert.EqualValues(t, 0, body["ResultCode"])
	}

	assert.EqualValues(t, 1, countTransactions(t, env))

	var u models.User
	require.NoError(t, env.db.First(&u, "id = ?", user.ID).Error)
	assert.Equal(t, "1500", u.TotalSaved.String())
}

func TestMpesaCallbackAlwaysAcknowledges(t *testing.T) {
	env := newTestEnv(t)

	status, body := postWebhook(t, env, "/webhooks/mpesa", "application/json", `{"Body":`)
	assert.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 0, body["ResultCode"])

	// valid payment from a phone no member owns
	status, _ = postWebhook(t, env, "/webhooks/mpesa", "application/json", mpesaSuccess)
	assert.Equal(t, http.StatusOK, status)
	assert.Zero(t, countTransactions(t, env))

	status, body = postWebhook(t, env, "/webhooks/mpesa/timeout", "application/json", `{}`)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Timeout received", body["ResultDesc"])
}

func TestMpesaCallbackTokenAndArchive(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "+254708374149")

	archive := &memoryArchive{}
	h := &WebhookHandler{Payments: env.payments, CallbackToken: "cb-secret", Archive: archive}
	env.app.Post("/hooks-with-token", h.MpesaCallback)

	status, _ := postWebhook(t, env, "/hooks-with-token?token=wrong", "application/json", mpesaSuccess)
	assert.Equal(t, http.StatusOK, status)
	assert.Zero(t, countTransactions(t, env))
	assert.Empty(t, archive.keys)

	status, _ = postWebhook(t, env, "/hooks-with-token?token=cb-secret", "application/json", mpesaSuccess)
	assert.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 1, countTransactions(t, env))
	require.Len(t, archive.keys, 1)
	assert.True(t, strings.HasPrefix(archive.keys[0], "mpesa/callbacks/"))
	assert.True(t, strings.HasSuffix(archive.keys[0], "/ws_CO_1.json"), archive.keys[0])

	status, _ = postWebhook(t, env, "/hooks-with-token?token=cb-secret", "application/json", "not json")
	assert.Equal(t, http.StatusOK, status)
	require.Len(t, archive.keys, 2)
	assert.NotContains(t, archive.keys[1], "ws_CO_1")
}

func TestSMSDeliveryReport(t *testing.T) {
	env := newTestEnv(t)
	user := env.seedUser(t, "+254708374149")
	n := models.Notification{
		OrganizationID: env.org.ID,
		UserID:         user.ID,
		Kind:           models.NotifyWelcome,
		Channel:        models.ChannelSMS,
		Message:        "Welcome",
		Status:         models.NotificationSent,
		ProviderID:     "ATXid_9",
	}
	require.NoError(t, env.db.Create(&n).Error)

	form := url.Values{"id": {"ATXid_9"}, "status": {"Success"}}
	status, _ := postWebhook(t, env, "/webhooks/sms/delivery", "application/x-www-form-urlencoded", form.Encode())
	assert.Equal(t, http.StatusOK, status)

	require.NoError(t, env.db.First(&n, "id = ?", n.ID).Error)
	assert.Equal(t, models.NotificationDelivered, n.Status)

	form = url.Values{"id": {"unknown"}, "status": {"Success"}}
	status, _ = postWebhook(t, env, "/webhooks/sms/delivery", "application/x-www-form-urlencoded", form.Encode())
	assert.Equal(t, http.StatusOK, status)
}
