// savegame-system/services/mpesa_client.go
package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"savegame-system/models"
	"savegame-system/utils"

	"github.com/shopspring/decimal"
)

// MpesaClient talks to Safaricom Daraja for STK push (Lipa na M-Pesa Online).
type MpesaClient struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	Shortcode      string
	Passkey        string
	CallbackURL    string
	Client         *http.Client
	Now            func() time.Time

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

type STKPushRequest struct {
	PhoneNumber      string
	Amount           decimal.Decimal
	AccountReference string
	Description      string
}

type STKPushResult struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

type STKQueryResult struct {
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResultCode          string `json:"ResultCode"`
	ResultDesc          string `json:"ResultDesc"`
}

type darajaToken struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

func NewMpesaClient(baseURL, consumerKey, consumerSecret, shortcode, passkey, callbackURL string) *MpesaClient {
	return &MpesaClient{
		BaseURL:        strings.TrimRight(baseURL, "/"),
		ConsumerKey:    consumerKey,
		ConsumerSecret: consumerSecret,
		Shortcode:      shortcode,
		Passkey:        passkey,
		CallbackURL:    callbackURL,
		Client:         utils.HTTPClient,
		Now:            time.Now,
	}
}

// accessToken fetches an OAuth token, reusing it until shortly before expiry.
func (c *MpesaClient) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && c.Now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/oauth/v1/generate?grant_type=client_credentials", nil)
	if err != nil {
		return "", err
	}
	creds := base64.StdEncoding.EncodeToString([]byte(c.ConsumerKey + ":" + c.ConsumerSecret))
	req.Header.Set("Authorization", "Basic "+creds)

	resp, err := c.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: mpesa oauth: %v", models.ErrExternalService, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		slog.Warn("M-Pesa oauth rejected", "status", resp.StatusCode, "body", string(body))
		return "", fmt.Errorf("%w: mpesa oauth returned %d", models.ErrExternalService, resp.StatusCode)
	}

	var tok darajaToken
	if err := json.Unmarshal(body, &tok); err != nil {
		return "", fmt.Errorf("%w: mpesa oauth response: %v", models.ErrExternalService, err)
	}
	c.token = tok.AccessToken
	// Daraja tokens live 3599s; refresh a minute early
	c.tokenExpiry = c.Now().Add(59 * time.Minute)
	return c.token, nil
}

// password is base64(shortcode + passkey + timestamp).
func (c *MpesaClient) password(timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(c.Shortcode + c.Passkey + timestamp))
}

func (c *MpesaClient) timestamp() string {
	return c.Now().In(mpesaZone).Format(mpesaTimeLayout)
}

// InitiateSTKPush prompts the customer's phone to pay. Amounts are whole
// shillings; fractions are dropped.
func (c *MpesaClient) InitiateSTKPush(ctx context.Context, in STKPushRequest) (*STKPushResult, error) {
	amount := in.Amount.Floor().IntPart()
	if amount < 1 {
		return nil, fmt.Errorf("%w: STK push amount must be at least 1 KES", models.ErrInvalidArgument)
	}
	phone, err := utils.MSISDN(in.PhoneNumber)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidArgument, err)
	}
	ts := c.timestamp()

	payload := map[string]any{
		"BusinessShortCode": c.Shortcode,
		"Password":          c.password(ts),
		"Timestamp":         ts,
		"TransactionType":   "CustomerPayBillOnline",
		"Amount":            amount,
		"PartyA":            phone,
		"PartyB":            c.Shortcode,
		"PhoneNumber":       phone,
		"CallBackURL":       c.CallbackURL,
		"AccountReference":  in.AccountReference,
		"TransactionDesc":   in.Description,
	}

	var out STKPushResult
	if err := c.post(ctx, "/mpesa/stkpush/v1/processrequest", payload, &out); err != nil {
		return nil, err
	}
	if out.ResponseCode != "0" {
		return nil, fmt.Errorf("%w: stk push rejected: %s", models.ErrExternalService, out.ResponseDescription)
	}
	return &out, nil
}

// QuerySTKPush asks Daraja for the status of an earlier push.
func (c *MpesaClient) QuerySTKPush(ctx context.Context, checkoutRequestID string) (*STKQueryResult, error) {
	ts := c.timestamp()
	payload := map[string]any{
		"BusinessShortCode": c.Shortcode,
		"Password":          c.password(ts),
		"Timestamp":         ts,
		"CheckoutRequestID": checkoutRequestID,
	}
	var out STKQueryResult
	if err := c.post(ctx, "/mpesa/stkpushquery/v1/query", payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *MpesaClient) post(ctx context.Context, path string, payload any, out any) error {
	token, err := c.accessToken(ctx)
	if err != nil {
		return err
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewBuffer(jsonData))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.Client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: mpesa %s: %v", models.ErrExternalService, path, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		slog.Warn("M-Pesa request failed", "path", path, "status", resp.StatusCode, "body", string(body))
		return fmt.Errorf("%w: mpesa %s returned %d", models.ErrExternalService, path, resp.StatusCode)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: mpesa %s response: %v", models.ErrExternalService, path, err)
	}
	return nil
}
