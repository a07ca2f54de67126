package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"savegame-system/models"
	"savegame-system/utils"
)

const africasTalkingBaseURL = "https://api.africastalking.com"

// AfricasTalkingClient sends SMS through the Africa's Talking messaging API.
type AfricasTalkingClient struct {
	BaseURL  string
	APIKey   string
	Username string
	SenderID string
	Client   *http.Client
}

type atRecipient struct {
	Number    string `json:"number"`
	Status    string `json:"status"`
	MessageID string `json:"messageId"`
	Cost      string `json:"cost"`
}

type atSendResponse struct {
	SMSMessageData struct {
		Message    string        `json:"Message"`
		Recipients []atRecipient `json:"Recipients"`
	} `json:"SMSMessageData"`
}

func NewAfricasTalkingClient(baseURL, apiKey, username, senderID string) *AfricasTalkingClient {
	if baseURL == "" {
		baseURL = africasTalkingBaseURL
	}
	return &AfricasTalkingClient{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		APIKey:   apiKey,
		Username: username,
		SenderID: senderID,
		Client:   utils.HTTPClient,
	}
}

// SendSMS posts one message; delivery counts as accepted only when the
// first recipient comes back with status "Success".
func (c *AfricasTalkingClient) SendSMS(ctx context.Context, phone, message string) (string, error) {
	to, err := utils.FormatPhoneNumber(phone)
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrInvalidArgument, err)
	}
	form := url.Values{}
	form.Set("username", c.Username)
	form.Set("to", to)
	form.Set("message", message)
	if c.SenderID != "" {
		form.Set("from", c.SenderID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/version1/messaging", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("apiKey", c.APIKey)

	resp, err := c.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: africastalking: %v", models.ErrExternalService, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: africastalking returned %d: %s", models.ErrExternalService, resp.StatusCode, string(body))
	}

	var out atSendResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("%w: africastalking response: %v", models.ErrExternalService, err)
	}
	if len(out.SMSMessageData.Recipients) == 0 {
		return "", fmt.Errorf("%w: africastalking: %s", models.ErrExternalService, out.SMSMessageData.Message)
	}
	r := out.SMSMessageData.Recipients[0]
	if r.Status != "Success" {
		return "", fmt.Errorf("%w: africastalking recipient status %s", models.ErrExternalService, r.Status)
	}
	return r.MessageID, nil
}
