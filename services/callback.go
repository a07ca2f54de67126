package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"savegame-system/models"

	"github.com/shopspring/decimal"
)

const mpesaTimeLayout = "20060102150405"

// Safaricom timestamps are East Africa Time, which has no DST.
var mpesaZone = time.FixedZone("EAT", 3*60*60)

type stkCallbackEnvelope struct {
	Body struct {
		StkCallback *stkCallback `json:"stkCallback"`
	} `json:"Body"`
}

type stkCallback struct {
	MerchantRequestID string `json:"MerchantRequestID"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
	ResultCode        int    `json:"ResultCode"`
	ResultDesc        string `json:"ResultDesc"`
	CallbackMetadata  *struct {
		Item []callbackItem `json:"Item"`
	} `json:"CallbackMetadata"`
}

type callbackItem struct {
	Name  string          `json:"Name"`
	Value json.RawMessage `json:"Value"`
}

// PaymentConfirmation is the provider-neutral reading of a payment callback.
type PaymentConfirmation struct {
	ResultCode        int
	ResultDesc        string
	MerchantRequestID string
	CheckoutRequestID string
	Amount            decimal.Decimal
	ReceiptNumber     string
	PhoneNumber       string
	TransactionTime   time.Time
}

// Succeeded reports whether the customer completed the payment.
func (p *PaymentConfirmation) Succeeded() bool {
	return p.ResultCode == 0
}

// ParseSTKCallback reads an M-Pesa STK push callback body. Failed payments
// (non-zero ResultCode) parse without metadata; successful ones must carry
// amount, receipt and phone.
func ParseSTKCallback(body []byte) (*PaymentConfirmation, error) {
	var env stkCallbackEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: callback body: %v", models.ErrInvalidArgument, err)
	}
	cb := env.Body.StkCallback
	if cb == nil {
		return nil, fmt.Errorf("%w: callback has no stkCallback", models.ErrInvalidArgument)
	}

	conf := &PaymentConfirmation{
		ResultCode:        cb.ResultCode,
		ResultDesc:        cb.ResultDesc,
		MerchantRequestID: cb.MerchantRequestID,
		CheckoutRequestID: cb.CheckoutRequestID,
	}
	if !conf.Succeeded() {
		return conf, nil
	}
	if cb.CallbackMetadata == nil {
		return nil, fmt.Errorf("%w: successful callback without metadata", models.ErrInvalidArgument)
	}

	for _, item := range cb.CallbackMetadata.Item {
		value := itemString(item.Value)
		switch item.Name {
		case "Amount":
			amount, err := decimal.NewFromString(value)
			if err != nil {
				return nil, fmt.Errorf("%w: callback amount %q", models.ErrInvalidArgument, value)
			}
			conf.Amount = amount
		case "MpesaReceiptNumber":
			conf.ReceiptNumber = value
		case "PhoneNumber":
			conf.PhoneNumber = value
		case "TransactionDate":
			ts, err := time.ParseInLocation(mpesaTimeLayout, value, mpesaZone)
			if err != nil {
				return nil, fmt.Errorf("%w: callback transaction date %q", models.ErrInvalidArgument, value)
			}
			conf.TransactionTime = ts.UTC()
		}
	}

	switch {
	case !conf.Amount.IsPositive():
		return nil, fmt.Errorf("%w: callback amount must be positive", models.ErrInvalidArgument)
	case conf.ReceiptNumber == "":
		return nil, fmt.Errorf("%w: callback without receipt number", models.ErrInvalidArgument)
	case conf.PhoneNumber == "":
		return nil, fmt.Errorf("%w: callback without phone number", models.ErrInvalidArgument)
	}
	if conf.TransactionTime.IsZero() {
		conf.TransactionTime = time.Now().UTC()
	}
	return conf, nil
}

// itemString renders a metadata value that may arrive as a JSON string or number.
func itemString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return strings.TrimSpace(s)
		}
	}
	return string(raw)
}
