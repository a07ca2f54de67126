// utils/http.go
package utils

import (
	"net/http"
	"time"
)

// HTTPClient is shared by the outbound provider clients (Daraja, Africa's Talking).
var HTTPClient = &http.Client{
	Timeout: 30 * time.Second,
}
