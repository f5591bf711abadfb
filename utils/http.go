// utils/http.go
package utils

import (
	"net/http"
	"time"
)

// HTTPClient is the shared client for all outbound calls (gaming API and
// geocoder). Rate limiting and retries live with the callers.
var HTTPClient = &http.Client{
	Timeout: 30 * time.Second,
}