package utils

import (
	"net/http"
	"time"
)

// HTTPClient is used for calls to the identity provider.
var HTTPClient = &http.Client{
	Timeout: 15 * time.Second,
}
