package types

// ServiceType routes a request to its handler.
type ServiceType string

const (
	ServicePing      ServiceType = "ping"
	ServiceMetrics   ServiceType = "metrics"
	ServiceFunction  ServiceType = "function"
	ServiceWallet    ServiceType = "wallet"
	ServiceSecrets   ServiceType = "secrets"
	ServicePriceFeed ServiceType = "priceFeed"
	ServiceAccount   ServiceType = "account"
)

// UnknownRequestID is echoed when the request id could not be recovered.
const UnknownRequestID = "unknown"

// Request is the envelope received from the host.
type Request struct {
	RequestID   string      `json:"requestId"`
	ServiceType ServiceType `json:"serviceType"`
	Operation   string      `json:"operation"`
	Payload     []byte      `json:"payload,omitempty"`
}

// Response is the envelope sent back to the host. ErrorMessage is set iff
// Success is false, Payload only when Success is true.
type Response struct {
	RequestID    string `json:"requestId"`
	Success      bool   `json:"success"`
	ErrorMessage string `json:"errorMessage,omitempty"`
	Payload      []byte `json:"payload,omitempty"`
}

// OK builds a successful response.
func OK(requestID string, payload []byte) *Response {
	return &Response{RequestID: requestID, Success: true, Payload: payload}
}

// Fail builds a failed response from err.
func Fail(requestID string, err *Error) *Response {
	if requestID == "" {
		requestID = UnknownRequestID
	}
	return &Response{RequestID: requestID, Success: false, ErrorMessage: err.WireMessage()}
}
