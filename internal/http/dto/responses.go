package dto

type AuthResponse struct {
	Token string `json:"token"`
	User  any    `json:"user,omitempty"`
}

type ErrorResponse struct {
	Code          string `json:"code"`
	Error         string `json:"error"`
	Field         string `json:"field,omitempty"`
	CurrentStatus string `json:"current_status,omitempty"`
	RequestID     string `json:"request_id,omitempty"`
}

type SuccessResponse struct {
	OK   bool `json:"ok"`
	Data any  `json:"data,omitempty"`
}

type SignatureUploadResponse struct {
	SignatureImageRef string `json:"signature_image_ref"`
}

type WebhookAck struct {
	Received bool `json:"received"`
	Applied  bool `json:"applied"`
}
