package dto

type InitiateAgreementRequest struct {
	PropertyID          string            `json:"property_id"`
	TenantUserID        string            `json:"tenant_user_id"`
	TemplateKey         string            `json:"template_key,omitempty"`
	TemplateBody        string            `json:"template_body,omitempty"`
	Variables           map[string]string `json:"variables,omitempty"`
	ListerPaymentMethod *string           `json:"lister_payment_method,omitempty"`
}

// UpdateDraftRequest merges variables into the existing ones; omitted fields
// are left unchanged.
type UpdateDraftRequest struct {
	ExpectedVersion     *int              `json:"expected_version,omitempty"`
	TemplateBody        *string           `json:"template_body,omitempty"`
	Variables           map[string]string `json:"variables,omitempty"`
	RentAmount          *int64            `json:"rent_amount,omitempty"`
	ListerPaymentMethod *string           `json:"lister_payment_method,omitempty"`
}

type TransitionRequest struct {
	ExpectedVersion *int   `json:"expected_version,omitempty"`
	Reason          string `json:"reason,omitempty"` // cancel/decline only
}

type SignRequest struct {
	SignatureImageRef string  `json:"signature_image_ref"`
	PaymentMethod     *string `json:"payment_method,omitempty"`
	ExpectedVersion   *int    `json:"expected_version,omitempty"`
}

type BeginPaymentRequest struct {
	Party  string `json:"party,omitempty"`
	Method string `json:"method"`
}
