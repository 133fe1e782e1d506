package dto

// ReferralValidateRequest asks the gateway to validate a referral code typed into the signup form.
// Session identifies the input stream (one per browser tab) used for request sequencing.
type ReferralValidateRequest struct {
	Code    string `json:"code" query:"ref" validate:"max=64"`
	Session string `json:"session" query:"session" validate:"required,min=1,max=128"`
}

// ReferralStateResponse is the visible state of a referral input stream.
type ReferralStateResponse struct {
	State        string `json:"state"`
	Code         string `json:"code,omitempty"`
	ReferrerName string `json:"referrerName,omitempty"`
	Message      string `json:"message,omitempty"`
	Welcome      string `json:"welcome,omitempty"`
	Sequence     uint64 `json:"sequence"`
	Superseded   bool   `json:"superseded,omitempty"`
}
