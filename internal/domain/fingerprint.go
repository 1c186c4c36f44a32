package domain

// Fingerprint is the client-derived identifier sent alongside chat requests.
// Only ID is interpreted (rate-limit key); the rest is logged as received.
type Fingerprint struct {
	ID               string `json:"fingerprint"`
	Browser          string `json:"browser,omitempty"`
	BrowserVersion   string `json:"browserVersion,omitempty"`
	OS               string `json:"os,omitempty"`
	OSVersion        string `json:"osVersion,omitempty"`
	Device           string `json:"device,omitempty"`
	DeviceType       string `json:"deviceType,omitempty"`
	DeviceVendor     string `json:"deviceVendor,omitempty"`
	CPU              string `json:"cpu,omitempty"`
	ScreenResolution string `json:"screenResolution,omitempty"`
	ColorDepth       int    `json:"colorDepth,omitempty"`
	Timezone         string `json:"timezone,omitempty"`
	Language         string `json:"language,omitempty"`
	UserAgent        string `json:"userAgent,omitempty"`
}
