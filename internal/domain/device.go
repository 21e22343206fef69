package domain

// DeviceInfo is the client-presented device descriptor captured at issuance
// and re-presented on refresh. The fingerprint fields are non-secret request
// attributes; binding a session to their hash is what stops a leaked refresh
// token from being redeemed elsewhere.
type DeviceInfo struct {
	DeviceID  string `json:"device_id"`
	IPAddress string `json:"ip_address"`

	UserAgent           string `json:"user_agent"`
	AcceptLanguage      string `json:"accept_language"`
	AcceptEncoding      string `json:"accept_encoding"`
	ScreenResolution    string `json:"screen_resolution"`
	Timezone            string `json:"timezone"`
	Platform            string `json:"platform"`
	HardwareConcurrency int    `json:"hardware_concurrency"`
	DeviceMemory        int    `json:"device_memory"`
}
