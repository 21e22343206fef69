package security

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/chudeemeke/stealth-learning-auth-core/internal/domain"
)

// fingerprintAttrs is the canonical claim set hashed into a device
// fingerprint. Field order is fixed; changing it invalidates every stored
// fingerprint.
type fingerprintAttrs struct {
	UserAgent           string `json:"userAgent"`
	AcceptLanguage      string `json:"acceptLanguage"`
	AcceptEncoding      string `json:"acceptEncoding"`
	ScreenResolution    string `json:"screenResolution"`
	Timezone            string `json:"timezone"`
	Platform            string `json:"platform"`
	HardwareConcurrency int    `json:"hardwareConcurrency"`
	DeviceMemory        int    `json:"deviceMemory"`
}

// FingerprintDevice hashes the non-secret device attributes into the value a
// session is bound to. Recomputed from the presented descriptor on refresh and
// compared against the stored hash.
func FingerprintDevice(d domain.DeviceInfo) string {
	attrs := fingerprintAttrs{
		UserAgent:           d.UserAgent,
		AcceptLanguage:      d.AcceptLanguage,
		AcceptEncoding:      d.AcceptEncoding,
		ScreenResolution:    d.ScreenResolution,
		Timezone:            d.Timezone,
		Platform:            d.Platform,
		HardwareConcurrency: d.HardwareConcurrency,
		DeviceMemory:        d.DeviceMemory,
	}
	raw, _ := json.Marshal(attrs)
	h := sha256.Sum256(raw)
	return hex.EncodeToString(h[:])
}
