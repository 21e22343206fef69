package keys

import (
	"crypto/rsa"
	"errors"
	"sync"
)

var ErrNoSigningKey = errors.New("no active signing key")

// SigningKeyRing holds the active RSA signing key plus the public keys of
// retained prior generations, addressable by kid. Verification against a
// rotated-out key succeeds until that key is retired from the ring.
type SigningKeyRing struct {
	mu        sync.RWMutex
	activeKid string
	private   *rsa.PrivateKey
	publics   map[string]*rsa.PublicKey
}

func NewSigningKeyRing() *SigningKeyRing {
	return &SigningKeyRing{publics: make(map[string]*rsa.PublicKey)}
}

// SetActive installs the signing key. The previous active key's public half
// stays in the ring until Retire removes it.
func (r *SigningKeyRing) SetActive(kid string, private *rsa.PrivateKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.activeKid = kid
	r.private = private
	r.publics[kid] = &private.PublicKey
}

// AddPublic registers a verification-only key (a retained prior generation).
func (r *SigningKeyRing) AddPublic(kid string, pub *rsa.PublicKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.publics[kid] = pub
}

// Retire removes a key from the ring entirely; tokens signed with it no
// longer verify.
func (r *SigningKeyRing) Retire(kid string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if kid == r.activeKid {
		return
	}
	delete(r.publics, kid)
}

// Signer returns the active kid and private key.
func (r *SigningKeyRing) Signer() (string, *rsa.PrivateKey, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.private == nil {
		return "", nil, ErrNoSigningKey
	}
	return r.activeKid, r.private, nil
}

// Public resolves a verification key by kid.
func (r *SigningKeyRing) Public(kid string) (*rsa.PublicKey, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pub, ok := r.publics[kid]
	return pub, ok
}

// Kids returns every kid currently held, active first.
func (r *SigningKeyRing) Kids() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kids := make([]string, 0, len(r.publics))
	if r.activeKid != "" {
		kids = append(kids, r.activeKid)
	}
	for kid := range r.publics {
		if kid != r.activeKid {
			kids = append(kids, kid)
		}
	}
	return kids
}
