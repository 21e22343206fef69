package keys

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
)

var (
	ErrMasterKeyUninitialized = errors.New("master key not initialized")
	// ErrKeyDecryption means an unwrap failed authentication: the ciphertext
	// was tampered with or was wrapped under a key this process does not hold.
	ErrKeyDecryption = errors.New("key decryption failed")
)

// Provider is the source of raw symmetric key material. Which provider backs
// the service is an explicit, audited configuration choice made at startup;
// there is no runtime fallback from one provider to another.
type Provider interface {
	GenerateKeyMaterial(ctx context.Context, length int) ([]byte, error)
	Name() string
}

// NewProvider resolves the configured material source by name. Selecting a
// provider this build does not carry is a startup error, never a fallback to
// local generation.
func NewProvider(name string) (Provider, error) {
	switch name {
	case "local":
		return NewLocalProvider(), nil
	case "kms":
		return nil, errors.New("kms key provider is not available in this build")
	default:
		return nil, fmt.Errorf("unknown key provider %q", name)
	}
}

// LocalProvider generates key material from the operating system CSPRNG.
type LocalProvider struct{}

func NewLocalProvider() *LocalProvider { return &LocalProvider{} }

func (p *LocalProvider) Name() string { return "local" }

func (p *LocalProvider) GenerateKeyMaterial(_ context.Context, length int) ([]byte, error) {
	if length <= 0 {
		return nil, fmt.Errorf("invalid key length %d", length)
	}
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("generate key material: %w", err)
	}
	return b, nil
}
