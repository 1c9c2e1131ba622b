package crypto

import "golang.org/x/crypto/bcrypt"

// HashSecret hashes a plaintext secret using bcrypt. A cost outside the
// valid bcrypt range falls back to the library default.
func HashSecret(plain string, cost int) ([]byte, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return bcrypt.GenerateFromPassword([]byte(plain), cost)
}

// CompareSecret compares plaintext to a stored bcrypt hash.
func CompareSecret(hash []byte, plain string) error {
	return bcrypt.CompareHashAndPassword(hash, []byte(plain))
}
