package port

// SecretHasher hashes and verifies principal secrets using the configured algorithm.
type SecretHasher interface {
	Hash(secret string) (string, error)
	Verify(secret string, encoded string) (bool, error)
}
