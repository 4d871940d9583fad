package ports

// KeyCustodian wraps content keys under the server master key
type KeyCustodian interface {
	Wrap(contentKey []byte) (string, error)
	Unwrap(encrypted string) ([]byte, error)
}
