package core

// ProofDomain binds every signed proof to this service
const ProofDomain = "aurora-scholar"

const (
	ProofActionAuth      = "auth"
	ProofActionAccessKey = "access-key"
)

// AuthProof is the payload a wallet signs to open a session
func AuthProof(wallet, nonce string) map[string]any {
	return map[string]any{
		"domain": ProofDomain,
		"action": ProofActionAuth,
		"wallet": wallet,
		"nonce":  nonce,
	}
}

// AccessKeyProof is the payload a viewer signs to claim a content key
func AccessKeyProof(wallet, resourceID, nonce string) map[string]any {
	return map[string]any{
		"domain":    ProofDomain,
		"action":    ProofActionAccessKey,
		"wallet":    wallet,
		"articleId": resourceID,
		"nonce":     nonce,
	}
}
