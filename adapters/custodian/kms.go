package custodian

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/layer-3/keyward/core"
	"github.com/rs/zerolog/log"
)

// KMSDecrypter is the part of the KMS client the master key loader needs
type KMSDecrypter interface {
	Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

// NewKMSClient creates a KMS client from the default AWS credential chain
func NewKMSClient(ctx context.Context, region string) (*kms.Client, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return kms.NewFromConfig(awsCfg), nil
}

// LoadKMSMasterKey decrypts a base64 KMS ciphertext blob holding the 32-byte
// master key. The plaintext never leaves process memory.
func LoadKMSMasterKey(ctx context.Context, client KMSDecrypter, blob string) ([]byte, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(blob)
	if err != nil || len(ciphertext) == 0 {
		return nil, fmt.Errorf("KMS key blob is not base64: %w", core.ErrMisconfigured)
	}

	result, err := client.Decrypt(ctx, &kms.DecryptInput{CiphertextBlob: ciphertext})
	if err != nil {
		return nil, fmt.Errorf("KMS decrypt failed: %w", err)
	}
	if len(result.Plaintext) != 32 {
		return nil, fmt.Errorf("KMS master key is %d bytes: %w", len(result.Plaintext), core.ErrMisconfigured)
	}

	log.Debug().
		Int("ciphertext_len", len(ciphertext)).
		Msg("KMS master key loaded")

	return result.Plaintext, nil
}

// NewFromKMS loads the master key from KMS and builds a custodian with it
func NewFromKMS(ctx context.Context, client KMSDecrypter, blob string) (*AESGCMCustodian, error) {
	master, err := LoadKMSMasterKey(ctx, client, blob)
	if err != nil {
		return nil, err
	}
	return NewWithKey(master)
}
