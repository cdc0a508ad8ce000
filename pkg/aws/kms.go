package aws

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	kmstypes "github.com/aws/aws-sdk-go-v2/service/kms/types"

	"github.com/ec2crypt/ec2crypt/pkg/migrate"
)

// DefaultKeyAlias is the regional AWS-managed EBS encryption key, used when
// the caller does not name a CMK.
const DefaultKeyAlias = "alias/aws/ebs"

// ResolveKey validates the caller's master key selector and returns the key
// ARN to encrypt under. Accepted forms: a key ARN, a bare key id, an
// "alias/..." selector, or a bare alias name. An empty selector resolves the
// default EBS key. A key that exists but is not enabled is rejected up front
// rather than failing every copy mid-run.
func (c *Client) ResolveKey(ctx context.Context, key string) (string, error) {
	selector := key
	switch {
	case selector == "":
		selector = DefaultKeyAlias
	case strings.HasPrefix(selector, "alias/"),
		strings.HasPrefix(selector, "arn:"),
		looksLikeKeyID(selector):
		// Usable as-is.
	default:
		selector = "alias/" + selector
	}

	result, err := c.kms.DescribeKey(ctx, &kms.DescribeKeyInput{
		KeyId: aws.String(selector),
	})
	if err != nil {
		return "", migrate.Terminal("DescribeKey", fmt.Errorf("invalid master key %q: %w", key, err))
	}
	meta := result.KeyMetadata
	if meta == nil || meta.Arn == nil {
		return "", migrate.Terminal("DescribeKey", fmt.Errorf("no metadata returned for key %q", key))
	}
	if meta.KeyState != kmstypes.KeyStateEnabled {
		return "", migrate.Terminal("DescribeKey", fmt.Errorf("master key %q is in state %s, not enabled", key, meta.KeyState))
	}
	return *meta.Arn, nil
}

// looksLikeKeyID matches the UUID shape of a bare KMS key id.
func looksLikeKeyID(s string) bool {
	parts := strings.Split(s, "-")
	if len(parts) != 5 {
		return false
	}
	for _, p := range parts {
		if p == "" {
			return false
		}
		for _, r := range p {
			if !strings.ContainsRune("0123456789abcdefABCDEF", r) {
				return false
			}
		}
	}
	return true
}
