package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/kms"
	kmstypes "github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// MockKMSClient mocks the KMS subset used for master key resolution. Keys is
// keyed by every selector form a key answers to (alias, id, ARN).
type MockKMSClient struct {
	mu sync.Mutex

	Keys map[string]*kmstypes.KeyMetadata

	DescribeKeyErr   error
	DescribeKeyCalls int
}

func NewMockKMSClient() *MockKMSClient {
	return &MockKMSClient{Keys: make(map[string]*kmstypes.KeyMetadata)}
}

// AddKey registers key metadata under the given selectors.
func (m *MockKMSClient) AddKey(meta *kmstypes.KeyMetadata, selectors ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range selectors {
		m.Keys[s] = meta
	}
}

func (m *MockKMSClient) DescribeKey(ctx context.Context, params *kms.DescribeKeyInput, optFns ...func(*kms.Options)) (*kms.DescribeKeyOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DescribeKeyCalls++

	if m.DescribeKeyErr != nil {
		return nil, m.DescribeKeyErr
	}

	meta, ok := m.Keys[derefStr(params.KeyId)]
	if !ok {
		return nil, fmt.Errorf("NotFoundException: key %s not found", derefStr(params.KeyId))
	}
	return &kms.DescribeKeyOutput{KeyMetadata: meta}, nil
}

// MockSTSClient mocks GetCallerIdentity.
type MockSTSClient struct {
	Account string
	Arn     string

	GetCallerIdentityErr   error
	GetCallerIdentityCalls int
}

func (m *MockSTSClient) GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error) {
	m.GetCallerIdentityCalls++
	if m.GetCallerIdentityErr != nil {
		return nil, m.GetCallerIdentityErr
	}
	return &sts.GetCallerIdentityOutput{
		Account: strPtr(m.Account),
		Arn:     strPtr(m.Arn),
	}, nil
}
