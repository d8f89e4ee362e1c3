package services

import (
	"context"
	"io"
	"time"

	"github.com/stretchr/testify/mock"
)

type MockReceiptStore struct {
	mock.Mock
}

func (m *MockReceiptStore) Upload(ctx context.Context, filePath string, r io.Reader) error {
	args := m.Called(ctx, filePath, r)
	return args.Error(0)
}

func (m *MockReceiptStore) SignedURL(filePath string, ttl time.Duration) (string, error) {
	args := m.Called(filePath, ttl)
	return args.String(0), args.Error(1)
}
