package testutil

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockKeyValueStore is a testify mock of storage.KeyValueStore
type MockKeyValueStore struct {
	mock.Mock
}

func (m *MockKeyValueStore) Get(ctx context.Context, key string) (string, error) {
	args := m.Called(ctx, key)
	return args.String(0), args.Error(1)
}

func (m *MockKeyValueStore) Set(ctx context.Context, key, value string) error {
	args := m.Called(ctx, key, value)
	return args.Error(0)
}

func (m *MockKeyValueStore) Delete(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

// MockNavigator records whole-page navigations
type MockNavigator struct {
	mock.Mock
}

func (m *MockNavigator) Navigate(target string) {
	m.Called(target)
}
