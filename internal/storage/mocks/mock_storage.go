package mocks

import (
	"context"
	"io"

	"resumesync/internal/storage"

	"github.com/stretchr/testify/mock"
)

type MockStorage struct {
	mock.Mock
}

func (m *MockStorage) Get(ctx context.Context, key string) (io.ReadCloser, storage.ObjectInfo, error) {
	args := m.Called(ctx, key)
	if f, ok := args.Get(0).(func(context.Context, string) io.ReadCloser); ok {
		return f(ctx, key), args.Get(1).(storage.ObjectInfo), args.Error(2)
	}
	if args.Get(0) == nil {
		return nil, args.Get(1).(storage.ObjectInfo), args.Error(2)
	}
	return args.Get(0).(io.ReadCloser), args.Get(1).(storage.ObjectInfo), args.Error(2)
}
