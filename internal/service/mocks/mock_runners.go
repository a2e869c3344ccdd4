package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"resumesync/internal/service"
)

type MockSyncRunner struct {
	mock.Mock
}

func (m *MockSyncRunner) Run(ctx context.Context) (*service.SyncResult, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.SyncResult), args.Error(1)
}

type MockDispatchRunner struct {
	mock.Mock
}

func (m *MockDispatchRunner) Dispatch(ctx context.Context) (*service.DispatchResult, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.DispatchResult), args.Error(1)
}
