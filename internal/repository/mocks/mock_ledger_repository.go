package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"resumesync/internal/model"
)

type MockLedgerRepository struct {
	mock.Mock
}

func (m *MockLedgerRepository) ListExemptedIDs(ctx context.Context) (model.ExemptionSet, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(model.ExemptionSet), args.Error(1)
}

func (m *MockLedgerRepository) RecordProcessed(ctx context.Context, id, path string) error {
	args := m.Called(ctx, id, path)
	return args.Error(0)
}

func (m *MockLedgerRepository) MarkSent(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockLedgerRepository) List(ctx context.Context) ([]model.LedgerEntry, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.LedgerEntry), args.Error(1)
}
