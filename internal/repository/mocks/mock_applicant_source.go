package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"resumesync/internal/model"
)

type MockApplicantSource struct {
	mock.Mock
}

func (m *MockApplicantSource) FetchNewApplicants(ctx context.Context, exempted model.ExemptionSet) ([]model.ApplicantRecord, error) {
	args := m.Called(ctx, exempted)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.ApplicantRecord), args.Error(1)
}
