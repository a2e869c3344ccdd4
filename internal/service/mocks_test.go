package service

import (
	"context"

	"github.com/stretchr/testify/mock"

	"resumesync/internal/mail"
	"resumesync/internal/model"
)

type mockFetcher struct {
	mock.Mock
}

func (m *mockFetcher) FetchArtifact(ctx context.Context, rec model.ApplicantRecord) (string, error) {
	args := m.Called(ctx, rec)
	return args.String(0), args.Error(1)
}

func (m *mockFetcher) Discard(path string) error {
	args := m.Called(path)
	return args.Error(0)
}

type mockSender struct {
	mock.Mock
}

func (m *mockSender) Send(ctx context.Context, msg mail.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}
