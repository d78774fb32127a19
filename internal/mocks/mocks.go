// File: internal/mocks/mocks.go
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/mmmyyc/ai-template-sub000/internal/store"
)

// -- Saver Mock --

// MockSaver mocks the document saver collaborator.
type MockSaver struct {
	mock.Mock
}

func (m *MockSaver) Save(ctx context.Context, content string) error {
	args := m.Called(ctx, content)
	return args.Error(0)
}

// -- Version Store Mock --

// MockVersionStore mocks a document version store.
type MockVersionStore struct {
	mock.Mock
}

func (m *MockVersionStore) Save(ctx context.Context, content string) error {
	args := m.Called(ctx, content)
	return args.Error(0)
}

func (m *MockVersionStore) History(ctx context.Context, limit int) ([]store.Version, error) {
	args := m.Called(ctx, limit)
	if v := args.Get(0); v != nil {
		return v.([]store.Version), args.Error(1)
	}
	return nil, args.Error(1)
}

var _ store.Saver = (*MockSaver)(nil)
var _ store.Saver = (*MockVersionStore)(nil)
