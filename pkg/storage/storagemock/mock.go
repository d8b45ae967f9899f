package storagemock

import (
	"context"

	"github.com/raterudder/homeplug/pkg/storage"
	"github.com/raterudder/homeplug/pkg/types"
	"github.com/stretchr/testify/mock"
)

type MockDatabase struct {
	mock.Mock
}

var _ storage.Database = (*MockDatabase)(nil)

func (m *MockDatabase) Insert(ctx context.Context, table storage.Table, row storage.Row, limit int) (bool, error) {
	args := m.Called(ctx, table, row, limit)
	return args.Bool(0), args.Error(1)
}

func (m *MockDatabase) Trim(ctx context.Context, table storage.Table, limit int) (int, error) {
	args := m.Called(ctx, table, limit)
	return args.Int(0), args.Error(1)
}

func (m *MockDatabase) Latest(ctx context.Context, table storage.Table, k int) ([]storage.Row, error) {
	args := m.Called(ctx, table, k)
	if rows := args.Get(0); rows != nil {
		return rows.([]storage.Row), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockDatabase) Count(ctx context.Context, table storage.Table) (int, error) {
	args := m.Called(ctx, table)
	return args.Int(0), args.Error(1)
}

func (m *MockDatabase) GetSettings(ctx context.Context) (types.Settings, int, error) {
	args := m.Called(ctx)
	// return empty if not specified, or checks args
	if len(args) > 0 {
		return args.Get(0).(types.Settings), args.Int(1), args.Error(2)
	}
	return types.Settings{}, 0, nil
}

func (m *MockDatabase) SetSettings(ctx context.Context, settings types.Settings, version int) error {
	args := m.Called(ctx, settings, version)
	return args.Error(0)
}

func (m *MockDatabase) Close() error {
	args := m.Called()
	return args.Error(0)
}
