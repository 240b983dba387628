package mocks

import (
	"context"
	"io"

	"github.com/stretchr/testify/mock"

	"github.com/bnema/dockship/internal/boundaries/out"
)

// MockChannel is a mock implementation of out.Channel
type MockChannel struct {
	mock.Mock
}

var _ out.Channel = (*MockChannel)(nil)

func (m *MockChannel) Run(ctx context.Context, command string, opts out.RunOptions) ([]byte, []byte, error) {
	args := m.Called(ctx, command, opts)
	var stdout, stderr []byte
	if v := args.Get(0); v != nil {
		stdout = v.([]byte)
	}
	if v := args.Get(1); v != nil {
		stderr = v.([]byte)
	}
	return stdout, stderr, args.Error(2)
}

// File operations
func (m *MockChannel) Stat(ctx context.Context, path string) (out.FileInfo, error) {
	args := m.Called(ctx, path)
	return args.Get(0).(out.FileInfo), args.Error(1)
}

func (m *MockChannel) OpenRead(ctx context.Context, path string) (io.ReadCloser, error) {
	args := m.Called(ctx, path)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(io.ReadCloser), args.Error(1)
}

func (m *MockChannel) OpenWrite(ctx context.Context, path string) (io.WriteCloser, error) {
	args := m.Called(ctx, path)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(io.WriteCloser), args.Error(1)
}

func (m *MockChannel) ListDir(ctx context.Context, path string) ([]string, error) {
	args := m.Called(ctx, path)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockChannel) Remove(ctx context.Context, path string) error {
	args := m.Called(ctx, path)
	return args.Error(0)
}

func (m *MockChannel) RemoveAll(ctx context.Context, path string) error {
	args := m.Called(ctx, path)
	return args.Error(0)
}

func (m *MockChannel) Describe() string {
	args := m.Called()
	return args.String(0)
}
