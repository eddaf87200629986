// =============================================================================
// 💾 MockStorage - 键值存储模拟实现
// =============================================================================
// 用于测试的存储后端，满足 capability.Storage，支持错误注入和调用记录
//
// 使用方法:
//
//	store := mocks.NewMockStorage().WithSetError(errors.New("disk full"))
//	provider := capability.NewProvider(logger, capability.WithStorage(store))
// =============================================================================
package mocks

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MockStorage 是键值存储的模拟实现
type MockStorage struct {
	mu   sync.RWMutex
	data map[string]string

	// 错误注入
	getErr    error
	setErr    error
	deleteErr error
	keysErr   error

	// 调用记录
	getCalls    int
	setCalls    int
	deleteCalls int
	keysCalls   int
}

// NewMockStorage 创建空的 MockStorage
func NewMockStorage() *MockStorage {
	return &MockStorage{data: make(map[string]string)}
}

// =============================================================================
// 🔧 链式配置
// =============================================================================

// WithGetError 设置 Get 返回的错误
func (m *MockStorage) WithGetError(err error) *MockStorage {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getErr = err
	return m
}

// WithSetError 设置 Set 返回的错误
func (m *MockStorage) WithSetError(err error) *MockStorage {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setErr = err
	return m
}

// WithDeleteError 设置 Delete 返回的错误
func (m *MockStorage) WithDeleteError(err error) *MockStorage {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteErr = err
	return m
}

// WithKeysError 设置 Keys 返回的错误
func (m *MockStorage) WithKeysError(err error) *MockStorage {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keysErr = err
	return m
}

// =============================================================================
// 🎯 Storage 接口
// =============================================================================

func (m *MockStorage) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCalls++
	if m.getErr != nil {
		return "", false, m.getErr
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *MockStorage) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setCalls++
	if m.setErr != nil {
		return m.setErr
	}
	m.data[key] = value
	return nil
}

func (m *MockStorage) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteCalls++
	if m.deleteErr != nil {
		return m.deleteErr
	}
	delete(m.data, key)
	return nil
}

func (m *MockStorage) Keys(_ context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keysCalls++
	if m.keysErr != nil {
		return nil, m.keysErr
	}
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// =============================================================================
// 📋 检查方法
// =============================================================================

// Raw 返回底层存储的原始值，不计入调用次数
func (m *MockStorage) Raw() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.data))
	for k, v := range m.data {
		out[k] = v
	}
	return out
}

// GetCalls 返回 Get 调用次数
func (m *MockStorage) GetCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getCalls
}

// SetCalls 返回 Set 调用次数
func (m *MockStorage) SetCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.setCalls
}

// DeleteCalls 返回 Delete 调用次数
func (m *MockStorage) DeleteCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.deleteCalls
}

// KeysCalls 返回 Keys 调用次数
func (m *MockStorage) KeysCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.keysCalls
}

// Reset 清空数据、错误与调用记录
func (m *MockStorage) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = make(map[string]string)
	m.getErr, m.setErr, m.deleteErr, m.keysErr = nil, nil, nil, nil
	m.getCalls, m.setCalls, m.deleteCalls, m.keysCalls = 0, 0, 0, 0
}
