// Package store 定义持久化存储接口。关系和记忆的权威数据都在这个接口之后，
// 引擎在进程内缓存的内容仅作参考
package store

import (
	"context"
	"errors"
	"time"

	"github.com/zhouzirui/z-companion/backend/internal/model/memory"
	"github.com/zhouzirui/z-companion/backend/internal/model/relationship"
)

var (
	ErrUserRequired   = errors.New("user id is required")
	ErrMemoryRequired = errors.New("memory content is required")
)

// Store 引擎使用的持久化存储
type Store interface {
	// GetProfile 返回用户画像，未知用户会创建一个初次接触的画像
	GetProfile(ctx context.Context, userID string) (relationship.Profile, error)
	// UpdateTrust 把 delta 加到信任度上并限制在 [0,100]，计一次互动，返回新的信任度
	UpdateTrust(ctx context.Context, userID string, delta float64) (float64, error)
	// WriteMemory 追加一条记忆
	WriteMemory(ctx context.Context, record memory.Memory) error
	// FindMemories 按时间倒序列出记忆
	FindMemories(ctx context.Context, filter memory.Filter) ([]memory.Memory, error)
	// RecordConversion 记录一次向用户弹出的转化提示
	RecordConversion(ctx context.Context, userID string, at time.Time) error
	// LastConversion 返回用户最近一次转化提示的时间，没有记录时 ok 为 false。
	LastConversion(ctx context.Context, userID string) (at time.Time, ok bool, err error)
}
