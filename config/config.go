package config

import (
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config 配置管理器。
//
// 当前值以不可变快照的形式发布：Get 返回值拷贝，Set/Update 原子替换整个快照，
// 已经拿到快照的调用方不会看到之后的修改。T 应当是值类型（不含 map/slice 等共享引用）。
type Config[T any] struct {
	v        *viper.Viper
	value    atomic.Pointer[T]
	validate func(T) error

	// mu 串行化写入和回调注册，读路径（Get）不加锁
	mu       sync.Mutex
	watchers []func(old, new T)
}

// Option 配置选项
type Option[T any] func(*Config[T])

// WithDefaults 设置默认值
func WithDefaults[T any](defaults map[string]any) Option[T] {
	return func(c *Config[T]) {
		if c.v == nil {
			return
		}
		for k, v := range defaults {
			c.v.SetDefault(k, v)
		}
	}
}

// WithEnv 绑定环境变量
func WithEnv[T any](prefix string) Option[T] {
	return func(c *Config[T]) {
		if c.v == nil {
			return
		}
		c.v.SetEnvPrefix(prefix)
		c.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		c.v.AutomaticEnv()
	}
}

// WithValidate 设置校验函数。加载失败时返回错误，热更新时丢弃不合法的新配置
func WithValidate[T any](fn func(T) error) Option[T] {
	return func(c *Config[T]) { c.validate = fn }
}

// New 使用内存中的初始值创建配置，不关联任何文件
func New[T any](initial T) *Config[T] {
	c := &Config[T]{}
	c.value.Store(&initial)
	return c
}

// Load 加载配置文件并自动监控变更
func Load[T any](path string, opts ...Option[T]) (*Config[T], error) {
	c, err := load(path, opts...)
	if err != nil {
		return nil, err
	}
	c.watch()
	return c, nil
}

// LoadOnce 加载配置文件但不监控变更
func LoadOnce[T any](path string, opts ...Option[T]) (*Config[T], error) {
	return load(path, opts...)
}

func load[T any](path string, opts ...Option[T]) (*Config[T], error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	}

	c := &Config[T]{v: v}
	for _, opt := range opts {
		opt(c)
	}

	if path != "" {
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	var val T
	if err := v.Unmarshal(&val); err != nil {
		return nil, err
	}
	if c.validate != nil {
		if err := c.validate(val); err != nil {
			return nil, err
		}
	}
	c.value.Store(&val)
	return c, nil
}

// Get 获取当前配置快照（并发安全，无锁）
func (c *Config[T]) Get() T {
	return *c.value.Load()
}

// Set 替换当前配置，新值对之后的 Get 立即可见
func (c *Config[T]) Set(val T) {
	c.mu.Lock()
	old := *c.value.Load()
	c.value.Store(&val)
	watchers := c.snapshotWatchers()
	c.mu.Unlock()

	c.notify(watchers, old, val)
}

// Update 基于当前快照修改配置；fn 拿到的是拷贝
// fn 若 panic，锁会被释放，配置保持不变
func (c *Config[T]) Update(fn func(*T)) T {
	old, val, watchers := c.apply(fn)
	c.notify(watchers, old, val)
	return val
}

func (c *Config[T]) apply(fn func(*T)) (old, val T, watchers []func(old, new T)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	old = *c.value.Load()
	val = old
	fn(&val)
	c.value.Store(&val)
	return old, val, c.snapshotWatchers()
}

// OnChange 注册配置变更回调
func (c *Config[T]) OnChange(callback func(old, new T)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watchers = append(c.watchers, callback)
}

// Changed 比较两个值是否不同
func Changed[T any](old, new T) bool {
	return !reflect.DeepEqual(old, new)
}

func (c *Config[T]) snapshotWatchers() []func(old, new T) {
	watchers := make([]func(old, new T), len(c.watchers))
	copy(watchers, c.watchers)
	return watchers
}

func (c *Config[T]) notify(watchers []func(old, new T), old, val T) {
	if reflect.DeepEqual(old, val) {
		return
	}
	for _, cb := range watchers {
		func() {
			defer func() { _ = recover() }()
			cb(old, val)
		}()
	}
}

func (c *Config[T]) watch() {
	var (
		debounceTimer *time.Timer
		debounceMu    sync.Mutex
	)

	c.v.OnConfigChange(func(_ fsnotify.Event) {
		debounceMu.Lock()
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
		debounceTimer = time.AfterFunc(100*time.Millisecond, func() {
			c.handleConfigChange()
		})
		debounceMu.Unlock()
	})

	c.v.WatchConfig()
}

func (c *Config[T]) handleConfigChange() {
	c.mu.Lock()
	old := *c.value.Load()
	val, ok := c.reloadConfig()
	if !ok {
		c.mu.Unlock()
		return
	}
	c.value.Store(&val)
	watchers := c.snapshotWatchers()
	c.mu.Unlock()

	c.notify(watchers, old, val)
}

// reloadConfig 重新读取文件，返回新配置和是否成功
func (c *Config[T]) reloadConfig() (T, bool) {
	var zero T
	if err := c.v.ReadInConfig(); err != nil {
		return zero, false
	}

	var val T
	if err := c.v.Unmarshal(&val); err != nil {
		return zero, false
	}
	if c.validate != nil && c.validate(val) != nil {
		return zero, false
	}
	return val, true
}
