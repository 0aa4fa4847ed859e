// Package config 包含 pcaphub 的配置管理相关功能。
// 该包定义了应用程序的配置结构和命令行参数解析器。
package config

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/vearne/pcaphub/capture"
	"github.com/vearne/pcaphub/size"
	"github.com/vearne/pcaphub/util"
)

const (
	DefaultSnapLen       = 65535
	DefaultReadTimeout   = 10 * time.Millisecond
	DefaultStopTimeout   = 2 * time.Second
	DefaultStatsInterval = time.Second
)

// ErrTooFewInterfaces is returned when less than two interfaces are given,
// a hub with a single port has nothing to repeat to.
var ErrTooFewInterfaces = errors.New("Must specify at least two interfaces.")

// MultiStringOption 实现了可以接受多个值的字符串命令行参数。
// 它允许同一个参数名被多次指定，所有值都会被收集到一个切片中。
// 例如：-i eth0 -i eth1
type MultiStringOption struct {
	Params *[]string // 指向存储所有参数值的切片的指针
}

func (h *MultiStringOption) String() string {
	if h.Params == nil {
		return ""
	}
	return fmt.Sprint(*h.Params)
}

// Set gets called multiple times for each flag with same name
func (h *MultiStringOption) Set(value string) error {
	if h.Params == nil {
		return nil
	}

	*h.Params = append(*h.Params, value)
	return nil
}

// Type is here so that MultiStringOption can be used as a pflag.Value
func (h *MultiStringOption) Type() string {
	return "stringArray"
}

// AppSettings 是主配置结构体，包含了 pcaphub 的所有配置选项。
// 该结构体的字段对应于命令行参数。
type AppSettings struct {
	ExitAfter time.Duration `json:"exit-after"`

	// interfaces joined into one broadcast domain, in the order they were given
	Interfaces []string `json:"interfaces"`

	// ######################## capture #######################
	SnapLen     int                `json:"snaplen"`
	Promiscuous bool               `json:"promisc"`
	ReadTimeout time.Duration      `json:"read-timeout"`
	BufferSize  size.Size          `json:"buffer-size"`
	Engine      capture.EngineType `json:"engine"`
	BPFFilter   string             `json:"bpf-filter"`

	// ######################## runtime #######################
	// bounded wait for the capture workers on shutdown
	StopTimeout time.Duration `json:"stop-timeout"`
	// how often capture statistics are collected, 0 disables it
	StatsInterval time.Duration `json:"stats-interval"`
	// listen address for the expvar endpoint, empty disables it
	HTTPStats string `json:"http-stats"`
}

// NewAppSettings returns settings filled with defaults.
func NewAppSettings() *AppSettings {
	return &AppSettings{
		SnapLen:       DefaultSnapLen,
		Promiscuous:   true,
		ReadTimeout:   DefaultReadTimeout,
		Engine:        capture.EnginePcap,
		StopTimeout:   DefaultStopTimeout,
		StatsInterval: DefaultStatsInterval,
	}
}

// PcapOptions converts the capture related settings.
func (s *AppSettings) PcapOptions() capture.PcapOptions {
	return capture.PcapOptions{
		SnapLen:     s.SnapLen,
		Promiscuous: s.Promiscuous,
		Timeout:     s.ReadTimeout,
		BufferSize:  int64(s.BufferSize),
		Engine:      s.Engine,
		BPFFilter:   s.BPFFilter,
	}
}

// Validate checks the settings before any interface is opened.
func (s *AppSettings) Validate() error {
	if len(s.Interfaces) < 2 {
		return ErrTooFewInterfaces
	}

	seen := util.NewStringSet()
	for _, name := range s.Interfaces {
		if name == "" {
			return errors.New("empty interface name")
		}
		if seen.Has(name) {
			return errors.Errorf("interface %s specified more than once", name)
		}
		seen.Add(name)
	}

	if s.ReadTimeout <= 0 {
		return errors.Errorf("read timeout must be positive, got:%v", s.ReadTimeout)
	}
	if s.SnapLen <= 0 {
		return errors.Errorf("snaplen must be positive, got:%v", s.SnapLen)
	}
	if s.BufferSize < 0 {
		return errors.Errorf("buffer size must not be negative, got:%v", s.BufferSize)
	}
	return nil
}
