// Package acquisition 布防仪器并轮询状态寄存器直到采集完成。
package acquisition

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"scope-collector/internal/monitor"
	"scope-collector/pkg/protocol"
)

// ErrPollExhausted 重试次数用尽仍未完成
var ErrPollExhausted = errors.New("acquisition: status register never reported complete")

type State int

const (
	Idle State = iota
	Armed
	Polling
	Complete
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Armed:
		return "armed"
	case Polling:
		return "polling"
	case Complete:
		return "complete"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Instrument 控制器需要的通道操作
type Instrument interface {
	Send(cmd string) error
	Query(cmd string) (string, error)
}

// Options 轮询参数
type Options struct {
	PollInterval time.Duration
	Backoff      time.Duration
	MaxRetries   int
}

// Result 一次布防-轮询的结果
type Result struct {
	State   State
	Retries int
	Elapsed time.Duration
}

type Controller struct {
	inst  Instrument
	opts  Options
	log   *logrus.Logger
	state State

	retries int

	// 可替换的等待函数，测试中不真正休眠
	wait func(ctx context.Context, d time.Duration) error
}

func NewController(inst Instrument, opts Options, log *logrus.Logger) *Controller {
	return &Controller{
		inst:  inst,
		opts:  opts,
		log:   log,
		state: Idle,
		wait:  sleepContext,
	}
}

// State 返回当前状态
func (c *Controller) State() State { return c.state }

func (c *Controller) transition(to State) {
	c.log.Debugf("采集状态 %s -> %s", c.state, to)
	c.state = to
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// IsComplete 判断状态寄存器应答是否表示采集完成。非整数应答视为仍在进行。
func IsComplete(resp string) bool {
	v, err := strconv.Atoi(resp)
	return err == nil && v == protocol.StatusComplete
}

// Acquire 布防仪器并轮询直到完成。
// 重试超过 MaxRetries 返回 ErrPollExhausted；ctx 取消时立即返回 ctx 的错误。
func (c *Controller) Acquire(ctx context.Context) (Result, error) {
	start := time.Now()
	result := func(err error) (Result, error) {
		return Result{State: c.state, Retries: c.retries, Elapsed: time.Since(start)}, err
	}

	if err := c.inst.Send(protocol.CmdArm); err != nil {
		c.transition(Failed)
		return result(fmt.Errorf("布防失败: %w", err))
	}
	c.transition(Armed)
	c.transition(Polling)
	c.retries = 0

	for {
		monitor.PollAttempts.Inc()
		resp, qerr := c.inst.Query(protocol.CmdStatusRegister)
		if qerr != nil {
			c.log.Debugf("状态寄存器无应答: %v", qerr)
		}

		if err := c.wait(ctx, c.opts.PollInterval); err != nil {
			return result(err)
		}

		if qerr == nil && IsComplete(resp) {
			c.transition(Complete)
			c.log.Infof("采集完成, 重试 %d 次", c.retries)
			return result(nil)
		}

		if err := c.wait(ctx, c.opts.Backoff); err != nil {
			return result(err)
		}
		c.retries++
		c.log.Debugf("INR = %q, 重试 %d/%d", resp, c.retries, c.opts.MaxRetries)

		if c.retries > c.opts.MaxRetries {
			c.transition(Failed)
			return result(fmt.Errorf("%w (重试 %d 次)", ErrPollExhausted, c.retries))
		}
	}
}
