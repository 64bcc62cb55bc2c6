// Package transport 实现与示波器之间的文本指令通道，支持 TCP 与串口两种链路。
package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tarm/serial"
	"scope-collector/internal/monitor"
	"scope-collector/pkg/protocol"
)

var (
	// ErrNoAnswer 查询没有得到应答（超时、链路错误或空应答）
	ErrNoAnswer = errors.New("transport: no answer")
	ErrClosed   = errors.New("transport: channel closed")
	// ErrTransferTimeout 整段读取超出按长度计算的总时限
	ErrTransferTimeout = errors.New("transport: transfer deadline exceeded")
)

const (
	// MinTransferRate 计算 ReadExact 总时限时假定的最低传输速率 (字节/秒)
	MinTransferRate = 64 << 10
	// 未设置 Timeout 时 Drain 的静默判定时间
	defaultDrainIdle = 500 * time.Millisecond
)

// 链路类型
const (
	LinkTCP    = "tcp"
	LinkSerial = "serial"
)

// Options 通道参数
type Options struct {
	Timeout     time.Duration
	SettleDelay time.Duration
	KeepAlive   time.Duration
	BaudRate    int
	Log         *logrus.Logger
}

type deadliner interface {
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// Channel 指令通道，由一次采集独占。除 Close 外不支持并发调用。
type Channel struct {
	conn      io.ReadWriteCloser
	r         *bufio.Reader
	opts      Options
	log       *logrus.Logger
	sleep     func(time.Duration)
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// NewChannel 在已建立的连接上创建通道
func NewChannel(conn io.ReadWriteCloser, opts Options) *Channel {
	log := opts.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Channel{
		conn:  conn,
		r:     bufio.NewReader(conn),
		opts:  opts,
		log:   log,
		sleep: time.Sleep,
	}
}

// ParseLink 解析连接串，返回链路类型与地址。
// tcp://host[:port]、socket://host[:port]、host[:port] 为 TCP；
// serial:///dev/ttyUSB0、file:///dev/ttyUSB0 或以 / 开头的路径为串口。
func ParseLink(link string) (kind, address string, err error) {
	if link == "" {
		return "", "", fmt.Errorf("连接串为空")
	}

	if !strings.Contains(link, "://") {
		if strings.HasPrefix(link, "/") {
			return LinkSerial, link, nil
		}
		return LinkTCP, withDefaultPort(link), nil
	}

	u, err := url.Parse(link)
	if err != nil {
		return "", "", fmt.Errorf("解析连接串失败: %w", err)
	}

	switch u.Scheme {
	case "tcp", "socket":
		if u.Host == "" {
			return "", "", fmt.Errorf("连接串缺少主机: %q", link)
		}
		return LinkTCP, withDefaultPort(u.Host), nil
	case "serial", "file":
		if u.Path == "" {
			return "", "", fmt.Errorf("连接串缺少串口设备: %q", link)
		}
		return LinkSerial, u.Path, nil
	default:
		return "", "", fmt.Errorf("无法识别的连接串 %q", link)
	}
}

func withDefaultPort(address string) string {
	if _, _, err := net.SplitHostPort(address); err == nil {
		return address
	}
	return net.JoinHostPort(address, strconv.Itoa(protocol.DefaultPort))
}

// Dial 按连接串建立通道
func Dial(ctx context.Context, link string, opts Options) (*Channel, error) {
	kind, address, err := ParseLink(link)
	if err != nil {
		return nil, err
	}

	var conn io.ReadWriteCloser
	switch kind {
	case LinkTCP:
		d := net.Dialer{Timeout: opts.Timeout, KeepAlive: opts.KeepAlive}
		conn, err = d.DialContext(ctx, "tcp", address)
		if err != nil {
			return nil, fmt.Errorf("连接仪器 %s 失败: %w", address, err)
		}
	case LinkSerial:
		conn, err = serial.OpenPort(&serial.Config{
			Name:        address,
			Baud:        opts.BaudRate,
			Size:        8,
			Parity:      serial.ParityNone,
			StopBits:    serial.Stop1,
			ReadTimeout: opts.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("打开串口 %s 失败: %w", address, err)
		}
	}

	c := NewChannel(conn, opts)
	c.log.Debugf("已连接仪器: %s (%s)", address, kind)
	return c, nil
}

func (c *Channel) setReadDeadline() {
	if c.opts.Timeout > 0 {
		c.readDeadline(time.Now().Add(c.opts.Timeout))
	}
}

func (c *Channel) readDeadline(t time.Time) {
	if d, ok := c.conn.(deadliner); ok {
		d.SetReadDeadline(t)
	}
}

// transferBudget 读取 n 字节允许的总时间
func (c *Channel) transferBudget(n int) time.Duration {
	return c.opts.Timeout + time.Duration(n)*time.Second/MinTransferRate
}

func (c *Channel) setWriteDeadline() {
	if d, ok := c.conn.(deadliner); ok && c.opts.Timeout > 0 {
		d.SetWriteDeadline(time.Now().Add(c.opts.Timeout))
	}
}

func (c *Channel) write(cmd string) error {
	if c.closed.Load() {
		return ErrClosed
	}
	c.setWriteDeadline()
	_, err := io.WriteString(c.conn, cmd+"\n")
	c.log.Debugf("发送指令 %q, err=%v", cmd, err)
	return err
}

// Send 发送指令并等待固定的稳定时间，仪器不会确认指令
func (c *Channel) Send(cmd string) error {
	if err := c.write(cmd); err != nil {
		return fmt.Errorf("发送指令 %q 失败: %w", cmd, err)
	}
	if c.opts.SettleDelay > 0 {
		c.sleep(c.opts.SettleDelay)
	}
	return nil
}

// Query 发送查询并读取一行应答。失败或空应答返回包装了 ErrNoAnswer 的错误。
func (c *Channel) Query(cmd string) (string, error) {
	if err := c.write(cmd); err != nil {
		return "", fmt.Errorf("查询 %q: %w (%v)", cmd, ErrNoAnswer, err)
	}

	c.setReadDeadline()
	line, err := c.r.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("查询 %q: %w (%v)", cmd, ErrNoAnswer, err)
	}

	resp := strings.TrimSpace(line)
	c.log.Debugf("查询 %q 应答 %q", cmd, resp)
	if resp == "" {
		return "", fmt.Errorf("查询 %q: %w (空应答)", cmd, ErrNoAnswer)
	}
	return resp, nil
}

// ReadExact 读取恰好 n 个字节。每次读取的超时为 Timeout，
// 整段读取另有按 n 与 MinTransferRate 计算的总时限。
func (c *Channel) ReadExact(n int) ([]byte, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	if n < 0 {
		return nil, fmt.Errorf("读取长度不能为负: %d", n)
	}

	buf := make([]byte, n)
	read := 0
	var overall time.Time
	if c.opts.Timeout > 0 {
		overall = time.Now().Add(c.transferBudget(n))
	}
	for read < n {
		if !overall.IsZero() {
			now := time.Now()
			if now.After(overall) {
				monitor.BytesReceived.Add(float64(read))
				return buf[:read], fmt.Errorf("读取 %d 字节失败(已读 %d): %w", n, read, ErrTransferTimeout)
			}
			deadline := now.Add(c.opts.Timeout)
			if deadline.After(overall) {
				deadline = overall
			}
			c.readDeadline(deadline)
		}
		m, err := c.r.Read(buf[read:])
		read += m
		if err != nil && read < n {
			monitor.BytesReceived.Add(float64(read))
			if !overall.IsZero() && !time.Now().Before(overall) {
				err = ErrTransferTimeout
			}
			return buf[:read], fmt.Errorf("读取 %d 字节失败(已读 %d): %w", n, read, err)
		}
	}

	monitor.BytesReceived.Add(float64(n))
	c.log.Debugf("读取 %d 字节", n)
	return buf, nil
}

// Drain 丢弃链路上残留的输入：先清空缓冲区，再持续读取直到 Timeout 内没有新数据。
// 返回丢弃的字节数；超时不算错误。
func (c *Channel) Drain() (int, error) {
	if c.closed.Load() {
		return 0, ErrClosed
	}

	dropped, _ := c.r.Discard(c.r.Buffered())

	idle := c.opts.Timeout
	if idle <= 0 {
		idle = defaultDrainIdle
	}
	scratch := make([]byte, 4096)
	for {
		c.readDeadline(time.Now().Add(idle))
		m, err := c.r.Read(scratch)
		dropped += m
		if err != nil {
			c.log.Debugf("丢弃残留数据 %d 字节", dropped)
			if errors.Is(err, os.ErrDeadlineExceeded) {
				return dropped, nil
			}
			return dropped, err
		}
		// 串口超时返回 0 字节
		if m == 0 {
			c.log.Debugf("丢弃残留数据 %d 字节", dropped)
			return dropped, nil
		}
	}
}

// Close 关闭底层连接，可重复并发调用。阻塞中的读写随之返回错误。
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}
