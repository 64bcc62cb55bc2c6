package simulator

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// 读取超时，超时后检查是否需要退出
const readTimeout = 200 * time.Millisecond

type Server struct {
	script   Script
	listener net.Listener
	log      *logrus.Logger
	limiter  chan struct{}
	wg       sync.WaitGroup
	shutdown chan struct{}
	once     sync.Once

	mu       sync.Mutex
	commands []string
}

func NewServer(script Script, maxConnections int, log *logrus.Logger) *Server {
	if maxConnections <= 0 {
		maxConnections = 1
	}
	return &Server{
		script:   script,
		log:      log,
		limiter:  make(chan struct{}, maxConnections),
		shutdown: make(chan struct{}),
	}
}

// Start 监听地址并在后台接受连接。addr 为 "127.0.0.1:0" 时使用随机端口。
func (s *Server) Start(addr string) error {
	lc := net.ListenConfig{}
	listener, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return fmt.Errorf("监听失败: %w", err)
	}

	s.listener = listener
	s.log.Infof("仿真仪器启动: %s", listener.Addr())

	go s.serve()
	return nil
}

// Addr 返回实际监听地址
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Link 返回可直接用于 transport.Dial 的连接串
func (s *Server) Link() string {
	return "tcp://" + s.Addr()
}

func (s *Server) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				s.log.Info("停止接受新连接")
				return
			default:
				s.log.Errorf("接受连接错误: %v", err)
				continue
			}
		}

		// 连接数限制
		select {
		case s.limiter <- struct{}{}:
			s.wg.Add(1)
			go s.handleConnection(conn)
		default:
			s.log.Warn("达到最大连接数，拒绝连接")
			conn.Close()
		}
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer func() {
		<-s.limiter
		s.wg.Done()
	}()

	newSession(s, conn).handle()
}

func (s *Server) record(cmd string) {
	s.mu.Lock()
	s.commands = append(s.commands, cmd)
	s.mu.Unlock()
}

// Commands 返回收到的全部指令
func (s *Server) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.commands))
	copy(out, s.commands)
	return out
}

// Close 停止监听并等待现有连接结束
func (s *Server) Close() error {
	var err error
	s.once.Do(func() {
		close(s.shutdown)
		if s.listener != nil {
			err = s.listener.Close()
		}

		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			s.log.Info("仿真仪器已关闭")
		case <-time.After(5 * time.Second):
			s.log.Warn("关闭超时")
		}
	})
	return err
}
