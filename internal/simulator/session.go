package simulator

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"scope-collector/pkg/protocol"
)

// session 单个连接上的仪器状态
type session struct {
	srv       *Server
	conn      net.Conn
	peer      string
	headerOff bool
	status    int
}

func newSession(srv *Server, conn net.Conn) *session {
	return &session{srv: srv, conn: conn, peer: conn.RemoteAddr().String()}
}

func (h *session) handle() {
	defer func() {
		h.conn.Close()
		h.srv.log.Debugf("连接关闭: %s", h.peer)
	}()
	h.srv.log.Debugf("新连接: %s", h.peer)

	r := bufio.NewReader(h.conn)
	var pending string

	for {
		select {
		case <-h.srv.shutdown:
			return
		default:
		}

		h.conn.SetReadDeadline(time.Now().Add(readTimeout))
		line, err := r.ReadString('\n')
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				pending += line
				continue
			}
			return
		}

		cmd := strings.TrimSpace(pending + line)
		pending = ""
		if cmd == "" {
			continue
		}

		h.srv.record(cmd)
		if err := h.dispatch(cmd); err != nil {
			h.srv.log.Debugf("发送应答失败 [%s]: %v", h.peer, err)
			return
		}
	}
}

// dispatch 执行一条指令，未识别的查询不应答
func (h *session) dispatch(cmd string) error {
	s := &h.srv.script
	lower := strings.ToLower(cmd)

	switch lower {
	case strings.ToLower(protocol.CmdIdentify):
		return h.reply(s.Identity)
	case protocol.CmdHeaderOff:
		h.headerOff = true
		return nil
	case protocol.CmdTimeDivision:
		return h.value("TDIV", s.TimePerDivision)
	case protocol.CmdSampleRate:
		return h.value("SARA", s.SampleRate)
	case strings.ToLower(protocol.CmdArm):
		h.status = 0
		return nil
	case strings.ToLower(protocol.CmdStatusRegister):
		return h.value("INR", h.nextStatus())
	}

	ch, rest, ok := splitChannel(lower)
	if !ok {
		h.srv.log.Debugf("未识别的指令 [%s]: %q", h.peer, cmd)
		return nil
	}

	switch rest {
	case "vdiv?":
		return h.value(fmt.Sprintf("C%d:VDIV", ch), s.Scales[ch-1])
	case "ofst?":
		return h.value(fmt.Sprintf("C%d:OFST", ch), s.Offsets[ch-1])
	case "wf? dat2":
		if s.ByteDelay > 0 {
			return h.trickle(s.Frames[ch-1], s.ByteDelay)
		}
		return h.write(s.Frames[ch-1])
	default:
		h.srv.log.Debugf("未识别的通道指令 [%s]: %q", h.peer, cmd)
		return nil
	}
}

func (h *session) nextStatus() string {
	st := h.srv.script.Status
	if len(st) == 0 {
		return ""
	}
	i := h.status
	if i >= len(st) {
		i = len(st) - 1
	} else {
		h.status++
	}
	return st[i]
}

// splitChannel 拆分 "c2:vdiv?" 为通道号 2 和 "vdiv?"
func splitChannel(cmd string) (int, string, bool) {
	if !strings.HasPrefix(cmd, "c") {
		return 0, "", false
	}
	num, rest, found := strings.Cut(cmd[1:], ":")
	if !found {
		return 0, "", false
	}
	ch, err := strconv.Atoi(num)
	if err != nil || ch < 1 || ch > protocol.ChannelCount {
		return 0, "", false
	}
	return ch, rest, true
}

// value 应答数值查询，未执行 chdr off 时带指令头，例如 "TDIV 5.00E-04S"
func (h *session) value(header, resp string) error {
	if resp == "" || h.headerOff {
		return h.reply(resp)
	}
	return h.reply(header + " " + resp)
}

func (h *session) reply(resp string) error {
	if resp == "" {
		return nil
	}
	return h.write([]byte(resp + "\n"))
}

// write 发送响应
func (h *session) write(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	h.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))

	n, err := h.conn.Write(data)
	if err != nil {
		return fmt.Errorf("发送响应失败: %w", err)
	}

	h.srv.log.Debugf("发送响应 [%s]: %d 字节", h.peer, n)
	return nil
}

// trickle 先发送帧头与长度，其余字节每隔 delay 发送一个
func (h *session) trickle(frame []byte, delay time.Duration) error {
	head := min(len(frame), 16)
	if err := h.write(frame[:head]); err != nil {
		return err
	}
	for i := head; i < len(frame); i++ {
		select {
		case <-h.srv.shutdown:
			return errors.New("仿真器已关闭")
		case <-time.After(delay):
		}
		if err := h.write(frame[i : i+1]); err != nil {
			return err
		}
	}
	return nil
}
