package calibration

import (
	"errors"
	"fmt"
	"io"
	"math"
	"testing"

	"github.com/sirupsen/logrus"
)

var errNoAnswer = errors.New("no answer")

// fakeScope 按指令返回预置应答，未预置的指令视为不应答
type fakeScope map[string]string

func (f fakeScope) Query(cmd string) (string, error) {
	resp, ok := f[cmd]
	if !ok {
		return "", errNoAnswer
	}
	return resp, nil
}

func newReader(q Querier) *Reader {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return NewReader(q, log)
}

func fullScope() fakeScope {
	s := fakeScope{
		"tdiv?": "5.00E-04",
		"sara?": "5.00E+05",
	}
	for ch := 1; ch <= 4; ch++ {
		s[fmt.Sprintf("c%d:vdiv?", ch)] = fmt.Sprintf("%g", float64(ch)*0.5)
		s[fmt.Sprintf("c%d:ofst?", ch)] = fmt.Sprintf("%g", float64(ch)*0.1)
	}
	return s
}

func TestParseNumber(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"5.00E-04", 5e-4, true},
		{"5.00E-04S", 5e-4, true},
		{"1.00E+09Sa/s", 1e9, true},
		{" -2.50E-01V\n", -0.25, true},
		{"8193", 8193, true},
		{"", 0, false},
		{"abc", 0, false},
		{"V", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			v, err := ParseNumber(tt.in)
			if !tt.ok {
				if !errors.Is(err, ErrNotNumeric) {
					t.Errorf("err = %v, want ErrNotNumeric", err)
				}
				return
			}
			if err != nil || math.Abs(v-tt.want) > 1e-15*math.Max(1, math.Abs(tt.want)) {
				t.Errorf("ParseNumber(%q) = %v, %v, want %v", tt.in, v, err, tt.want)
			}
		})
	}
}

func TestRead_AllAnswered(t *testing.T) {
	cal, fallbacks, err := newReader(fullScope()).Read()
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(fallbacks) != 0 {
		t.Errorf("fallbacks = %v, want none", fallbacks)
	}
	if cal.TimePerDivision != 5e-4 || cal.SampleRate != 5e5 {
		t.Errorf("timebase = %v, %v", cal.TimePerDivision, cal.SampleRate)
	}
	for ch := 1; ch <= 4; ch++ {
		c := cal.Channel(ch)
		if math.Abs(c.VerticalScale-float64(ch)*0.5) > 1e-12 || math.Abs(c.VerticalOffset-float64(ch)*0.1) > 1e-12 {
			t.Errorf("channel %d = %+v", ch, c)
		}
		if c.Fallback {
			t.Errorf("channel %d marked as fallback", ch)
		}
	}
}

func TestRead_ChannelFallback(t *testing.T) {
	scope := fullScope()
	delete(scope, "c2:vdiv?")
	scope["c2:ofst?"] = "garbage"

	cal, fallbacks, err := newReader(scope).Read()
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(fallbacks) != 2 {
		t.Fatalf("len(fallbacks) = %d, want 2", len(fallbacks))
	}

	c2 := cal.Channel(2)
	if c2.VerticalScale != 1.0 || c2.VerticalOffset != 0.0 || !c2.Fallback {
		t.Errorf("channel 2 = %+v, want defaults with fallback", c2)
	}
	if fallbacks[0].Channel != 2 || fallbacks[0].Param != ParamScale || !errors.Is(fallbacks[0], errNoAnswer) {
		t.Errorf("fallbacks[0] = %+v", fallbacks[0])
	}
	if fallbacks[1].Param != ParamOffset || !errors.Is(fallbacks[1], ErrNotNumeric) {
		t.Errorf("fallbacks[1] = %+v", fallbacks[1])
	}

	// 其他通道不受影响
	if c3 := cal.Channel(3); c3.Fallback || math.Abs(c3.VerticalScale-1.5) > 1e-12 {
		t.Errorf("channel 3 = %+v", c3)
	}
}

func TestRead_TimebaseFatal(t *testing.T) {
	tests := []struct {
		name   string
		modify func(fakeScope)
		err    error
	}{
		{"NoTdiv", func(s fakeScope) { delete(s, "tdiv?") }, ErrMissingTimebase},
		{"NoSara", func(s fakeScope) { delete(s, "sara?") }, ErrMissingTimebase},
		{"BadSara", func(s fakeScope) { s["sara?"] = "n/a" }, ErrNotNumeric},
		{"ZeroSara", func(s fakeScope) { s["sara?"] = "0" }, ErrInvalidRate},
		{"NegativeSara", func(s fakeScope) { s["sara?"] = "-1E+06" }, ErrInvalidRate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scope := fullScope()
			tt.modify(scope)
			cal, _, err := newReader(scope).Read()
			if !errors.Is(err, tt.err) {
				t.Errorf("err = %v, want %v", err, tt.err)
			}
			if cal != nil {
				t.Error("calibration should be nil on fatal error")
			}
		})
	}
}
