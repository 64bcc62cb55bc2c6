package collector

import "fmt"

// 会话阶段
const (
	StageConnect     = "连接仪器"
	StageIdentify    = "读取仪器标识"
	StageHeader      = "关闭指令头"
	StageCalibration = "读取标定参数"
	StageAcquire     = "等待采集完成"
)

// FatalError 导致本次采集中止的错误
type FatalError struct {
	Stage string
	Err   error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("%s失败: %v", e.Stage, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

func fatal(stage string, err error) error {
	return &FatalError{Stage: stage, Err: err}
}
