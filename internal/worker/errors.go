package worker

import "errors"

// ErrSkipTask 处理器用它表示任务是 no-op 或已被处理，
// 直接丢弃，不重试也不回推
var ErrSkipTask = errors.New("worker: skip task")

type permanentError struct {
	err error
}

func (e *permanentError) Error() string {
	return e.err.Error()
}

func (e *permanentError) Unwrap() error {
	return e.err
}

// Permanent 标记不可重试的结构性错误（未知模型、缺必填字段），
// 循环会把任务送入死信队列而不是无限回推
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent 判断错误是否被标记为结构性错误
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}
