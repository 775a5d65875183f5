package worker

import (
	"context"
	"sync"
)

// Supervisor 管理一组常驻 goroutine（消费循环、清扫者、心跳），
// Stop 统一取消并等待全部退出
type Supervisor struct {
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

func NewSupervisor(parent context.Context) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	return &Supervisor{ctx: ctx, cancel: cancel}
}

func (s *Supervisor) Go(fn func(ctx context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn(s.ctx)
	}()
}

func (s *Supervisor) Stop() {
	s.cancel()
	s.wg.Wait()
}
