// Package worker реализует ограниченный пул фоновых задач.
//
// Все отложенные записи в кэш проходят через пул: отказ задачи логируется и
// наблюдаем, а тесты могут детерминированно дождаться завершения через Close,
// вместо гонки с отсоединённой горутиной.
package worker

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Task — единица фоновой работы. Ошибка логируется, повторов нет.
type Task struct {
	Name string
	Fn   func(ctx context.Context) error
}

// Pool — пул воркеров с ограниченной очередью. Переполненная очередь
// отбрасывает задачу: контракт fire-and-forget не допускает блокировки
// вызывающего из-за кэша.
type Pool struct {
	queue  chan Task
	logger *zap.Logger
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewPool создаёт пул с указанным числом воркеров и размером очереди.
func NewPool(workers, queueSize int, logger *zap.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}

	p := &Pool{
		queue:  make(chan Task, queueSize),
		logger: logger,
	}

	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}

	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for task := range p.queue {
		if err := task.Fn(context.Background()); err != nil {
			p.logger.Warn("background task failed",
				zap.String("task", task.Name),
				zap.Error(err),
			)
		}
	}
}

// Submit ставит задачу в очередь. Возвращает false, если очередь переполнена
// или пул закрыт; задача при этом отбрасывается с записью в лог.
func (p *Pool) Submit(name string, fn func(ctx context.Context) error) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		p.logger.Warn("task submitted to closed pool", zap.String("task", name))
		return false
	}

	select {
	case p.queue <- Task{Name: name, Fn: fn}:
		return true
	default:
		p.logger.Warn("task queue full, dropping task", zap.String("task", name))
		return false
	}
}

// Close останавливает приём задач и дожидается обработки очереди.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
}
