package cache

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Availability сообщает текущую доступность бэкенда кэша.
// Читатели никогда не зондируют бэкенд сами: флаг обновляет только монитор.
type Availability interface {
	Available() bool
}

// Prober выполняет проверку бэкенда кэша.
type Prober interface {
	Probe(ctx context.Context) error
}

// Monitor периодически зондирует бэкенд кэша и поддерживает флаг доступности.
// Единственный писатель флага; переходы состояния логируются вместе с ошибкой.
type Monitor struct {
	prober    Prober
	interval  time.Duration
	logger    *zap.Logger
	available atomic.Bool
}

// NewMonitor создаёт монитор доступности с указанным интервалом зондирования.
func NewMonitor(prober Prober, interval time.Duration, logger *zap.Logger) *Monitor {
	return &Monitor{
		prober:   prober,
		interval: interval,
		logger:   logger,
	}
}

// Available возвращает последний известный статус доступности кэша.
func (m *Monitor) Available() bool {
	return m.available.Load()
}

// Run запускает цикл зондирования до отмены контекста. Первая проверка
// выполняется сразу, чтобы не стартовать с флагом по умолчанию.
func (m *Monitor) Run(ctx context.Context) {
	m.probeOnce(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.probeOnce(ctx)
		}
	}
}

func (m *Monitor) probeOnce(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, m.interval)
	defer cancel()

	err := m.prober.Probe(probeCtx)
	now := err == nil
	was := m.available.Swap(now)

	if was == now {
		return
	}

	if now {
		m.logger.Info("cache backend recovered")
	} else {
		m.logger.Warn("cache backend unavailable", zap.Error(err))
	}
}
