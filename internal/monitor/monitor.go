package monitor

import (
	"context"

	"github.com/rs/zerolog"
)

// 障害イベント。kindは分類、Fieldsに生のシークレットは入れない
type Event struct {
	Kind    string
	OwnerID int64
	Err     error
	Fields  map[string]any
}

// システム障害の通知先。
// バリデーション系のエラーはここへ送らない
type Monitor interface {
	ReportSystemError(ctx context.Context, ev Event)
}

type zerologMonitor struct {
	log zerolog.Logger
}

func NewZerologMonitor(log zerolog.Logger) Monitor {
	return &zerologMonitor{log: log}
}

func (m *zerologMonitor) ReportSystemError(_ context.Context, ev Event) {
	e := m.log.Error().
		Str("kind", ev.Kind).
		Int64("owner_id", ev.OwnerID).
		Err(ev.Err)
	if len(ev.Fields) > 0 {
		e = e.Fields(ev.Fields)
	}
	e.Msg("system error")
}

type nopMonitor struct{}

// テスト用
func NewNopMonitor() Monitor { return nopMonitor{} }

func (nopMonitor) ReportSystemError(context.Context, Event) {}
