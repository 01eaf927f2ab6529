package usecase

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"storefront/internal/monitor"
	repo "storefront/internal/repository"
)

// 注文番号: ORD-YYYYMMDD-NNNNN（UTC日付、日付内で連番）
const orderNumberDateFormat = "20060102"

// OrderNumberGenerator は「当日の最大値+1」方式。
// 同時確定で同じ番号を計算しうるが、衝突はorder_numberの
// ユニーク制約で検出して呼び出し側がリトライする
type OrderNumberGenerator struct {
	orders repo.OrderRepository
	mon    monitor.Monitor
	now    func() time.Time
}

func NewOrderNumberGenerator(orders repo.OrderRepository, mon monitor.Monitor) *OrderNumberGenerator {
	return &OrderNumberGenerator{
		orders: orders,
		mon:    mon,
		now:    time.Now,
	}
}

// Next は次の注文番号を返す。
// 検索やパースに失敗してもチェックアウトは止めず、
// タイムスタンプ由来のフォールバック番号を返す
func (g *OrderNumberGenerator) Next(ctx context.Context) string {
	date := g.now().UTC().Format(orderNumberDateFormat)
	prefix := fmt.Sprintf("ORD-%s-", date)

	latest, err := g.orders.FindLatestOrderNumber(ctx, prefix)
	if isNotFound(err) {
		return prefix + "00001"
	}
	if err != nil {
		g.mon.ReportSystemError(ctx, monitor.Event{
			Kind: "order_number_lookup_failed",
			Err:  err,
		})
		return g.fallback(prefix)
	}

	seq, err := strconv.Atoi(strings.TrimPrefix(latest, prefix))
	if err != nil {
		g.mon.ReportSystemError(ctx, monitor.Event{
			Kind:   "order_number_parse_failed",
			Err:    err,
			Fields: map[string]any{"order_number": latest},
		})
		return g.fallback(prefix)
	}

	return fmt.Sprintf("%s%05d", prefix, seq+1)
}

// 確実にユニークだが連番ではない番号
func (g *OrderNumberGenerator) fallback(prefix string) string {
	return fmt.Sprintf("%s%d", prefix, g.now().UnixNano())
}
