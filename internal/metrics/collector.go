// Package metrics exposes the book's counters to Prometheus. The collector
// is a read-only observer: it samples Counters() and the resting summary at
// scrape time and never mutates book state, so scraping cannot perturb
// hashes or determinism.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/quantarc/matchbook/internal/book"
	"github.com/quantarc/matchbook/internal/domain"
)

// BookCollector implements prometheus.Collector over one book instance.
// Scrapes must happen at a quiescent point (between commands); in the
// single-writer model that is the caller's natural state.
type BookCollector struct {
	b *book.Book

	events        *prometheus.Desc
	ops           *prometheus.Desc
	tradeLots     *prometheus.Desc
	tradeNotional *prometheus.Desc
	restingOrders *prometheus.Desc
	restingLots   *prometheus.Desc
	bestBid       *prometheus.Desc
	bestAsk       *prometheus.Desc
}

// NewBookCollector builds a collector for b.
func NewBookCollector(b *book.Book) *BookCollector {
	return &BookCollector{
		b: b,
		events: prometheus.NewDesc("matchbook_events_total",
			"Events emitted, by kind.", []string{"kind"}, nil),
		ops: prometheus.NewDesc("matchbook_commands_total",
			"Commands applied through the router.", nil, nil),
		tradeLots: prometheus.NewDesc("matchbook_trade_lots_total",
			"Total lots traded.", nil, nil),
		tradeNotional: prometheus.NewDesc("matchbook_trade_notional_ticks_total",
			"Sum of price_ticks*qty over all trades.", nil, nil),
		restingOrders: prometheus.NewDesc("matchbook_resting_orders",
			"Active orders on the book.", nil, nil),
		restingLots: prometheus.NewDesc("matchbook_resting_lots",
			"Remaining lots across active orders.", nil, nil),
		bestBid: prometheus.NewDesc("matchbook_best_bid_ticks",
			"Best bid in ticks, -1 when empty.", nil, nil),
		bestAsk: prometheus.NewDesc("matchbook_best_ask_ticks",
			"Best ask in ticks, -1 when empty.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *BookCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.events
	ch <- c.ops
	ch <- c.tradeLots
	ch <- c.tradeNotional
	ch <- c.restingOrders
	ch <- c.restingLots
	ch <- c.bestBid
	ch <- c.bestAsk
}

// Collect implements prometheus.Collector.
func (c *BookCollector) Collect(ch chan<- prometheus.Metric) {
	cnt := c.b.Counters()

	kinds := []struct {
		kind domain.EventKind
		n    uint64
	}{
		{domain.EvAck, cnt.Acks},
		{domain.EvReject, cnt.Rejects},
		{domain.EvTrade, cnt.Trades},
		{domain.EvReduced, cnt.Reduced},
		{domain.EvCanceled, cnt.Canceled},
		{domain.EvFilled, cnt.Filled},
	}
	for _, k := range kinds {
		ch <- prometheus.MustNewConstMetric(c.events, prometheus.CounterValue,
			float64(k.n), k.kind.String())
	}

	ch <- prometheus.MustNewConstMetric(c.ops, prometheus.CounterValue, float64(c.b.Ops()))
	ch <- prometheus.MustNewConstMetric(c.tradeLots, prometheus.CounterValue, float64(cnt.TradeQty))
	ch <- prometheus.MustNewConstMetric(c.tradeNotional, prometheus.CounterValue, float64(cnt.TradeNotional))

	orders, lots := c.b.RestingSummary()
	ch <- prometheus.MustNewConstMetric(c.restingOrders, prometheus.GaugeValue, float64(orders))
	ch <- prometheus.MustNewConstMetric(c.restingLots, prometheus.GaugeValue, float64(lots))
	ch <- prometheus.MustNewConstMetric(c.bestBid, prometheus.GaugeValue, float64(c.b.BestBidPrice()))
	ch <- prometheus.MustNewConstMetric(c.bestAsk, prometheus.GaugeValue, float64(c.b.BestAskPrice()))
}
