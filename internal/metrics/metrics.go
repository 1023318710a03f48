package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "eventhub"

var (
	// Reservation counters
	Reservations *prometheus.CounterVec
	Releases     *prometheus.CounterVec

	// Settlement counters
	Settlements        *prometheus.CounterVec
	WebhookDeliveries  *prometheus.CounterVec
	BroadcastPublishes *prometheus.CounterVec

	// Background side effects
	SideEffectsDropped  *prometheus.CounterVec
	SideEffectsInFlight prometheus.Gauge

	// Gauges
	AvailableSeats *prometheus.GaugeVec

	// Histograms
	HoldToConfirm *prometheus.HistogramVec

	registry *prometheus.Registry
	initOnce sync.Once
	initErr  error
)

// Init registers all collectors on a dedicated registry
func Init() error {
	initOnce.Do(func() {
		registry = prometheus.NewRegistry()
		initErr = register(registry)
	})
	return initErr
}

func register(reg prometheus.Registerer) error {
	Reservations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reservations_total",
		Help:      "Seat reservation attempts by result",
	}, []string{"result"})

	Releases = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "seat_releases_total",
		Help:      "Seat releases by reason",
	}, []string{"reason"})

	Settlements = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "settlements_total",
		Help:      "Payment settlement attempts by path and result",
	}, []string{"path", "result"})

	WebhookDeliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "webhook_deliveries_total",
		Help:      "Provider webhook deliveries by provider and outcome",
	}, []string{"provider", "outcome"})

	BroadcastPublishes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "broadcast_publishes_total",
		Help:      "Availability broadcast publishes by result",
	}, []string{"result"})

	SideEffectsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "side_effects_dropped_total",
		Help:      "Background side effects dropped because every slot was busy",
	}, []string{"task"})

	SideEffectsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "side_effects_in_flight",
		Help:      "Background side effects currently running",
	})

	AvailableSeats = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "available_seats",
		Help:      "Last observed available seats per event",
	}, []string{"event_id"})

	HoldToConfirm = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "hold_to_confirm_seconds",
		Help:      "Time between reservation and confirmation",
		Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 900},
	}, []string{"path"})

	for _, c := range []prometheus.Collector{
		Reservations, Releases, Settlements, WebhookDeliveries,
		BroadcastPublishes, SideEffectsDropped, SideEffectsInFlight, AvailableSeats, HoldToConfirm,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Handler serves the registry in the Prometheus text format
func Handler() http.Handler {
	if registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// RecordReservation records a reserve attempt: ok, not_enough_seats or error
func RecordReservation(result string) {
	if Reservations != nil {
		Reservations.WithLabelValues(result).Inc()
	}
}

// RecordRelease records seats released back to the ledger
func RecordRelease(reason string) {
	if Releases != nil {
		Releases.WithLabelValues(reason).Inc()
	}
}

// RecordSettlement records a settlement attempt on one path (free, order, intent, webhook, mock)
func RecordSettlement(path, result string) {
	if Settlements != nil {
		Settlements.WithLabelValues(path, result).Inc()
	}
}

// RecordConfirmation records hold-to-confirm latency
func RecordConfirmation(path string, durationSeconds float64) {
	if HoldToConfirm != nil {
		HoldToConfirm.WithLabelValues(path).Observe(durationSeconds)
	}
}

// RecordWebhook records a webhook delivery outcome
func RecordWebhook(provider, outcome string) {
	if WebhookDeliveries != nil {
		WebhookDeliveries.WithLabelValues(provider, outcome).Inc()
	}
}

// RecordBroadcast records an availability publish result
func RecordBroadcast(result string) {
	if BroadcastPublishes != nil {
		BroadcastPublishes.WithLabelValues(result).Inc()
	}
}

// SetAvailableSeats records the latest available count for an event
func SetAvailableSeats(eventID string, available int) {
	if AvailableSeats != nil {
		AvailableSeats.WithLabelValues(eventID).Set(float64(available))
	}
}

// RecordSideEffectDropped counts a background task that found no free slot
func RecordSideEffectDropped(task string) {
	if SideEffectsDropped != nil {
		SideEffectsDropped.WithLabelValues(task).Inc()
	}
}

// AddSideEffectsInFlight moves the running side effect gauge by delta
func AddSideEffectsInFlight(delta float64) {
	if SideEffectsInFlight != nil {
		SideEffectsInFlight.Add(delta)
	}
}
