package mqtt

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/golang-io/requests"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Stat struct {
	Uptime            prometheus.Counter
	ActiveConnections prometheus.Gauge
	PacketReceived    prometheus.Counter
	ByteReceived      prometheus.Counter
	PacketSent        prometheus.Counter
	ByteSent          prometheus.Counter

	// SessionCount tracks how many client-identifier sessions the
	// SessionManager currently holds, online or offline.
	SessionCount prometheus.Gauge
	// OfflineQueueDepth is the total number of QoS 1 messages held
	// across every offline session, waiting for reconnection.
	OfflineQueueDepth prometheus.Gauge
	// DroppedOnOverflow counts messages discarded because a session's
	// offline queue or mailbox was full.
	DroppedOnOverflow prometheus.Counter
}

var (
	stat = Stat{
		Uptime:            prometheus.NewCounter(prometheus.CounterOpts{Name: "mqtt_uptime_seconds", Help: "The uptime in seconds"}),
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{Name: "mqtt_active_client_count", Help: "The active number of MQTT clients"}),
		PacketReceived:    prometheus.NewCounter(prometheus.CounterOpts{Name: "mqtt_received_packets", Help: "The total number of received MQTT packets"}),
		ByteReceived:      prometheus.NewCounter(prometheus.CounterOpts{Name: "mqtt_received_bytes", Help: "The total number of received MQTT bytes"}),
		PacketSent:        prometheus.NewCounter(prometheus.CounterOpts{Name: "mqtt_send_packets", Help: "The total number of send MQTT packets"}),
		ByteSent:          prometheus.NewCounter(prometheus.CounterOpts{Name: "mqtt_send_bytes", Help: "The total number of send MQTT bytes"}),

		SessionCount:      prometheus.NewGauge(prometheus.GaugeOpts{Name: "mqtt_session_count", Help: "The number of sessions held by the session manager"}),
		OfflineQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{Name: "mqtt_offline_queue_depth", Help: "The total number of QoS 1 messages queued across offline sessions"}),
		DroppedOnOverflow: prometheus.NewCounter(prometheus.CounterOpts{Name: "mqtt_dropped_on_overflow_total", Help: "The total number of messages dropped due to a full offline queue or mailbox"}),
	}
)

func ServerLog(ctx context.Context, stat *requests.Stat) {
	b, err := json.Marshal(stat.Request.Body)
	log.Printf("%s # body=%s, resp=%v, err=%v", stat.Print(), b, stat.Response.Body, err)
}

func Httpd() error {
	stat.Register()
	stat.RefreshUptime()
	mux := requests.NewServeMux(requests.URL(CONFIG.HTTP.URL), requests.Logf(ServerLog))
	mux.Route("/metrics", promhttp.Handler())
	mux.Pprof()
	s := requests.NewServer(context.Background(), mux, requests.OnStart(func(s *http.Server) {
		log.Printf("http serve: %s", s.Addr)
	}))
	return s.ListenAndServe()
}

func (s *Stat) RefreshUptime() {
	go func() {
		tick := time.NewTicker(time.Second)
		for range tick.C {
			s.Uptime.Inc()
		}
	}()
}

func (s *Stat) Register() {
	prometheus.MustRegister(stat.Uptime)
	prometheus.MustRegister(stat.ActiveConnections)
	prometheus.MustRegister(stat.PacketReceived)
	prometheus.MustRegister(stat.ByteReceived)
	prometheus.MustRegister(stat.PacketSent)
	prometheus.MustRegister(stat.ByteSent)
	prometheus.MustRegister(stat.SessionCount)
	prometheus.MustRegister(stat.OfflineQueueDepth)
	prometheus.MustRegister(stat.DroppedOnOverflow)
}
