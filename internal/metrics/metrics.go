package metrics

import (
	"context"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

var (
	pushEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_push_events_total",
			Help: "Push events received over the persistent connection, by event name and outcome.",
		},
		[]string{"event", "outcome"},
	)
	reconcileTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_reconcile_total",
			Help: "Message store reconciliations by outcome.",
		},
		[]string{"outcome"},
	)
	reconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_transport_reconnects_total",
			Help: "Successful redials after the push connection dropped.",
		},
	)
	invokesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_transport_invokes_total",
			Help: "Request/response invocations over the push connection.",
		},
		[]string{"method", "result"},
	)
	sendFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_send_failures_total",
			Help: "Outgoing messages that ended in the failed state.",
		},
	)
	busDropsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_bus_dropped_events_total",
			Help: "Events dropped because a subscriber buffer was full.",
		},
		[]string{"kind"},
	)
	unreadGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatsync_unread_conversations",
			Help: "Current unread conversation count.",
		},
	)
	grpcServerHandledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grpc_server_handled_total",
			Help: "Total number of gRPC requests handled by the control API.",
		},
		[]string{"grpc_service", "grpc_method", "grpc_code"},
	)
)

func init() {
	prometheus.MustRegister(
		pushEventsTotal,
		reconcileTotal,
		reconnectsTotal,
		invokesTotal,
		sendFailuresTotal,
		busDropsTotal,
		unreadGauge,
		grpcServerHandledTotal,
	)
}

func IncPushEvent(event, outcome string) {
	pushEventsTotal.WithLabelValues(event, outcome).Inc()
}

func IncReconcile(outcome string) {
	reconcileTotal.WithLabelValues(outcome).Inc()
}

func IncReconnect() {
	reconnectsTotal.Inc()
}

func IncInvoke(method, result string) {
	invokesTotal.WithLabelValues(method, result).Inc()
}

func IncSendFailure() {
	sendFailuresTotal.Inc()
}

func IncBusDrop(kind string) {
	busDropsTotal.WithLabelValues(kind).Inc()
}

func SetUnread(n int) {
	unreadGauge.Set(float64(n))
}

// Handler serves the default registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

func GRPCServerMetricsUnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		resp, err := handler(ctx, req)
		service, method := splitFullMethod(info.FullMethod)
		grpcServerHandledTotal.WithLabelValues(service, method, status.Convert(err).Code().String()).Inc()
		return resp, err
	}
}

func GRPCServerMetricsStreamInterceptor() grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		err := handler(srv, ss)
		service, method := splitFullMethod(info.FullMethod)
		grpcServerHandledTotal.WithLabelValues(service, method, status.Convert(err).Code().String()).Inc()
		return err
	}
}

func splitFullMethod(fullMethod string) (string, string) {
	parts := strings.Split(fullMethod, "/")
	if len(parts) < 3 {
		return "unknown", "unknown"
	}
	return parts[1], parts[2]
}
