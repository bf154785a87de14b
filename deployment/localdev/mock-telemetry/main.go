package main

import (
	"encoding/json"
	"log"
	"net/http"
	"time"
)

type event struct {
	ID            string            `json:"id"`
	Source        string            `json:"source"`
	Title         string            `json:"title"`
	Description   string            `json:"description"`
	ResourceID    string            `json:"resource_id"`
	ResourceType  string            `json:"resource_type"`
	Namespace     string            `json:"namespace"`
	Region        string            `json:"region"`
	Timestamp     time.Time         `json:"timestamp"`
	MetricName    string            `json:"metric_name,omitempty"`
	MetricValue   float64           `json:"metric_value,omitempty"`
	Threshold     float64           `json:"threshold,omitempty"`
	State         string            `json:"state,omitempty"`
	PreviousState string            `json:"previous_state,omitempty"`
	Dimensions    map[string]string `json:"dimensions,omitempty"`
}

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/api/v1/events/alarms", func(w http.ResponseWriter, r *http.Request) {
		if !enforceGet(w, r) {
			return
		}
		writeJSON(w, map[string]any{
			"events": []event{
				{
					ID:            "alarm-cpu-web-1",
					Source:        "cloudwatch",
					Title:         "HighCPUUtilization",
					Description:   "CPU utilization above 90% for 5 minutes, service degraded",
					ResourceID:    "i-0abc123",
					ResourceType:  "compute",
					Namespace:     "web",
					Region:        "us-east-1",
					Timestamp:     time.Now().Add(-3 * time.Minute),
					MetricName:    "CPUUtilization",
					MetricValue:   94.2,
					Threshold:     90,
					State:         "ALARM",
					PreviousState: "OK",
				},
			},
		})
	})

	mux.HandleFunc("/api/v1/events/metrics", func(w http.ResponseWriter, r *http.Request) {
		if !enforceGet(w, r) {
			return
		}
		writeJSON(w, map[string]any{
			"events": []event{
				{
					ID:           "metric-latency-api-1",
					Source:       "cloudwatch",
					Title:        "p99 latency spike",
					Description:  "API p99 latency exceeded threshold",
					ResourceID:   "api-gateway-prod",
					ResourceType: "load_balancer",
					Namespace:    "api",
					Region:       "us-east-1",
					Timestamp:    time.Now().Add(-2 * time.Minute),
					MetricName:   "Latency",
					MetricValue:  2.7,
					Threshold:    1.5,
				},
			},
		})
	})

	mux.HandleFunc("/api/v1/events/logs", func(w http.ResponseWriter, r *http.Request) {
		if !enforceGet(w, r) {
			return
		}
		writeJSON(w, map[string]any{
			"events": []event{
				{
					ID:           "log-errors-checkout-1",
					Source:       "cloudwatch-logs",
					Title:        "Error burst in checkout",
					Description:  "42 occurrences of 'connection refused' reaching payments",
					ResourceID:   "checkout-svc",
					ResourceType: "container",
					Namespace:    "web",
					Region:       "us-east-1",
					Timestamp:    time.Now().Add(-90 * time.Second),
					Dimensions:   map[string]string{"log_group": "/ecs/checkout"},
				},
			},
		})
	})

	mux.HandleFunc("/api/v1/events/insights", func(w http.ResponseWriter, r *http.Request) {
		if !enforceGet(w, r) {
			return
		}
		writeJSON(w, map[string]any{"events": []event{}})
	})

	logger := log.New(log.Writer(), "telemetry-mock ", log.LstdFlags|log.Lmicroseconds)
	srv := &http.Server{
		Addr:    ":8080",
		Handler: logRequests(logger, mux),
	}

	logger.Println("listening on :8080")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("server error: %v", err)
	}
}

func enforceGet(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode error: %v", err)
	}
}

func logRequests(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Printf("%s %s %d %s", r.Method, r.URL.Path, rw.status, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
