package ingest

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"time"

	"soilguard/internal/config"
	"soilguard/internal/model"
	"soilguard/internal/normalize"
)

type RESTServer struct {
	cfg    *config.Manager
	out    chan<- model.Reading
	logger *slog.Logger
}

func NewRESTServer(cfg *config.Manager, out chan<- model.Reading, logger *slog.Logger) *RESTServer {
	return &RESTServer{cfg: cfg, out: out, logger: logger}
}

func (s *RESTServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/readings", s.handleReadings)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	return mux
}

func StartREST(ctx context.Context, cfg *config.Manager, out chan<- model.Reading, logger *slog.Logger) *http.Server {
	current := cfg.Get().Ingest.REST
	if !current.Enabled {
		if logger != nil {
			logger.Info("rest ingest disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("rest ingest enabled", "addr", current.Addr)
	}
	httpServer := &http.Server{
		Addr:              current.Addr,
		Handler:           NewRESTServer(cfg, out, logger).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if logger != nil {
				logger.Error("rest ingest server error", "err", err)
			}
		}
	}()
	return httpServer
}

// handleReadings accepts a JSON object or array, or a text body with one
// reading per line (CSV or key=value).
func (s *RESTServer) handleReadings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 2<<20))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	trim := bytes.TrimSpace(body)
	if len(trim) == 0 {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	loc := normalize.Location(s.cfg.Get().Ingest.Parser.Timezone)

	var objs []map[string]any
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "text/plain" || mediaType == "text/csv" {
		objs, err = parseText(trim)
	} else {
		objs, err = normalize.Objects(trim)
	}
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	accepted, failed, dropped := 0, 0, 0
	for _, obj := range objs {
		reading, err := normalize.Reading(obj, 0, loc)
		if err != nil {
			if s.logger != nil {
				s.logger.Warn("rest normalize error", "err", err)
			}
			failed++
			continue
		}
		if SendNonBlocking(r.Context(), s.out, reading, s.logger) {
			accepted++
		} else {
			dropped++
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]int{
		"accepted": accepted,
		"failed":   failed,
		"dropped":  dropped,
	})
}

func parseText(body []byte) ([]map[string]any, error) {
	p := NewParser()
	var out []map[string]any
	sc := bufio.NewScanner(bytes.NewReader(body))
	for sc.Scan() {
		objs, err := p.ParseLine(sc.Text())
		if err != nil {
			return nil, err
		}
		out = append(out, objs...)
	}
	return out, sc.Err()
}
