// Package web serves the read-only monitoring API and the dashboard.
package web

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/mip-automation/silomon/internal/persist"
	"github.com/mip-automation/silomon/internal/store"
)

//go:embed templates/dashboard.html
var templateFS embed.FS

var dashboardTmpl = template.Must(template.ParseFS(templateFS, "templates/dashboard.html"))

// HistoryReader serves persisted readings. Nil means persistence is
// disabled and history falls back to the in-memory rings.
type HistoryReader interface {
	Recent(code string, hours int) ([]persist.HistoryRow, error)
	RecentAll(hours int) ([]persist.HistoryRow, error)
}

// TelegramTester emits the synthetic alert for the test endpoint. Nil
// means alerting is disabled.
type TelegramTester interface {
	SendTest(now time.Time) error
}

const (
	defaultHistoryPoints = 100
	defaultHistoryHours  = 24
	shutdownGrace        = 5 * time.Second
)

// Server is the HTTP surface. All endpoints are read-only snapshots; the
// only side effect in the whole surface is the synthetic test alert.
type Server struct {
	store   *store.Store
	history HistoryReader
	tester  TelegramTester
	log     *logrus.Entry

	srv *http.Server
}

// New builds the server for the given bind address.
func New(addr string, st *store.Store, history HistoryReader, tester TelegramTester, log *logrus.Entry) *Server {
	s := &Server{
		store:   st,
		history: history,
		tester:  tester,
		log:     log,
	}
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleDashboard)
	r.Get("/api/data", s.handleData)
	r.Get("/api/stats", s.handleStats)
	r.Get("/api/history/{slave}", s.handleHistory)
	r.Get("/api/database", s.handleDatabase)
	r.Get("/api/test_telegram", s.handleTestTelegram)
	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Infof("http listening on %s", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := s.srv.Shutdown(shutCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return <-errCh
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

type dashboardDevice struct {
	SlaveID uint8
	Status  store.DeviceStatus
	Value   string
	Percent string
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	snap := s.store.Snapshot()
	devices := make([]dashboardDevice, 0, len(snap))
	for id, st := range snap {
		d := dashboardDevice{SlaveID: id, Status: st, Value: "-", Percent: "-"}
		if st.Value != nil {
			d.Value = strconv.Itoa(int(*st.Value))
		}
		if st.Percent != nil {
			d.Percent = strconv.Itoa(*st.Percent)
		}
		devices = append(devices, d)
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].SlaveID < devices[j].SlaveID })

	data := struct {
		Devices   []dashboardDevice
		Stats     store.Stats
		Generated string
	}{devices, s.store.Stats(), time.Now().Format(store.TimeFormat)}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := dashboardTmpl.Execute(w, data); err != nil {
		s.log.WithError(err).Error("dashboard render failed")
	}
}

func (s *Server) handleData(w http.ResponseWriter, r *http.Request) {
	snap := s.store.Snapshot()
	out := make(map[string]store.DeviceStatus, len(snap))
	for id, st := range snap {
		out[strconv.Itoa(int(id))] = st
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Stats())
}

func (s *Server) knownSlave(id uint8) bool {
	for _, known := range s.store.Slaves() {
		if known == id {
			return true
		}
	}
	return false
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	slave, err := strconv.ParseUint(chi.URLParam(r, "slave"), 10, 8)
	if err != nil || !s.knownSlave(uint8(slave)) {
		writeError(w, http.StatusBadRequest, "unknown slave")
		return
	}
	points := queryInt(r, "points", defaultHistoryPoints)
	hours := queryInt(r, "hours", defaultHistoryHours)
	if points <= 0 || hours <= 0 {
		writeError(w, http.StatusBadRequest, "points and hours must be positive")
		return
	}

	slaveID := uint8(slave)
	if s.history != nil {
		rows, err := s.history.Recent(persist.ExternalCode(slaveID), hours)
		if err != nil {
			s.log.WithError(err).Error("history query failed")
			writeError(w, http.StatusInternalServerError, "history query failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"slave_id": slaveID,
			"source":   "database",
			"samples":  s.rowsToSamples(rows),
		})
		return
	}

	samples, err := s.store.History(slaveID, points)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"slave_id": slaveID,
		"source":   "memory",
		"samples":  samples,
	})
}

// rowsToSamples converts persisted rows into the in-memory sample shape.
// Rows hold accepted values only, so the percent derivation cannot fail.
func (s *Server) rowsToSamples(rows []persist.HistoryRow) []store.Sample {
	rng := s.store.Range()
	samples := make([]store.Sample, 0, len(rows))
	for _, row := range rows {
		value := uint16(row.Quantity)
		percent, err := rng.Percent(value)
		if err != nil {
			continue
		}
		samples = append(samples, store.Sample{
			Timestamp: row.UpdatedAt.Unix(),
			Value:     value,
			Percent:   percent,
		})
	}
	return samples
}

func (s *Server) handleDatabase(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusBadRequest, "database disabled")
		return
	}

	var (
		rows []persist.HistoryRow
		err  error
	)
	if raw := r.URL.Query().Get("slave_id"); raw != "" {
		slave, perr := strconv.ParseUint(raw, 10, 8)
		if perr != nil || !s.knownSlave(uint8(slave)) {
			writeError(w, http.StatusBadRequest, "unknown slave")
			return
		}
		rows, err = s.history.Recent(persist.ExternalCode(uint8(slave)), defaultHistoryHours)
	} else {
		rows, err = s.history.RecentAll(defaultHistoryHours)
	}
	if err != nil {
		s.log.WithError(err).Error("database query failed")
		writeError(w, http.StatusInternalServerError, "database query failed")
		return
	}

	type apiRow struct {
		ExternalCode string `json:"external_code"`
		Quantity     int    `json:"quantity"`
		UpdatedAt    string `json:"updated_at"`
	}
	out := make([]apiRow, 0, len(rows))
	for _, row := range rows {
		out = append(out, apiRow{
			ExternalCode: row.Code,
			Quantity:     row.Quantity,
			UpdatedAt:    row.UpdatedAt.Format(store.TimeFormat),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"rows": out, "count": len(out)})
}

func (s *Server) handleTestTelegram(w http.ResponseWriter, r *http.Request) {
	if s.tester == nil {
		writeError(w, http.StatusBadRequest, "alerts disabled")
		return
	}
	if err := s.tester.SendTest(time.Now()); err != nil {
		s.log.WithError(err).Error("test alert failed")
		writeError(w, http.StatusInternalServerError, "test alert failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := s.store.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"online_slaves": stats.OnlineSlaves,
		"total_slaves":  stats.TotalSlaves,
		"uptime":        stats.UptimeSeconds,
		"database":      s.history != nil,
		"alerts":        s.tester != nil,
	})
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return -1
	}
	return n
}
