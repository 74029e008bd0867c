package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"dryas.ai/internal/ai"
	"dryas.ai/internal/deal"
	"dryas.ai/internal/match"
	"dryas.ai/internal/protocol"
	"dryas.ai/internal/sim/engine"
	"dryas.ai/internal/sim/rules"
	"dryas.ai/internal/transport/httpapi"
	"dryas.ai/internal/transport/ws"
)

func main() {
	var (
		addr          = flag.String("addr", ":8080", "http listen address")
		dataDir       = flag.String("data", "./data", "runtime data directory")
		rulesPath     = flag.String("rules", "./configs/rules.yaml", "path to rules.yaml (empty for built-in rules)")
		disableDB     = flag.Bool("disable_db", false, "disable the sqlite ack store and match index (acks are then memory-only)")
		keepSnapshots = flag.Int("keep_snapshots", 4, "snapshots kept per match (0 keeps all)")
		restore       = flag.Bool("restore", true, "rebuild matches from the data dir on start")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	rs, err := rules.Load(strings.TrimSpace(*rulesPath))
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load rules: %v", err)
		}
		logger.Printf("rules not found (%s); using defaults", *rulesPath)
		rs = rules.Defaults()
	}
	logger.Printf("rules version=%s digest=%s", rs.Version, rs.Digest())

	checks := envBool("DRYAS_INVARIANT_CHECKS", true)
	eng := engine.New(rs, engine.WithInvariantChecks(checks))
	validator, err := deal.NewValidator()
	if err != nil {
		logger.Fatalf("deal schema: %v", err)
	}
	reqValidator, err := protocol.NewRequestValidator()
	if err != nil {
		logger.Fatalf("request schemas: %v", err)
	}

	st, err := openStorage(*dataDir, *disableDB, *keepSnapshots)
	if err != nil {
		logger.Fatalf("open storage: %v", err)
	}
	defer st.close(logger)

	var wsSrv *ws.Server
	mgr, err := match.NewManager(st.options(match.Options{
		Engine:     eng,
		Validator:  validator,
		Negotiator: ai.NewNegotiator(eng, validator),
		Events: func(b protocol.EventBatch) {
			if wsSrv != nil {
				wsSrv.Publish(b)
			}
		},
		Logger: log.New(os.Stdout, "[match] ", log.LstdFlags|log.Lmicroseconds),
	}))
	if err != nil {
		logger.Fatalf("match manager: %v", err)
	}
	wsSrv = ws.NewServer(mgr, reqValidator, logger)

	if *restore {
		n, failed := st.restore(mgr, logger)
		logger.Printf("restored matches=%d failed=%d", n, failed)
	}

	ctx, cancel := signalContext()
	defer cancel()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		writeMetrics(rw, mgr.Metrics(), wsSrv.Dropped(), st)
	})

	enableAdminHTTP := envBool("DRYAS_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP())
	enablePprofHTTP := envBool("DRYAS_ENABLE_PPROF_HTTP", false)
	if enableAdminHTTP {
		// Local-only admin endpoints. None of them change match state.
		mux.HandleFunc("/admin/v1/matches", func(rw http.ResponseWriter, r *http.Request) {
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			resp := struct {
				Live  []string      `json:"live"`
				Index any           `json:"index,omitempty"`
				Stats match.Metrics `json:"stats"`
			}{Live: mgr.MatchIDs(), Stats: mgr.Metrics()}
			if st.db != nil {
				rows, err := st.db.ListMatches(r.Context())
				if err != nil {
					http.Error(rw, err.Error(), http.StatusInternalServerError)
					return
				}
				resp.Index = rows
			}
			rw.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(rw).Encode(resp)
		})
		mux.HandleFunc("GET /admin/v1/matches/{id}/turns/{turn}", func(rw http.ResponseWriter, r *http.Request) {
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			if st.db == nil {
				http.Error(rw, "index disabled", http.StatusNotFound)
				return
			}
			turn, err := strconv.ParseUint(r.PathValue("turn"), 10, 32)
			if err != nil {
				http.Error(rw, "bad turn", http.StatusBadRequest)
				return
			}
			rows, err := st.db.JournalForTurn(r.Context(), r.PathValue("id"), uint32(turn))
			if err != nil {
				http.Error(rw, err.Error(), http.StatusInternalServerError)
				return
			}
			rw.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(rw).Encode(rows)
		})
		mux.HandleFunc("POST /admin/v1/checkpoint", func(rw http.ResponseWriter, r *http.Request) {
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			mgr.CheckpointAll()
			rw.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(rw).Encode(map[string]any{"ok": true, "matches": len(mgr.MatchIDs())})
		})
	} else {
		logger.Printf("admin endpoints disabled (DRYAS_ENABLE_ADMIN_HTTP=false)")
	}
	if enablePprofHTTP {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	} else {
		logger.Printf("pprof endpoints disabled (DRYAS_ENABLE_PPROF_HTTP=false)")
	}
	httpapi.NewServer(mgr, reqValidator, logger).Register(mux)
	mux.HandleFunc("/v1/ws", wsSrv.Handler())

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s (invariant_checks=%v)", *addr, checks)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
	mgr.CheckpointAll()
	logger.Printf("checkpointed %d matches", len(mgr.MatchIDs()))
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
