// README: Smoke cases covering quotes, the ride lifecycle, the accept race and throughput.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"ridehail/internal/infra"
)

type Runner struct {
	cfg   Config
	httpc *http.Client
	db    *pgxpool.Pool
	redis *redis.Client
	run   string

	// state carried between lifecycle cases
	rideID string
	winner string
}

type Result struct {
	Name    string
	Status  string
	Latency time.Duration
	Note    string
}

type TestCase struct {
	Name string
	Run  func(ctx context.Context, r *Runner) Result
}

func NewRunner(cfg Config) *Runner {
	return &Runner{
		cfg:   cfg,
		httpc: &http.Client{Timeout: 10 * time.Second},
		run:   uuid.NewString()[:8],
	}
}

func (r *Runner) RunAll(ctx context.Context) []Result {
	if r.cfg.DSN != "" {
		if db, err := infra.NewDB(ctx, r.cfg.DSN); err == nil {
			r.db = db
		}
	}
	if r.cfg.RedisAddr != "" {
		r.redis = infra.NewRedis(r.cfg.RedisAddr)
	}

	tests := r.cases()
	results := make([]Result, 0, len(tests))

	for _, tc := range tests {
		res := tc.Run(ctx, r)
		res.Name = tc.Name
		results = append(results, res)
		fmt.Printf("%-7s %s", res.Status, tc.Name)
		if res.Latency > 0 {
			fmt.Printf(" (%s)", res.Latency)
		}
		if res.Note != "" {
			fmt.Printf(" - %s", res.Note)
		}
		fmt.Println()
	}

	if r.db != nil {
		r.db.Close()
	}
	if r.redis != nil {
		_ = r.redis.Close()
	}
	return results
}

// user scopes ids to this run so repeated runs never see each other's rides.
func (r *Runner) user(name string) string {
	return "bench-" + r.run + "-" + name
}

func (r *Runner) token(uid, role string) (string, error) {
	return infra.SignDevToken(r.cfg.JWTSecret, uid, role, time.Hour)
}

type response struct {
	Status  int
	Body    []byte
	Latency time.Duration
}

func (r *Runner) call(ctx context.Context, method, path, uid, role string, body any) (response, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return response{}, err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.cfg.BaseURL+path, reader)
	if err != nil {
		return response{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if uid != "" {
		tok, err := r.token(uid, role)
		if err != nil {
			return response{}, err
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	start := time.Now()
	resp, err := r.httpc.Do(req)
	if err != nil {
		return response{}, err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	return response{Status: resp.StatusCode, Body: b, Latency: time.Since(start)}, err
}

// expect runs one call and passes when the status matches.
func (r *Runner) expect(ctx context.Context, method, path, uid, role string, body any, want int) (response, Result) {
	resp, err := r.call(ctx, method, path, uid, role, body)
	if err != nil {
		return resp, Result{Status: "FAIL", Note: err.Error()}
	}
	note := fmt.Sprintf("status=%d", resp.Status)
	if resp.Status != want {
		return resp, Result{Status: "FAIL", Latency: resp.Latency, Note: note + " body=" + truncate(resp.Body)}
	}
	return resp, Result{Status: "PASS", Latency: resp.Latency, Note: note}
}

func truncate(b []byte) string {
	if len(b) > 160 {
		return string(b[:160]) + "..."
	}
	return string(b)
}

var (
	pickup  = map[string]float64{"lat": 38.7075, "lng": -9.1364}
	airport = map[string]float64{"lat": 38.7742, "lng": -9.1342}
)

func rideRequest() map[string]any {
	return map[string]any{
		"passengerName":      "Bench Passenger",
		"pickupAddress":      "Praça do Comércio, Lisboa",
		"destinationAddress": "Aeroporto Humberto Delgado, Lisboa",
		"pickupCoords":       pickup,
		"destinationCoords":  airport,
		"category":           "comfort",
		"paymentMethod":      "cash",
	}
}

func (r *Runner) cases() []TestCase {
	return []TestCase{
		{"Env: Postgres connect", func(ctx context.Context, r *Runner) Result {
			if r.db == nil {
				return Result{Status: "SKIP", Note: "db not configured"}
			}
			ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			defer cancel()
			if err := r.db.Ping(ctx); err != nil {
				return Result{Status: "FAIL", Note: err.Error()}
			}
			return Result{Status: "PASS"}
		}},
		{"Env: Redis connect", func(ctx context.Context, r *Runner) Result {
			if r.redis == nil {
				return Result{Status: "SKIP", Note: "redis not configured"}
			}
			ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			defer cancel()
			if err := r.redis.Ping(ctx).Err(); err != nil {
				return Result{Status: "FAIL", Note: err.Error()}
			}
			return Result{Status: "PASS"}
		}},
		{"Migration: apply (optional)", func(ctx context.Context, r *Runner) Result {
			if !r.cfg.ApplyMigration {
				return Result{Status: "SKIP", Note: "apply-migration=false"}
			}
			if r.db == nil {
				return Result{Status: "FAIL", Note: "db not configured"}
			}
			if err := infra.Migrate(ctx, r.db, r.cfg.MigrationsDir); err != nil {
				return Result{Status: "FAIL", Note: err.Error()}
			}
			return Result{Status: "PASS"}
		}},
		{"Migration: tables exist", func(ctx context.Context, r *Runner) Result {
			if r.db == nil {
				return Result{Status: "SKIP", Note: "db not configured"}
			}
			tables, err := extractTables(r.cfg.MigrationsDir)
			if err != nil {
				return Result{Status: "FAIL", Note: err.Error()}
			}
			for _, t := range tables {
				var exists bool
				err := r.db.QueryRow(ctx,
					"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name=$1)",
					t,
				).Scan(&exists)
				if err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				if !exists {
					return Result{Status: "FAIL", Note: "missing table: " + t}
				}
			}
			return Result{Status: "PASS", Note: fmt.Sprintf("%d tables", len(tables))}
		}},
		{"API: health", func(ctx context.Context, r *Runner) Result {
			_, res := r.expect(ctx, http.MethodGet, "/health", "", "", nil, http.StatusOK)
			return res
		}},
		{"API: unauthenticated -> 401", func(ctx context.Context, r *Runner) Result {
			_, res := r.expect(ctx, http.MethodGet, "/api/rides", "", "", nil, http.StatusUnauthorized)
			return res
		}},

		// Fares
		{"Fare: quote all categories", func(ctx context.Context, r *Runner) Result {
			resp, res := r.expect(ctx, http.MethodPost, "/api/fares/quote", r.user("p1"), "", map[string]any{
				"pickupCoords": pickup, "destinationCoords": airport,
			}, http.StatusOK)
			if res.Status != "PASS" {
				return res
			}
			var body struct {
				Quotes []struct {
					Category string `json:"category"`
					Fare     struct {
						Amount int64 `json:"amount"`
					} `json:"fare"`
				} `json:"quotes"`
			}
			if err := json.Unmarshal(resp.Body, &body); err != nil || len(body.Quotes) != 2 {
				return Result{Status: "FAIL", Note: "unexpected quotes: " + truncate(resp.Body)}
			}
			res.Note = fmt.Sprintf("%s=%d %s=%d", body.Quotes[0].Category, body.Quotes[0].Fare.Amount, body.Quotes[1].Category, body.Quotes[1].Fare.Amount)
			return res
		}},
		{"Fare: unknown category -> 400", func(ctx context.Context, r *Runner) Result {
			_, res := r.expect(ctx, http.MethodPost, "/api/fares/quote", r.user("p1"), "", map[string]any{
				"pickupCoords": pickup, "destinationCoords": airport, "category": "economy",
			}, http.StatusBadRequest)
			return res
		}},

		// Lifecycle
		{"Ride: passenger request", func(ctx context.Context, r *Runner) Result {
			resp, res := r.expect(ctx, http.MethodPost, "/api/rides", r.user("p1"), "", rideRequest(), http.StatusCreated)
			if res.Status != "PASS" {
				return res
			}
			var body struct {
				Ride struct {
					ID string `json:"id"`
				} `json:"ride"`
			}
			if err := json.Unmarshal(resp.Body, &body); err != nil || body.Ride.ID == "" {
				return Result{Status: "FAIL", Note: "no ride id: " + truncate(resp.Body)}
			}
			r.rideID = body.Ride.ID
			res.Note += " ride=" + r.rideID
			return res
		}},
		{"Ride: duplicate active -> 400", func(ctx context.Context, r *Runner) Result {
			_, res := r.expect(ctx, http.MethodPost, "/api/rides", r.user("p1"), "", rideRequest(), http.StatusBadRequest)
			return res
		}},
		{"Ride: listed for drivers", func(ctx context.Context, r *Runner) Result {
			resp, res := r.expect(ctx, http.MethodGet, "/api/driver/rides/pending", r.user("d0"), "driver", nil, http.StatusOK)
			if res.Status == "PASS" && (r.rideID == "" || !bytes.Contains(resp.Body, []byte(r.rideID))) {
				return Result{Status: "FAIL", Note: "ride missing from pending list"}
			}
			return res
		}},
		{"Concurrency: many drivers accept same ride", func(ctx context.Context, r *Runner) Result {
			return concurrentAccept(ctx, r)
		}},
		{"Ride: cancel after accept by stranger -> 403", func(ctx context.Context, r *Runner) Result {
			_, res := r.expect(ctx, http.MethodPost, "/api/rides/"+r.rideID+"/cancel", r.user("p2"), "", nil, http.StatusForbidden)
			return res
		}},
		{"Ride: driver arrives", func(ctx context.Context, r *Runner) Result {
			_, res := r.expect(ctx, http.MethodPost, "/api/driver/rides/"+r.rideID+"/arrive", r.winner, "driver", nil, http.StatusOK)
			return res
		}},
		{"Ride: cancel after arrival -> 409", func(ctx context.Context, r *Runner) Result {
			_, res := r.expect(ctx, http.MethodPost, "/api/rides/"+r.rideID+"/cancel", r.user("p1"), "", nil, http.StatusConflict)
			return res
		}},
		{"Ride: driver completes", func(ctx context.Context, r *Runner) Result {
			_, res := r.expect(ctx, http.MethodPost, "/api/driver/rides/"+r.rideID+"/complete", r.winner, "driver", nil, http.StatusOK)
			return res
		}},
		{"Ride: completed cannot transition", func(ctx context.Context, r *Runner) Result {
			_, res := r.expect(ctx, http.MethodPost, "/api/driver/rides/"+r.rideID+"/arrive", r.winner, "driver", nil, http.StatusConflict)
			return res
		}},
		{"Ride: no active ride after completion", func(ctx context.Context, r *Runner) Result {
			_, res := r.expect(ctx, http.MethodGet, "/api/rides/active", r.user("p1"), "", nil, http.StatusNoContent)
			return res
		}},

		// Cancel flow
		{"Cancel: passenger cancels pending ride", func(ctx context.Context, r *Runner) Result {
			resp, res := r.expect(ctx, http.MethodPost, "/api/rides", r.user("p3"), "", rideRequest(), http.StatusCreated)
			if res.Status != "PASS" {
				return res
			}
			var body struct {
				Ride struct {
					ID string `json:"id"`
				} `json:"ride"`
			}
			_ = json.Unmarshal(resp.Body, &body)
			_, res = r.expect(ctx, http.MethodPost, "/api/rides/"+body.Ride.ID+"/cancel", r.user("p3"), "", map[string]any{"reason": "bench"}, http.StatusOK)
			if res.Status != "PASS" {
				return res
			}
			_, res = r.expect(ctx, http.MethodPost, "/api/driver/rides/"+body.Ride.ID+"/accept", r.user("d0"), "driver", nil, http.StatusConflict)
			return res
		}},

		// Performance
		{"Perf: quote throughput", func(ctx context.Context, r *Runner) Result {
			return perfLoad(ctx, r, "/api/fares/quote", map[string]any{
				"pickupCoords": pickup, "destinationCoords": airport, "category": "comfort",
			})
		}},
	}
}

// concurrentAccept races every driver on the same ride; exactly one must win
// and every other driver must see 409.
func concurrentAccept(ctx context.Context, r *Runner) Result {
	if r.rideID == "" {
		return Result{Status: "SKIP", Note: "no ride created"}
	}
	start := make(chan struct{})
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		winners   []string
		conflicts int
		other     []int
	)
	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func(uid string) {
			defer wg.Done()
			<-start
			resp, err := r.call(ctx, http.MethodPost, "/api/driver/rides/"+r.rideID+"/accept", uid, "driver", nil)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				other = append(other, -1)
			case resp.Status == http.StatusOK:
				winners = append(winners, uid)
			case resp.Status == http.StatusConflict:
				conflicts++
			default:
				other = append(other, resp.Status)
			}
		}(r.user(fmt.Sprintf("d%d", i)))
	}
	close(start)
	wg.Wait()

	note := fmt.Sprintf("winners=%d conflicts=%d other=%v", len(winners), conflicts, other)
	if len(winners) != 1 || len(other) > 0 {
		return Result{Status: "FAIL", Note: note}
	}
	r.winner = winners[0]
	return Result{Status: "PASS", Note: note}
}

func perfLoad(ctx context.Context, r *Runner, path string, payload any) Result {
	end := time.Now().Add(r.cfg.Duration)
	var count, errCount int64
	var mu sync.Mutex
	wg := sync.WaitGroup{}
	uid := r.user("perf")

	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(end) && ctx.Err() == nil {
				resp, err := r.call(ctx, http.MethodPost, path, uid, "", payload)
				mu.Lock()
				if err != nil || resp.Status >= 500 {
					errCount++
				} else {
					count++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if count == 0 {
		return Result{Status: "FAIL", Note: "no requests completed"}
	}
	rps := float64(count) / r.cfg.Duration.Seconds()
	return Result{Status: "PASS", Note: fmt.Sprintf("rps=%.1f errors=%d", rps, errCount)}
}

var createTableRe = regexp.MustCompile(`(?i)create\s+table\s+if\s+not\s+exists\s+([a-zA-Z0-9_]+)`)

func extractTables(dir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		return nil, err
	}
	var tables []string
	for _, f := range files {
		b, err := os.ReadFile(f)
		if err != nil {
			return nil, err
		}
		for _, m := range createTableRe.FindAllStringSubmatch(string(b), -1) {
			tables = append(tables, m[1])
		}
	}
	return tables, nil
}
