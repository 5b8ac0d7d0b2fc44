// README: Benchmark cases: environment checks, booking flow, concurrency races and throughput.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"ridebook/internal/infra"
)

type Runner struct {
	cfg    Config
	httpc  *http.Client
	db     *pgxpool.Pool
	redis  *redis.Client
	tokens *infra.JWTVerifier

	// booking id carried between flow cases
	current string
}

type Result struct {
	Name    string
	Status  string
	Latency time.Duration
	Note    string
}

type TestCase struct {
	Name  string
	Focus string
	Run   func(ctx context.Context, r *Runner) Result
}

func NewRunner(cfg Config) (*Runner, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.New("jwt secret is required: run the API with auth.mode=jwt and pass -jwt-secret")
	}
	return &Runner{
		cfg:    cfg,
		httpc:  &http.Client{Timeout: 10 * time.Second},
		tokens: infra.NewJWTVerifier(cfg.JWTSecret),
	}, nil
}

func (r *Runner) RunAll(ctx context.Context) []Result {
	if r.cfg.DSN != "" {
		if db, err := pgxpool.New(ctx, r.cfg.DSN); err == nil {
			r.db = db
		}
	}
	if r.cfg.RedisAddr != "" {
		r.redis = redis.NewClient(&redis.Options{Addr: r.cfg.RedisAddr})
	}

	tests := r.cases()
	results := make([]Result, 0, len(tests))

	for _, tc := range tests {
		res := tc.Run(ctx, r)
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

func (r *Runner) cases() []TestCase {
	return []TestCase{
		{
			Name:  "Env: Postgres connect",
			Focus: "DB reachable",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.db == nil {
					return Result{Status: "SKIP", Note: "db not configured"}
				}
				ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
				defer cancel()
				if err := r.db.Ping(ctx); err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				return Result{Status: "PASS"}
			},
		},
		{
			Name:  "Env: Redis connect",
			Focus: "Redis reachable",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.redis == nil {
					return Result{Status: "SKIP", Note: "redis not configured"}
				}
				ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
				defer cancel()
				if err := r.redis.Ping(ctx).Err(); err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				return Result{Status: "PASS"}
			},
		},
		{
			Name:  "Migration: apply (optional)",
			Focus: "apply migration SQL",
			Run: func(ctx context.Context, r *Runner) Result {
				if !r.cfg.ApplyMigration {
					return Result{Status: "SKIP", Note: "apply-migration=false"}
				}
				if r.db == nil {
					return Result{Status: "FAIL", Note: "db not configured"}
				}
				sql, err := os.ReadFile(r.cfg.MigrationPath)
				if err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				for _, s := range splitSQL(string(sql)) {
					if _, err := r.db.Exec(ctx, s); err != nil {
						return Result{Status: "FAIL", Note: err.Error()}
					}
				}
				return Result{Status: "PASS"}
			},
		},
		{
			Name:  "Migration: tables exist",
			Focus: "tables from migrations/0001_init.sql exist",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.db == nil {
					return Result{Status: "SKIP", Note: "db not configured"}
				}
				tables, err := extractTables(r.cfg.MigrationPath)
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
				return Result{Status: "PASS"}
			},
		},
		{
			Name:  "API: health",
			Focus: "API responds",
			Run: func(ctx context.Context, r *Runner) Result {
				status, _, latency, err := r.call(ctx, http.MethodGet, "/health", nil, "")
				return expect(status, latency, err, http.StatusOK)
			},
		},
		{
			Name:  "Auth: missing token -> 401",
			Focus: "unauthenticated callers rejected",
			Run: func(ctx context.Context, r *Runner) Result {
				status, _, latency, err := r.call(ctx, http.MethodGet, "/api/bookings", nil, "")
				return expect(status, latency, err, http.StatusUnauthorized)
			},
		},

		// Booking flow
		{
			Name:  "Booking: create (valid)",
			Focus: "rider creates a pending booking",
			Run: func(ctx context.Context, r *Runner) Result {
				id, res := r.createBooking(ctx, "bench-rider")
				r.current = id
				return res
			},
		},
		{
			Name:  "Booking: create (missing fields -> 400)",
			Focus: "validation",
			Run: func(ctx context.Context, r *Runner) Result {
				status, _, latency, err := r.call(ctx, http.MethodPost, "/api/bookings", map[string]string{"pickup": "A"}, r.token("bench-rider", infra.RoleRider))
				return expect(status, latency, err, http.StatusBadRequest)
			},
		},
		r.flowCase("Booking: owner get", http.MethodGet, "", "bench-rider", infra.RoleRider, http.StatusOK),
		r.flowCase("Booking: other rider get -> 403", http.MethodGet, "", "someone-else", infra.RoleRider, http.StatusForbidden),
		{
			Name:  "Booking: list active",
			Focus: "pending booking listed as active",
			Run: func(ctx context.Context, r *Runner) Result {
				status, body, latency, err := r.call(ctx, http.MethodGet, "/api/bookings?class=active", nil, r.token("bench-rider", infra.RoleRider))
				res := expect(status, latency, err, http.StatusOK)
				if res.Status == "PASS" && !strings.Contains(string(body), r.current) {
					return Result{Status: "FAIL", Latency: latency, Note: "booking missing from active list"}
				}
				return res
			},
		},
		r.flowCase("Booking: admin assign", http.MethodPost, "/assign", "bench-ops", infra.RoleAdmin, http.StatusOK),
		r.flowCase("Booking: assign again -> 200 (already assigned)", http.MethodPost, "/assign", "bench-ops", infra.RoleAdmin, http.StatusOK),
		r.flowCase("Booking: cancel confirmed -> 409", http.MethodPost, "/cancel", "bench-rider", infra.RoleRider, http.StatusConflict),
		r.flowCase("Booking: rider complete -> 403", http.MethodPost, "/complete", "bench-rider", infra.RoleRider, http.StatusForbidden),
		r.flowCase("Booking: admin complete", http.MethodPost, "/complete", "bench-ops", infra.RoleAdmin, http.StatusOK),
		r.flowCase("Booking: completed cannot complete again -> 409", http.MethodPost, "/complete", "bench-ops", infra.RoleAdmin, http.StatusConflict),
		{
			Name:  "Booking: cancel pending",
			Focus: "pending -> cancelled",
			Run: func(ctx context.Context, r *Runner) Result {
				id, res := r.createBooking(ctx, "bench-rider")
				if res.Status != "PASS" {
					return res
				}
				status, _, latency, err := r.call(ctx, http.MethodPost, "/api/bookings/"+id+"/cancel", map[string]string{"reason": "change_plans"}, r.token("bench-rider", infra.RoleRider))
				return expect(status, latency, err, http.StatusOK)
			},
		},

		// Concurrency
		{
			Name:  "Concurrency: multi assign same booking",
			Focus: "one driver attached, every trigger sees it",
			Run: func(ctx context.Context, r *Runner) Result {
				return r.concurrentAssign(ctx)
			},
		},
		{
			Name:  "Concurrency: cancel vs assign",
			Focus: "exactly one of cancel/assign wins",
			Run: func(ctx context.Context, r *Runner) Result {
				return r.cancelVsAssign(ctx)
			},
		},

		// Performance
		{
			Name:  "Perf: create booking throughput",
			Focus: "sustained booking creation",
			Run: func(ctx context.Context, r *Runner) Result {
				return r.perfLoad(ctx, "/api/bookings", map[string]string{
					"pickup": "A", "dropoff": "B", "date": "2025-01-01", "time": "09:00",
				})
			},
		},
	}
}

// flowCase calls /api/bookings/{current}{suffix}; admin assign lives under /api/admin.
func (r *Runner) flowCase(name, method, suffix, uid, role string, want int) TestCase {
	return TestCase{
		Name:  name,
		Focus: "HTTP API",
		Run: func(ctx context.Context, r *Runner) Result {
			if r.current == "" {
				return Result{Status: "SKIP", Note: "no booking created"}
			}
			path := "/api/bookings/" + r.current + suffix
			if suffix == "/assign" {
				path = "/api/admin/bookings/" + r.current + suffix
			}
			status, _, latency, err := r.call(ctx, method, path, nil, r.token(uid, role))
			return expect(status, latency, err, want)
		},
	}
}

func (r *Runner) createBooking(ctx context.Context, rider string) (string, Result) {
	status, body, latency, err := r.call(ctx, http.MethodPost, "/api/bookings", map[string]string{
		"pickup": "A", "dropoff": "B", "date": "2025-01-01", "time": "09:00",
	}, r.token(rider, infra.RoleRider))
	res := expect(status, latency, err, http.StatusCreated)
	if res.Status != "PASS" {
		return "", res
	}
	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &created); err != nil || created.ID == "" {
		return "", Result{Status: "FAIL", Latency: latency, Note: "no id in response"}
	}
	return created.ID, res
}

func (r *Runner) concurrentAssign(ctx context.Context) Result {
	id, res := r.createBooking(ctx, "bench-race")
	if res.Status != "PASS" {
		return res
	}
	path := "/api/admin/bookings/" + id + "/assign"
	token := r.token("bench-ops", infra.RoleAdmin)

	var wg sync.WaitGroup
	var mu sync.Mutex
	ok, other := 0, 0
	drivers := map[string]int{}
	start := make(chan struct{})
	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			status, body, _, err := r.call(ctx, http.MethodPost, path, nil, token)
			var got struct {
				Driver *struct {
					ID string `json:"id"`
				} `json:"driver"`
			}
			mu.Lock()
			defer mu.Unlock()
			if err != nil || status != http.StatusOK || json.Unmarshal(body, &got) != nil || got.Driver == nil {
				other++
				return
			}
			ok++
			drivers[got.Driver.ID]++
		}()
	}
	close(start)
	wg.Wait()

	// losers report the winner's assignment, so every answer names one driver
	note := fmt.Sprintf("ok=%d other=%d distinct_drivers=%d", ok, other, len(drivers))
	if ok == r.cfg.Concurrency && len(drivers) == 1 {
		return Result{Status: "PASS", Note: note}
	}
	return Result{Status: "FAIL", Note: note}
}

func (r *Runner) cancelVsAssign(ctx context.Context) Result {
	id, res := r.createBooking(ctx, "bench-race")
	if res.Status != "PASS" {
		return res
	}
	type outcome struct {
		status int
		err    error
	}
	out := make(chan outcome, 2)
	start := make(chan struct{})
	go func() {
		<-start
		status, _, _, err := r.call(ctx, http.MethodPost, "/api/admin/bookings/"+id+"/assign", nil, r.token("bench-ops", infra.RoleAdmin))
		out <- outcome{status, err}
	}()
	go func() {
		<-start
		status, _, _, err := r.call(ctx, http.MethodPost, "/api/bookings/"+id+"/cancel", nil, r.token("bench-race", infra.RoleRider))
		out <- outcome{status, err}
	}()
	close(start)

	succ := 0
	for i := 0; i < 2; i++ {
		o := <-out
		if o.err != nil {
			return Result{Status: "FAIL", Note: o.err.Error()}
		}
		if o.status == http.StatusOK {
			succ++
		}
	}
	if succ != 1 {
		return Result{Status: "FAIL", Note: fmt.Sprintf("success=%d", succ)}
	}
	return Result{Status: "PASS", Note: "success=1"}
}

func (r *Runner) perfLoad(ctx context.Context, path string, payload any) Result {
	end := time.Now().Add(r.cfg.Duration)
	token := r.token("bench-perf", infra.RoleRider)
	var count, errCount int64
	var mu sync.Mutex
	wg := sync.WaitGroup{}

	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(end) && ctx.Err() == nil {
				status, _, _, err := r.call(ctx, http.MethodPost, path, payload, token)
				mu.Lock()
				if err != nil || status >= 300 {
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

func (r *Runner) token(uid, role string) string {
	t, err := r.tokens.Issue(uid, role, time.Hour)
	if err != nil {
		return ""
	}
	return t
}

func (r *Runner) call(ctx context.Context, method, path string, body any, token string) (int, []byte, time.Duration, error) {
	var reader io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.cfg.BaseURL+path, reader)
	if err != nil {
		return 0, nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	start := time.Now()
	resp, err := r.httpc.Do(req)
	if err != nil {
		return 0, nil, 0, err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, b, time.Since(start), nil
}

func expect(status int, latency time.Duration, err error, want int) Result {
	if err != nil {
		return Result{Status: "FAIL", Note: err.Error()}
	}
	note := fmt.Sprintf("status=%d", status)
	if status == want {
		return Result{Status: "PASS", Latency: latency, Note: note}
	}
	return Result{Status: "FAIL", Latency: latency, Note: fmt.Sprintf("%s want=%d", note, want)}
}

func extractTables(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	re := regexp.MustCompile(`(?i)create\s+table\s+if\s+not\s+exists\s+([a-zA-Z0-9_]+)`)
	matches := re.FindAllStringSubmatch(string(b), -1)
	tables := make([]string, 0, len(matches))
	for _, m := range matches {
		tables = append(tables, m[1])
	}
	return tables, nil
}

func splitSQL(sql string) []string {
	lines := strings.Split(sql, "\n")
	filtered := make([]string, 0, len(lines))
	for _, line := range lines {
		l := strings.TrimSpace(line)
		if strings.HasPrefix(l, "--") || l == "" {
			continue
		}
		filtered = append(filtered, line)
	}
	parts := strings.Split(strings.Join(filtered, "\n"), ";")
	stmts := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			stmts = append(stmts, s)
		}
	}
	return stmts
}
