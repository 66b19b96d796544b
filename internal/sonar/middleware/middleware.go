// Package middleware records every non-excluded request: timing, memory,
// queries, headers, session, payloads and whatever the handler queued in
// the scratch buffers, persisted under a fresh correlation id once the
// response status is known.
package middleware

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"runtime/metrics"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pysugar/go-sonar/internal/db/models"
	"github.com/pysugar/go-sonar/internal/logging"
	sonarmetrics "github.com/pysugar/go-sonar/internal/metrics"
	"github.com/pysugar/go-sonar/internal/sonar/collector"
	"github.com/pysugar/go-sonar/internal/sonar/filter"
	"github.com/pysugar/go-sonar/internal/sonar/normalize"
	"github.com/pysugar/go-sonar/internal/sonar/parser"
	"github.com/pysugar/go-sonar/internal/sonar/querylog"
	"github.com/pysugar/go-sonar/internal/sonar/scratch"
	"github.com/pysugar/go-sonar/internal/util"
)

// Store persists a request and its entries.
type Store interface {
	collector.Store
	CreateRequest(ctx context.Context, record *models.RequestRecord) error
}

// Options configures a Recorder. Store is required.
type Options struct {
	Store           Store
	Excludes        []string
	SensitiveFields []string
	MaxBodyBytes    int64
	Middlewares     []string
	User            UserFunc
	Session         SessionFunc
	Resolver        RouteResolver
	Hostname        string

	// Logger is the application logger. Handlers get it from
	// logging.FromContext teed into the request's log buffer.
	Logger *zap.Logger
	// LogLevel is the minimum level copied into the log buffer; info by
	// default.
	LogLevel zapcore.LevelEnabler
	Metrics  *sonarmetrics.Capture
}

// Recorder is the capture middleware.
type Recorder struct {
	opts      Options
	paths     *filter.PathFilter
	sensitive *filter.Sensitive
	logger    *zap.Logger
}

// New builds a Recorder from opts.
func New(opts Options) *Recorder {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.LogLevel == nil {
		opts.LogLevel = zapcore.InfoLevel
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = parser.DefaultMaxBodyBytes
	}
	if opts.Hostname == "" {
		opts.Hostname, _ = os.Hostname()
	}
	return &Recorder{
		opts:      opts,
		paths:     filter.CompilePaths(opts.Excludes),
		sensitive: filter.NewSensitive(opts.SensitiveFields),
		logger:    opts.Logger.Named("sonar"),
	}
}

// Handler wraps next. Every request gets fresh scratch buffers and a fresh
// query log in its context; excluded requests are then passed through
// without any capture.
func (rec *Recorder) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := scratch.WithBuffers(r.Context(), scratch.New())
		ctx = querylog.WithLog(ctx, querylog.New())
		ctx, who := withPrincipal(ctx)
		ctx = logging.WithLogger(ctx, scratch.Logger(ctx, rec.opts.Logger, rec.opts.LogLevel))
		r = r.WithContext(ctx)

		if rec.paths.ShouldExclude(r.URL.Path) {
			rec.opts.Metrics.Excluded()
			next.ServeHTTP(w, r)
			return
		}
		rec.capture(w, r, next, who)
	})
}

// snapshot is what is known about a request before its handler runs.
type snapshot struct {
	start    time.Time
	memStart uint64
	view     string
	headers  any
	session  any
	get      any
	post     any
}

func (rec *Recorder) capture(w http.ResponseWriter, r *http.Request, next http.Handler, who *principal) {
	ctx := r.Context()
	querylog.FromContext(ctx).Reset()

	snap := snapshot{start: time.Now(), memStart: heapAllocBytes()}
	if rec.opts.Resolver != nil {
		snap.view = rec.opts.Resolver.Resolve(r)
	}
	var session map[string]any
	if rec.opts.Session != nil {
		session = rec.opts.Session(r)
	}
	if session == nil {
		session = map[string]any{}
	}
	snap.headers = rec.redact(parser.Headers(r))
	snap.session = rec.redact(session)
	snap.get = rec.redact(parser.GetPayload(r))
	snap.post = rec.redact(parser.BodyPayload(r, rec.opts.MaxBodyBytes))

	ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
	defer func() {
		if p := recover(); p != nil {
			if scratch.IsAbort(p) {
				panic(p)
			}
			scratch.CapturePanic(ctx, p)
			rec.persist(r, who, snap, http.StatusInternalServerError)
			panic(p)
		}
	}()

	next.ServeHTTP(ww, r)

	status := ww.Status()
	if status == 0 {
		status = http.StatusOK
	}
	rec.persist(r, who, snap, status)
}

// redact normalizes v before masking it, so structs and pointers are
// already plain maps when their keys are checked.
func (rec *Recorder) redact(v any) any {
	return rec.sensitive.Filter(normalize.Value(v))
}

// persist writes the request record and its entries. Failures are logged
// and counted; they never reach the client.
func (rec *Recorder) persist(r *http.Request, who *principal, snap snapshot, status int) {
	ctx := r.Context()
	duration := time.Since(snap.start)
	memUsed := float64(heapAllocBytes()-snap.memStart) / 1024 / 1024
	executed := querylog.FromContext(ctx).Executed()

	user := who.get()
	if user == nil && rec.opts.User != nil {
		user = rec.opts.User(r)
	}

	record := &models.RequestRecord{
		Verb:       r.Method,
		Path:       fullPath(r.URL.Path, snap.get),
		Status:     fmt.Sprint(status),
		DurationMS: duration.Milliseconds(),
		QueryCount: len(executed),
		Hostname:   rec.opts.Hostname,
		IsAjax:     parser.IsAjax(r),
	}
	if ip := parser.ClientIP(r); ip != "" {
		record.IPAddress = &ip
	}

	// Client disconnects cancel the request context; persistence still runs.
	storeCtx := context.WithoutCancel(ctx)
	log := rec.logger.With(
		zap.String("verb", record.Verb),
		zap.String("path", util.TruncateLog(record.Path, util.DefaultLogMaxLen)))

	if err := rec.opts.Store.CreateRequest(storeCtx, record); err != nil {
		rec.opts.Metrics.PersistFailed(sonarmetrics.StageRequest)
		log.Error("failed to save request", zap.Error(err))
		scratch.FromContext(ctx).Reset()
		return
	}

	c := collector.New(record.ID, rec.opts.Store)
	err := c.SaveAll(storeCtx, collector.Snapshot{
		Details: collector.Details{
			UserInfo:        user,
			ViewFunc:        snap.view,
			MiddlewaresUsed: rec.opts.Middlewares,
			MemoryUsed:      memUsed,
		},
		Payload: collector.Payload{Get: snap.get, Post: snap.post},
		Queries: collector.Queries{Executed: executed},
		Headers: collector.Headers{Request: snap.headers},
		Session: collector.Session{Data: snap.session},
	})
	if err != nil {
		rec.opts.Metrics.PersistFailed(sonarmetrics.StageEntries)
		log.Error("failed to save request entries", zap.String("request_id", record.ID), zap.Error(err))
	}
	rec.opts.Metrics.Captured(duration)
	log.Debug("request captured",
		zap.String("request_id", record.ID),
		zap.Int("status", status),
		zap.Duration("duration", duration),
		zap.Int("queries", record.QueryCount))
}

// fullPath appends the filtered query parameters, so masked values never
// reach the stored path.
func fullPath(path string, get any) string {
	params, ok := get.(map[string]any)
	if !ok || len(params) == 0 {
		return path
	}
	values := make(url.Values, len(params))
	for k, v := range params {
		values.Set(k, fmt.Sprint(v))
	}
	return path + "?" + values.Encode()
}

const heapAllocsMetric = "/gc/heap/allocs:bytes"

// heapAllocBytes returns the cumulative bytes allocated on the heap by the
// process.
func heapAllocBytes() uint64 {
	sample := []metrics.Sample{{Name: heapAllocsMetric}}
	metrics.Read(sample)
	if sample[0].Value.Kind() != metrics.KindUint64 {
		return 0
	}
	return sample[0].Value.Uint64()
}
