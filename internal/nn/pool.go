package nn

import (
	"context"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

var meter = otel.Meter("github.com/pkremer/chessforge/internal/nn")

var (
	batchesCounter, _   = meter.Int64Counter("nn.batches", metric.WithDescription("forward-pass batches run"))
	positionsCounter, _ = meter.Int64Counter("nn.batch_positions", metric.WithDescription("positions evaluated across all batches"))
	queueWaitHist, _    = meter.Int64Histogram("nn.queue_wait_us", metric.WithDescription("time a request spent queued before its batch started"))
	inferHist, _        = meter.Int64Histogram("nn.infer_us", metric.WithDescription("forward-pass wall time per batch"))
	latencyHist, _      = meter.Int64Histogram("nn.eval_latency_us", metric.WithDescription("submit-to-result latency per request"))
)

const defaultBatchMax = 16
const defaultBatchWait = time.Millisecond

// evalRequest is one queued forward-pass request; resultCh is buffered so
// the worker never blocks handing back a result nobody is waiting on
// anymore (which can't currently happen, but costs nothing to allow for).
type evalRequest struct {
	key      uint64
	planes   Planes112
	resultCh chan CacheEntry
	enqueued time.Time
}

// workerPool groups concurrent StaticEval calls into batches of up to
// batchMax requests (each request still gets its own forward pass), the
// way lc0_evaluator.cpp's worker_loop coalesces UCI search
// threads' probes; singleflight collapses duplicate concurrent requests
// for the same position (a transposition hit racing across workers) into
// one forward pass.
type workerPool struct {
	eval      *Evaluator
	queue     chan *evalRequest
	batchMax  int
	batchWait time.Duration

	cancel context.CancelFunc
	group  *errgroup.Group

	sf singleflight.Group
}

func newWorkerPool(e *Evaluator, workers, batchMax int, batchWait time.Duration) *workerPool {
	if workers <= 0 {
		workers = 1
	}
	if batchMax <= 0 {
		batchMax = defaultBatchMax
	}
	if batchWait <= 0 {
		batchWait = defaultBatchWait
	}

	ctx, cancel := context.WithCancel(context.Background())
	group, ctx := errgroup.WithContext(ctx)

	p := &workerPool{
		eval:      e,
		queue:     make(chan *evalRequest, batchMax*workers*4),
		batchMax:  batchMax,
		batchWait: batchWait,
		cancel:    cancel,
		group:     group,
	}

	for i := 0; i < workers; i++ {
		group.Go(func() error {
			p.workerLoop(ctx)
			return nil
		})
	}
	return p
}

func (p *workerPool) stop() {
	p.cancel()
	_ = p.group.Wait()
	for {
		select {
		case req := <-p.queue:
			req.resultCh <- CacheEntry{}
		default:
			return
		}
	}
}

// submit enqueues a forward-pass request and blocks for its result,
// collapsing concurrent duplicate keys via singleflight.
func (p *workerPool) submit(key uint64, planes Planes112) CacheEntry {
	v, _, _ := p.sf.Do(strconv.FormatUint(key, 10), func() (interface{}, error) {
		req := &evalRequest{key: key, planes: planes, resultCh: make(chan CacheEntry, 1), enqueued: time.Now()}
		p.queue <- req
		return <-req.resultCh, nil
	})
	return v.(CacheEntry)
}

func (p *workerPool) workerLoop(ctx context.Context) {
	for {
		var batch []*evalRequest
		select {
		case <-ctx.Done():
			return
		case first := <-p.queue:
			batch = append(batch, first)
		}

		deadline := time.NewTimer(p.batchWait)
	drain:
		for len(batch) < p.batchMax {
			select {
			case req := <-p.queue:
				batch = append(batch, req)
			case <-deadline.C:
				break drain
			case <-ctx.Done():
				deadline.Stop()
				for _, req := range batch {
					req.resultCh <- CacheEntry{}
				}
				return
			}
		}
		deadline.Stop()

		inferStart := time.Now()
		for _, req := range batch {
			entry := p.eval.runForward(req.planes)
			p.eval.storeCache(req.key, entry)
			req.resultCh <- entry
		}
		inferUs := time.Since(inferStart).Microseconds()

		batchesCounter.Add(ctx, 1)
		positionsCounter.Add(ctx, int64(len(batch)))
		inferHist.Record(ctx, inferUs)
		now := time.Now()
		for _, req := range batch {
			queueWaitHist.Record(ctx, inferStart.Sub(req.enqueued).Microseconds())
			latencyHist.Record(ctx, now.Sub(req.enqueued).Microseconds())
		}
	}
}
