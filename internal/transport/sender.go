package transport

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

type sendJob struct {
	to    net.Addr
	peer  PeerID
	frame []byte
}

// sendPool performs datagram writes off the caller's goroutine. The queue is
// bounded: when it is full the job is dropped and counted, never blocked on.
type sendPool struct {
	conn        PacketConn
	jobs        chan sendJob
	workers     int
	logInterval time.Duration
	onSent      func(to net.Addr, b []byte)

	dropped atomic.Uint64
	failed  atomic.Uint64
	sent    atomic.Uint64

	mu              sync.Mutex
	lastErr         error
	reportedDropped uint64
	reportedFailed  uint64

	wg sync.WaitGroup
}

func newSendPool(conn PacketConn, workers, queue int, logInterval time.Duration, onSent func(net.Addr, []byte)) *sendPool {
	if workers < 1 {
		workers = 1
	}
	if queue < 1 {
		queue = 1
	}
	if logInterval <= 0 {
		logInterval = time.Minute
	}
	return &sendPool{
		conn:        conn,
		jobs:        make(chan sendJob, queue),
		workers:     workers,
		logInterval: logInterval,
		onSent:      onSent,
	}
}

// start launches the workers and the error reporter. Workers drain the
// queue after ctx is cancelled so queued sends still complete or fail.
func (p *sendPool) start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for job := range p.jobs {
				p.write(job)
			}
		}()
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.logInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.report()
			}
		}
	}()
}

func (p *sendPool) write(job sendJob) {
	if _, err := p.conn.WriteTo(job.frame, job.to); err != nil {
		p.failed.Add(1)
		p.mu.Lock()
		p.lastErr = err
		p.mu.Unlock()
		return
	}
	p.sent.Add(1)
	if p.onSent != nil {
		p.onSent(job.to, job.frame)
	}
}

// enqueue queues a job without blocking. It reports false when the job was
// dropped.
func (p *sendPool) enqueue(job sendJob) bool {
	select {
	case p.jobs <- job:
		return true
	default:
		p.dropped.Add(1)
		return false
	}
}

// report logs failures since the previous report, if any.
func (p *sendPool) report() {
	p.mu.Lock()
	defer p.mu.Unlock()

	dropped, failed := p.dropped.Load(), p.failed.Load()
	newDropped, newFailed := dropped-p.reportedDropped, failed-p.reportedFailed
	p.reportedDropped, p.reportedFailed = dropped, failed
	err := p.lastErr
	p.lastErr = nil

	if newDropped == 0 && newFailed == 0 {
		return
	}
	logf("\033[93msend: %d dropped (queue full), %d failed (latest: %v)\033[0m", newDropped, newFailed, err)
}

// SendStats are cumulative send counters.
type SendStats struct {
	Sent    uint64 `json:"sent"`
	Dropped uint64 `json:"dropped"`
	Failed  uint64 `json:"failed"`
}

func (p *sendPool) stats() SendStats {
	return SendStats{Sent: p.sent.Load(), Dropped: p.dropped.Load(), Failed: p.failed.Load()}
}

// stop closes the queue and waits for the workers to finish it.
func (p *sendPool) stop() {
	close(p.jobs)
	p.wg.Wait()
	p.report()
}
