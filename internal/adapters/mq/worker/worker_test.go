package worker_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	queue "github.com/okian/voxmeter/internal/adapters/mq/queue"
	worker "github.com/okian/voxmeter/internal/adapters/mq/worker"
	model "github.com/okian/voxmeter/internal/domain/model"
	logging "github.com/okian/voxmeter/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

type mockQueue struct {
	jobs chan queue.Job
	once sync.Once
}

func newMockQueue() *mockQueue {
	return &mockQueue{jobs: make(chan queue.Job, 128)}
}

func (mq *mockQueue) Dequeue(ctx context.Context) <-chan queue.Job {
	return mq.jobs
}

func (mq *mockQueue) Close() error {
	mq.once.Do(func() { close(mq.jobs) })
	return nil
}

func (mq *mockQueue) add(key string) {
	mq.jobs <- queue.Job{Caller: model.IdentityContext{Key: key}, Reason: "usage", EnqueuedAt: time.Now()}
}

type recordingProcessor struct {
	mu      sync.Mutex
	seen    map[string]int
	fail    map[string]error
	handled chan string
}

func newRecordingProcessor() *recordingProcessor {
	return &recordingProcessor{
		seen:    make(map[string]int),
		fail:    make(map[string]error),
		handled: make(chan string, 256),
	}
}

func (p *recordingProcessor) Process(_ context.Context, j worker.Job) error {
	p.mu.Lock()
	err := p.fail[j.Caller.Key]
	if err == nil {
		p.seen[j.Caller.Key]++
	}
	p.mu.Unlock()
	p.handled <- j.Caller.Key
	return err
}

func (p *recordingProcessor) setError(key string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fail[key] = err
}

func (p *recordingProcessor) count(key string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.seen[key]
}

func (p *recordingProcessor) wait(n int) bool {
	for i := 0; i < n; i++ {
		select {
		case <-p.handled:
		case <-time.After(2 * time.Second):
			return false
		}
	}
	return true
}

func TestInMemoryWorker(t *testing.T) {
	convey.Convey("Given a new InMemoryWorker", t, func() {
		_ = logging.Init(logging.WithWriter(io.Discard))

		q := newMockQueue()
		proc := newRecordingProcessor()

		convey.Convey("When creating a worker with custom options", func() {
			w := worker.NewInMemoryWorker(q, proc, worker.WithName("test-worker"))

			convey.Convey("Then it should be created successfully", func() {
				convey.So(w, convey.ShouldNotBeNil)
			})
		})

		convey.Convey("When running a worker", func() {
			w := worker.NewInMemoryWorker(q, proc)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			go w.Run(ctx)

			convey.Convey("And when a job arrives", func() {
				q.add("guest:a")

				convey.Convey("Then it is processed", func() {
					convey.So(proc.wait(1), convey.ShouldBeTrue)
					convey.So(proc.count("guest:a"), convey.ShouldEqual, 1)
				})
			})

			convey.Convey("And when a job fails", func() {
				proc.setError("guest:bad", errors.New("authority down"))
				q.add("guest:bad")
				q.add("guest:good")

				convey.Convey("Then the worker keeps going", func() {
					convey.So(proc.wait(2), convey.ShouldBeTrue)
					convey.So(proc.count("guest:bad"), convey.ShouldEqual, 0)
					convey.So(proc.count("guest:good"), convey.ShouldEqual, 1)
				})
			})

			convey.Convey("And when shutting down", func() {
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Second)
				defer shutdownCancel()

				err := w.Shutdown(shutdownCtx)

				convey.Convey("Then it should shutdown gracefully", func() {
					convey.So(err, convey.ShouldBeNil)
					convey.So(w.Shutdown(shutdownCtx), convey.ShouldBeNil)
				})
			})
		})

		convey.Convey("When the queue closes", func() {
			w := worker.NewInMemoryWorker(q, proc)
			go w.Run(context.Background())
			_ = q.Close()

			convey.Convey("Then the worker stops on its own", func() {
				ctx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				convey.So(w.Shutdown(ctx), convey.ShouldBeNil)
			})
		})
	})
}

func TestWorkerPool(t *testing.T) {
	convey.Convey("Given a worker pool", t, func() {
		_ = logging.Init(logging.WithWriter(io.Discard))

		q := newMockQueue()
		proc := newRecordingProcessor()

		convey.Convey("When creating a pool with a non-positive count", func() {
			pool := worker.NewPool(0, q, proc)

			convey.Convey("Then one worker is used", func() {
				convey.So(pool.Size(), convey.ShouldEqual, 1)
			})
		})

		convey.Convey("When many jobs are enqueued concurrently", func() {
			pool := worker.NewPool(4, q, proc)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			pool.Start(ctx)

			const producers, perProducer = 5, 20
			var wg sync.WaitGroup
			for i := 0; i < producers; i++ {
				wg.Add(1)
				go func(id int) {
					defer wg.Done()
					for j := 0; j < perProducer; j++ {
						q.add(fmt.Sprintf("guest:%d-%d", id, j))
					}
				}(i)
			}
			wg.Wait()

			convey.Convey("Then every job is processed exactly once", func() {
				convey.So(proc.wait(producers*perProducer), convey.ShouldBeTrue)
				total := 0
				for i := 0; i < producers; i++ {
					for j := 0; j < perProducer; j++ {
						total += proc.count(fmt.Sprintf("guest:%d-%d", i, j))
					}
				}
				convey.So(total, convey.ShouldEqual, producers*perProducer)
			})

			convey.Convey("Then the pool shuts down and closes the queue", func() {
				convey.So(proc.wait(producers*perProducer), convey.ShouldBeTrue)
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Second)
				defer shutdownCancel()
				convey.So(pool.Shutdown(shutdownCtx), convey.ShouldBeNil)
				_, open := <-q.jobs
				convey.So(open, convey.ShouldBeFalse)
			})
		})
	})
}

func TestProcessorFunc(t *testing.T) {
	convey.Convey("Given a function processor", t, func() {
		called := ""
		p := worker.ProcessorFunc(func(_ context.Context, j worker.Job) error {
			called = j.Caller.Key
			return nil
		})

		convey.Convey("When processing", func() {
			err := p.Process(context.Background(), worker.Job{Caller: model.IdentityContext{Key: "user:1"}})

			convey.Convey("Then the function is invoked", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(called, convey.ShouldEqual, "user:1")
			})
		})
	})
}
