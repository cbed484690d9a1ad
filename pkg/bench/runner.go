package bench

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/downfa11-org/bigqueue/pkg/array"
	"github.com/downfa11-org/bigqueue/pkg/fanout"
)

type BenchmarkRunner struct {
	Dir                 string
	Queue               string
	NumProducers        int
	NumConsumers        int
	MessagesPerProducer int
	MessageSize         int
	DataPageSize        int
}

// Result summarizes one benchmark run.
type Result struct {
	Produced int
	Consumed int
	Duration time.Duration
}

func (r Result) Throughput() float64 {
	if r.Duration <= 0 {
		return 0
	}
	return float64(r.Produced) / r.Duration.Seconds()
}

func NewBenchmarkRunner(dir, queueName string, producers, consumers, messages, size, pageSize int) *BenchmarkRunner {
	return &BenchmarkRunner{
		Dir:                 dir,
		Queue:               queueName,
		NumProducers:        producers,
		NumConsumers:        consumers,
		MessagesPerProducer: messages,
		MessageSize:         size,
		DataPageSize:        pageSize,
	}
}

// Run appends from every producer while each consumer drains the queue
// through its own fan-out id.
func (b *BenchmarkRunner) Run() (Result, error) {
	q, err := fanout.Open(b.Dir, b.Queue, array.WithDataPageSize(b.DataPageSize))
	if err != nil {
		return Result{}, err
	}
	defer q.Close()

	totalMessages := b.NumProducers * b.MessagesPerProducer
	start := time.Now()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	fail := func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}

	for i := 0; i < b.NumProducers; i++ {
		wg.Add(1)
		go func(pid int) {
			defer wg.Done()
			client := &BenchClient{Queue: q, ID: fmt.Sprintf("producer-%d", pid), MessageSize: b.MessageSize}
			if err := client.Produce(b.MessagesPerProducer); err != nil {
				fail(fmt.Errorf("producer %d: %w", pid, err))
			}
		}(i)
	}

	consumed := make([]int, b.NumConsumers)
	for i := 0; i < b.NumConsumers; i++ {
		wg.Add(1)
		go func(cid int) {
			defer wg.Done()
			client := &BenchClient{Queue: q, ID: uuid.NewString()}
			n, err := client.Consume(totalMessages)
			consumed[cid] = n
			if err != nil {
				fail(fmt.Errorf("consumer %d: %w", cid, err))
			}
		}(i)
	}
	wg.Wait()

	res := Result{Produced: totalMessages, Duration: time.Since(start)}
	for _, n := range consumed {
		res.Consumed += n
	}
	return res, errors.Join(errs...)
}

func (b *BenchmarkRunner) Print(res Result) {
	fmt.Printf("\n🧪 BENCHMARK RESULT [disk] 🧪\n")
	fmt.Printf("-------------------------------------\n")
	fmt.Printf(" Producers     : %d\n", b.NumProducers)
	fmt.Printf(" Consumers     : %d\n", b.NumConsumers)
	fmt.Printf(" Message Size  : %d\n", b.MessageSize)
	fmt.Printf(" Total Messages: %d\n", res.Produced)
	fmt.Printf(" Consumed      : %d\n", res.Consumed)
	fmt.Printf(" Duration      : %v\n", res.Duration)
	fmt.Printf(" Throughput    : %.2f msg/sec\n", res.Throughput())
	fmt.Printf("-------------------------------------\n")
}
