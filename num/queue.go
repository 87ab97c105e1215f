package num

import (
	"fmt"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"
)

// Max number of functions buffered before the queue is flushed
const queueSize = 64

// Device interface type
type Device interface {
	// Setup new worker queue, threads <= 0 uses all available cpus
	NewQueue(threads int) Queue
	// Allocate new n dimensional array
	NewArray(dims ...int) Array
	NewArrayLike(a Array) Array
	// Create new DNN layers
	ConvLayer(nBatch, depth, h, w, nFeats, size, stride, pad int, noBias bool) Layer
	PoolLayer(inShape []int, size, stride int, average bool) Layer
	BatchNormLayer(inShape []int) BatchNorm
	ReluLayer(inShape []int) Layer
	UpsampleLayer(inShape []int, factor int) Layer
	SoftArgmaxLayer(inShape []int) Layer
}

// Initialise new CPU device
func NewDevice() Device {
	return cpuDevice{}
}

// A Queue processes a series of operations on a Device
type Queue interface {
	Device
	Dev() Device
	// Asyncronous function call
	Call(args ...Function) Queue
	// Wait for any pending requests to complete
	Finish()
	// Shutdown the queue and release any resources
	Shutdown()
	// Number of worker threads used by parallel kernels
	Threads() int
	// Enable profiling
	Profiling(on bool, title string)
	Profile() string
}

// Function which may be called via the queue
type Function struct {
	desc string
	fn   func(threads int)
}

func args(desc string, fn func(threads int)) Function {
	return Function{desc: desc, fn: fn}
}

// Desc returns the name of the operation
func (f Function) Desc() string { return f.desc }

type cpuDevice struct{}

type cpuQueue struct {
	cpuDevice
	threads int
	buffer  [queueSize]Function
	queued  int
	*profile
}

func (d cpuDevice) NewQueue(threads int) Queue {
	if threads <= 0 {
		threads = runtime.GOMAXPROCS(0)
	}
	return &cpuQueue{
		cpuDevice: d,
		threads:   threads,
		profile:   newProfile(),
	}
}

func (q *cpuQueue) Dev() Device { return q.cpuDevice }

func (q *cpuQueue) Threads() int { return q.threads }

func (q *cpuQueue) exec() {
	for _, f := range q.buffer[:q.queued] {
		if q.profile.enabled {
			start := time.Now()
			f.fn(q.threads)
			q.profile.add(f.desc, time.Since(start))
		} else {
			f.fn(q.threads)
		}
	}
	q.queued = 0
}

func (q *cpuQueue) Call(args ...Function) Queue {
	for _, arg := range args {
		if q.queued >= queueSize {
			q.exec()
		}
		q.buffer[q.queued] = arg
		q.queued++
	}
	return q
}

func (q *cpuQueue) Finish() {
	if q.queued > 0 {
		q.exec()
	}
}

func (q *cpuQueue) Shutdown() {
	q.Finish()
	if q.profile.enabled {
		fmt.Print(q.Profile())
	}
}

// profiling functions
type profile struct {
	sync.Mutex
	title   string
	prof    map[string]profileRec
	enabled bool
}

type profileRec struct {
	name  string
	calls int64
	msec  float64
}

func newProfile() *profile {
	return &profile{prof: make(map[string]profileRec)}
}

func (p *profile) Profiling(on bool, title string) {
	p.Lock()
	defer p.Unlock()
	p.enabled = on
	p.title = title
	p.prof = make(map[string]profileRec)
}

func (p *profile) add(name string, elapsed time.Duration) {
	p.Lock()
	defer p.Unlock()
	r := p.prof[name]
	r.name = name
	r.calls++
	r.msec += elapsed.Seconds() * 1000
	p.prof[name] = r
}

func (p *profile) Profile() string {
	p.Lock()
	defer p.Unlock()
	list := make([]profileRec, 0, len(p.prof))
	for _, v := range p.prof {
		list = append(list, v)
	}
	sort.Slice(list, func(i, j int) bool { return list[j].msec < list[i].msec })
	s := []string{"== Profile " + p.title + " =="}
	totalCalls := int64(0)
	totalMsec := 0.0
	for _, r := range list {
		s = append(s, fmt.Sprintf("%-25s %8d calls %10.1f msec", r.name, r.calls, r.msec))
		totalCalls += r.calls
		totalMsec += r.msec
	}
	s = append(s, fmt.Sprintf("%-25s %8d calls %10.1f msec", "TOTAL", totalCalls, totalMsec))
	return strings.Join(s, "\n") + "\n"
}

// run fn for each index in 0:n spread over the given number of worker threads.
// Index i is always handled by worker i % threads.
func parallel(n, threads int, fn func(worker, i int)) {
	if threads > n {
		threads = n
	}
	if threads <= 1 {
		for i := 0; i < n; i++ {
			fn(0, i)
		}
		return
	}
	var wg sync.WaitGroup
	for worker := 0; worker < threads; worker++ {
		wg.Add(1)
		go func(worker int) {
			for i := worker; i < n; i += threads {
				fn(worker, i)
			}
			wg.Done()
		}(worker)
	}
	wg.Wait()
}
