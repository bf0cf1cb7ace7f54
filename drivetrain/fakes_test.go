package drivetrain

import (
	"sync"
	"time"
)

type event struct {
	wheel string
	op    string
	value float64
}

type recorder struct {
	mu     sync.Mutex
	events []event
}

func (r *recorder) add(e event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) all() []event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]event(nil), r.events...)
}

// fakeActuator records every call. Its encoder only moves when a test moves it.
type fakeActuator struct {
	name string
	rec  *recorder

	mu        sync.Mutex
	power     float64
	maxPower  float64
	mode      RunMode
	target    int
	position  int
	direction Direction
	zeroPower ZeroPowerBehavior

	// onBusy, when set, replaces the default arrival check.
	onBusy func(a *fakeActuator) (bool, error)
	// onPower, when set, is called after every SetPower.
	onPower func(power float64) error
}

func (a *fakeActuator) SetPower(power float64) error {
	a.mu.Lock()
	a.power = power
	if power*power > a.maxPower*a.maxPower {
		a.maxPower = power
	}
	hook := a.onPower
	a.mu.Unlock()
	a.rec.add(event{a.name, "power", power})
	if hook != nil {
		return hook(power)
	}
	return nil
}

func (a *fakeActuator) SetRunMode(mode RunMode) error {
	a.mu.Lock()
	a.mode = mode
	if mode == ResetEncoder {
		a.position = 0
		a.power = 0
	}
	a.mu.Unlock()
	a.rec.add(event{a.name, "mode:" + mode.String(), 0})
	return nil
}

func (a *fakeActuator) SetTargetPosition(ticks int) error {
	a.mu.Lock()
	a.target = ticks
	a.mu.Unlock()
	a.rec.add(event{a.name, "target", float64(ticks)})
	return nil
}

func (a *fakeActuator) CurrentPosition() (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.position, nil
}

func (a *fakeActuator) IsBusy() (bool, error) {
	if a.onBusy != nil {
		return a.onBusy(a)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mode == RunToPosition && a.position != a.target, nil
}

func (a *fakeActuator) SetZeroPowerBehavior(behavior ZeroPowerBehavior) error {
	a.mu.Lock()
	a.zeroPower = behavior
	a.mu.Unlock()
	a.rec.add(event{a.name, "zero_power", float64(behavior)})
	return nil
}

func (a *fakeActuator) SetDirection(direction Direction) error {
	a.mu.Lock()
	a.direction = direction
	a.mu.Unlock()
	a.rec.add(event{a.name, "direction", float64(direction)})
	return nil
}

func (a *fakeActuator) currentPower() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.power
}

func (a *fakeActuator) peakPower() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.maxPower
}

func (a *fakeActuator) setPosition(ticks int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.position = ticks
}

// arriveAfter reports busy for n polls, then jumps the encoder to the target.
func arriveAfter(n int) func(a *fakeActuator) (bool, error) {
	polls := 0
	return func(a *fakeActuator) (bool, error) {
		a.mu.Lock()
		defer a.mu.Unlock()
		if a.mode != RunToPosition {
			return false, nil
		}
		polls++
		if polls <= n {
			return true, nil
		}
		a.position = a.target
		return false, nil
	}
}

// opsFor returns the events recorded for one wheel.
func opsFor(events []event, wheel string) []event {
	var out []event
	for _, e := range events {
		if e.wheel == wheel {
			out = append(out, e)
		}
	}
	return out
}

// indexOf returns the index of the first event with op at or after from, or -1.
func indexOf(events []event, op string, from int) int {
	for i := from; i < len(events); i++ {
		if events[i].op == op {
			return i
		}
	}
	return -1
}

// lastIndexOf returns the index of the last event with op, or -1.
func lastIndexOf(events []event, op string) int {
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].op == op {
			return i
		}
	}
	return -1
}

type fakeWheels struct {
	rec            *recorder
	lf, lb, rf, rb *fakeActuator
}

func newFakeWheels() *fakeWheels {
	rec := &recorder{}
	return &fakeWheels{
		rec: rec,
		lf:  &fakeActuator{name: "lf", rec: rec},
		lb:  &fakeActuator{name: "lb", rec: rec},
		rf:  &fakeActuator{name: "rf", rec: rec},
		rb:  &fakeActuator{name: "rb", rec: rec},
	}
}

func (f *fakeWheels) set() WheelSet {
	return WheelSet{LeftFront: f.lf, LeftBack: f.lb, RightFront: f.rf, RightBack: f.rb}
}

func (f *fakeWheels) each() []*fakeActuator {
	return []*fakeActuator{f.lf, f.lb, f.rf, f.rb}
}

type fakeIMU struct {
	mu          sync.Mutex
	params      IMUParameters
	initialized bool
	integrating time.Duration
	yaw         float64
	// step is added to yaw after every read.
	step float64
	err  error
	// failAfter reads succeed before err is returned.
	failAfter int
	reads     int
}

func (i *fakeIMU) Initialize(params IMUParameters) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.params = params
	i.initialized = true
	return nil
}

func (i *fakeIMU) YawDegrees() (float64, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.err != nil && i.reads >= i.failAfter {
		return 0, i.err
	}
	i.reads++
	v := i.yaw
	i.yaw += i.step
	return v, nil
}

func (i *fakeIMU) StartAccelerationIntegration(interval time.Duration) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.integrating = interval
	return nil
}

type captureSink struct {
	mu      sync.Mutex
	reports []Progress
	err     error
	panics  bool
}

func (s *captureSink) Report(p Progress) error {
	s.mu.Lock()
	s.reports = append(s.reports, p)
	s.mu.Unlock()
	if s.panics {
		panic("sink exploded")
	}
	return s.err
}

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reports)
}
