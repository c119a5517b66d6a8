// Package sim drives the stochastic simulation. The Scheduler owns the
// mixture and a single random stream and executes reaction events in
// continuous time; probes attached to the scheduler see the state at
// every observation and snapshot instant.
package sim

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/plucky/sitesim/internal/mix"
	"github.com/plucky/sitesim/internal/params"
	"github.com/plucky/sitesim/internal/sig"
)

// Probe receives the observation and snapshot instants of a run.
// Implemented by the monitor (observation rows) and the snapshot writer.
//
// Probe failures are logged and the run continues: a full disk must not
// change the trajectory, which depends only on the random stream.
type Probe interface {
	Observe(t float64, events int64) error
	Snapshot(t float64, events int64) error
}

// StopCondition is evaluated after every observation instant. A non-empty
// reason ends the run.
type StopCondition interface {
	ShouldStop() (reason string, stop bool)
}

// StopReason says why a run ended.
type StopReason string

const (
	// StopLimit means the simulation limit was reached.
	StopLimit StopReason = "limit"
	// StopPredicate means a stop condition ended the run; Result.Detail
	// holds its reason.
	StopPredicate StopReason = "predicate"
	// StopDegenerate means the total activity dropped to zero.
	StopDegenerate StopReason = "degenerate"
	// StopCancelled means the context was cancelled.
	StopCancelled StopReason = "cancelled"
	// StopError means an event violated a mixture invariant; Result.Detail
	// holds the error text.
	StopError StopReason = "error"
)

// Counts tallies executed events per reaction channel. Null counts the
// clock advances to observation instants that displaced a reaction.
type Counts struct {
	Inter   int64
	Intra   int64
	Unbind  int64
	Inflow  int64
	Outflow int64
	Null    int64
}

// Total returns the number of reaction events, nulls excluded.
func (c Counts) Total() int64 {
	return c.Inter + c.Intra + c.Unbind + c.Inflow + c.Outflow
}

// Result summarizes a finished run.
type Result struct {
	Reason StopReason
	Detail string // predicate reason or error text, per Reason
	Time   float64
	Events int64
	Counts Counts
}

// Scheduler executes the event loop.
//
// All mutations happen in the goroutine that calls Run. The random
// stream is consumed in a fixed order per event (waiting time, channel
// selection, site selection), so equal seeds give equal trajectories.
type Scheduler struct {
	reg *sig.Registry
	x   *mix.Mixture
	set *params.Set
	rng Stream

	probes []Probe
	stops  []StopCondition

	time   float64
	events int64
	counts Counts
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithStream replaces the seeded stream, mainly for tests that script
// the variates.
func WithStream(rng Stream) Option {
	return func(s *Scheduler) { s.rng = rng }
}

// WithProbe attaches a probe. Probes fire in attachment order.
func WithProbe(p Probe) Option {
	return func(s *Scheduler) { s.probes = append(s.probes, p) }
}

// WithStop attaches a stop condition.
func WithStop(c StopCondition) Option {
	return func(s *Scheduler) { s.stops = append(s.stops, c) }
}

// New returns a Scheduler over x. The stream is seeded from set unless
// WithStream overrides it.
func New(reg *sig.Registry, x *mix.Mixture, set *params.Set, opts ...Option) *Scheduler {
	s := &Scheduler{
		reg: reg,
		x:   x,
		set: set,
		rng: NewStream(set.Seed),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Time returns the current simulated time.
func (s *Scheduler) Time() float64 { return s.time }

// Events returns the number of reaction events executed so far.
func (s *Scheduler) Events() int64 { return s.events }

// Counts returns the per-channel event tallies.
func (s *Scheduler) Counts() Counts { return s.counts }

// Mixture returns the mixture the scheduler drives.
func (s *Scheduler) Mixture() *mix.Mixture { return s.x }

// Run executes the event loop until the limit, a stop condition, zero
// activity, or cancellation. Cancellation is checked between events.
func (s *Scheduler) Run(ctx context.Context) (Result, error) {
	slog.Info("run starting",
		"seed", s.set.Seed,
		"limit", s.set.SimLimit,
		"unit", s.set.SimLimitUnit,
		"species", s.x.Species(),
		"molecules", s.x.MoleculeCount(),
	)
	s.fireObserve()
	var res Result
	var err error
	if s.set.SimLimitUnit == params.LimitEvent {
		res, err = s.runEvents(ctx)
	} else {
		res, err = s.runTime(ctx)
	}
	slog.Info("run finished",
		"reason", res.Reason,
		"time", res.Time,
		"events", res.Events,
		"nulls", res.Counts.Null,
	)
	return res, err
}

// runTime advances a continuous clock. When the next waiting time would
// carry the clock past an observation or snapshot instant, the clock is
// clamped to that instant and no reaction fires; the exponential clock
// is memoryless, so redrawing from the instant is exact.
func (s *Scheduler) runTime(ctx context.Context) (Result, error) {
	limit := s.set.SimLimit
	obsPeriod, snapPeriod := s.set.ObservationPeriods()
	var obsDone, snapDone int64

	for {
		select {
		case <-ctx.Done():
			return s.result(StopCancelled, ""), ctx.Err()
		default:
		}

		total := s.x.TotalActivity()
		if total <= 0 {
			return s.result(StopDegenerate, ""), nil
		}

		nextObs := obsPeriod * float64(obsDone+1)
		nextSnap := snapPeriod * float64(snapDone+1)
		edge := math.Min(math.Min(nextObs, nextSnap), limit)

		dt := s.rng.Exp(total)
		if s.time+dt >= edge {
			s.time = edge
			s.counts.Null++
			if edge == nextObs {
				obsDone++
				s.fireObserve()
				if reason, stop := s.shouldStop(); stop {
					return s.result(StopPredicate, reason), nil
				}
			}
			if edge == nextSnap {
				snapDone++
				s.fireSnapshot()
			}
			if edge >= limit {
				return s.result(StopLimit, ""), nil
			}
			continue
		}

		s.time += dt
		fired, err := s.execute(total)
		if err != nil {
			return s.failResult(err), err
		}
		if fired {
			s.events++
		}
	}
}

// runEvents advances an event counter; observation and snapshot
// frequencies are taken as event counts.
func (s *Scheduler) runEvents(ctx context.Context) (Result, error) {
	limit := int64(s.set.SimLimit)
	obsEvery := int64(s.set.ObsFrequency)
	if obsEvery < 1 {
		obsEvery = 1
	}
	snapEvery := int64(s.set.SnapFrequency)

	for {
		select {
		case <-ctx.Done():
			return s.result(StopCancelled, ""), ctx.Err()
		default:
		}

		total := s.x.TotalActivity()
		if total <= 0 {
			return s.result(StopDegenerate, ""), nil
		}

		s.time += s.rng.Exp(total)
		fired, err := s.execute(total)
		if err != nil {
			return s.failResult(err), err
		}
		if !fired {
			continue
		}
		s.events++

		if s.events%obsEvery == 0 {
			s.fireObserve()
			if reason, stop := s.shouldStop(); stop {
				return s.result(StopPredicate, reason), nil
			}
		}
		if snapEvery > 0 && s.events%snapEvery == 0 {
			s.fireSnapshot()
		}
		if s.events >= limit {
			return s.result(StopLimit, ""), nil
		}
	}
}

func (s *Scheduler) result(r StopReason, detail string) Result {
	return Result{Reason: r, Detail: detail, Time: s.time, Events: s.events, Counts: s.counts}
}

// failResult labels a run ended by a broken mixture invariant. Such an
// abort reflects a scheduler or bookkeeping bug, not zero activity.
func (s *Scheduler) failResult(err error) Result {
	return s.result(StopError, err.Error())
}

// execute draws and performs one reaction event, reporting whether one
// fired. Channels are scanned in a fixed order: inflow, outflow,
// intramolecular binding, dissociation, intermolecular binding; within
// a channel, agent types and bond types are scanned in declaration
// order. The residual of the selection variate carries into the
// weighted species draw.
func (s *Scheduler) execute(total float64) (bool, error) {
	rv := s.rng.Float64() * total
	inflow, outflow, intra, diss, inter := s.x.ChannelTotals()

	if rv < inflow {
		at := pickFlow(s.reg.AgentTypes(), s.x.InflowActivity, rv)
		if _, err := s.x.Instantiate(at); err != nil {
			return false, fmt.Errorf("inflow of %s: %w", at, err)
		}
		s.counts.Inflow++
		return true, nil
	}
	rv -= inflow

	if rv < outflow {
		at := pickFlow(s.reg.AgentTypes(), s.x.OutflowActivity, rv)
		m, ok := s.x.OutflowTarget(at)
		if !ok {
			return false, fmt.Errorf("outflow of %s: no free instance", at)
		}
		if err := s.x.Remove(m); err != nil {
			return false, fmt.Errorf("outflow of %s: %w", at, err)
		}
		s.counts.Outflow++
		return true, nil
	}
	rv -= outflow

	if rv < intra {
		bt, res := pickBond(s.reg.BondTypes(), s.x.IntraActivity, rv)
		m := s.x.DrawIntra(bt, res)
		p1, p2 := s.x.DrawIntraPair(m, bt, s.rng)
		if _, err := s.x.BindIntra(m, p1, p2); err != nil {
			return false, fmt.Errorf("ring closure %s: %w", bt, err)
		}
		s.counts.Intra++
		return true, nil
	}
	rv -= intra

	if rv < diss {
		bt, res := pickBond(s.reg.BondTypes(), s.x.DissActivity, rv)
		m := s.x.DrawDiss(bt, res)
		b := s.x.DrawBondOf(m, bt, s.rng)
		if _, err := s.x.Unbind(m, b); err != nil {
			return false, fmt.Errorf("dissociation %s: %w", bt, err)
		}
		s.counts.Unbind++
		return true, nil
	}
	rv -= diss

	if rv < inter {
		bt, _ := pickBond(s.reg.BondTypes(), s.x.InterActivity, rv)
		m1, m2, p1, p2 := s.x.DrawInterPair(bt, s.rng)
		if _, err := s.x.BindInter(m1, m2, p1, p2); err != nil {
			return false, fmt.Errorf("binding %s: %w", bt, err)
		}
		s.counts.Inter++
		return true, nil
	}

	// The selection variate outran the channel subtotals by float
	// rounding. Nothing fires.
	s.counts.Null++
	return false, nil
}

// pickFlow scans the per-agent-type activities and returns the type
// holding rv. Rounding overruns clamp to the last active type.
func pickFlow(types []string, act func(string) float64, rv float64) string {
	var last string
	for _, at := range types {
		a := act(at)
		if a <= 0 {
			continue
		}
		last = at
		if rv < a {
			return at
		}
		rv -= a
	}
	return last
}

// pickBond scans the per-bond-type activities and returns the type
// holding rv together with the residual inside that type's slot.
func pickBond(types []sig.BondType, act func(sig.BondType) float64, rv float64) (sig.BondType, float64) {
	var last sig.BondType
	var lastA float64
	for _, bt := range types {
		a := act(bt)
		if a <= 0 {
			continue
		}
		last, lastA = bt, a
		if rv < a {
			return bt, rv
		}
		rv -= a
	}
	return last, math.Nextafter(lastA, 0)
}

func (s *Scheduler) fireObserve() {
	for _, p := range s.probes {
		if err := p.Observe(s.time, s.events); err != nil {
			slog.Error("observation failed", "error", err, "time", s.time, "events", s.events)
		}
	}
}

func (s *Scheduler) fireSnapshot() {
	for _, p := range s.probes {
		if err := p.Snapshot(s.time, s.events); err != nil {
			slog.Error("snapshot failed", "error", err, "time", s.time, "events", s.events)
		}
	}
}

func (s *Scheduler) shouldStop() (string, bool) {
	for _, c := range s.stops {
		if reason, stop := c.ShouldStop(); stop {
			return reason, true
		}
	}
	return "", false
}
