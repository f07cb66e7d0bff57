package obstacle

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/banshee-data/foresight/internal/estimator"
	"github.com/banshee-data/foresight/internal/monitoring"
)

// UnboundID is the identifier of an obstacle that has not yet accepted a
// detection. The first successful ingestion binds the id permanently.
const UnboundID = -1

// Domain rejections. An ingestion or update that fails with one of these
// leaves the obstacle byte-for-byte unchanged; the caller observes the
// outcome through the returned error and may simply wait for the next
// frame. Wrapped with context at each return site, so match with
// errors.Is.
var (
	ErrMissingID      = errors.New("detection has no id")
	ErrIDMismatch     = errors.New("detection id does not match bound id")
	ErrMissingType    = errors.New("detection has no type")
	ErrStaleTimestamp = errors.New("detection timestamp not newer than history front")
	ErrOrderViolation = errors.New("update breaks descending timestamp order")
)

// Config carries the entity-level tuning knobs.
type Config struct {
	// MinAcc and MaxAcc bound the damped acceleration estimate, m/s².
	MinAcc float64
	MaxAcc float64
	// MaxFeatureHistory trims the oldest feature once the history exceeds
	// this length. 0 keeps the history unbounded.
	MaxFeatureHistory int
}

// DefaultConfig returns the stock tuning: ±10 m/s² clamp, unbounded history.
func DefaultConfig() Config {
	return Config{MinAcc: -10.0, MaxAcc: 10.0}
}

// Obstacle is one tracked object's kinematic state: an identifier bound on
// first ingestion, a classification overwritten per frame, a feature
// history ordered most-recent-first with strictly descending timestamps,
// and handles to the opaque estimators smoothing its motion.
//
// Every operation takes the entity's own mutex for its full duration, so
// distinct obstacles update in parallel and a read never observes a
// half-built feature. Do not call another Obstacle method from inside an
// Update* closure; the lock is not reentrant and doing so deadlocks.
type Obstacle struct {
	mu sync.Mutex

	id      int
	typ     Type
	history []Feature // index 0 is the newest feature

	motionTracker estimator.Filter
	laneTrackers  map[string]estimator.Filter

	cfg Config
}

// New creates an unbound obstacle with empty history.
func New(cfg Config) *Obstacle {
	return &Obstacle{
		id:           UnboundID,
		laneTrackers: make(map[string]estimator.Filter),
		cfg:          cfg,
	}
}

// Insert runs the ingestion pipeline for one raw detection as a single
// atomic operation: resolve the candidate timestamp, gate freshness,
// resolve identity and type, derive the kinematic fields, and only then
// commit — bind the id if unbound, overwrite the type, and prepend the
// fully-built feature. ingestTimestamp is the caller's clock, used when
// the detection carries no usable timestamp of its own.
//
// A nil return means the feature was accepted. A rejection returns one of
// the sentinel errors above and mutates nothing: a first insert that
// fails type resolution leaves the id unbound.
func (o *Obstacle) Insert(det Detection, ingestTimestamp float64) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	// Timestamp resolution comes first so the freshness gate and the
	// stored feature agree on the same value.
	ts := ingestTimestamp
	if det.Timestamp != nil && *det.Timestamp > 0.0 {
		ts = *det.Timestamp
	}

	if len(o.history) > 0 && ts <= o.history[0].Timestamp {
		monitoring.Diagf("obstacle [%d] received an older frame [%.6f] than the most recent timestamp [%.6f]", o.id, ts, o.history[0].Timestamp)
		return fmt.Errorf("frame at %.6f against front %.6f: %w", ts, o.history[0].Timestamp, ErrStaleTimestamp)
	}

	// Identity resolution. Negative ids collide with the unbound sentinel
	// and are treated as missing. Binding is staged: o.id is not written
	// until the whole pipeline has passed.
	if det.ID == nil || *det.ID < 0 {
		monitoring.Diagf("obstacle [%d] received a detection with no id", o.id)
		return fmt.Errorf("ingest: %w", ErrMissingID)
	}
	id := *det.ID
	if o.id != UnboundID && o.id != id {
		monitoring.Diagf("obstacle [%d] received a mismatched id [%d]", o.id, id)
		return fmt.Errorf("detection id %d against bound id %d: %w", id, o.id, ErrIDMismatch)
	}

	if det.Type == nil || *det.Type == "" {
		monitoring.Diagf("obstacle [%d] received a detection with no type", o.id)
		return fmt.Errorf("ingest: %w", ErrMissingType)
	}

	f := Feature{ID: id, Timestamp: ts}
	f.Position = det.Position.resolve()
	f.Velocity = det.Velocity.resolve()
	f.Speed = f.Velocity.Norm()
	f.VelocityHeading = math.Atan2(f.Velocity.Y, f.Velocity.X)
	if len(o.history) > 0 {
		front := &o.history[0]
		f.Acceleration, f.AccMagnitude = dampedAcceleration(
			f.Velocity, f.Timestamp,
			front.Velocity, front.Timestamp,
			o.cfg.MinAcc, o.cfg.MaxAcc,
		)
	}
	if det.Theta != nil {
		f.Theta = *det.Theta
	}

	// Commit. Nothing above mutated the entity.
	o.id = id
	o.typ = *det.Type
	o.prepend(f)

	monitoring.Tracef("obstacle [%d] accepted feature at [%.6f] speed [%.3f]", o.id, f.Timestamp, f.Speed)
	return nil
}

// prepend pushes f to the front of the history and trims the oldest
// feature when a history bound is configured.
func (o *Obstacle) prepend(f Feature) {
	o.history = append(o.history, Feature{})
	copy(o.history[1:], o.history)
	o.history[0] = f
	if o.cfg.MaxFeatureHistory > 0 && len(o.history) > o.cfg.MaxFeatureHistory {
		o.history = o.history[:o.cfg.MaxFeatureHistory]
	}
}

// ID returns the bound identifier, or UnboundID before the first
// successful ingestion.
func (o *Obstacle) ID() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.id
}

// Type returns the classification from the last successful ingestion, or
// the empty string before the first one.
func (o *Obstacle) Type() Type {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.typ
}

// Timestamp returns the front feature's timestamp, or 0.0 if the history
// is empty.
func (o *Obstacle) Timestamp() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.history) > 0 {
		return o.history[0].Timestamp
	}
	return 0.0
}

// HistorySize returns the number of stored features.
func (o *Obstacle) HistorySize() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.history)
}

// Feature returns a copy of the feature at position i, where 0 is the most
// recent. Indexing at or past HistorySize is a caller contract violation
// and panics; check HistorySize first.
func (o *Obstacle) Feature(i int) Feature {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.checkIndex(i)
	return o.history[i]
}

// LatestFeature returns a copy of the front feature. Calling it on an
// empty history is a caller contract violation and panics; check
// HistorySize first.
func (o *Obstacle) LatestFeature() Feature {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.checkNonEmpty()
	return o.history[0]
}

// Features returns a snapshot copy of the history, newest first. A
// positive limit caps the number of features returned.
func (o *Obstacle) Features(limit int) []Feature {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := len(o.history)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Feature, n)
	copy(out, o.history[:n])
	return out
}

// UpdateFeature applies fn to the stored feature at position i and
// re-validates the strictly-descending timestamp ordering afterwards. If
// the mutation broke the ordering the previous contents are restored and
// ErrOrderViolation is returned. Indexing past the history panics, the
// same contract as Feature.
//
// This is the only mutable access to stored features: handing out raw
// pointers would let external writers silently break the ordering
// invariant.
func (o *Obstacle) UpdateFeature(i int, fn func(*Feature)) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.checkIndex(i)

	prev := o.history[i]
	fn(&o.history[i])
	if !o.orderedAround(i) {
		o.history[i] = prev
		return fmt.Errorf("feature %d timestamp %.6f: %w", i, prev.Timestamp, ErrOrderViolation)
	}
	return nil
}

// UpdateLatestFeature applies fn to the front feature under the same
// re-validation contract as UpdateFeature. Panics on empty history.
func (o *Obstacle) UpdateLatestFeature(fn func(*Feature)) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.checkNonEmpty()

	prev := o.history[0]
	fn(&o.history[0])
	if !o.orderedAround(0) {
		o.history[0] = prev
		return fmt.Errorf("latest feature timestamp %.6f: %w", prev.Timestamp, ErrOrderViolation)
	}
	return nil
}

// orderedAround verifies the descending-timestamp invariant against the
// neighbours of position i.
func (o *Obstacle) orderedAround(i int) bool {
	if i > 0 && o.history[i-1].Timestamp <= o.history[i].Timestamp {
		return false
	}
	if i < len(o.history)-1 && o.history[i].Timestamp <= o.history[i+1].Timestamp {
		return false
	}
	return true
}

// SetMotionTracker attaches the opaque planar motion estimator for this
// obstacle, replacing any previous one.
func (o *Obstacle) SetMotionTracker(f estimator.Filter) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.motionTracker = f
}

// MotionTracker returns the attached motion estimator, if any.
func (o *Obstacle) MotionTracker() (estimator.Filter, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.motionTracker, o.motionTracker != nil
}

// SetLaneTracker attaches the opaque estimator for the given lane,
// replacing any previous one.
func (o *Obstacle) SetLaneTracker(laneID string, f estimator.Filter) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.laneTrackers[laneID] = f
}

// HasLaneTracker reports whether a tracker exists for the given lane. This
// is the presence check callers of LaneTracker must perform.
func (o *Obstacle) HasLaneTracker(laneID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.laneTrackers[laneID]
	return ok
}

// LaneTracker returns the estimator for the given lane. Looking up an
// absent lane is a caller contract violation and panics; a prior
// association step is expected to have created the tracker (see
// HasLaneTracker/SetLaneTracker).
func (o *Obstacle) LaneTracker(laneID string) estimator.Filter {
	o.mu.Lock()
	defer o.mu.Unlock()
	f, ok := o.laneTrackers[laneID]
	if !ok {
		panic(fmt.Sprintf("obstacle [%d]: no lane tracker for lane %q", o.id, laneID))
	}
	return f
}

// LaneIDs returns the lanes that currently have a tracker attached.
func (o *Obstacle) LaneIDs() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	ids := make([]string, 0, len(o.laneTrackers))
	for id := range o.laneTrackers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (o *Obstacle) checkIndex(i int) {
	if i < 0 || i >= len(o.history) {
		panic(fmt.Sprintf("obstacle [%d]: feature index %d out of range, history size %d", o.id, i, len(o.history)))
	}
}

func (o *Obstacle) checkNonEmpty() {
	if len(o.history) == 0 {
		panic(fmt.Sprintf("obstacle [%d]: empty feature history", o.id))
	}
}
