package update

import (
	"errors"
	"time"

	"github.com/ValentinKolb/dDoc/lib/store"
	"github.com/cenkalti/backoff/v4"
	"github.com/lni/dragonboat/v4/logger"
	pkgerrors "github.com/pkg/errors"
)

var log = logger.GetLogger("update")

// Policy decides how the caller's fields are turned into the new document.
type Policy int

const (
	// PolicyMerge overlays the caller's fields onto the freshly fetched document.
	PolicyMerge Policy = iota
	// PolicyReplace stores exactly the caller's fields, dropping all others.
	PolicyReplace
)

const (
	DefaultMaxAttempts = 100
	DefaultWarnEvery   = 50
)

// Options configures a Coordinator. Zero values select the defaults.
type Options struct {
	Policy      Policy
	Durability  store.Durability
	MaxAttempts int // number of commits before giving up (default DefaultMaxAttempts)
	WarnEvery   int // log a warning every n conflicts of one update (default DefaultWarnEvery, <0 disables)
}

// Result describes a committed update.
type Result struct {
	Version  store.Version // version assigned by the store
	Attempts int           // number of commits, 1 if there was no conflict
}

// Coordinator performs read-modify-write updates with compare-and-swap and
// bounded retries.
//
// Thread-safe: all state of an update lives on the stack of Update.
type Coordinator struct {
	store       store.IDocStore
	policy      Policy
	durability  store.Durability
	maxAttempts int
	warnEvery   int
	sleep       func(time.Duration)
}

// NewCoordinator creates a coordinator for the given store. opts may be nil.
func NewCoordinator(s store.IDocStore, opts *Options) *Coordinator {
	if opts == nil {
		opts = &Options{}
	}
	c := &Coordinator{
		store:       s,
		policy:      opts.Policy,
		durability:  opts.Durability,
		maxAttempts: opts.MaxAttempts,
		warnEvery:   opts.WarnEvery,
		sleep:       time.Sleep,
	}
	if c.maxAttempts <= 0 {
		c.maxAttempts = DefaultMaxAttempts
	}
	if c.warnEvery == 0 {
		c.warnEvery = DefaultWarnEvery
	}
	return c
}

// mutate builds the content to commit. The base is never modified.
func (c *Coordinator) mutate(base, fields store.Fields) store.Fields {
	if c.policy == PolicyReplace {
		return fields.Clone()
	}
	next := base.Clone()
	for k, v := range fields {
		next[k] = v
	}
	return next
}

// Update applies fields to the document stored under key (a qualified key).
//
// Every attempt fetches the current document, applies the policy and commits with
// CompareAndSwap against the fetched version. On a version conflict the same fields
// are applied again to the fresh document. Errors:
//   - ErrDocumentNotFound if the document does not exist
//   - *AbandonedError if all attempts conflicted
//   - the store error (wrapped) if a fetch or commit failed for another reason
func (c *Coordinator) Update(key string, fields store.Fields) (Result, error) {
	schedule := newSchedule(c.maxAttempts)

	var (
		state    = StateFetch
		event    Event
		base     store.Document
		next     store.Fields
		version  store.Version
		attempts int
		lastErr  error
	)

	for !state.Terminal() {
		switch state {
		case StateFetch:
			doc, found, err := c.store.Get(key)
			switch {
			case err != nil:
				event, lastErr = EventFailed, pkgerrors.Wrapf(err, "fetch %q", key)
			case !found:
				event = EventMissing
			default:
				event, base = EventFound, doc
			}

		case StateMutate:
			event, next = EventMutated, c.mutate(base.Fields, fields)

		case StateCommit:
			attempts++
			v, err := c.store.CompareAndSwap(key, base.Version, next, c.durability)
			switch {
			case err == nil:
				event, version = EventCommitted, v
			case errors.Is(err, store.ErrVersionConflict):
				event = EventConflict
			case errors.Is(err, store.ErrNotFound):
				event = EventMissing
			default:
				event, lastErr = EventFailed, pkgerrors.Wrapf(err, "commit %q (attempt %d)", key, attempts)
			}

		case StateRetry:
			if c.warnEvery > 0 && attempts%c.warnEvery == 0 {
				log.Warningf("still haven't updated %q after %d attempts", key, attempts)
			}
			wait := schedule.NextBackOff()
			if wait == backoff.Stop {
				event = EventExhausted
				break
			}
			if wait > 0 {
				c.sleep(wait)
			}
			event = EventWaited
		}
		state = transition(state, event)
	}

	switch state {
	case StateDone:
		return Result{Version: version, Attempts: attempts}, nil
	case StateNotFound:
		return Result{Attempts: attempts}, pkgerrors.Wrapf(ErrDocumentNotFound, "update %q", key)
	case StateGiveUp:
		log.Warningf("giving up update of %q after %d attempts", key, attempts)
		return Result{Attempts: attempts}, &AbandonedError{Key: key, Attempts: attempts}
	default:
		if lastErr == nil {
			lastErr = store.Errorf(store.RetCInternalError, "update %q stopped in an invalid state", key)
		}
		return Result{Attempts: attempts}, lastErr
	}
}
