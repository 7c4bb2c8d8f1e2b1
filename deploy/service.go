// Package deploy turns an upload into a provisioned instance: decode the
// archive and metadata, allocate a subdomain, assemble the record, and run
// the provisioning pipeline.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/projecteru2/core/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/sparklane/sparklane/archive"
	"github.com/sparklane/sparklane/events"
	"github.com/sparklane/sparklane/metrics"
	"github.com/sparklane/sparklane/naming"
	"github.com/sparklane/sparklane/provision"
	"github.com/sparklane/sparklane/types"
)

// ErrDraining is returned for requests that reach provisioning after Drain.
var ErrDraining = errors.New("deploy service is shutting down")

// Provisioner is the part of the pipeline the service drives.
type Provisioner interface {
	Provision(ctx context.Context, inst *types.Instance, bundle types.Bundle) error
}

// Allocator picks a free subdomain.
type Allocator interface {
	Allocate(ctx context.Context, preferred string) (string, error)
}

// Request is one decoded deploy upload.
type Request struct {
	Archive  []byte
	Metadata []byte
}

// Service runs deploy requests. It is safe for concurrent use.
type Service struct {
	alloc Allocator
	prov  Provisioner

	pub         events.Publisher
	metrics     *metrics.Metrics
	pool        *semaphore.Weighted
	bundleLimit int64
	port        uint64
	newID       func() string
	now         func() time.Time

	mu       sync.Mutex
	draining bool
	inflight sync.WaitGroup
}

// Option customizes a Service.
type Option func(*Service)

func WithPublisher(p events.Publisher) Option { return func(s *Service) { s.pub = p } }
func WithMetrics(m *metrics.Metrics) Option   { return func(s *Service) { s.metrics = m } }

// WithPoolSize bounds concurrently running pipelines.
func WithPoolSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.pool = semaphore.NewWeighted(int64(n))
		}
	}
}

// WithBundleLimit caps the decompressed archive size.
func WithBundleLimit(n int64) Option { return func(s *Service) { s.bundleLimit = n } }

// WithPort sets the application port stored on every record.
func WithPort(port uint64) Option { return func(s *Service) { s.port = port } }

// WithIDGenerator replaces uuid.NewString.
func WithIDGenerator(fn func() string) Option { return func(s *Service) { s.newID = fn } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// NewService creates a Service.
func NewService(alloc Allocator, prov Provisioner, opts ...Option) *Service {
	s := &Service{
		alloc: alloc,
		prov:  prov,
		pub:   events.Nop{},
		pool:  semaphore.NewWeighted(1),
		port:  8080, //nolint:mnd
		newID: uuid.NewString,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Deploy runs one request to completion. The returned instance is set
// whenever a record was assembled, even if provisioning then failed.
// Errors are either *UserError or infrastructure failures; Message maps
// both to caller-facing text.
func (s *Service) Deploy(ctx context.Context, req *Request) (*types.Instance, error) {
	inst, bundle, err := s.prepare(ctx, req)
	if err != nil {
		s.metrics.Deploy(resultOf(err))
		return inst, err
	}
	logger := log.WithFunc("deploy.Deploy")

	// Waiting for a slot touches nothing; a client gone by now costs nothing.
	if err := s.pool.Acquire(ctx, 1); err != nil {
		s.metrics.Deploy(metrics.ResultRejected)
		return inst, fmt.Errorf("wait for provisioning slot: %w", err)
	}
	defer s.pool.Release(1)
	if !s.begin() {
		s.metrics.Deploy(metrics.ResultRejected)
		return inst, ErrDraining
	}
	defer s.inflight.Done()
	done := s.metrics.Inflight()
	defer done()

	logger.Infof(ctx, "provisioning %s as %s (%d files, %d bytes)", inst.ID, inst.Subdomain, len(bundle), bundle.Size())
	if err := s.prov.Provision(ctx, inst, bundle); err != nil {
		logger.Warnf(ctx, "provision %s (%s) failed: %v", inst.ID, inst.Subdomain, err)
		s.metrics.Deploy(resultOf(err))
		events.Emit(ctx, s.pub, events.Event{
			Event: events.Failed, ID: inst.ID, Subdomain: inst.Subdomain, Error: Message(err),
		})
		return inst, err
	}
	s.metrics.Deploy(metrics.ResultSuccess)
	events.Emit(ctx, s.pub, events.Event{Event: events.Provisioned, ID: inst.ID, Subdomain: inst.Subdomain})
	return inst, nil
}

func (s *Service) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.draining {
		return false
	}
	s.inflight.Add(1)
	return true
}

// Drain refuses new provisions and waits for running pipelines to finish,
// so their compensation still has the registry and publisher. It gives up
// when ctx is done.
func (s *Service) Drain(ctx context.Context) error {
	s.mu.Lock()
	s.draining = true
	s.mu.Unlock()

	idle := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(idle)
	}()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain provisions: %w", ctx.Err())
	}
}

// prepare decodes the upload, allocates a subdomain and assembles the
// record. Nothing here writes: the archive is decoded before a name is
// looked up, and the lookup only reads, so a rejected request consumes no
// identifier.
func (s *Service) prepare(ctx context.Context, req *Request) (*types.Instance, types.Bundle, error) {
	var (
		bundle     types.Bundle
		meta       *types.Metadata
		archiveErr error
		metaErr    error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := gctx.Err(); err != nil {
			return err
		}
		bundle, archiveErr = archive.Extract(req.Archive, s.bundleLimit)
		return nil
	})
	g.Go(func() error {
		meta, metaErr = DecodeMetadata(req.Metadata)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	if archiveErr != nil {
		log.WithFunc("deploy.prepare").Warnf(ctx, "extract archive: %v", archiveErr)
		return nil, nil, userErr(MsgBadArchive, archiveErr)
	}
	if metaErr != nil {
		return nil, nil, metaErr
	}

	var preferred string
	if meta.Project != nil {
		preferred = *meta.Project
	}
	subdomain, err := s.alloc.Allocate(ctx, preferred)
	if err != nil && !errors.Is(err, naming.ErrExhausted) {
		return nil, nil, fmt.Errorf("allocate subdomain: %w", err)
	}

	inst, err := Assemble(s.newID(), subdomain, meta, s.port, s.now())
	if err != nil {
		return nil, nil, err
	}
	return inst, bundle, nil
}

func resultOf(err error) string {
	switch {
	case IsUserError(err):
		return metrics.ResultRejected
	case errors.Is(err, provision.ErrAlreadyExists):
		return metrics.ResultDuplicate
	default:
		return metrics.ResultFailed
	}
}
