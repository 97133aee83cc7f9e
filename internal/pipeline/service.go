package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"resonate/internal/blob"
	"resonate/internal/lifecycle"
	"resonate/internal/logging"
	"resonate/internal/queue"
	"resonate/internal/services"
	"resonate/internal/variant"
)

// AssetStatus is the read projection consumed by delivery and UI layers.
type AssetStatus struct {
	AssetID      string            `json:"asset_id"`
	Kind         variant.MediaKind `json:"kind"`
	ProducerID   string            `json:"producer_id,omitempty"`
	Status       lifecycle.State   `json:"status"`
	Manifest     variant.Manifest  `json:"manifest"`
	ErrorSummary string            `json:"error_summary,omitempty"`
	Attempts     int               `json:"attempts"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// Service is the application-facing surface of the pipeline.
type Service struct {
	store    *queue.Store
	blobs    blob.Store
	registry *variant.Registry
	machine  *lifecycle.Machine
	logger   *slog.Logger
	wake     func()
}

// NewService wires the facade. wake may be nil when no Manager runs in
// this process; jobs are then picked up by whichever process polls the
// queue.
func NewService(store *queue.Store, blobs blob.Store, registry *variant.Registry, machine *lifecycle.Machine, wake func(), logger *slog.Logger) *Service {
	if wake == nil {
		wake = func() {}
	}
	return &Service{
		store:    store,
		blobs:    blobs,
		registry: registry,
		machine:  machine,
		logger:   logging.NewComponentLogger(logger, "service"),
		wake:     wake,
	}
}

// Registry exposes the shared variant registry.
func (s *Service) Registry() *variant.Registry { return s.registry }

// CreateAsset stores the source bytes and registers a draft asset.
func (s *Service) CreateAsset(ctx context.Context, kind, producerID string, source []byte) (*queue.Asset, error) {
	mediaKind, ok := variant.ParseKind(kind)
	if !ok {
		return nil, services.Wrap(services.ErrValidation, "service", "create asset",
			fmt.Sprintf("unknown media kind %q", kind), nil)
	}
	if len(source) == 0 {
		return nil, services.Wrap(services.ErrValidation, "service", "create asset", "source is empty", nil)
	}

	id := uuid.NewString()
	key := variant.SourceKey(id)
	if err := s.blobs.Put(ctx, key, source); err != nil {
		return nil, services.Wrap(services.ErrTransient, "service", "store source", key, err)
	}
	asset, err := s.store.CreateAsset(ctx, queue.NewAsset{
		ID:         id,
		Kind:       mediaKind,
		ProducerID: strings.TrimSpace(producerID),
		SourceKey:  key,
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("asset created",
		logging.AssetID(id),
		logging.String("kind", string(mediaKind)),
		logging.Bytes("source_bytes", len(source)),
	)
	return asset, nil
}

// RequestProcessing enqueues a job for the asset, superseding any
// outstanding job. Only draft, error, and processing assets accept it.
func (s *Service) RequestProcessing(ctx context.Context, assetID string) (*queue.EnqueueResult, error) {
	snap, err := s.snapshot(ctx, assetID)
	if err != nil {
		return nil, err
	}
	switch snap.State {
	case lifecycle.StateDraft, lifecycle.StateProcessing, lifecycle.StateError:
	default:
		return nil, &lifecycle.InvalidTransitionError{From: snap.State, Event: lifecycle.EventSubmit}
	}
	return s.enqueue(ctx, assetID)
}

// Retry re-enqueues an asset in error.
func (s *Service) Retry(ctx context.Context, assetID string) (*queue.EnqueueResult, error) {
	snap, err := s.snapshot(ctx, assetID)
	if err != nil {
		return nil, err
	}
	if snap.State != lifecycle.StateError {
		return nil, &lifecycle.InvalidTransitionError{From: snap.State, Event: lifecycle.EventRetry}
	}
	return s.enqueue(ctx, assetID)
}

func (s *Service) enqueue(ctx context.Context, assetID string) (*queue.EnqueueResult, error) {
	res, err := s.store.Enqueue(ctx, assetID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("processing requested",
		logging.AssetID(assetID),
		logging.JobID(res.Job.ID),
		logging.Bool("superseded", res.Superseded),
	)
	s.wake()
	return res, nil
}

// GetAssetStatus returns the read projection. The manifest is only exposed
// once every variant exists.
func (s *Service) GetAssetStatus(ctx context.Context, assetID string) (AssetStatus, error) {
	asset, err := s.store.GetAsset(ctx, assetID)
	if err != nil {
		return AssetStatus{}, notFound(err, assetID)
	}
	return project(asset), nil
}

// ListAssets returns projections for assets, optionally filtered by status.
func (s *Service) ListAssets(ctx context.Context, statuses ...lifecycle.State) ([]AssetStatus, error) {
	assets, err := s.store.ListAssets(ctx, statuses...)
	if err != nil {
		return nil, err
	}
	out := make([]AssetStatus, 0, len(assets))
	for _, asset := range assets {
		out = append(out, project(asset))
	}
	return out, nil
}

// Publish moves a ready asset to published.
func (s *Service) Publish(ctx context.Context, assetID string) (AssetStatus, error) {
	return s.apply(ctx, assetID, lifecycle.EventPublish)
}

// Archive moves a ready or published asset to archived.
func (s *Service) Archive(ctx context.Context, assetID string) (AssetStatus, error) {
	return s.apply(ctx, assetID, lifecycle.EventArchive)
}

// Restore moves an archived asset back to ready.
func (s *Service) Restore(ctx context.Context, assetID string) (AssetStatus, error) {
	return s.apply(ctx, assetID, lifecycle.EventRestore)
}

func (s *Service) apply(ctx context.Context, assetID string, event lifecycle.Event) (AssetStatus, error) {
	if _, err := s.machine.Apply(ctx, assetID, event); err != nil {
		return AssetStatus{}, notFound(err, assetID)
	}
	return s.GetAssetStatus(ctx, assetID)
}

// Variant reads the stored bytes of one variant of a ready asset.
func (s *Service) Variant(ctx context.Context, assetID, fileName string) ([]byte, variant.Spec, error) {
	status, err := s.GetAssetStatus(ctx, assetID)
	if err != nil {
		return nil, variant.Spec{}, err
	}
	spec, ok := s.registry.LookupFile(fileName)
	if !ok || spec.Kind != status.Kind {
		return nil, variant.Spec{}, services.Wrap(services.ErrNotFound, "service", "read variant", fileName, nil)
	}
	if len(status.Manifest) == 0 {
		return nil, variant.Spec{}, services.Wrap(services.ErrNotFound, "service", "read variant",
			fmt.Sprintf("asset %s has no variants in status %s", assetID, status.Status), nil)
	}
	data, err := s.blobs.Get(ctx, variant.ManifestKey(assetID, spec))
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return nil, variant.Spec{}, services.Wrap(services.ErrNotFound, "service", "read variant", fileName, err)
		}
		return nil, variant.Spec{}, err
	}
	return data, spec, nil
}

// Failures lists terminal job failures for an asset.
func (s *Service) Failures(ctx context.Context, assetID string) ([]queue.Failure, error) {
	return s.store.Failures(ctx, assetID)
}

func (s *Service) snapshot(ctx context.Context, assetID string) (lifecycle.Snapshot, error) {
	snap, err := s.machine.Snapshot(ctx, assetID)
	if err != nil {
		return lifecycle.Snapshot{}, notFound(err, assetID)
	}
	return snap, nil
}

func project(asset *queue.Asset) AssetStatus {
	status := AssetStatus{
		AssetID:      asset.ID,
		Kind:         asset.Kind,
		ProducerID:   asset.ProducerID,
		Status:       asset.Status,
		ErrorSummary: asset.ErrorSummary,
		Attempts:     asset.Attempts,
		CreatedAt:    asset.CreatedAt,
		UpdatedAt:    asset.UpdatedAt,
		Manifest:     variant.Manifest{},
	}
	switch asset.Status {
	case lifecycle.StateReady, lifecycle.StatePublished, lifecycle.StateArchived:
		status.Manifest = asset.Manifest
	}
	return status
}

func notFound(err error, assetID string) error {
	if errors.Is(err, queue.ErrNotFound) || errors.Is(err, lifecycle.ErrNotFound) {
		return services.Wrap(services.ErrNotFound, "service", "load asset", assetID, err)
	}
	return err
}
