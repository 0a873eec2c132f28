package span

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"path"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/tigerroll/retrainer/internal/retrain/domain"
	"github.com/tigerroll/retrainer/internal/retrain/tfrecord"
	"github.com/tigerroll/retrainer/pkg/batch/adapter/storage"
	"github.com/tigerroll/retrainer/pkg/batch/core/config"
	"github.com/tigerroll/retrainer/pkg/batch/support/util/exception"
	"github.com/tigerroll/retrainer/pkg/batch/support/util/logger"
)

// ManifestName is the object written last into a staged span.
const ManifestName = "MANIFEST.json"

// Result describes a committed span.
type Result struct {
	Span            int
	DestinationURI  string
	Manifest        domain.SpanManifest
	Resumed         bool
	TrainCount      int
	ValidationCount int
	Archived        int
}

// Preparator creates the next span below the destination root.
type Preparator struct {
	conn      storage.StorageExecutor
	cfg       config.SpanConfig
	vocab     domain.LabelVocabulary
	rng       *rand.Rand
	bootstrap bool
	now       func() time.Time
}

// NewPreparator validates cfg and returns a Preparator shuffling with rng.
func NewPreparator(conn storage.StorageExecutor, cfg config.SpanConfig, rng *rand.Rand) (*Preparator, error) {
	if _, err := storage.ParseURI(cfg.SourceURI); err != nil {
		return nil, exception.NewBatchError(module, "invalid span source URI", err, false)
	}
	if _, err := storage.ParseURI(cfg.DestinationURI); err != nil {
		return nil, exception.NewBatchError(module, "invalid span destination URI", err, false)
	}
	if cfg.TrainRatio <= 0 || cfg.TrainRatio > 1 {
		return nil, exception.NewBatchErrorf(module, "train ratio %.3f is outside (0,1]", cfg.TrainRatio)
	}
	switch cfg.OnNoPriorSpan {
	case "", "bootstrap", "fail":
	default:
		return nil, exception.NewBatchErrorf(module, "on_no_prior_span must be 'bootstrap' or 'fail', got '%s'", cfg.OnNoPriorSpan)
	}
	labels := cfg.Labels
	if len(labels) == 0 {
		labels = config.DefaultLabels()
	}
	if rng == nil {
		rng = NewRand(cfg.Seed)
	}
	return &Preparator{
		conn:      conn,
		cfg:       cfg,
		vocab:     domain.LabelVocabulary(labels),
		rng:       rng,
		bootstrap: cfg.OnNoPriorSpan != "fail",
		now:       time.Now,
	}, nil
}

func (p *Preparator) source() storage.Location {
	loc, _ := storage.ParseURI(p.cfg.SourceURI)
	return loc
}

func (p *Preparator) destination() storage.Location {
	loc, _ := storage.ParseURI(p.cfg.DestinationURI)
	return loc
}

func (p *Preparator) staging(n int) storage.Location {
	return p.destination().Join(p.cfg.StagingDir, DirName(n))
}

func (p *Preparator) archive() storage.Location {
	src := p.source()
	src.Path += p.cfg.ArchiveSuffix
	return src
}

// Prepare stages, archives, and promotes the next span. An interrupted earlier run is resumed
// from its staging manifest instead of enumerating the source again.
func (p *Preparator) Prepare(ctx context.Context) (*Result, error) {
	dest := p.destination()
	spans, err := DiscoverSpans(ctx, p.conn, dest)
	if err != nil {
		return nil, err
	}
	logger.Infof("Existing spans under '%s': %v.", dest, spans)

	manifest, err := p.findStaged(ctx, spans)
	if err != nil {
		return nil, err
	}
	resumed := manifest != nil
	if resumed {
		logger.Warnf("Resuming staged span %d found under '%s'.", manifest.Span, p.staging(manifest.Span))
	} else {
		next, err := NextSpan(spans, p.bootstrap)
		if err != nil {
			return nil, err
		}
		if manifest, err = p.stage(ctx, next); err != nil {
			return nil, err
		}
	}

	archived, err := p.archiveSamples(ctx, manifest)
	if err != nil {
		return nil, err
	}
	if err := p.promote(ctx, manifest); err != nil {
		return nil, err
	}

	res := &Result{
		Span:            manifest.Span,
		DestinationURI:  dest.Join(DirName(manifest.Span)).String(),
		Manifest:        *manifest,
		Resumed:         resumed,
		TrainCount:      len(manifest.Partition.Train),
		ValidationCount: len(manifest.Partition.Validation),
		Archived:        archived,
	}
	logger.Infof("Span %d committed to '%s' (train=%d, validation=%d, archived=%d).",
		res.Span, res.DestinationURI, res.TrainCount, res.ValidationCount, res.Archived)
	return res, nil
}

// findStaged looks for a staging manifest of the span after the newest one, then of the newest
// one itself, which is left behind when a promotion was interrupted.
func (p *Preparator) findStaged(ctx context.Context, spans []int) (*domain.SpanManifest, error) {
	candidates := []int{0}
	if n := len(spans); n > 0 {
		candidates = []int{spans[n-1] + 1, spans[n-1]}
	}
	for _, c := range candidates {
		loc := p.staging(c).Join(ManifestName)
		ok, err := p.conn.Exists(ctx, loc.Bucket, loc.Path)
		if err != nil {
			return nil, storageError(fmt.Sprintf("failed to check '%s'", loc), err)
		}
		if !ok {
			continue
		}
		m, err := p.readManifest(ctx, loc)
		if err != nil {
			return nil, err
		}
		if m.Span != c {
			return nil, exception.NewBatchErrorf(module, "staging manifest '%s' names span %d", loc, m.Span)
		}
		return m, nil
	}
	return nil, nil
}

func (p *Preparator) readManifest(ctx context.Context, loc storage.Location) (*domain.SpanManifest, error) {
	r, err := p.conn.Download(ctx, loc.Bucket, loc.Path)
	if err != nil {
		return nil, storageError(fmt.Sprintf("failed to read '%s'", loc), err)
	}
	defer r.Close()
	var m domain.SpanManifest
	if err := json.NewDecoder(r).Decode(&m); err != nil {
		return nil, exception.NewBatchError(module, fmt.Sprintf("failed to decode '%s'", loc), err, false)
	}
	return &m, nil
}

// stage writes the TFRecord files and then the manifest of span n.
func (p *Preparator) stage(ctx context.Context, n int) (*domain.SpanManifest, error) {
	samples, err := ListSamples(ctx, p.conn, p.source(), p.cfg.SampleExtension)
	if err != nil {
		return nil, err
	}
	part := Split(samples, p.cfg.TrainRatio, p.rng)
	if err := CheckLabels(part, p.vocab); err != nil {
		return nil, err
	}
	logger.Infof("Preparing span %d from %d samples (train=%d, validation=%d).", n, part.Size(), len(part.Train), len(part.Validation))

	staging := p.staging(n)
	created := p.now().UTC()
	fileName := fmt.Sprintf("data_%s.tfrecord", created.Format("20060102150405"))

	var files []string
	for _, split := range []struct {
		dir     string
		samples []domain.Sample
	}{
		{p.cfg.TrainDir, part.Train},
		{p.cfg.ValidationDir, part.Validation},
	} {
		rel := path.Join(split.dir, fileName)
		if err := p.writeRecords(ctx, staging.Join(rel), split.samples); err != nil {
			return nil, err
		}
		files = append(files, rel)
	}

	m := &domain.SpanManifest{
		Span:      n,
		SourceURI: p.cfg.SourceURI,
		Partition: part,
		Files:     files,
		CreatedAt: created,
	}
	body, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, exception.NewBatchError(module, "failed to encode span manifest", err, false)
	}
	loc := staging.Join(ManifestName)
	if err := p.conn.Upload(ctx, loc.Bucket, loc.Path, bytes.NewReader(body), "application/json"); err != nil {
		return nil, storageError(fmt.Sprintf("failed to write '%s'", loc), err)
	}
	logger.Infof("Staged span %d under '%s'.", n, staging)
	return m, nil
}

func (p *Preparator) writeRecords(ctx context.Context, dst storage.Location, samples []domain.Sample) error {
	var buf bytes.Buffer
	w := tfrecord.NewWriter(&buf)
	for _, s := range samples {
		label, _ := p.vocab.Lookup(s.Label)
		image, err := p.readSample(ctx, s)
		if err != nil {
			return err
		}
		if err := w.WriteExample(tfrecord.Example{Image: image, Label: int64(label)}); err != nil {
			return exception.NewBatchError(module, "failed to encode record", err, false)
		}
	}
	if err := p.conn.Upload(ctx, dst.Bucket, dst.Path, bytes.NewReader(buf.Bytes()), "application/octet-stream"); err != nil {
		return storageError(fmt.Sprintf("failed to write '%s'", dst), err)
	}
	logger.Debugf("Wrote %d records to '%s'.", w.Count(), dst)
	return nil
}

func (p *Preparator) readSample(ctx context.Context, s domain.Sample) ([]byte, error) {
	loc, err := storage.ParseURI(s.URI)
	if err != nil {
		return nil, exception.NewBatchError(module, "invalid sample URI", err, false)
	}
	r, err := p.conn.Download(ctx, loc.Bucket, loc.Path)
	if err != nil {
		return nil, storageError(fmt.Sprintf("failed to read sample '%s'", s.URI), err)
	}
	defer r.Close()
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, storageError(fmt.Sprintf("failed to read sample '%s'", s.URI), err)
	}
	return b, nil
}

// archiveSamples moves every sample of m from the source prefix to the archive prefix.
// Samples already moved by an earlier attempt count as archived.
func (p *Preparator) archiveSamples(ctx context.Context, m *domain.SpanManifest) (int, error) {
	src := p.source()
	dst := p.archive()
	var result *multierror.Error
	moved := 0
	for _, set := range [][]domain.Sample{m.Partition.Train, m.Partition.Validation} {
		for _, s := range set {
			loc, err := storage.ParseURI(s.URI)
			if err != nil {
				result = multierror.Append(result, err)
				continue
			}
			rel := strings.TrimPrefix(loc.Path, src.Prefix())
			target := dst.Join(rel)
			if err := storage.MoveObject(ctx, p.conn, loc.Bucket, loc.Path, target.Bucket, target.Path); err != nil {
				result = multierror.Append(result, err)
				continue
			}
			moved++
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		return moved, storageError(fmt.Sprintf("failed to archive samples to '%s'", dst), err)
	}
	logger.Infof("Archived %d samples to '%s'.", moved, dst)
	return moved, nil
}

// promote moves the staged files into span-<n>/, then the manifest, then drops the staging prefix.
func (p *Preparator) promote(ctx context.Context, m *domain.SpanManifest) error {
	staging := p.staging(m.Span)
	target := p.destination().Join(DirName(m.Span))

	var result *multierror.Error
	for _, rel := range m.Files {
		from, to := staging.Join(rel), target.Join(rel)
		if err := storage.MoveObject(ctx, p.conn, from.Bucket, from.Path, to.Bucket, to.Path); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		return storageError(fmt.Sprintf("failed to promote span %d", m.Span), err)
	}

	from, to := staging.Join(ManifestName), target.Join(ManifestName)
	if err := storage.MoveObject(ctx, p.conn, from.Bucket, from.Path, to.Bucket, to.Path); err != nil {
		return storageError(fmt.Sprintf("failed to promote manifest of span %d", m.Span), err)
	}
	if err := storage.DeletePrefix(ctx, p.conn, staging.Bucket, staging.Prefix()); err != nil && !errors.Is(err, storage.ErrObjectNotFound) {
		logger.Warnf("Failed to clean up staging prefix '%s': %v", staging, err)
	}
	logger.Infof("Promoted span %d to '%s'.", m.Span, target)
	return nil
}
