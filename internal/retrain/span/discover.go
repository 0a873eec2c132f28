// Package span builds a new numbered training span from the accumulated source images and
// commits it to the destination root through a resumable staging area.
package span

import (
	"context"
	"fmt"
	"math/rand"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tigerroll/retrainer/internal/retrain/domain"
	"github.com/tigerroll/retrainer/pkg/batch/adapter/storage"
	"github.com/tigerroll/retrainer/pkg/batch/support/util/exception"
)

const module = "span"

var spanDirPattern = regexp.MustCompile(`^span-(0|[1-9][0-9]*)$`)

// DirName returns the directory name of span n.
func DirName(n int) string {
	return fmt.Sprintf("span-%d", n)
}

// DiscoverSpans returns the span numbers present directly below dest, ascending.
// Entries that are not named span-<int> are ignored.
func DiscoverSpans(ctx context.Context, conn storage.StorageExecutor, dest storage.Location) ([]int, error) {
	return listSpans(ctx, conn, dest, false)
}

// PublishedSpans returns the spans below dest whose promotion finished, ascending. The manifest is
// the last object moved into a span directory, so a span without one is still being promoted.
func PublishedSpans(ctx context.Context, conn storage.StorageExecutor, dest storage.Location) ([]int, error) {
	return listSpans(ctx, conn, dest, true)
}

func listSpans(ctx context.Context, conn storage.StorageExecutor, dest storage.Location, published bool) ([]int, error) {
	prefix := dest.Prefix()
	seen := map[int]struct{}{}
	err := conn.ListObjects(ctx, dest.Bucket, prefix, func(info storage.ObjectInfo) error {
		dir, rest, found := strings.Cut(strings.TrimPrefix(info.Name, prefix), "/")
		if !found || (published && rest != ManifestName) {
			return nil
		}
		m := spanDirPattern.FindStringSubmatch(dir)
		if m == nil {
			return nil
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return nil
		}
		seen[n] = struct{}{}
		return nil
	})
	if err != nil {
		return nil, storageError(fmt.Sprintf("failed to list spans under '%s'", dest), err)
	}
	spans := make([]int, 0, len(seen))
	for n := range seen {
		spans = append(spans, n)
	}
	sort.Ints(spans)
	return spans, nil
}

// NextSpan returns max(spans)+1. Without spans it returns 0 when bootstrap is set and
// ErrNoPriorSpan otherwise.
func NextSpan(spans []int, bootstrap bool) (int, error) {
	if len(spans) == 0 {
		if bootstrap {
			return 0, nil
		}
		return 0, exception.Wrap(module, "no existing span found and bootstrap is disabled", exception.ErrNoPriorSpan, nil)
	}
	last := spans[0]
	for _, s := range spans[1:] {
		if s > last {
			last = s
		}
	}
	return last + 1, nil
}

// ListSamples returns the objects with extension ext directly below src, labeled by their
// file-name prefix. An empty result fails with ErrNoSamples.
func ListSamples(ctx context.Context, conn storage.StorageExecutor, src storage.Location, ext string) ([]domain.Sample, error) {
	prefix := src.Prefix()
	var samples []domain.Sample
	var unlabeled []string
	err := conn.ListObjects(ctx, src.Bucket, prefix, func(info storage.ObjectInfo) error {
		rel := strings.TrimPrefix(info.Name, prefix)
		if strings.Contains(rel, "/") || !strings.HasSuffix(rel, ext) {
			return nil
		}
		uri := storage.ObjectURI(src.Scheme, src.Bucket, info.Name)
		label, err := domain.LabelFromName(rel)
		if err != nil {
			unlabeled = append(unlabeled, uri)
			return nil
		}
		samples = append(samples, domain.Sample{URI: uri, Label: label})
		return nil
	})
	if err != nil {
		return nil, storageError(fmt.Sprintf("failed to list samples under '%s'", src), err)
	}
	if len(unlabeled) > 0 {
		return nil, exception.Wrap(module, fmt.Sprintf("cannot derive a label for %d samples, e.g. '%s'", len(unlabeled), unlabeled[0]), exception.ErrUnknownLabel, nil)
	}
	if len(samples) == 0 {
		return nil, exception.Wrap(module, fmt.Sprintf("no '*%s' samples under '%s'", ext, src), exception.ErrNoSamples, nil)
	}
	return samples, nil
}

// NewRand returns a generator seeded with seed, or with the clock when seed is zero.
func NewRand(seed int64) *rand.Rand {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return rand.New(rand.NewSource(seed))
}

// Split shuffles a copy of samples with rng and puts the first floor(n*ratio) into Train.
func Split(samples []domain.Sample, ratio float64, rng *rand.Rand) domain.Partition {
	shuffled := make([]domain.Sample, len(samples))
	copy(shuffled, samples)
	rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

	cut := int(float64(len(shuffled)) * ratio)
	if cut > len(shuffled) {
		cut = len(shuffled)
	}
	return domain.Partition{Train: shuffled[:cut], Validation: shuffled[cut:]}
}

// CheckLabels fails with ErrUnknownLabel when a sample label is missing from vocab.
func CheckLabels(p domain.Partition, vocab domain.LabelVocabulary) error {
	unknown := map[string]string{}
	for _, set := range [][]domain.Sample{p.Train, p.Validation} {
		for _, s := range set {
			if _, ok := vocab.Lookup(s.Label); !ok {
				if _, dup := unknown[s.Label]; !dup {
					unknown[s.Label] = s.URI
				}
			}
		}
	}
	if len(unknown) == 0 {
		return nil
	}
	labels := make([]string, 0, len(unknown))
	for l := range unknown {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	return exception.Wrap(module, fmt.Sprintf("labels %v are not in the vocabulary (first seen in '%s')", labels, unknown[labels[0]]), exception.ErrUnknownLabel, nil)
}

func storageError(message string, err error) error {
	err = exception.FromContext(module, message, err)
	if exception.IsBatchError(err) {
		return err
	}
	return exception.NewBatchError(module, message, err, exception.IsTemporary(err))
}
