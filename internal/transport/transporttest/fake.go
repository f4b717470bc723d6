// Package transporttest provides an in-memory transport.Transport fake used
// across the module's test suites, in place of a mocking framework.
package transporttest

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/carverauto/dynconfig/internal/transport"
)

// Fake is an in-memory Transport. Settings are added with Set; errors for a
// given call can be injected with FailNext.
type Fake struct {
	mu       sync.Mutex
	endpoint string
	settings map[settingKey]transport.Setting
	snapshots map[string]transport.SnapshotMetadata
	snapshotContents map[string][]transport.Setting

	pageETag string

	nextErr   error
	failCount int
}

type settingKey struct {
	key, label string
}

// New constructs an empty Fake for the given endpoint name.
func New(endpoint string) *Fake {
	return &Fake{
		endpoint:         endpoint,
		settings:         make(map[settingKey]transport.Setting),
		snapshots:        make(map[string]transport.SnapshotMetadata),
		snapshotContents: make(map[string][]transport.Setting),
		pageETag:         "etag-0",
	}
}

// Set inserts or replaces a setting and bumps the synthetic page etag so
// that conditional list/get calls observe a change.
func (f *Fake) Set(s transport.Setting) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.settings[settingKey{s.Key, s.Label}] = s
	f.bumpPageETag()
}

// Delete removes a setting.
func (f *Fake) Delete(key, label string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.settings, settingKey{key, label})
	f.bumpPageETag()
}

func (f *Fake) bumpPageETag() {
	f.pageETag = f.pageETag + "x"
}

// SetSnapshot registers a named snapshot and its contents.
func (f *Fake) SetSnapshot(name, composition string, settings []transport.Setting) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.snapshots[name] = transport.SnapshotMetadata{Name: name, Composition: composition}
	f.snapshotContents[name] = settings
}

// DeleteSnapshot removes a registered snapshot, so a subsequent GetSnapshot
// call returns a 404 *transport.HTTPError deterministically regardless of
// other concurrent calls against the fake. A 404 is not failover-eligible,
// so the failure does not put the client into backoff for other callers.
func (f *Fake) DeleteSnapshot(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.snapshots, name)
	delete(f.snapshotContents, name)
}

// FailNext makes the next transport call (of any kind) return err.
func (f *Fake) FailNext(err error) {
	f.FailNextN(1, err)
}

// FailNextN makes the next n transport calls (of any kind) return err, so a
// caller can inject failures into more than one branch of a concurrent
// refresh deterministically.
func (f *Fake) FailNextN(n int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextErr = err
	f.failCount = n
}

func (f *Fake) takeErr() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCount <= 0 {
		return nil
	}
	f.failCount--
	err := f.nextErr
	if f.failCount == 0 {
		f.nextErr = nil
	}
	return err
}

func (f *Fake) Endpoint() string { return f.endpoint }

func (f *Fake) List(_ context.Context, filter transport.Filter) ([]transport.Page, error) {
	if err := f.takeErr(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if len(filter.PriorPageETags) > 0 && filter.PriorPageETags[0] == f.pageETag {
		return []transport.Page{{ETag: f.pageETag, Changed: false}}, nil
	}

	var matched []transport.Setting
	for _, s := range f.settings {
		if !matchesKeyFilter(s.Key, filter.KeyFilter) {
			continue
		}
		if !matchesLabelFilter(s.Label, filter.LabelFilter) {
			continue
		}
		if !matchesTagFilters(s.Tags, filter.TagFilters) {
			continue
		}
		matched = append(matched, s)
	}

	sort.Slice(matched, func(i, j int) bool { return matched[i].Key < matched[j].Key })

	return []transport.Page{{Settings: matched, ETag: f.pageETag, Changed: true}}, nil
}

func (f *Fake) Get(_ context.Context, key, label string) (*transport.Setting, bool, error) {
	if err := f.takeErr(); err != nil {
		return nil, false, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	s, ok := f.settings[settingKey{key, label}]
	if !ok {
		return nil, false, nil
	}
	return &s, true, nil
}

func (f *Fake) GetConditional(_ context.Context, key, label, ifETagChanged string) (transport.PointResult, error) {
	if err := f.takeErr(); err != nil {
		return transport.PointResult{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	s, ok := f.settings[settingKey{key, label}]
	if !ok {
		return transport.PointResult{Status: 404}, nil
	}
	if ifETagChanged != "" && ifETagChanged == s.ETag {
		return transport.PointResult{Status: 304}, nil
	}

	copied := s
	return transport.PointResult{Setting: &copied, Status: 200}, nil
}

func (f *Fake) GetSnapshot(_ context.Context, name string) (*transport.SnapshotMetadata, error) {
	if err := f.takeErr(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	meta, ok := f.snapshots[name]
	if !ok {
		return nil, &transport.HTTPError{StatusCode: 404, Endpoint: f.endpoint}
	}
	return &meta, nil
}

func (f *Fake) ListSnapshotSettings(_ context.Context, name string) ([]transport.Setting, error) {
	if err := f.takeErr(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	return f.snapshotContents[name], nil
}

func matchesKeyFilter(key, filter string) bool {
	if filter == "" || filter == "*" {
		return true
	}
	if strings.HasSuffix(filter, "*") {
		return strings.HasPrefix(key, strings.TrimSuffix(filter, "*"))
	}
	return key == filter
}

// nullLabel mirrors internal/selector.NullLabel: the single-NUL-character
// sentinel a normalized selector uses for "no label", which on the wire
// (and in this in-memory fake) means "match settings with an empty label".
const nullLabel = "\x00"

func matchesLabelFilter(settingLabel, filter string) bool {
	switch {
	case filter == "" || filter == nullLabel:
		return settingLabel == ""
	case filter == "*":
		return true
	case strings.HasSuffix(filter, "*"):
		return strings.HasPrefix(settingLabel, strings.TrimSuffix(filter, "*"))
	default:
		return settingLabel == filter
	}
}

func matchesTagFilters(tags map[string]string, filters []string) bool {
	for _, f := range filters {
		parts := strings.SplitN(f, "=", 2)
		if len(parts) != 2 {
			return false
		}
		if tags[parts[0]] != parts[1] {
			return false
		}
	}
	return true
}
