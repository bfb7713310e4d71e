// Package selector implements the target-qube preselection and
// filtering algorithm (spec §4.8). Grounded on the newer targets
// logic described in spec.md itself (the older vmupdate.py's simpler
// "all TemplateVMs + their outdated AppVMs" approach is deliberately
// superseded, per SPEC_FULL.md §9).
package selector

import (
	"sort"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/qubesos/vmupdate/internal/qubesadmin"
)

// Filter picks one of the three mutually exclusive update conditions
// spec §4.8 describes: --force-update, --update-if-available, and the
// default --update-if-stale N.
type Filter int

const (
	// FilterUpdateIfStale is the default: keep qubes already reporting
	// updates-available, plus qrexec-capable Linux qubes whose
	// last-updates-check has gone stale.
	FilterUpdateIfStale Filter = iota
	// FilterForceUpdate keeps every preselected qube unconditionally.
	FilterForceUpdate
	// FilterUpdateIfAvailable keeps only qubes with a truthy
	// updates-available feature.
	FilterUpdateIfAvailable
)

// ClassFlags mirrors the --templates/--standalones/--apps/--all CLI
// flags (spec §6): each selects its matching qube class into the
// preselected set, in union with the others.
type ClassFlags struct {
	Templates   bool
	Standalones bool
	Apps        bool
	All         bool
}

func (c ClassFlags) any() bool {
	return c.Templates || c.Standalones || c.Apps || c.All
}

func (c ClassFlags) matches(class qubesadmin.Class) bool {
	if c.All {
		return true
	}
	switch class {
	case qubesadmin.ClassTemplateVM:
		return c.Templates
	case qubesadmin.ClassStandaloneVM:
		return c.Standalones
	case qubesadmin.ClassAppVM, qubesadmin.ClassDispVM:
		return c.Apps
	default:
		return false
	}
}

// Options configures one Select call.
type Options struct {
	// Classes selects qube classes into the preselected set (spec
	// §4.8 step 2). Zero value with no Targets falls back to the
	// default target set (step 1).
	Classes ClassFlags

	// Targets names exact qubes to append to the preselected set
	// (spec §4.8 step 3); unlike the default set and class flags,
	// these may include non-updateable qubes. Unknown names or
	// duplicates are errors.
	Targets []string

	// Skip names qubes to remove from the preselected set regardless
	// of how they were selected (spec §4.8 step 4).
	Skip []string

	Filter Filter

	// StaleDays is the default staleness window in days, used only
	// when Filter == FilterUpdateIfStale and a qube has no per-qube
	// (or template-inherited) override (spec §3's
	// FeatureUpdateIfStaleDays).
	StaleDays int

	// Now is injectable for deterministic tests; production callers
	// pass time.Now().
	Now func() (unixSeconds int64)
}

// Select runs the preselect-then-filter algorithm spec §4.8
// documents: build the candidate set from the default target set
// and/or class flags and/or explicit --targets, drop --skip and
// (unless --targets was explicit) skip-update qubes, then apply the
// update-condition Filter.
func Select(store *qubesadmin.Store, opts Options) ([]*qubesadmin.Qube, error) {
	preselected, err := preselect(store, opts)
	if err != nil {
		return nil, err
	}

	var out []*qubesadmin.Qube
	switch opts.Filter {
	case FilterForceUpdate:
		out = preselected
	case FilterUpdateIfAvailable:
		out = filterAvailable(preselected)
	case FilterUpdateIfStale:
		out = filterStale(store, preselected, opts.StaleDays, opts.Now)
	default:
		return nil, errors.Errorf("selector: unknown filter %d", opts.Filter)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// preselect builds the target candidate set per spec §4.8 steps 1-5.
func preselect(store *qubesadmin.Store, opts Options) ([]*qubesadmin.Qube, error) {
	seen := map[string]bool{}
	var out []*qubesadmin.Qube
	add := func(q *qubesadmin.Qube) {
		if !seen[q.Name] {
			seen[q.Name] = true
			out = append(out, q)
		}
	}

	switch {
	case len(opts.Targets) == 0 && !opts.Classes.any():
		// Step 1: default target set. Updateable, excluding stopped
		// AppVMs/DispVMs and the AdminVM.
		for _, q := range store.All() {
			if q.Class == qubesadmin.ClassAdminVM {
				continue
			}
			if !q.Updateable {
				continue
			}
			if (q.Class == qubesadmin.ClassAppVM || q.Class == qubesadmin.ClassDispVM) && !q.Running {
				continue
			}
			add(q)
		}
	case opts.Classes.any():
		// Step 2: class flags union.
		for _, q := range store.All() {
			if q.Class == qubesadmin.ClassAdminVM {
				continue
			}
			if !q.Updateable {
				continue
			}
			if opts.Classes.matches(q.Class) {
				add(q)
			}
		}
	}

	// Step 3: explicit --targets appends; may include non-updateable
	// qubes. Unknown names and duplicates are errors.
	if len(opts.Targets) > 0 {
		namedAlready := map[string]bool{}
		for _, name := range opts.Targets {
			if namedAlready[name] {
				return nil, errors.Errorf("duplicate target qube %q", name)
			}
			namedAlready[name] = true

			q := store.Get(name)
			if q == nil {
				return nil, errors.Errorf("unknown target qube %q", name)
			}
			add(q)
		}
	}

	// Step 4: remove --skip names.
	if len(opts.Skip) > 0 {
		skip := map[string]bool{}
		for _, name := range opts.Skip {
			skip[name] = true
		}
		out = filterQubes(out, func(q *qubesadmin.Qube) bool { return !skip[q.Name] })
	}

	// Step 5: unless --targets was explicit, drop skip-update qubes.
	if len(opts.Targets) == 0 {
		out = filterQubes(out, func(q *qubesadmin.Qube) bool {
			return !q.BoolFeature(qubesadmin.FeatureSkipUpdate)
		})
	}

	return out, nil
}

func filterQubes(in []*qubesadmin.Qube, keep func(*qubesadmin.Qube) bool) []*qubesadmin.Qube {
	out := make([]*qubesadmin.Qube, 0, len(in))
	for _, q := range in {
		if keep(q) {
			out = append(out, q)
		}
	}
	return out
}

// filterAvailable keeps only qubes reporting a truthy
// updates-available feature (spec §4.8's --update-if-available).
func filterAvailable(preselected []*qubesadmin.Qube) []*qubesadmin.Qube {
	return filterQubes(preselected, func(q *qubesadmin.Qube) bool {
		return q.BoolFeature(qubesadmin.FeatureUpdatesAvailable)
	})
}

// filterStale keeps qubes already reporting updates-available, union
// those that are qrexec-capable, run Linux, and whose effective
// staleness window has elapsed. Each qube may override the default
// window via FeatureUpdateIfStaleDays, inherited from its template
// when absent on the qube itself (spec §4.8, resolving the
// "update-if-stale 0" Open Question: 0 means "always stale", i.e.
// update unless last-updates-check is today).
func filterStale(store *qubesadmin.Store, preselected []*qubesadmin.Qube, defaultDays int, now func() int64) []*qubesadmin.Qube {
	var out []*qubesadmin.Qube
	for _, q := range preselected {
		if q.BoolFeature(qubesadmin.FeatureUpdatesAvailable) {
			out = append(out, q)
			continue
		}
		if !q.BoolFeature(qubesadmin.FeatureQrexec) {
			continue
		}
		if v, _ := effectiveFeature(store, q, qubesadmin.FeatureOS); v != "Linux" {
			continue
		}
		days := defaultDays
		if v, ok := effectiveFeature(store, q, qubesadmin.FeatureUpdateIfStaleDays); ok && v != "" {
			if parsed, err := parseDays(v); err == nil {
				days = parsed
			}
		}
		if isStale(store, q, days, now) {
			out = append(out, q)
		}
	}
	return out
}

// effectiveFeature reads a feature from q, falling back to q's
// template when q doesn't carry it itself (spec §4.8's
// "template-inherited" staleness check).
func effectiveFeature(store *qubesadmin.Store, q *qubesadmin.Qube, key string) (string, bool) {
	if v, ok := q.Features[key]; ok && v != "" {
		return v, true
	}
	if q.Template == "" {
		return "", false
	}
	if t := store.Get(q.Template); t != nil {
		if v, ok := t.Features[key]; ok && v != "" {
			return v, true
		}
	}
	return "", false
}

func isStale(store *qubesadmin.Store, q *qubesadmin.Qube, days int, now func() int64) bool {
	last := effectiveLastUpdatesCheck(store, q).Unix()
	var nowSecs int64
	if now != nil {
		nowSecs = now()
	}
	ageSeconds := nowSecs - last
	if days <= 0 {
		// 0 (or negative, malformed) means "always stale unless
		// checked already today": a last-updates-check of exactly
		// the epoch (missing) is always stale; anything else is
		// stale unless it falls within the same UTC day as now.
		ny, nm, nd := time.Unix(nowSecs, 0).UTC().Date()
		ly, lm, ld := time.Unix(last, 0).UTC().Date()
		return ny != ly || nm != lm || nd != ld
	}
	return ageSeconds >= int64(days)*86400
}

func effectiveLastUpdatesCheck(store *qubesadmin.Store, q *qubesadmin.Qube) time.Time {
	if v, ok := effectiveFeature(store, q, qubesadmin.FeatureLastUpdatesCheck); ok {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t
		}
	}
	return time.Unix(0, 0).UTC()
}

func parseDays(s string) (int, error) {
	return strconv.Atoi(s)
}
